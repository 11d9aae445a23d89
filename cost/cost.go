// Package cost records token usage reported by the model adapters.
package cost

import (
	"sort"
	"sync"
	"time"
)

// Recorder receives one usage report per successful model call.
type Recorder interface {
	RecordUsage(provider, model string, inputTokens, outputTokens int64, note string) error
}

// Usage is a single recorded call.
type Usage struct {
	Provider     string
	Model        string
	InputTokens  int64
	OutputTokens int64
	Note         string
	RecordedAt   time.Time
}

// Summary aggregates usage for one provider/model pair.
type Summary struct {
	Provider     string
	Model        string
	Calls        int64
	InputTokens  int64
	OutputTokens int64
	EstimatedUSD float64
}

type Nop struct{}

func (Nop) RecordUsage(string, string, int64, int64, string) error { return nil }

// Memory keeps usage in process memory.
type Memory struct {
	mu      sync.Mutex
	records []Usage
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) RecordUsage(provider, model string, in, out int64, note string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, Usage{
		Provider: provider, Model: model,
		InputTokens: in, OutputTokens: out,
		Note: note, RecordedAt: time.Now(),
	})
	return nil
}

func (m *Memory) Records() []Usage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Usage(nil), m.records...)
}

func (m *Memory) Summaries() []Summary {
	m.mu.Lock()
	defer m.mu.Unlock()
	byKey := map[[2]string]*Summary{}
	for _, r := range m.records {
		key := [2]string{r.Provider, r.Model}
		s, ok := byKey[key]
		if !ok {
			s = &Summary{Provider: r.Provider, Model: r.Model}
			byKey[key] = s
		}
		s.Calls++
		s.InputTokens += r.InputTokens
		s.OutputTokens += r.OutputTokens
	}
	out := make([]Summary, 0, len(byKey))
	for _, s := range byKey {
		s.EstimatedUSD = Estimate(s.Model, s.InputTokens, s.OutputTokens)
		out = append(out, *s)
	}
	sortSummaries(out)
	return out
}

func sortSummaries(s []Summary) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].Provider != s[j].Provider {
			return s[i].Provider < s[j].Provider
		}
		return s[i].Model < s[j].Model
	})
}
