package agent

import "time"

// Observer receives loop events, e.g. for metrics.
type Observer interface {
	ModelCall(elapsed time.Duration, err error)
	ToolCall(name string, elapsed time.Duration, failed bool)
	IterationLimit()
}

type nopObserver struct{}

func (nopObserver) ModelCall(time.Duration, error) {}

func (nopObserver) ToolCall(string, time.Duration, bool) {}

func (nopObserver) IterationLimit() {}
