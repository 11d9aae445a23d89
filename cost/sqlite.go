package cost

import (
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/m4xw311/devpilot/errors"
	_ "modernc.org/sqlite"
)

// SQLiteLedger persists usage in a local SQLite database.
type SQLiteLedger struct {
	db *sql.DB
}

func OpenSQLiteLedger(path string) (*SQLiteLedger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.Wrapf(err, "creating ledger directory")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database")
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "failed to ping database")
	}
	l := &SQLiteLedger{db: db}
	if err := l.initialize(); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "failed to initialize database")
	}
	return l, nil
}

func (l *SQLiteLedger) initialize() error {
	_, err := l.db.Exec(`
	CREATE TABLE IF NOT EXISTS usage (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		provider TEXT NOT NULL,
		model TEXT NOT NULL,
		input_tokens INTEGER NOT NULL,
		output_tokens INTEGER NOT NULL,
		note TEXT,
		recorded_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_usage_model ON usage(provider, model);
	`)
	return err
}

func (l *SQLiteLedger) RecordUsage(provider, model string, in, out int64, note string) error {
	_, err := l.db.Exec(
		`INSERT INTO usage (provider, model, input_tokens, output_tokens, note, recorded_at) VALUES (?, ?, ?, ?, ?, ?)`,
		provider, model, in, out, note, time.Now().UTC(),
	)
	return errors.Wrapf(err, "recording usage")
}

// Summaries totals usage per provider and model.
func (l *SQLiteLedger) Summaries() ([]Summary, error) {
	rows, err := l.db.Query(`
	SELECT provider, model, COUNT(*), SUM(input_tokens), SUM(output_tokens)
	FROM usage GROUP BY provider, model ORDER BY provider, model`)
	if err != nil {
		return nil, errors.Wrapf(err, "querying usage")
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var s Summary
		if err := rows.Scan(&s.Provider, &s.Model, &s.Calls, &s.InputTokens, &s.OutputTokens); err != nil {
			return nil, errors.Wrapf(err, "scanning usage row")
		}
		s.EstimatedUSD = Estimate(s.Model, s.InputTokens, s.OutputTokens)
		out = append(out, s)
	}
	return out, errors.Wrapf(rows.Err(), "iterating usage rows")
}

func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}
