package runner

import (
	"errors"

	"gitloop/internal/services"
)

// SourceReport is the outcome of one phase for one source.
type SourceReport struct {
	RunID      string `json:"run_id"`
	SourceKey  string `json:"source_key"`
	SourceType string `json:"source_type"`
	SourceName string `json:"source_name"`
	New        int    `json:"new"`
	Skipped    int    `json:"skipped"`
	Errors     int    `json:"errors"`
	Status     string `json:"status"`
	Recovered  bool   `json:"recovered,omitempty"`
	Message    string `json:"message,omitempty"`
	Err        error  `json:"-"`
}

// Summary collects the reports of one phase.
type Summary struct {
	Phase   string         `json:"phase"`
	Sources []SourceReport `json:"sources"`
}

// Totals adds up the per-source counters.
func (s Summary) Totals() (created, skipped, failed int) {
	for _, r := range s.Sources {
		created += r.New
		skipped += r.Skipped
		failed += r.Errors
	}
	return created, skipped, failed
}

// Fatal reports whether any source hit a configuration error or an index
// corruption that could not be recovered.
func (s Summary) Fatal() bool {
	for _, r := range s.Sources {
		if r.Err == nil {
			continue
		}
		if services.Fatal(r.Err) || errors.Is(r.Err, services.ErrCorruptIndex) {
			return true
		}
	}
	return false
}

// Err joins the per-source errors.
func (s Summary) Err() error {
	var errs []error
	for _, r := range s.Sources {
		if r.Err != nil {
			errs = append(errs, r.Err)
		}
	}
	return errors.Join(errs...)
}
