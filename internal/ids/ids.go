// Package ids issues sortable run identifiers for batch passes.
package ids

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// RunID names one pass of a batch task in logs.
type RunID struct {
	ulid ulid.ULID
}

// NewRun returns a fresh run id, monotonic within the process.
func NewRun() RunID {
	return RunID{ulid: ulid.Make()}
}

// Parse reads a run id from its string form.
func Parse(s string) (RunID, error) {
	u, err := ulid.Parse(s)
	if err != nil {
		return RunID{}, err
	}
	return RunID{ulid: u}, nil
}

func (r RunID) String() string { return r.ulid.String() }

// Time is the moment the run id was issued.
func (r RunID) Time() time.Time { return ulid.Time(r.ulid.Time()) }

// MarshalText renders the run id in reports.
func (r RunID) MarshalText() ([]byte, error) { return r.ulid.MarshalText() }
