package scheduler

import (
	"fmt"
	"time"
)

// Schedule decides when a job runs next.
type Schedule interface {
	// Next returns the first run time strictly after t.
	Next(t time.Time) time.Time
	String() string
}

// Every runs a job at a fixed interval, measured from the start of the
// previous run.
type Every time.Duration

// Next implements Schedule.
func (e Every) Next(t time.Time) time.Time {
	return t.Add(time.Duration(e))
}

func (e Every) String() string {
	return fmt.Sprintf("@every %s", time.Duration(e))
}
