package pipeline

import (
	"time"

	"github.com/google/uuid"
)

// Clock supplies the time stamps of a run: stage durations, ledger records
// and upload expiry headers.
type Clock interface {
	Now() time.Time
}

// RealClock reads the wall clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// IDGenerator names runs. The id tags every log line and ledger record of a run.
type IDGenerator interface {
	New() string
}

// UUIDGenerator issues version 7 UUIDs, which sort by creation time, so run
// ids in the log file and the ledger order like the runs themselves.
type UUIDGenerator struct{}

func (UUIDGenerator) New() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
