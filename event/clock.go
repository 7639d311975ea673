package event

import (
	"fmt"
	"time"
)

// nowFunc is overridden in tests to produce deterministic timestamps.
var nowFunc = time.Now

func errFromPanic(r any) error {
	return fmt.Errorf("event: sink panic: %v", r)
}
