package batch

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain confirms the bounded errgroup pool in runProcessing and the
// scheduler's Tick loop never leave a goroutine running past test exit.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
