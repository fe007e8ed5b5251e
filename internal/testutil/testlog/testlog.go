package testlog

import (
	"testing"

	logs "github.com/danmuck/peerctl/internal/logging"
)

// Start selects the test logging profile and marks the test boundary in the log.
func Start(t *testing.T) {
	t.Helper()
	logs.ConfigureTests()
	logs.Infof("test=%s", t.Name())
}
