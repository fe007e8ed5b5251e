package observability

import (
	"github.com/rs/zerolog"

	logs "github.com/danmuck/peerctl/internal/logging"
)

// ComponentLogger tags the process logger with a component name.
func ComponentLogger(component string) zerolog.Logger {
	return logs.Logger().With().Str("component", component).Logger()
}
