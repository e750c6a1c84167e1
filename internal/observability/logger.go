package observability

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger returns the global logger tagged with a component name. Call after
// logging.Configure so the configured writer and level are picked up.
func Logger(component string) zerolog.Logger {
	return log.Logger.With().Str("component", component).Logger()
}
