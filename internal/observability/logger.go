package observability

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger tags the global logger with app and the instance uid and installs it.
// Output shape comes from the logging package, which must run first.
func InitLogger(app, uid string) zerolog.Logger {
	ctx := log.Logger.With().Str("app", app)
	if uid != "" {
		ctx = ctx.Str("uid", uid)
	}
	logger := ctx.Logger()
	log.Logger = logger
	return logger
}
