package errutil

import (
	"github.com/rs/zerolog"
	"github.com/samber/oops"
)

// LogError logs an error with structured context if it's an oops error.
// For oops errors the code and context map become fields of the entry.
func LogError(logger zerolog.Logger, msg string, err error) {
	logWithEvent(logger.Error(), msg, err)
}

// LogWarn is LogError at warn level, for faults the caller recovers from.
func LogWarn(logger zerolog.Logger, msg string, err error) {
	logWithEvent(logger.Warn(), msg, err)
}

func logWithEvent(ev *zerolog.Event, msg string, err error) {
	if oopsErr, ok := oops.AsOops(err); ok {
		ev = ev.Str("error", oopsErr.Error())
		if code := oopsErr.Code(); code != nil {
			ev = ev.Interface("code", code)
		}
		if ctx := oopsErr.Context(); len(ctx) > 0 {
			ev = ev.Interface("context", ctx)
		}
		ev.Msg(msg)
		return
	}
	ev.Err(err).Msg(msg)
}
