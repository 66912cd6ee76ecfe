package synchronization

import (
	"context"

	"offsync/internal/domain"

	"github.com/rs/zerolog"
)

// LogTickler writes user-visible notices to the log.
type LogTickler struct {
	logger *zerolog.Logger
}

func NewLogTickler(logger *zerolog.Logger) *LogTickler {
	return &LogTickler{logger: logger}
}

func (t *LogTickler) Tickle(_ context.Context, kind domain.TickleKind, message string) {
	var ev *zerolog.Event
	switch kind {
	case domain.TickleDanger:
		ev = t.logger.Error()
	case domain.TickleWarning:
		ev = t.logger.Warn()
	default:
		ev = t.logger.Info()
	}
	ev.Str("tickle", string(kind)).Msg(message)
}
