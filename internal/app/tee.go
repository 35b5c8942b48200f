package app

import (
	"context"

	"bulksms/internal/domain"
	"bulksms/internal/ports"

	"github.com/rs/zerolog"
)

// teeSink writes to the durable primary sink and best-effort mirrors.
// Only the primary's error is returned.
type teeSink struct {
	primary ports.ResultSink
	mirrors []ports.ResultSink
	log     zerolog.Logger
}

func newTeeSink(primary ports.ResultSink, log zerolog.Logger, mirrors ...ports.ResultSink) *teeSink {
	return &teeSink{primary: primary, mirrors: mirrors, log: log}
}

func (t *teeSink) Write(ctx context.Context, result domain.SendAttemptResult, recipient domain.Recipient) error {
	err := t.primary.Write(ctx, result, recipient)
	for _, m := range t.mirrors {
		if m == nil {
			continue
		}
		if merr := m.Write(ctx, result, recipient); merr != nil {
			t.log.Warn().Err(merr).Str("to", result.RecipientPhone).Msg("mirror result")
		}
	}
	return err
}
