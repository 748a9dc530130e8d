package ingestion

import (
	"context"

	"IFLedger/internal/command"
	"IFLedger/internal/core"
	"IFLedger/internal/observability"

	"github.com/rs/zerolog"
)

// Applier applies a decoded command. *core.DeterministicCore implements it.
type Applier interface {
	ProcessCommand(cmd command.Command) (core.Result, error)
}

// CommandProcessor drains raw commands, decodes them and hands them to the
// core one at a time. Rejections are final, so rejected messages are
// acknowledged rather than redelivered.
type CommandProcessor struct {
	applier   Applier
	inputChan <-chan RawCommand
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewCommandProcessor(applier Applier, inputChan <-chan RawCommand, metrics *observability.Metrics, logger zerolog.Logger) *CommandProcessor {
	return &CommandProcessor{
		applier:   applier,
		inputChan: inputChan,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run blocks until ctx is cancelled or the input channel is closed.
func (p *CommandProcessor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-p.inputChan:
			if !ok {
				return nil
			}
			p.Handle(raw)
		}
	}
}

// Handle processes one raw command and settles its message.
func (p *CommandProcessor) Handle(raw RawCommand) {
	if p.metrics != nil {
		p.metrics.IngestReceived.WithLabelValues(raw.Source, raw.CommandType).Inc()
	}

	cmd, err := ParseRawCommand(raw)
	if err != nil {
		if p.metrics != nil {
			p.metrics.IngestParseErrors.WithLabelValues(raw.CommandType).Inc()
		}
		p.logger.Warn().Err(err).Str("subject", raw.Subject).Str("command_type", raw.CommandType).Msg("dropping undecodable command")
		if raw.TermFunc != nil {
			raw.TermFunc()
		} else {
			settle(raw.AckFunc)
		}
		return
	}

	res, err := p.applier.ProcessCommand(cmd)
	switch {
	case err != nil:
		p.logger.Info().Err(err).
			Str("command_type", raw.CommandType).
			Str("idempotency_key", cmd.IdempotencyKey()).
			Msg("command rejected")
	case res.Duplicate:
		p.logger.Debug().Str("idempotency_key", cmd.IdempotencyKey()).Msg("duplicate command")
	default:
		p.logger.Debug().
			Str("command_type", raw.CommandType).
			Int64("sequence", res.Sequence).
			Uint64("amount", res.Amount).
			Msg("command applied")
	}
	settle(raw.AckFunc)
}

func settle(fn func()) {
	if fn != nil {
		fn()
	}
}
