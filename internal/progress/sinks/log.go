package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/Blackmvmba88/q2bs/internal/progress"
)

// LogSink writes every event as a structured log line.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event. Page events log at debug level.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.Stringer("run_id", evt.RunUUID()),
			zap.String("stage", string(evt.Stage)),
		}
		switch evt.Stage {
		case progress.StageState:
			fields = append(fields, zap.String("state", evt.State))
		case progress.StagePageDone:
			fields = append(fields,
				zap.Int("page", evt.Page),
				zap.String("outcome", evt.Outcome),
				zap.Int("added", evt.Added),
				zap.Int("duplicates", evt.Duplicates),
				zap.Int("rejected", evt.Rejected),
				zap.Int("attempts", evt.Attempts),
				zap.Duration("dur", evt.Dur),
			)
			s.logger.Debug("progress event", fields...)
			continue
		default:
			fields = append(fields, zap.Int("page", evt.Page), zap.Int("bound", evt.Bound), zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Info("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
