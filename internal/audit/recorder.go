// Package audit turns verification events into attempt records.
package audit

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"facerecog/internal/archive"
	"facerecog/internal/metrics"
	"facerecog/internal/queue"
	"facerecog/internal/roster"
	"facerecog/internal/verification"
)

// AttemptStore persists attempt rows.
type AttemptStore interface {
	RecordAttempt(ctx context.Context, a roster.Attempt) (roster.Attempt, error)
}

// Archiver copies a probe image somewhere durable.
type Archiver interface {
	UploadFile(ctx context.Context, path, publicID string) (*archive.UploadResult, error)
}

// Recorder consumes verification events.
type Recorder struct {
	attempts AttemptStore
	archiver Archiver
	logger   *zap.Logger
}

// NewRecorder builds a recorder. archiver may be nil.
func NewRecorder(attempts AttemptStore, archiver Archiver, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{attempts: attempts, archiver: archiver, logger: logger.Named("audit")}
}

// Run handles messages until ctx is done or the queue closes.
func (r *Recorder) Run(ctx context.Context, q queue.Queue) error {
	messages, err := q.Consume(ctx)
	if err != nil {
		return fmt.Errorf("queue consume init failed: %w", err)
	}
	for msg := range messages {
		if msg.Type != verification.EventType {
			continue
		}
		if err := r.Handle(ctx, msg); err != nil {
			r.logger.Error("failed to record attempt", zap.Error(err))
		}
	}
	return nil
}

// Handle records one event. Archival failures are logged and the attempt
// is stored without an archive URL.
func (r *Recorder) Handle(ctx context.Context, msg queue.Message) error {
	evt, err := verification.DecodeEvent(msg)
	if err != nil {
		metrics.ObserveAttempt("failed")
		return err
	}
	logger := r.logger.With(zap.String("request_id", evt.RequestID))

	attempt := roster.Attempt{
		RequestID:   evt.RequestID,
		RollNumber:  evt.RollNumber,
		Outcome:     evt.Outcome,
		Kind:        string(evt.Kind),
		Distance:    evt.Distance,
		ProbePath:   evt.ProbePath,
		ReceivedAt:  evt.ReceivedAt,
		CompletedAt: evt.CompletedAt,
	}

	if r.archiver != nil && evt.ProbePath != "" {
		res, err := r.archiver.UploadFile(ctx, evt.ProbePath, evt.RequestID)
		if err != nil {
			logger.Warn("probe archival failed", zap.String("probe", evt.ProbePath), zap.Error(err))
		} else {
			attempt.ArchiveURL = res.SecureURL
		}
	}

	if _, err := r.attempts.RecordAttempt(ctx, attempt); err != nil {
		metrics.ObserveAttempt("failed")
		return fmt.Errorf("record attempt %s: %w", evt.RequestID, err)
	}
	metrics.ObserveAttempt("recorded")
	logger.Info("attempt recorded", zap.String("outcome", evt.Outcome), zap.String("roll_number", evt.RollNumber))
	return nil
}
