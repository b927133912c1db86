// Package verification runs the verification request pipeline: store the
// probe, ask the matcher, reconcile a successful match with the roster, and
// produce exactly one outcome.
package verification

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"facerecog/internal/logging"
	"facerecog/internal/matcher"
	"facerecog/internal/metrics"
	"facerecog/internal/queue"
	"facerecog/internal/roster"
	"facerecog/internal/upload"
)

// Uploader persists a probe image to scratch storage.
type Uploader interface {
	Save(originalName string, r io.Reader) (upload.Probe, error)
}

// SubjectStore is the single roster operation the pipeline needs.
type SubjectStore interface {
	MarkVerified(ctx context.Context, rollNumber string) (*roster.Student, error)
}

// Request is one verification submission. Image is nil when no file was sent.
type Request struct {
	RequestID  string
	RollNumber string
	FileName   string
	Image      io.Reader
}

// Outcome is a successful pipeline run: the match was either verified or
// rejected.
type Outcome struct {
	RequestID  string
	Verified   bool
	RollNumber string
	Distance   float64
	Probe      upload.Probe
}

// Service coordinates the pipeline stages.
type Service struct {
	uploads   Uploader
	matcher   matcher.Matcher
	subjects  SubjectStore
	events    queue.Queue
	logger    *zap.Logger
	now       func() time.Time
	publishTO time.Duration
}

// NewService constructs a service. events may be nil when no queue is configured.
func NewService(uploads Uploader, m matcher.Matcher, subjects SubjectStore, events queue.Queue, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		uploads:   uploads,
		matcher:   m,
		subjects:  subjects,
		events:    events,
		logger:    logger.Named("verification"),
		now:       time.Now,
		publishTO: 2 * time.Second,
	}
}

// Verify runs the pipeline for req. The error, when non-nil, is always a *Error.
func (s *Service) Verify(ctx context.Context, req Request) (Outcome, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	received := s.now()
	opLogger := logging.WithOperation(s.logger, "verification.verify", req.RequestID)
	opLogger.Debug("stage", zap.String("stage", string(StageReceived)), zap.String("roll_number", req.RollNumber))

	outcome, probe, err := s.run(ctx, req, opLogger)

	evt := Event{
		RequestID:   req.RequestID,
		RollNumber:  req.RollNumber,
		ProbePath:   probe.Path,
		ReceivedAt:  received,
		CompletedAt: s.now(),
	}
	if err != nil {
		var verr *Error
		if !errors.As(err, &verr) {
			verr = &Error{Kind: KindInternal, Stage: StageReceived, RequestID: req.RequestID, Err: err}
			err = verr
		}
		evt.Outcome, evt.Kind, evt.Stage = OutcomeFailed, verr.Kind, verr.Stage
		metrics.ObserveOutcome(string(verr.Kind))
	} else {
		distance := outcome.Distance
		evt.Distance = &distance
		evt.Outcome = OutcomeRejected
		if outcome.Verified {
			evt.Outcome = OutcomeVerified
		}
		metrics.ObserveOutcome(evt.Outcome)
	}
	s.publish(ctx, evt, opLogger)
	return outcome, err
}

func (s *Service) run(ctx context.Context, req Request, opLogger *zap.Logger) (Outcome, upload.Probe, error) {
	fail := func(kind Kind, stage Stage, err error) *Error {
		return &Error{Kind: kind, Stage: stage, RequestID: req.RequestID, Err: err}
	}

	if req.Image == nil {
		return Outcome{}, upload.Probe{}, fail(KindMissingUpload, StageReceived, errors.New("no image uploaded"))
	}
	rollNumber := strings.TrimSpace(req.RollNumber)
	if rollNumber == "" {
		return Outcome{}, upload.Probe{}, fail(KindMissingRollNumber, StageReceived, errors.New("roll number is required"))
	}

	probe, err := s.uploads.Save(req.FileName, req.Image)
	if err != nil {
		wrapped := logging.NewOperationError("verification.upload", req.RequestID, err)
		opLogger.Error("failed to store probe image", zap.Error(wrapped))
		return Outcome{}, upload.Probe{}, fail(KindInternal, StageReceived, wrapped)
	}
	opLogger.Debug("stage", zap.String("stage", string(StageUploaded)), zap.String("probe", probe.Path))

	started := time.Now()
	result, err := s.matcher.Match(ctx, probe.Path, rollNumber)
	metrics.ObserveMatcher(time.Since(started))
	if err != nil {
		kind, stage := classifyMatch(err)
		wrapped := logging.NewOperationError("verification.match", req.RequestID, err)
		logMatchFailure(opLogger, kind, wrapped)
		return Outcome{}, probe, fail(kind, stage, wrapped)
	}
	opLogger.Debug("stage", zap.String("stage", string(StageExtracted)),
		zap.Bool("success", result.Success), zap.Float64("distance", result.Distance))

	outcome, err := s.reconcile(ctx, req.RequestID, rollNumber, result)
	if err != nil {
		kind := KindStoreError
		if errors.Is(err, errSubjectNotFound) {
			kind = KindSubjectNotFound
			opLogger.Warn("student not found for verified match", zap.String("roll_number", rollNumber))
		} else {
			err = logging.NewOperationError("verification.reconcile", req.RequestID, err)
			opLogger.Error("failed to mark student verified", zap.Error(err))
		}
		return Outcome{}, probe, fail(kind, StageExtracted, err)
	}
	outcome.Probe = probe
	opLogger.Debug("stage", zap.String("stage", string(StageReconciled)), zap.Bool("verified", outcome.Verified))
	return outcome, probe, nil
}

var errSubjectNotFound = errors.New("student not found")

// reconcile applies a match result. Only a successful match touches the
// store, and it always uses the roll number the caller submitted.
func (s *Service) reconcile(ctx context.Context, requestID, rollNumber string, result *matcher.Result) (Outcome, error) {
	if !result.Success {
		return Outcome{RequestID: requestID, Distance: result.Distance}, nil
	}
	student, err := s.subjects.MarkVerified(ctx, rollNumber)
	if err != nil {
		return Outcome{}, err
	}
	if student == nil {
		return Outcome{}, errSubjectNotFound
	}
	return Outcome{
		RequestID:  requestID,
		Verified:   true,
		RollNumber: student.RollNumber,
		Distance:   result.Distance,
	}, nil
}

func (s *Service) publish(ctx context.Context, evt Event, opLogger *zap.Logger) {
	if s.events == nil {
		return
	}
	msg, err := evt.Message()
	if err != nil {
		opLogger.Warn("failed to encode verification event", zap.Error(err))
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.publishTO)
	defer cancel()
	if err := s.events.Publish(pubCtx, msg); err != nil {
		opLogger.Warn("failed to publish verification event", zap.Error(err))
	}
}

func logMatchFailure(logger *zap.Logger, kind Kind, err error) {
	fields := []zap.Field{zap.String("kind", string(kind)), zap.Error(err)}

	var procErr *matcher.ProcessError
	if errors.As(err, &procErr) {
		fields = append(fields, zap.Int("exit_code", procErr.ExitCode), zap.String("stderr", procErr.Stderr))
	}
	var malformed *matcher.MalformedError
	if errors.As(err, &malformed) {
		fields = append(fields, zap.String("raw_output", malformed.Raw))
	}
	var withStderr interface{ Stderr() string }
	if errors.As(err, &withStderr) {
		fields = append(fields, zap.String("stderr", withStderr.Stderr()))
	}
	logger.Error("matcher failed", fields...)
}
