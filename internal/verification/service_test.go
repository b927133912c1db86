package verification

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"facerecog/internal/matcher"
	"facerecog/internal/queue"
	"facerecog/internal/roster"
	"facerecog/internal/upload"
)

type stubUploader struct {
	calls int
	err   error
	names []string
}

func (u *stubUploader) Save(originalName string, r io.Reader) (upload.Probe, error) {
	u.calls++
	u.names = append(u.names, originalName)
	if u.err != nil {
		return upload.Probe{}, u.err
	}
	if _, err := io.Copy(io.Discard, r); err != nil {
		return upload.Probe{}, err
	}
	return upload.Probe{Key: "1_" + originalName, Path: "/scratch/1_" + originalName, OriginalName: originalName}, nil
}

type stubMatcher struct {
	mu     sync.Mutex
	calls  int
	paths  []string
	rolls  []string
	result *matcher.Result
	err    error
}

func (m *stubMatcher) Match(_ context.Context, imagePath, rollNumber string) (*matcher.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.paths = append(m.paths, imagePath)
	m.rolls = append(m.rolls, rollNumber)
	if m.err != nil {
		return nil, m.err
	}
	r := *m.result
	return &r, nil
}

type memorySubjects struct {
	mu       sync.Mutex
	students map[string]*roster.Student
	calls    int
	err      error
}

func newMemorySubjects(students ...roster.Student) *memorySubjects {
	m := &memorySubjects{students: map[string]*roster.Student{}}
	for i := range students {
		s := students[i]
		m.students[s.RollNumber] = &s
	}
	return m
}

func (m *memorySubjects) MarkVerified(_ context.Context, rollNumber string) (*roster.Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	s, ok := m.students[rollNumber]
	if !ok {
		return nil, nil
	}
	s.IsVerified = true
	copied := *s
	return &copied, nil
}

func (m *memorySubjects) verified(roll string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.students[roll]
	return ok && s.IsVerified
}

type failingQueue struct{}

func (failingQueue) Publish(context.Context, queue.Message) error { return errors.New("redis down") }
func (failingQueue) Consume(context.Context) (<-chan queue.Message, error) {
	return nil, errors.New("not supported")
}

func newTestService(up Uploader, m matcher.Matcher, subjects SubjectStore, q queue.Queue) *Service {
	return NewService(up, m, subjects, q, zap.NewNop())
}

func imageRequest(roll string) Request {
	return Request{RequestID: "req-1", RollNumber: roll, FileName: "live.jpg", Image: strings.NewReader("jpeg")}
}

func expectKind(t *testing.T, err error, kind Kind, stage Stage) *Error {
	t.Helper()
	var verr *Error
	if !errors.As(err, &verr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if verr.Kind != kind {
		t.Fatalf("expected kind %s, got %s (%v)", kind, verr.Kind, err)
	}
	if verr.Stage != stage {
		t.Fatalf("expected stage %s, got %s", stage, verr.Stage)
	}
	if verr.RequestID != "req-1" {
		t.Fatalf("unexpected request id %q", verr.RequestID)
	}
	return verr
}

func TestVerifyMissingImageNeverInvokesMatcher(t *testing.T) {
	up := &stubUploader{}
	m := &stubMatcher{result: &matcher.Result{Success: true}}
	subjects := newMemorySubjects()
	svc := newTestService(up, m, subjects, nil)

	_, err := svc.Verify(context.Background(), Request{RequestID: "req-1", RollNumber: "R1"})
	expectKind(t, err, KindMissingUpload, StageReceived)
	if m.calls != 0 || up.calls != 0 || subjects.calls != 0 {
		t.Fatalf("expected no stage to run, got upload=%d match=%d store=%d", up.calls, m.calls, subjects.calls)
	}
}

func TestVerifyMissingRollNumber(t *testing.T) {
	up := &stubUploader{}
	m := &stubMatcher{result: &matcher.Result{Success: true}}
	svc := newTestService(up, m, newMemorySubjects(), nil)

	_, err := svc.Verify(context.Background(), imageRequest("  "))
	expectKind(t, err, KindMissingRollNumber, StageReceived)
	if m.calls != 0 || up.calls != 0 {
		t.Fatalf("expected nothing to run, got upload=%d match=%d", up.calls, m.calls)
	}
}

func TestVerifyUploadFailureIsInternal(t *testing.T) {
	up := &stubUploader{err: errors.New("disk full")}
	m := &stubMatcher{result: &matcher.Result{Success: true}}
	svc := newTestService(up, m, newMemorySubjects(), nil)

	_, err := svc.Verify(context.Background(), imageRequest("R1"))
	expectKind(t, err, KindInternal, StageReceived)
	if m.calls != 0 {
		t.Fatal("matcher must not run without a stored probe")
	}
}

func TestVerifyMatcherErrorsAreClassified(t *testing.T) {
	cases := []struct {
		name  string
		err   error
		kind  Kind
		stage Stage
	}{
		{name: "launch", err: fmt.Errorf("%w: %w", matcher.ErrLaunch, errors.New("exec: not found")), kind: KindInvokerError, stage: StageUploaded},
		{name: "non-zero exit", err: &matcher.ProcessError{ExitCode: 1, Stdout: `{"success": 1}`, Stderr: "Traceback"}, kind: KindMatcherProcessFailed, stage: StageUploaded},
		{name: "timeout", err: fmt.Errorf("wrapped: %w", matcher.ErrTimeout), kind: KindTimeout, stage: StageUploaded},
		{name: "not found", err: matcher.ErrResultNotFound, kind: KindResultNotFound, stage: StageInvoked},
		{name: "malformed", err: &matcher.MalformedError{Raw: "{oops}", Err: errors.New("invalid character")}, kind: KindResultMalformed, stage: StageInvoked},
		{name: "unknown", err: errors.New("boom"), kind: KindInvokerError, stage: StageUploaded},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			subjects := newMemorySubjects(roster.Student{RollNumber: "R1"})
			svc := newTestService(&stubUploader{}, &stubMatcher{err: tc.err}, subjects, nil)

			_, err := svc.Verify(context.Background(), imageRequest("R1"))
			verr := expectKind(t, err, tc.kind, tc.stage)
			if !errors.Is(verr, tc.err) {
				t.Fatalf("expected cause to be preserved, got %v", verr)
			}
			if subjects.calls != 0 || subjects.verified("R1") {
				t.Fatal("store must not be touched when the matcher fails")
			}
		})
	}
}

func TestVerifySuccessfulMatchMarksStudent(t *testing.T) {
	up := &stubUploader{}
	m := &stubMatcher{result: &matcher.Result{Success: true, RollNumber: "R1", Distance: 0.23}}
	subjects := newMemorySubjects(roster.Student{RollNumber: "R1"})
	svc := newTestService(up, m, subjects, nil)

	outcome, err := svc.Verify(context.Background(), imageRequest("R1"))
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if !outcome.Verified || outcome.RollNumber != "R1" || outcome.Distance != 0.23 {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	if outcome.Probe.Path != "/scratch/1_live.jpg" {
		t.Fatalf("unexpected probe %+v", outcome.Probe)
	}
	if m.paths[0] != "/scratch/1_live.jpg" || m.rolls[0] != "R1" {
		t.Fatalf("matcher called with %q %q", m.paths[0], m.rolls[0])
	}
	if !subjects.verified("R1") {
		t.Fatal("expected student to be verified")
	}

	again, err := svc.Verify(context.Background(), imageRequest("R1"))
	if err != nil {
		t.Fatalf("repeat Verify returned error: %v", err)
	}
	if !again.Verified || !subjects.verified("R1") {
		t.Fatalf("repeat verification should be idempotent, got %+v", again)
	}
}

func TestVerifyUsesRequestRollNumberNotEchoedOne(t *testing.T) {
	m := &stubMatcher{result: &matcher.Result{Success: true, RollNumber: "R2", Distance: 0.1}}
	subjects := newMemorySubjects(roster.Student{RollNumber: "R1"}, roster.Student{RollNumber: "R2"})
	svc := newTestService(&stubUploader{}, m, subjects, nil)

	outcome, err := svc.Verify(context.Background(), imageRequest("R1"))
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if outcome.RollNumber != "R1" {
		t.Fatalf("expected R1, got %s", outcome.RollNumber)
	}
	if !subjects.verified("R1") || subjects.verified("R2") {
		t.Fatal("wrong student was marked verified")
	}
}

func TestVerifyUnknownStudentIsSubjectNotFound(t *testing.T) {
	m := &stubMatcher{result: &matcher.Result{Success: true, Distance: 0.2}}
	subjects := newMemorySubjects(roster.Student{RollNumber: "R1"})
	svc := newTestService(&stubUploader{}, m, subjects, nil)

	_, err := svc.Verify(context.Background(), imageRequest("R404"))
	expectKind(t, err, KindSubjectNotFound, StageExtracted)
	if subjects.verified("R1") {
		t.Fatal("unrelated student was mutated")
	}
}

func TestVerifyStoreFailureIsStoreError(t *testing.T) {
	m := &stubMatcher{result: &matcher.Result{Success: true, Distance: 0.2}}
	subjects := newMemorySubjects(roster.Student{RollNumber: "R1"})
	subjects.err = errors.New("connection refused")
	svc := newTestService(&stubUploader{}, m, subjects, nil)

	_, err := svc.Verify(context.Background(), imageRequest("R1"))
	expectKind(t, err, KindStoreError, StageExtracted)
}

func TestVerifyRejectedMatchSkipsStore(t *testing.T) {
	for _, prior := range []bool{false, true} {
		t.Run(fmt.Sprintf("previously verified %v", prior), func(t *testing.T) {
			m := &stubMatcher{result: &matcher.Result{Success: false, Distance: 0.81}}
			subjects := newMemorySubjects(roster.Student{RollNumber: "R1", IsVerified: prior})
			svc := newTestService(&stubUploader{}, m, subjects, nil)

			outcome, err := svc.Verify(context.Background(), imageRequest("R1"))
			if err != nil {
				t.Fatalf("Verify returned error: %v", err)
			}
			if outcome.Verified || outcome.Distance != 0.81 {
				t.Fatalf("unexpected outcome %+v", outcome)
			}
			if subjects.calls != 0 {
				t.Fatal("a rejected match must not reach the store")
			}
			if subjects.verified("R1") != prior {
				t.Fatal("verification flag changed on rejection")
			}
		})
	}
}

func TestVerifyPublishesEvent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := queue.NewInMemory(4)
	m := &stubMatcher{result: &matcher.Result{Success: true, Distance: 0.3}}
	svc := newTestService(&stubUploader{}, m, newMemorySubjects(roster.Student{RollNumber: "R1"}), q)
	received := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return received }

	if _, err := svc.Verify(ctx, imageRequest("R1")); err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if _, err := svc.Verify(ctx, Request{RequestID: "req-2", RollNumber: "R1"}); err == nil {
		t.Fatal("expected missing upload error")
	}

	msgs, _ := q.Consume(ctx)
	first := nextEvent(t, msgs)
	if first.RequestID != "req-1" || first.Outcome != OutcomeVerified || first.Distance == nil || *first.Distance != 0.3 {
		t.Fatalf("unexpected event %+v", first)
	}
	if first.ProbePath != "/scratch/1_live.jpg" || !first.ReceivedAt.Equal(received) {
		t.Fatalf("unexpected event details %+v", first)
	}
	second := nextEvent(t, msgs)
	if second.Outcome != OutcomeFailed || second.Kind != KindMissingUpload || second.Stage != StageReceived || second.Distance != nil {
		t.Fatalf("unexpected failure event %+v", second)
	}
}

func TestVerifyIgnoresPublishFailure(t *testing.T) {
	m := &stubMatcher{result: &matcher.Result{Success: false, Distance: 0.9}}
	svc := newTestService(&stubUploader{}, m, newMemorySubjects(), failingQueue{})

	outcome, err := svc.Verify(context.Background(), imageRequest("R1"))
	if err != nil {
		t.Fatalf("publish failure must not fail the request: %v", err)
	}
	if outcome.Verified {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
}

func TestVerifyAssignsRequestID(t *testing.T) {
	svc := newTestService(&stubUploader{}, &stubMatcher{result: &matcher.Result{}}, newMemorySubjects(), nil)
	outcome, err := svc.Verify(context.Background(), Request{RollNumber: "R1", FileName: "a.jpg", Image: strings.NewReader("x")})
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if outcome.RequestID == "" {
		t.Fatal("expected generated request id")
	}
}

func TestKindOf(t *testing.T) {
	if got := KindOf(fmt.Errorf("wrap: %w", &Error{Kind: KindTimeout})); got != KindTimeout {
		t.Fatalf("expected Timeout, got %s", got)
	}
	if got := KindOf(errors.New("plain")); got != KindInternal {
		t.Fatalf("expected Internal, got %s", got)
	}
}

func nextEvent(t *testing.T, msgs <-chan queue.Message) Event {
	t.Helper()
	select {
	case msg := <-msgs:
		evt, err := DecodeEvent(msg)
		if err != nil {
			t.Fatalf("DecodeEvent returned error: %v", err)
		}
		return evt
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}
