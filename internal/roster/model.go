// Package roster persists students, invigilators and the verification
// attempt audit log.
package roster

import (
	"context"
	"time"
)

// Student represents an enrolled student.
type Student struct {
	ID         string     `json:"id" bson:"_id"`
	RollNumber string     `json:"rollNumber" bson:"rollNumber"`
	Name       string     `json:"name" bson:"name"`
	Department string     `json:"department" bson:"department"`
	Room       string     `json:"room" bson:"room"`
	IsVerified bool       `json:"isVerified" bson:"isVerified"`
	VerifiedAt *time.Time `json:"verifiedAt,omitempty" bson:"verifiedAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt" bson:"createdAt"`
}

// Invigilator is an operator allowed to log in.
type Invigilator struct {
	ID           string    `json:"id" bson:"_id"`
	Username     string    `json:"username" bson:"username"`
	PasswordHash string    `json:"-" bson:"passwordHash"`
	CreatedAt    time.Time `json:"createdAt" bson:"createdAt"`
}

// Attempt is one audited verification request.
type Attempt struct {
	ID          string    `json:"id" bson:"_id"`
	RequestID   string    `json:"requestId" bson:"requestId"`
	RollNumber  string    `json:"rollNumber" bson:"rollNumber"`
	Outcome     string    `json:"outcome" bson:"outcome"`
	Kind        string    `json:"kind,omitempty" bson:"kind,omitempty"`
	Distance    *float64  `json:"distance,omitempty" bson:"distance,omitempty"`
	ProbePath   string    `json:"probePath,omitempty" bson:"probePath,omitempty"`
	ArchiveURL  string    `json:"archiveUrl,omitempty" bson:"archiveUrl,omitempty"`
	ReceivedAt  time.Time `json:"receivedAt" bson:"receivedAt"`
	CompletedAt time.Time `json:"completedAt" bson:"completedAt"`
	CreatedAt   time.Time `json:"createdAt" bson:"createdAt"`
}

// Filter narrows a student listing. Empty fields are not applied.
type Filter struct {
	Department string
	Room       string
}

// Store is implemented by every roster backend.
type Store interface {
	Migrate(ctx context.Context) error
	MarkVerified(ctx context.Context, rollNumber string) (*Student, error)
	FindStudent(ctx context.Context, rollNumber string) (*Student, error)
	ListStudents(ctx context.Context, filter Filter) ([]Student, error)
	UpsertStudent(ctx context.Context, s Student) (Student, error)
	FindInvigilator(ctx context.Context, username string) (*Invigilator, error)
	CreateInvigilator(ctx context.Context, username, passwordHash string) (Invigilator, error)
	RecordAttempt(ctx context.Context, a Attempt) (Attempt, error)
	ListAttempts(ctx context.Context, rollNumber string, limit int) ([]Attempt, error)
	Ping(ctx context.Context) error
}
