package verification

import (
	"encoding/json"
	"fmt"
	"time"

	"facerecog/internal/queue"
)

// EventType is the queue message type for verification events.
const EventType = "verification"

// Outcome labels used by events, metrics and the attempt log.
const (
	OutcomeVerified = "verified"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// Event is published once per request after it reaches a terminal state.
type Event struct {
	RequestID   string    `json:"request_id"`
	RollNumber  string    `json:"roll_number"`
	Outcome     string    `json:"outcome"`
	Kind        Kind      `json:"kind,omitempty"`
	Stage       Stage     `json:"stage,omitempty"`
	Distance    *float64  `json:"distance,omitempty"`
	ProbePath   string    `json:"probe_path,omitempty"`
	ReceivedAt  time.Time `json:"received_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// Message encodes the event for the queue.
func (e Event) Message() (queue.Message, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return queue.Message{}, err
	}
	return queue.Message{Type: EventType, Body: body}, nil
}

// DecodeEvent parses a queue message produced by Event.Message.
func DecodeEvent(msg queue.Message) (Event, error) {
	if msg.Type != EventType {
		return Event{}, fmt.Errorf("unexpected message type %q", msg.Type)
	}
	var evt Event
	if err := json.Unmarshal(msg.Body, &evt); err != nil {
		return Event{}, fmt.Errorf("decode verification event: %w", err)
	}
	if evt.RequestID == "" {
		return Event{}, fmt.Errorf("verification event without request id")
	}
	return evt, nil
}
