// Package events carries setup milestones, dispatched transactions, resets and
// failures from the orchestrator to the audit log, metrics and alerting.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	xerrors "github.com/Maxxit-ai/maxxit-latest-sub005/internal/errors"
)

// Type classifies an event.
type Type string

// Event types.
const (
	TypeMilestone   Type = "milestone"
	TypeTransaction Type = "transaction"
	TypePhase       Type = "phase"
	TypeReset       Type = "reset"
	TypeFailure     Type = "failure"
)

// Event is one record on the bus.
type Event struct {
	ID         string            `json:"id"`
	Type       Type              `json:"type"`
	Venue      string            `json:"venue"`
	UserWallet string            `json:"user_wallet,omitempty"`
	Milestone  string            `json:"milestone,omitempty"`
	Phase      string            `json:"phase,omitempty"`
	Operation  string            `json:"operation,omitempty"`
	TxHash     string            `json:"tx_hash,omitempty"`
	Code       xerrors.Code      `json:"code,omitempty"`
	Message    string            `json:"message,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	At         time.Time         `json:"at"`
}

// New stamps an event with an id and time.
func New(typ Type, venue, userWallet string) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       typ,
		Venue:      venue,
		UserWallet: userWallet,
		At:         time.Now().UTC(),
	}
}

// Failure builds a failure event from an error.
func Failure(venue, userWallet, operation string, err error) Event {
	e := New(TypeFailure, venue, userWallet)
	e.Operation = operation
	e.Code = xerrors.CodeOf(err)
	e.Message = xerrors.UserMessage(err)
	if coded, ok := xerrors.From(err); ok {
		e.Metadata = coded.Metadata()
	}
	return e
}

func encode(e Event) ([]byte, error) {
	return json.Marshal(e)
}

func decode(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("解析事件失败: %w", err)
	}
	return e, nil
}

// Handler 处理来自总线的事件。
type Handler func(ctx context.Context, event Event) error

// Publisher 负责投递事件。
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Consumer 负责消费事件。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Bus 同时具备投递与消费能力。
type Bus interface {
	Publisher
	Consumer
}
