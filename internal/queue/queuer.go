// Package queue publishes job events to a message queue and consumes them.
package queue

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("github.com/museai/lora-api/internal/queue")

//go:generate mockgen -destination ./mock/mock.go -package mock . Queuer,MessageHandler

// Queuer moves JSON encoded messages through a queue.
type Queuer interface {
	// Enqueue may block while sending.
	Enqueue(ctx context.Context, message any) error
	// Dequeue blocks until one message arrives, then runs handler on it with
	// at most timeout to finish. A message is removed once handled or
	// poisoned; any other handler error makes it visible again later.
	Dequeue(ctx context.Context, timeout time.Duration, handler MessageHandler) error
}

type MessageHandler interface {
	Handle(ctx context.Context, message []byte) error
}

// PoisonError marks a message that can never be handled.
type PoisonError struct {
	Err error
}

func (p PoisonError) Error() string {
	return "poisoned message: " + p.Err.Error()
}

func (p PoisonError) Unwrap() error {
	return p.Err
}

func WrapPoisonError(err error) error {
	return &PoisonError{Err: err}
}
