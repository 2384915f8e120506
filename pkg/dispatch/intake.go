package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
)

// ErrHandoff wraps failures handing a request to the execution engine.
var ErrHandoff = errors.New("remediation handoff failed")

// Intake is the execution engine's entry point. Submit hands the request
// over and returns; retries and execution belong to the engine.
type Intake interface {
	Submit(ctx context.Context, req Request) error
}

// IntakeFunc adapts a function to Intake.
type IntakeFunc func(ctx context.Context, req Request) error

func (f IntakeFunc) Submit(ctx context.Context, req Request) error { return f(ctx, req) }

// WriterIntake writes each request as one JSON line.
type WriterIntake struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewWriterIntake(w io.Writer) *WriterIntake {
	return &WriterIntake{enc: json.NewEncoder(w)}
}

func (w *WriterIntake) Submit(_ context.Context, req Request) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enc.Encode(req)
}

// BrokerIntake publishes requests to in-process subscribers.
type BrokerIntake struct {
	Broker *Broker[Request]
	// RequireSubscriber makes Submit fail when no subscriber took the
	// request, either because nobody listens or every buffer is full.
	RequireSubscriber bool
}

func NewBrokerIntake(b *Broker[Request]) *BrokerIntake {
	return &BrokerIntake{Broker: b}
}

func (b *BrokerIntake) Submit(_ context.Context, req Request) error {
	if n := b.Broker.Publish(req); n == 0 && b.RequireSubscriber {
		return errors.New("no subscriber accepted the request")
	}
	return nil
}
