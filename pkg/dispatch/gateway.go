// Package dispatch routes findings to exactly one playbook and hands the
// resulting remediation request to the execution engine.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"

	"github.com/user/gosec-playbooks/pkg/finding"
	"github.com/user/gosec-playbooks/pkg/logx"
	"github.com/user/gosec-playbooks/pkg/playbook"
	"github.com/user/gosec-playbooks/pkg/registry"
)

// State is the position of a finding in the gateway: Idle, then Resolving,
// then one of the three terminal states.
type State int

const (
	StateIdle State = iota
	StateResolving
	StateDispatched
	StateRejected
	StateIgnored
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateResolving:
		return "Resolving"
	case StateDispatched:
		return "Dispatched"
	case StateRejected:
		return "Rejected"
	case StateIgnored:
		return "Ignored"
	default:
		return "Unknown"
	}
}

// Terminal reports whether s ends a dispatch.
func (s State) Terminal() bool {
	return s == StateDispatched || s == StateRejected || s == StateIgnored
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Source resolves a finding to at most one playbook. *registry.Registry and
// *registry.Handle both implement it.
type Source interface {
	Resolve(f finding.Finding) (playbook.Descriptor, bool, error)
}

// Result is the outcome of dispatching one finding.
type Result struct {
	Finding  finding.Finding `json:"finding"`
	State    State           `json:"state"`
	Playbook string          `json:"playbook,omitempty"`
	Request  *Request        `json:"request,omitempty"`
	Err      error           `json:"-"`
}

// Stats counts terminal states since the gateway was created.
type Stats struct {
	Dispatched uint64 `json:"dispatched"`
	Rejected   uint64 `json:"rejected"`
	Ignored    uint64 `json:"ignored"`
}

// Gateway is the routing boundary between the finding feed and the
// execution engine. It never retries and never remediates.
type Gateway struct {
	source Source
	intake Intake
	tracer trace.Tracer
	now    func() time.Time

	dispatched atomic.Uint64
	rejected   atomic.Uint64
	ignored    atomic.Uint64
}

// Option customizes a Gateway.
type Option func(*Gateway)

// WithTracer records a span per dispatched finding.
func WithTracer(t trace.Tracer) Option {
	return func(g *Gateway) {
		if t != nil {
			g.tracer = t
		}
	}
}

// WithClock overrides the request timestamp source.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) {
		if now != nil {
			g.now = now
		}
	}
}

// NewGateway returns a gateway resolving against source and submitting to intake.
func NewGateway(source Source, intake Intake, opts ...Option) *Gateway {
	g := &Gateway{
		source: source,
		intake: intake,
		tracer: noop.NewTracerProvider().Tracer(""),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Dispatch routes f. An unclaimed finding is Ignored with a nil error. An
// ambiguous match or a failed handoff is Rejected and the error is returned;
// nothing is submitted for an ambiguous match.
func (g *Gateway) Dispatch(ctx context.Context, f finding.Finding) (Result, error) {
	logger := logx.FromContext(ctx).With("finding_id", f.ID, "title", f.Title, "status", f.Status)
	ctx, span := g.tracer.Start(ctx, "dispatch.finding", trace.WithAttributes(
		attribute.String("finding.id", f.ID),
		attribute.String("finding.title", f.Title),
		attribute.String("finding.status", f.Status),
	))
	defer span.End()

	res := Result{Finding: f, State: StateResolving}

	d, ok, err := g.source.Resolve(f)
	switch {
	case err != nil:
		res.State = StateRejected
		res.Err = err
		g.rejected.Add(1)
		span.RecordError(err)
		span.SetStatus(codes.Error, "rejected")
		logger.Error("Finding rejected.", "error", err)
		return res, err

	case !ok:
		res.State = StateIgnored
		g.ignored.Add(1)
		span.SetAttributes(attribute.String("dispatch.state", res.State.String()))
		logger.Debug("Finding not claimed by any playbook.")
		return res, nil
	}

	req := NewRequest(d, f, g.now())
	res.Playbook = d.Name()
	span.SetAttributes(
		attribute.String("playbook.name", d.Name()),
		attribute.String("playbook.action_label", d.ActionLabel()),
		attribute.String("request.id", req.ID),
	)

	if err := g.intake.Submit(ctx, req); err != nil {
		err = fmt.Errorf("%w: %s: %w", ErrHandoff, d.Name(), err)
		res.State = StateRejected
		res.Err = err
		g.rejected.Add(1)
		span.RecordError(err)
		span.SetStatus(codes.Error, "handoff failed")
		logger.Error("Remediation handoff failed.", "playbook", d.Name(), "error", err)
		return res, err
	}

	res.State = StateDispatched
	res.Request = &req
	g.dispatched.Add(1)
	span.SetAttributes(attribute.String("dispatch.state", res.State.String()))
	logger.Info("Finding dispatched.", "playbook", d.Name(), "action", d.ActionLabel(), "request_id", req.ID)
	return res, nil
}

// DispatchAll dispatches findings independently with at most concurrency in
// flight (unbounded when concurrency <= 0). Results keep input order; a
// rejected finding does not stop the others.
func (g *Gateway) DispatchAll(ctx context.Context, findings []finding.Finding, concurrency int) []Result {
	results := make([]Result, len(findings))

	var eg errgroup.Group
	if concurrency > 0 {
		eg.SetLimit(concurrency)
	}
	for i, f := range findings {
		eg.Go(func() error {
			results[i], _ = g.Dispatch(ctx, f)
			return nil
		})
	}
	_ = eg.Wait()
	return results
}

// Stats returns the terminal-state counters.
func (g *Gateway) Stats() Stats {
	return Stats{
		Dispatched: g.dispatched.Load(),
		Rejected:   g.rejected.Load(),
		Ignored:    g.ignored.Load(),
	}
}

// IsAmbiguous reports whether err came from overlapping playbook criteria.
func IsAmbiguous(err error) bool {
	return errors.Is(err, registry.ErrAmbiguousMatch)
}
