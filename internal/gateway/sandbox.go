package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Op names a gateway operation for fault injection.
type Op string

const (
	OpCapture Op = "capture"
	OpRefund  Op = "refund"
	OpPayout  Op = "payout"
)

// Fault is an injected failure mode.
type Fault int

const (
	// FaultReject makes the processor definitively reject the call.
	FaultReject Fault = iota + 1
	// FaultTimeout fails the call before the processor applies it.
	FaultTimeout
	// FaultLostResponse applies the call but loses the response.
	FaultLostResponse
)

type sandboxEntry struct {
	op     Op
	ref    string
	amount int64
	failed bool
}

// Sandbox is an in-memory processor that deduplicates by idempotency key.
// It backs local development and tests.
type Sandbox struct {
	mu      sync.Mutex
	entries map[string]sandboxEntry
	faults  map[Op][]Fault
	calls   map[Op]int
}

// NewSandbox creates an empty Sandbox.
func NewSandbox() *Sandbox {
	return &Sandbox{
		entries: make(map[string]sandboxEntry),
		faults:  make(map[Op][]Fault),
		calls:   make(map[Op]int),
	}
}

// Inject queues faults for the next calls of op.
func (s *Sandbox) Inject(op Op, faults ...Fault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = append(s.faults[op], faults...)
}

// Calls returns how many times op reached the sandbox.
func (s *Sandbox) Calls(op Op) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// Applied returns how many successful operations of kind op were recorded.
func (s *Sandbox) Applied(op Op) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.entries {
		if e.op == op && !e.failed {
			n++
		}
	}
	return n
}

// AppliedAmount sums the amounts of successful operations of kind op.
func (s *Sandbox) AppliedAmount(op Op) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, e := range s.entries {
		if e.op == op && !e.failed {
			total += e.amount
		}
	}
	return total
}

func (s *Sandbox) apply(ctx context.Context, op Op, key string, amount int64, prefix string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{Outcome: OutcomeUnknown}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[op]++

	if e, ok := s.entries[key]; ok {
		if e.failed {
			return Result{Outcome: OutcomeFailed, Ref: e.ref, Reason: "declined"}, nil
		}
		return Result{Outcome: OutcomeSucceeded, Ref: e.ref}, nil
	}

	var fault Fault
	if q := s.faults[op]; len(q) > 0 {
		fault, s.faults[op] = q[0], q[1:]
	}
	if err := ValidateAmount(amount); err != nil {
		return Result{Outcome: OutcomeFailed, Reason: err.Error()}, nil
	}

	ref := prefix + uuid.NewString()[:12]
	switch fault {
	case FaultTimeout:
		return Result{Outcome: OutcomeUnknown}, fmt.Errorf("%w: %s timed out", ErrUnavailable, op)
	case FaultReject:
		s.entries[key] = sandboxEntry{op: op, ref: ref, amount: amount, failed: true}
		return Result{Outcome: OutcomeFailed, Ref: ref, Reason: "declined"}, nil
	case FaultLostResponse:
		s.entries[key] = sandboxEntry{op: op, ref: ref, amount: amount}
		return Result{Outcome: OutcomeUnknown}, fmt.Errorf("%w: %s response lost", ErrUnavailable, op)
	}
	s.entries[key] = sandboxEntry{op: op, ref: ref, amount: amount}
	return Result{Outcome: OutcomeSucceeded, Ref: ref}, nil
}

// Capture implements Gateway.
func (s *Sandbox) Capture(ctx context.Context, req CaptureRequest) (Result, error) {
	return s.apply(ctx, OpCapture, req.IdempotencyKey, req.AmountCents, "chrg_")
}

// CaptureStatus implements Gateway.
func (s *Sandbox) CaptureStatus(ctx context.Context, key string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{Outcome: OutcomeUnknown}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	switch {
	case !ok:
		return Result{Outcome: OutcomeFailed, Reason: "no charge for idempotency key"}, nil
	case e.failed:
		return Result{Outcome: OutcomeFailed, Ref: e.ref, Reason: "declined"}, nil
	}
	return Result{Outcome: OutcomeSucceeded, Ref: e.ref}, nil
}

// Refund implements Gateway.
func (s *Sandbox) Refund(ctx context.Context, req RefundRequest) (Result, error) {
	return s.apply(ctx, OpRefund, req.IdempotencyKey, req.AmountCents, "rfnd_")
}

// Payout implements Gateway.
func (s *Sandbox) Payout(ctx context.Context, req PayoutRequest) (Result, error) {
	return s.apply(ctx, OpPayout, req.IdempotencyKey, req.AmountCents, "trsf_")
}
