// Package dispatch delivers approved proposals downstream, exactly once in
// effect: at-least-once wire delivery with retries, an idempotency marker on
// this side, and contractual deduplication by correlation ID on the target's
// side.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"assent/internal/envelope"
	"assent/internal/ledger"
	"assent/internal/proposal"
	id "assent/pkg/domain"
	dErrors "assent/pkg/domain-errors"
)

// routing is the addressing convention inside a proposal payload: the
// producer names the downstream system and action there, so approval
// carries everything delivery needs.
type routing struct {
	Target string `json:"target"`
	Action string `json:"action"`
}

// attemptSnapshot is the ledger record for one failed wire attempt.
type attemptSnapshot struct {
	Attempt int    `json:"attempt"`
	Target  string `json:"target,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Config bounds the retry schedule.
type Config struct {
	// BackoffBase is the first retry delay; each retry doubles it up to
	// BackoffCap. MaxAttempts counts wire attempts, the first included.
	BackoffBase time.Duration
	BackoffCap  time.Duration
	MaxAttempts int

	// Source names this system in outbound envelopes.
	Source string
	// DefaultAction is used when the payload does not name one.
	DefaultAction string
}

func (c *Config) applyDefaults() {
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 60 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.Source == "" {
		c.Source = "assent"
	}
	if c.DefaultAction == "" {
		c.DefaultAction = "execute"
	}
}

// Dispatcher implements the lifecycle service's delivery port.
type Dispatcher struct {
	transport Transport
	markers   MarkerStore
	codec     *envelope.Codec
	ledger    *ledger.Service
	cfg       Config
	logger    *slog.Logger
	sleep     func(ctx context.Context, d time.Duration) error
}

// Option configures optional Dispatcher collaborators.
type Option func(*Dispatcher)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

// WithSleep overrides the backoff wait, used by tests to skip real delays.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(d *Dispatcher) { d.sleep = sleep }
}

// New creates a dispatcher.
func New(transport Transport, markers MarkerStore, codec *envelope.Codec, led *ledger.Service, cfg Config, opts ...Option) (*Dispatcher, error) {
	if transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if markers == nil {
		return nil, fmt.Errorf("marker store is required")
	}
	if codec == nil {
		return nil, fmt.Errorf("codec is required")
	}
	if led == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	cfg.applyDefaults()

	d := &Dispatcher{
		transport: transport,
		markers:   markers,
		codec:     codec,
		ledger:    led,
		cfg:       cfg,
		logger:    slog.Default(),
		sleep:     sleepCtx,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Deliver runs one delivery attempt cycle for an approved proposal. The
// idempotency marker is written before any network traffic; a concurrent or
// earlier run holding the marker short-circuits to a zero-attempt outcome.
func (d *Dispatcher) Deliver(ctx context.Context, p *proposal.Proposal) proposal.DeliveryOutcome {
	acquired, err := d.markers.Acquire(ctx, p.ID.String())
	if err != nil {
		return proposal.DeliveryOutcome{Err: fmt.Sprintf("acquire delivery marker: %v", err)}
	}
	if !acquired {
		d.logger.WarnContext(ctx, "delivery already attempted, skipping",
			"proposal_id", p.ID,
		)
		return proposal.DeliveryOutcome{}
	}

	outcome := d.run(ctx, p)
	if !outcome.Delivered {
		// Release so a manual re-trigger can acquire again. The marker
		// stays put after success: that is the duplicate guard.
		if err := d.markers.Release(ctx, p.ID.String()); err != nil {
			d.logger.ErrorContext(ctx, "release delivery marker",
				"proposal_id", p.ID,
				"error", err,
			)
		}
	}
	return outcome
}

func (d *Dispatcher) run(ctx context.Context, p *proposal.Proposal) proposal.DeliveryOutcome {
	var route routing
	// Payload was validated as JSON at intake; absent routing fields fall
	// back to configured defaults.
	_ = json.Unmarshal(p.Payload, &route)
	if route.Action == "" {
		route.Action = d.cfg.DefaultAction
	}
	if route.Target == "" {
		route.Target = d.transport.Name()
	}

	env := envelope.Envelope{
		ID:            id.NewEnvelopeID().String(),
		Source:        d.cfg.Source,
		Target:        route.Target,
		Action:        route.Action,
		Payload:       p.Payload,
		CorrelationID: p.ID.String(),
		Timestamp:     time.Now().UTC(),
	}
	if errs := d.codec.Validate(env); len(errs) > 0 {
		return proposal.DeliveryOutcome{
			Target: route.Target,
			Err:    fmt.Sprintf("envelope invalid: %v", errs),
		}
	}

	outcome := proposal.DeliveryOutcome{Target: route.Target}
	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		outcome.Attempts = attempt

		err := d.attempt(ctx, env)
		if err == nil {
			d.logger.InfoContext(ctx, "proposal delivered",
				"proposal_id", p.ID,
				"target", route.Target,
				"attempt", attempt,
			)
			outcome.Delivered = true
			return outcome
		}
		outcome.Err = err.Error()

		if recErr := d.recordFailure(ctx, p.ID, attempt, route.Target, err); recErr != nil {
			// No audit, no further attempts.
			outcome.Err = recErr.Error()
			return outcome
		}
		d.logger.WarnContext(ctx, "delivery attempt failed",
			"proposal_id", p.ID,
			"target", route.Target,
			"attempt", attempt,
			"error", err,
		)

		if attempt == d.cfg.MaxAttempts {
			break
		}
		if err := d.sleep(ctx, d.backoff(attempt)); err != nil {
			outcome.Err = fmt.Sprintf("delivery cancelled: %v", err)
			return outcome
		}
	}
	return outcome
}

// attempt sends the envelope once and checks the acknowledgement matches.
func (d *Dispatcher) attempt(ctx context.Context, env envelope.Envelope) error {
	resp, err := d.transport.Send(ctx, env)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeTransport, "send envelope")
	}
	if resp.CorrelationID != env.CorrelationID {
		return dErrors.New(dErrors.CodeDeliveryMismatch,
			fmt.Sprintf("response correlation %q does not match %q", resp.CorrelationID, env.CorrelationID))
	}
	if resp.Status != envelope.StatusSuccess {
		return dErrors.New(dErrors.CodeDeliveryMismatch,
			fmt.Sprintf("target answered status %q", resp.Status))
	}
	return nil
}

func (d *Dispatcher) recordFailure(ctx context.Context, proposalID id.ProposalID, attempt int, target string, cause error) error {
	snapshot, err := json.Marshal(attemptSnapshot{Attempt: attempt, Target: target, Error: cause.Error()})
	if err != nil {
		return fmt.Errorf("marshal attempt snapshot: %w", err)
	}
	_, err = d.ledger.Append(ctx, ledger.Event{
		ProposalID: proposalID,
		Type:       ledger.EventDeliveryFailed,
		Snapshot:   snapshot,
		Timestamp:  time.Now().UTC(),
	})
	return err
}

// backoff doubles from the base each attempt, capped.
func (d *Dispatcher) backoff(attempt int) time.Duration {
	delay := d.cfg.BackoffBase << (attempt - 1)
	if delay > d.cfg.BackoffCap || delay <= 0 {
		delay = d.cfg.BackoffCap
	}
	return delay
}

func sleepCtx(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
