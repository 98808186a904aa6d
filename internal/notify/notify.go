// Package notify fans lifecycle announcements out to human-facing sinks.
// Notification is a side channel: a sink outage is logged and isolated
// behind a per-sink circuit breaker, never surfaced to the state machine.
package notify

import (
	"context"
	"log/slog"
	"time"

	"assent/internal/proposal"
	"assent/pkg/platform/circuit"
)

// Sink receives one announcement. Implementations should return quickly;
// anything slow belongs behind their own queue.
type Sink interface {
	Name() string
	Send(ctx context.Context, kind string, p *proposal.Proposal) error
}

// Fanout delivers each announcement to every registered sink.
type Fanout struct {
	sinks    []Sink
	breakers []*circuit.Breaker
	logger   *slog.Logger
	timeout  time.Duration
}

// NewFanout wraps the sinks. Each gets its own breaker so one failing sink
// never silences the rest.
func NewFanout(logger *slog.Logger, sinks ...Sink) *Fanout {
	f := &Fanout{
		sinks:   sinks,
		logger:  logger,
		timeout: 5 * time.Second,
	}
	for _, sink := range sinks {
		f.breakers = append(f.breakers, circuit.New("notify-"+sink.Name(),
			circuit.WithFailureThreshold(5),
			circuit.WithSuccessThreshold(2),
		))
	}
	return f
}

// Notify implements the lifecycle service's notification port. Sends always
// go out; the breaker only quiets the log during a sustained sink outage.
func (f *Fanout) Notify(ctx context.Context, kind string, p *proposal.Proposal) {
	for i, sink := range f.sinks {
		breaker := f.breakers[i]

		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.timeout)
		err := sink.Send(sendCtx, kind, p)
		cancel()

		if err != nil {
			alreadyOpen := breaker.IsOpen()
			if _, change := breaker.RecordFailure(); change.Opened {
				f.logger.WarnContext(ctx, "notification sink circuit opened",
					"sink", sink.Name(),
					"error", err,
				)
			} else if !alreadyOpen {
				f.logger.WarnContext(ctx, "notification send failed",
					"sink", sink.Name(),
					"kind", kind,
					"proposal_id", p.ID,
					"error", err,
				)
			}
			continue
		}
		if _, change := breaker.RecordSuccess(); change.Closed {
			f.logger.InfoContext(ctx, "notification sink circuit closed", "sink", sink.Name())
		}
	}
}

// LogSink writes announcements to the structured log. It doubles as the
// default sink in deployments without a paging or mail integration.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Send(ctx context.Context, kind string, p *proposal.Proposal) error {
	s.logger.InfoContext(ctx, "proposal notification",
		"kind", kind,
		"proposal_id", p.ID,
		"state", p.State,
		"policy_id", p.PolicyID,
	)
	return nil
}
