package warmup

import (
	"context"

	"golang.org/x/time/rate"
)

// Pump emits a planned query list in order with a fixed inter-command gap,
// so a downstream serial fieldbus never sees simultaneous fan-out for one
// heartbeat (§4.5). A new heartbeat's queries get their own Pump call and
// are not coalesced with an in-flight one — callers fire Emit per
// heartbeat, same as the teacher's background loop fires once per scan
// rather than batching ticks.
type Pump struct {
	limiter *rate.Limiter
}

func NewPump(cfg Config) *Pump {
	if cfg.StaggerDelay <= 0 {
		return &Pump{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	return &Pump{limiter: rate.NewLimiter(rate.Every(cfg.StaggerDelay), 1)}
}

// Emit blocks on the limiter before invoking send for each query in order,
// stopping early if ctx is cancelled.
func (p *Pump) Emit(ctx context.Context, queries []Query, send func(Query)) error {
	for _, q := range queries {
		if err := p.limiter.Wait(ctx); err != nil {
			return err
		}
		send(q)
	}
	return nil
}
