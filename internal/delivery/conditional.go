package delivery

import (
	"context"
	"time"

	"github.com/vinayprograms/crucible/internal/bus"
	"github.com/vinayprograms/crucible/internal/logging"
	"github.com/vinayprograms/crucible/internal/routing"
)

// conditionalDriver evaluates Delivery.ConditionalExpr against each event;
// a match delivers immediately (realtime-style), while a non-match falls
// back to ConditionalFallback's driver kind (Realtime when unset).
type conditionalDriver struct {
	sub         *routing.Subscription
	sink        Sink
	deadLetters *DeadLetterSink
	onFailure   FailurePublisher
	fallback    Driver
	expr        *routing.CompiledFilter
}

func newConditionalDriver(sub *routing.Subscription, sink Sink, deadLetters *DeadLetterSink, onFailure FailurePublisher) *conditionalDriver {
	expr, err := routing.CompileCached(sub.Delivery.ConditionalExpr)
	if err != nil {
		logging.Default.Warn("conditional driver: invalid expression, treating as never-match", map[string]interface{}{
			"subscription_id": string(sub.ID),
			"error":           err.Error(),
		})
		expr = alwaysFalseFilter()
	}

	fallbackKind := sub.Delivery.ConditionalFallback
	if fallbackKind == "" {
		fallbackKind = routing.KindRealtime
	}
	fallbackSub := *sub
	fallbackSub.Kind = fallbackKind
	fallback := NewDriver(&fallbackSub, sink, deadLetters, onFailure)

	return &conditionalDriver{sub: sub, sink: sink, deadLetters: deadLetters, onFailure: onFailure, fallback: fallback, expr: expr}
}

// alwaysFalseFilter compiles an expression that can never match any real
// event, used when a subscription supplies a malformed condition.
func alwaysFalseFilter() *routing.CompiledFilter {
	f, _ := routing.Compile(`kind = "__never__"`)
	return f
}

func (d *conditionalDriver) Submit(event bus.DaemonEvent) {
	if d.expr.Matches(event) {
		ctx, cancel := context.WithTimeout(context.Background(), conditionalDeliveryTimeout)
		defer cancel()
		_ = deliverWithRetry(ctx, d.sub, event, d.sink, d.deadLetters, d.onFailure)
		return
	}
	d.fallback.Submit(event)
}

const conditionalDeliveryTimeout = 30 * time.Second

func (d *conditionalDriver) Close() {
	d.fallback.Close()
}
