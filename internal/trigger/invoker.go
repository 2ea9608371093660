// Package trigger turns external events into engine passes: MQTT and Kafka
// messages, HTTP requests and the cron heartbeat all go through one Invoker,
// which runs passes one at a time.
package trigger

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"whatsapp-alert/internal/alert"
	"whatsapp-alert/internal/metrics"
	"whatsapp-alert/internal/payload"
)

// Processor runs a single pass.
type Processor interface {
	Process(ctx context.Context, inv alert.Invocation) alert.PassResult
}

// Invoker serializes passes. The engine reloads and rewrites cooldown state
// on every pass, so two passes must never overlap.
type Invoker struct {
	mu   sync.Mutex
	proc Processor
}

func NewInvoker(proc Processor) *Invoker {
	return &Invoker{proc: proc}
}

// Payload decodes a JSON document and runs a pass over it. Undecodable
// input is rejected before any pass starts.
func (i *Invoker) Payload(ctx context.Context, data []byte, source string) (alert.PassResult, error) {
	v, err := payload.Decode(data)
	if err != nil {
		metrics.SourceMessagesTotal.WithLabelValues(source, "rejected").Inc()
		return alert.PassResult{}, fmt.Errorf("%s: %w", source, err)
	}
	metrics.SourceMessagesTotal.WithLabelValues(source, "accepted").Inc()
	return i.run(ctx, source, &v), nil
}

// Heartbeat runs a payload-less pass.
func (i *Invoker) Heartbeat(ctx context.Context, source string) alert.PassResult {
	return i.run(ctx, source, nil)
}

func (i *Invoker) run(ctx context.Context, trigger string, v *payload.Value) alert.PassResult {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.proc.Process(ctx, alert.Invocation{
		ID:      uuid.NewString(),
		Trigger: trigger,
		Payload: v,
	})
}
