package tagstore

import (
	"context"
	"encoding/json"
	"time"

	"whatsapp-alert/internal/logging"
	"whatsapp-alert/internal/metrics"
)

// Tags wraps a Store with best-effort semantics: reads that fail leave the
// caller's default in place, writes that fail are logged and dropped.
// Every call is bounded by timeout.
type Tags struct {
	store   Store
	timeout time.Duration
}

func NewTags(store Store, timeout time.Duration) *Tags {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Tags{store: store, timeout: timeout}
}

// Get returns the raw tag bytes, or ok=false when absent or unreadable.
func (t *Tags) Get(ctx context.Context, name string) ([]byte, bool) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	data, ok, err := t.store.Get(ctx, name)
	if err != nil {
		logging.Warnf("failed to get tag '%s': %v", name, err)
		metrics.StorageErrorsTotal.WithLabelValues("get").Inc()
		return nil, false
	}
	return data, ok
}

// GetJSON decodes the tag into dst. On any failure dst is left untouched and
// false is returned, so dst should hold the default beforehand.
func (t *Tags) GetJSON(ctx context.Context, name string, dst any) bool {
	data, ok := t.Get(ctx, name)
	if !ok {
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		logging.Warnf("tag '%s' holds undecodable value: %v", name, err)
		return false
	}
	return true
}

// Set writes raw bytes, logging failures.
func (t *Tags) Set(ctx context.Context, name string, value []byte) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	if err := t.store.Set(ctx, name, value); err != nil {
		logging.Warnf("failed to set tag '%s': %v", name, err)
		metrics.StorageErrorsTotal.WithLabelValues("set").Inc()
	}
}

// SetJSON encodes v and writes it.
func (t *Tags) SetJSON(ctx context.Context, name string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		logging.Warnf("failed to encode tag '%s': %v", name, err)
		return
	}
	t.Set(ctx, name, data)
}

// Increment adds one to an integer tag, treating absent or invalid values as 0.
func (t *Tags) Increment(ctx context.Context, name string) int64 {
	var n int64
	t.GetJSON(ctx, name, &n)
	n++
	t.SetJSON(ctx, name, n)
	return n
}

// StoreEmitter records markers as JSON string tags in the store. It is the
// fallback when no broker is configured.
type StoreEmitter struct {
	tags *Tags
}

func NewStoreEmitter(tags *Tags) *StoreEmitter {
	return &StoreEmitter{tags: tags}
}

func (e *StoreEmitter) Emit(ctx context.Context, name, value string) error {
	e.tags.SetJSON(ctx, name, value)
	return nil
}
