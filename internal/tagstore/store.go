// Package tagstore persists named tag values (cooldown maps, counters) and
// emits one-way timestamp markers.
package tagstore

import (
	"context"
	"errors"
	"fmt"

	"whatsapp-alert/internal/config"
)

var ErrUnknownDriver = errors.New("unknown storage driver")

// Store is a durable key/value store for tag values. Get reports ok=false
// when the tag has never been written.
type Store interface {
	Get(ctx context.Context, name string) (value []byte, ok bool, err error)
	Set(ctx context.Context, name string, value []byte) error
	Close() error
}

// Emitter publishes a named marker value. Markers are notifications for
// observers, not state the engine reads back.
type Emitter interface {
	Emit(ctx context.Context, name, value string) error
}

// New opens the store selected by cfg.Driver.
func New(cfg config.StorageConfig) (Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite", "mysql":
		return OpenGorm(cfg.Driver, cfg.DSN)
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownDriver, cfg.Driver)
	}
}
