package sourced

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ironbell/sourced/pkg/sourced/event"
)

// AuditEntry records one observed state transition. Entries are immutable
// once recorded.
type AuditEntry struct {
	Timestamp     time.Time
	AggregateType string
	AggregateID   string
	EventType     string
	EventID       string
	Version       int64

	// StateBefore is the serialized aggregate state captured before the
	// event applied, or nil when the aggregate has no state serializer.
	StateBefore []byte

	// Err is non-nil when the transition failed.
	Err error
}

// AuditCapability records every apply against its host: the state before
// the transition (when available), the event, and the resulting version.
// It observes only; it never alters the host's apply sequence or results.
type AuditCapability struct {
	BaseCapability

	mu      sync.Mutex
	host    Host
	entries []AuditEntry
	before  []byte
	logger  *slog.Logger
}

// NewAuditCapability creates an audit capability. The logger is optional.
func NewAuditCapability(logger *slog.Logger) *AuditCapability {
	return &AuditCapability{logger: logger}
}

// Attach implements Capability.
func (a *AuditCapability) Attach(host Host) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.host = host
	return nil
}

// Detach implements Capability.
func (a *AuditCapability) Detach() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.host = nil
	return nil
}

// BeforeApply captures the pre-transition state when the host exposes one.
func (a *AuditCapability) BeforeApply(_ context.Context, _ event.Envelope) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.before = nil
	if a.host != nil {
		if data, ok := a.host.StateBytes(); ok {
			a.before = data
		}
	}
	return nil
}

// AfterApply records the completed transition.
func (a *AuditCapability) AfterApply(_ context.Context, env event.Envelope) error {
	a.record(env, nil)
	return nil
}

// OnError records the failed transition.
func (a *AuditCapability) OnError(_ context.Context, env event.Envelope, applyErr error) error {
	a.record(env, applyErr)
	return nil
}

func (a *AuditCapability) record(env event.Envelope, applyErr error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	entry := AuditEntry{
		Timestamp:     time.Now().UTC(),
		AggregateType: env.Meta.AggregateType,
		AggregateID:   env.Meta.AggregateID,
		EventType:     env.EventType,
		EventID:       env.Meta.EventID,
		Version:       env.Meta.AggregateVersion,
		StateBefore:   a.before,
		Err:           applyErr,
	}
	a.entries = append(a.entries, entry)
	a.before = nil

	if a.logger != nil {
		a.logger.Debug("audit entry recorded",
			slog.String("aggregate_id", entry.AggregateID),
			slog.String("event_type", entry.EventType),
			slog.Int64("version", entry.Version),
		)
	}
}

// Entries returns a copy of all recorded entries in order.
func (a *AuditCapability) Entries() []AuditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]AuditEntry, len(a.entries))
	copy(out, a.entries)
	return out
}
