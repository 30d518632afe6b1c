package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"partnercore/pkg/domain"
)

// Publisher is the subset of *nats.Conn the NATS back-ends use.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// ConnectNATS dials url with reconnect settings suited to a long-running service.
func ConnectNATS(url, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return nc, nil
}

// NotificationSubject maps a template to its NATS subject,
// e.g. trips/trip/approved to notifications.trips.trip.approved.
func NotificationSubject(t Template) string {
	return "notifications." + strings.ReplaceAll(string(t), "/", ".")
}

// InvalidationSubject is cache.invalidate.<tenant>.<kind>.
func InvalidationSubject(ref domain.Ref) string {
	return fmt.Sprintf("cache.invalidate.%s.%s", ref.Tenant, ref.Kind)
}

// NATSNotifier publishes messages for the notification service to render and send.
type NATSNotifier struct {
	pub Publisher
}

// NewNATSNotifier publishes through pub.
func NewNATSNotifier(pub Publisher) *NATSNotifier {
	return &NATSNotifier{pub: pub}
}

// Send implements Notifier.
func (n *NATSNotifier) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := ParseTemplate(string(msg.Template)); err != nil {
		return err
	}
	data, err := msg.Payload()
	if err != nil {
		return domain.ValidationFailed("send notification", domain.FieldErrors{"context": {err.Error()}})
	}
	return n.pub.Publish(NotificationSubject(msg.Template), data)
}

// Invalidation is the wire form of a cache invalidation signal.
type Invalidation struct {
	Kind   domain.Kind `json:"kind"`
	ID     string      `json:"id"`
	Tenant string      `json:"tenant"`
}

// NATSInvalidator publishes cache invalidation signals.
type NATSInvalidator struct {
	pub Publisher
}

// NewNATSInvalidator publishes through pub.
func NewNATSInvalidator(pub Publisher) *NATSInvalidator {
	return &NATSInvalidator{pub: pub}
}

// Invalidate implements Invalidator.
func (n *NATSInvalidator) Invalidate(ctx context.Context, ref domain.Ref) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(Invalidation{Kind: ref.Kind, ID: ref.ID, Tenant: ref.Tenant})
	if err != nil {
		return err
	}
	return n.pub.Publish(InvalidationSubject(ref), data)
}

// LogBackend writes notifications and invalidations to the log only. It is
// the default when no broker is configured.
type LogBackend struct {
	log zerolog.Logger
}

// NewLogBackend logs through log.
func NewLogBackend(log zerolog.Logger) *LogBackend {
	return &LogBackend{log: log}
}

// Send implements Notifier.
func (b *LogBackend) Send(_ context.Context, msg Message) error {
	b.log.Info().
		Str("template", string(msg.Template)).
		Str("ref", msg.Ref.String()).
		Int64("version", msg.Version).
		Strs("recipients", msg.Recipients).
		Msg("notification")
	return nil
}

// Invalidate implements Invalidator.
func (b *LogBackend) Invalidate(_ context.Context, ref domain.Ref) error {
	b.log.Debug().Str("ref", ref.String()).Msg("cache invalidated")
	return nil
}

// Memory records deliveries in process. Fail, when set, is consulted before
// each delivery and its error returned.
type Memory struct {
	mu            sync.Mutex
	messages      []Message
	invalidations []domain.Ref
	Fail          func(attempt int) error
	attempts      int
}

// NewMemory returns an empty in-process back-end.
func NewMemory() *Memory { return &Memory{} }

// Send implements Notifier.
func (m *Memory) Send(_ context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts++
	if m.Fail != nil {
		if err := m.Fail(m.attempts); err != nil {
			return err
		}
	}
	m.messages = append(m.messages, msg)
	return nil
}

// Invalidate implements Invalidator.
func (m *Memory) Invalidate(_ context.Context, ref domain.Ref) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidations = append(m.invalidations, ref)
	return nil
}

// Messages returns the delivered messages in order.
func (m *Memory) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.messages...)
}

// Invalidations returns the invalidated refs in order.
func (m *Memory) Invalidations() []domain.Ref {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Ref(nil), m.invalidations...)
}

// Attempts counts Send calls, including failed ones.
func (m *Memory) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}
