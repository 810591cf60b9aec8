package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"rental-platform/pkg/logger"
)

// Channel is the redis pub/sub channel session changes are published on.
const Channel = "session:changed"

type Kind string

const (
	KindLogin  Kind = "login"
	KindLogout Kind = "logout"
)

// Event announces that an actor's session started or ended. Listeners use
// it to refresh role-scoped views.
type Event struct {
	Kind    Kind      `json:"kind"`
	ActorID string    `json:"actor_id"`
	Role    string    `json:"role,omitempty"`
	At      time.Time `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

func Encode(ev Event) (string, error) {
	b, err := json.Marshal(ev)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func Decode(payload string) (Event, error) {
	var ev Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return Event{}, fmt.Errorf("decode session event: %w", err)
	}
	switch ev.Kind {
	case KindLogin, KindLogout:
	default:
		return Event{}, fmt.Errorf("decode session event: unknown kind %q", ev.Kind)
	}
	if ev.ActorID == "" {
		return Event{}, errors.New("decode session event: actor_id is required")
	}
	return ev, nil
}

// RedisBus fans session events out to every API process.
type RedisBus struct {
	rdb     *redis.Client
	channel string
	log     *slog.Logger
}

func NewRedisBus(rdb *redis.Client, log *slog.Logger) *RedisBus {
	return &RedisBus{rdb: rdb, channel: Channel, log: logger.OrDefault(log).With("component", "session_bus")}
}

func (b *RedisBus) Publish(ctx context.Context, ev Event) error {
	payload, err := Encode(ev)
	if err != nil {
		return err
	}
	if err := b.rdb.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", b.channel, err)
	}
	return nil
}

// Listen subscribes and calls handle for every valid event until ctx is
// done. Malformed payloads are logged and skipped.
func (b *RedisBus) Listen(ctx context.Context, handle func(Event)) error {
	sub := b.rdb.Subscribe(ctx, b.channel)
	defer func() { _ = sub.Close() }()

	// Wait for the subscription to be confirmed before consuming.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			ev, err := Decode(msg.Payload)
			if err != nil {
				b.log.Warn("session event skipped", "err", err)
				continue
			}
			handle(ev)
		}
	}
}

// LocalBus delivers events in-process. Used when redis is not configured.
type LocalBus struct {
	mu       sync.RWMutex
	handlers []func(Event)
}

func NewLocalBus() *LocalBus { return &LocalBus{} }

func (b *LocalBus) Subscribe(handle func(Event)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, handle)
}

func (b *LocalBus) Publish(_ context.Context, ev Event) error {
	b.mu.RLock()
	hs := append([]func(Event){}, b.handlers...)
	b.mu.RUnlock()
	for _, h := range hs {
		h(ev)
	}
	return nil
}
