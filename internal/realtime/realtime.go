// Package realtime is the change feed of the data store: every chat message
// insert is published as an Event on a topic scoped by table and match, and
// a chat view subscribes to the topic of the match it shows.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

const (
	TableMatchChatMessages = "match_chat_messages"

	EventInsert = "INSERT"

	// DefaultBuffer is the per-subscription event buffer.
	DefaultBuffer = 64
)

var (
	ErrNameInUse = errors.New("realtime: subscription name already in use")
	ErrClosed    = errors.New("realtime: broker closed")
)

// Event is one row change. New holds the inserted row as JSON.
type Event struct {
	Type    string          `json:"type"`
	Table   string          `json:"table"`
	MatchID uuid.UUID       `json:"match_id"`
	New     json.RawMessage `json:"new"`
}

// NewInsertEvent encodes record as the payload of an INSERT on table.
func NewInsertEvent(table string, matchID uuid.UUID, record any) (Event, error) {
	raw, err := json.Marshal(record)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s row: %w", table, err)
	}
	return Event{Type: EventInsert, Table: table, MatchID: matchID, New: raw}, nil
}

func (e Event) Topic() string {
	return Filter{Table: e.Table, MatchID: e.MatchID}.Topic()
}

// Filter selects the rows of one table that belong to one match.
type Filter struct {
	Table   string
	MatchID uuid.UUID
}

func (f Filter) Topic() string {
	return fmt.Sprintf("%s:match_id=eq.%s", f.Table, f.MatchID)
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

type Subscriber interface {
	// Subscribe opens a named subscription. Names must be unique among the
	// open subscriptions of a broker. The subscription also closes when ctx
	// is cancelled.
	Subscribe(ctx context.Context, name string, f Filter) (*Subscription, error)
}

type Broker interface {
	Publisher
	Subscriber
	Close() error
}

// Subscription delivers the events of one topic until it is closed. It
// cannot be reopened; subscribe again under a new name instead.
type Subscription struct {
	name    string
	filter  Filter
	events  chan Event
	done    chan struct{}
	once    sync.Once
	release func()
}

func newSubscription(name string, f Filter, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Subscription{
		name:   name,
		filter: f,
		events: make(chan Event, buffer),
		done:   make(chan struct{}),
	}
}

func (s *Subscription) Name() string { return s.name }

func (s *Subscription) Filter() Filter { return s.filter }

// Events is closed after Close returns.
func (s *Subscription) Events() <-chan Event { return s.events }

// Done is closed as soon as Close is called.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Close is safe to call more than once and from any goroutine.
func (s *Subscription) Close() {
	s.once.Do(func() {
		close(s.done)
		if s.release != nil {
			s.release()
		}
		close(s.events)
	})
}

// deliver never blocks. It reports false when the subscription is closing
// or its buffer is full.
func (s *Subscription) deliver(e Event) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.events <- e:
		return true
	default:
		return false
	}
}
