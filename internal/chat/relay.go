package chat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"medevent/internal/metrics"
)

// HistoryLimit caps room history reads.
const HistoryLimit = 50

// Transport names the path a send arrived on.
const (
	TransportSocket = "socket"
	TransportHTTP   = "http"
)

// MessageStore is the persistence gateway. InsertMessage returns a nil row
// with a nil error when the backend acknowledged the write without echoing it.
type MessageStore interface {
	InsertMessage(ctx context.Context, m *Message) (*Message, error)
	ListRoomMessages(ctx context.Context, roomID string, limit int) ([]Message, error)
}

// Broadcaster delivers an event to every connection joined to a room,
// skipping excludeConnID when it is non-empty.
type Broadcaster interface {
	Broadcast(roomID, event string, payload any, excludeConnID string)
}

// Origin describes who is sending.
type Origin struct {
	Transport string
	ConnID    string

	// UserID and IsAdmin are meaningful only when Authenticated is set.
	UserID        string
	IsAdmin       bool
	Authenticated bool
}

type Result struct {
	Message WireMessage
	// Persisted is false when the store returned no row and the draft was
	// broadcast as is.
	Persisted bool
	// Duplicate marks a resend of an already confirmed client message id.
	Duplicate bool
}

type Relay struct {
	store    MessageStore
	bcast    Broadcaster
	resolver AdminResolver
	dedupe   Deduper
	now      func() time.Time
}

type Option func(*Relay)

// WithDeduper enables duplicate suppression on client message ids.
func WithDeduper(d Deduper) Option { return func(r *Relay) { r.dedupe = d } }

func WithClock(now func() time.Time) Option { return func(r *Relay) { r.now = now } }

func NewRelay(store MessageStore, bcast Broadcaster, resolver AdminResolver, opts ...Option) *Relay {
	r := &Relay{store: store, bcast: bcast, resolver: resolver, now: time.Now}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Relay) Resolver() AdminResolver { return r.resolver }

// Send runs a draft through admin rewriting, validation, duplicate check,
// persistence and broadcast. Nothing is broadcast unless the store accepted
// the write.
func (r *Relay) Send(ctx context.Context, d Draft, o Origin) (*Result, error) {
	d = r.resolver.Apply(d)
	if err := d.Validate(); err != nil {
		r.fail(o, "validation")
		return nil, err
	}
	if o.Authenticated && !o.IsAdmin && d.SenderID != o.UserID {
		r.fail(o, "forbidden")
		return nil, fmt.Errorf("%w: cannot send as another user", ErrForbidden)
	}

	key := d.dedupeKey()
	if key != "" && r.dedupe != nil {
		res, err := r.dedupe.Reserve(ctx, key)
		switch {
		case err != nil:
			log.Warn().Err(err).Str("room_id", d.RoomID).Msg("dedupe unavailable, sending without it")
			key = ""
		case res.State == Pending:
			r.fail(o, "duplicate")
			return nil, ErrDuplicateInFlight
		case res.State == Done:
			metrics.DuplicatesTotal.Inc()
			return &Result{Message: res.Message.Wire().withClientID(d.ClientMessageID), Persisted: true, Duplicate: true}, nil
		}
	} else {
		key = ""
	}

	row, err := r.store.InsertMessage(ctx, d.Record())
	if err != nil {
		if key != "" {
			if rerr := r.dedupe.Release(ctx, key); rerr != nil {
				log.Warn().Err(rerr).Msg("dedupe release failed")
			}
		}
		r.fail(o, "persistence")
		log.Error().Err(err).Str("room_id", d.RoomID).Str("sender_id", d.SenderID).Msg("insert message failed")
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	persisted := row != nil
	if !persisted {
		row = d.Record()
		row.CreatedAt = r.now().UTC()
		metrics.FallbacksTotal.Inc()
		log.Warn().Str("room_id", d.RoomID).Str("sender_id", d.SenderID).Msg("store returned no row, broadcasting draft")
	}

	if key != "" {
		if err := r.dedupe.Complete(ctx, key, row); err != nil {
			log.Warn().Err(err).Msg("dedupe complete failed")
		}
	}

	wire := row.Wire().withClientID(d.ClientMessageID)
	if r.bcast != nil {
		r.bcast.Broadcast(row.RoomID, EventReceive, wire, o.ConnID)
	}
	metrics.MessagesTotal.WithLabelValues(transport(o)).Inc()
	return &Result{Message: wire, Persisted: persisted}, nil
}

// History returns up to limit messages of a room, newest first. limit is
// clamped to 1..HistoryLimit.
func (r *Relay) History(ctx context.Context, roomID string, limit int) ([]Message, error) {
	roomID = r.resolver.Resolve(roomID)
	if roomID == "" {
		return nil, fmt.Errorf("%w: room id is required", ErrValidation)
	}
	if limit <= 0 || limit > HistoryLimit {
		limit = HistoryLimit
	}
	msgs, err := r.store.ListRoomMessages(ctx, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].CreatedAt.After(msgs[j].CreatedAt) })
	if len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs, nil
}

func (r *Relay) fail(o Origin, reason string) {
	metrics.MessageFailuresTotal.WithLabelValues(transport(o), reason).Inc()
}

func transport(o Origin) string {
	if o.Transport == "" {
		return TransportSocket
	}
	return o.Transport
}

// PublicError is the message shown to senders for err.
func PublicError(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "Invalid message"
	case errors.Is(err, ErrForbidden):
		return "Access denied"
	case errors.Is(err, ErrDuplicateInFlight):
		return "Message already being processed"
	default:
		return "Failed to save message"
	}
}
