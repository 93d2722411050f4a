package ws

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"
)

// Envelope is the frame shape in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type opKind int

const (
	opJoin opKind = iota
	opLeave
	opDisconnect
	opBroadcast
	opSend
	opOnline
	opRooms
)

type op struct {
	kind    opKind
	client  *Client
	room    string
	exclude string
	frame   []byte
	reply   chan any
}

// Hub owns the room membership table. Every mutation and query is a message
// processed by the Run goroutine in arrival order, so no locks are held.
type Hub struct {
	ops  chan op
	done chan struct{}

	rooms   map[string]map[*Client]struct{}
	members map[*Client]map[string]struct{}
}

func NewHub() *Hub {
	return &Hub{
		ops:     make(chan op, 256),
		done:    make(chan struct{}),
		rooms:   make(map[string]map[*Client]struct{}),
		members: make(map[*Client]map[string]struct{}),
	}
}

// Run processes hub operations until ctx is cancelled. All clients still
// joined are closed on return.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		close(h.done)
		for c := range h.members {
			c.closeSend()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case o := <-h.ops:
			h.handle(o)
		}
	}
}

func (h *Hub) handle(o op) {
	switch o.kind {
	case opJoin:
		h.join(o.client, o.room)
	case opLeave:
		h.leave(o.client, o.room)
	case opDisconnect:
		h.drop(o.client)
	case opBroadcast:
		for c := range h.rooms[o.room] {
			if o.exclude != "" && c.id == o.exclude {
				continue
			}
			h.deliver(c, o.frame)
		}
	case opSend:
		h.deliver(o.client, o.frame)
	case opOnline:
		o.reply <- len(h.rooms[o.room])
	case opRooms:
		rooms := make([]string, 0, len(h.members[o.client]))
		for r := range h.members[o.client] {
			rooms = append(rooms, r)
		}
		o.reply <- rooms
	}
}

func (h *Hub) join(c *Client, room string) {
	if c.isClosed() {
		return
	}
	set := h.rooms[room]
	if set == nil {
		set = make(map[*Client]struct{})
		h.rooms[room] = set
	}
	set[c] = struct{}{}
	mine := h.members[c]
	if mine == nil {
		mine = make(map[string]struct{})
		h.members[c] = mine
	}
	mine[room] = struct{}{}
}

func (h *Hub) leave(c *Client, room string) {
	if set := h.rooms[room]; set != nil {
		delete(set, c)
		if len(set) == 0 {
			delete(h.rooms, room)
		}
	}
	if mine := h.members[c]; mine != nil {
		delete(mine, room)
	}
}

func (h *Hub) drop(c *Client) {
	for room := range h.members[c] {
		h.leave(c, room)
	}
	delete(h.members, c)
	c.closeSend()
}

// deliver never blocks the hub; a client whose buffer is full is dropped.
func (h *Hub) deliver(c *Client, frame []byte) {
	if c.isClosed() {
		return
	}
	select {
	case c.send <- frame:
	default:
		log.Warn().Str("conn_id", c.id).Msg("send buffer full, dropping client")
		h.drop(c)
	}
}

func (h *Hub) submit(o op) bool {
	select {
	case <-h.done:
		return false
	default:
	}
	select {
	case h.ops <- o:
		return true
	case <-h.done:
		return false
	}
}

// Join is idempotent.
func (h *Hub) Join(c *Client, room string) { h.submit(op{kind: opJoin, client: c, room: room}) }

// Leave is a no-op for rooms c never joined.
func (h *Hub) Leave(c *Client, room string) { h.submit(op{kind: opLeave, client: c, room: room}) }

// Disconnect removes c from every room and closes its send queue.
func (h *Hub) Disconnect(c *Client) {
	if !h.submit(op{kind: opDisconnect, client: c}) {
		c.closeSend()
	}
}

// Broadcast sends event to every client in room at the time the hub handles
// it, skipping the client whose id is excludeConnID.
func (h *Hub) Broadcast(room, event string, payload any, excludeConnID string) {
	frame, err := encode(event, payload)
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("encode broadcast")
		return
	}
	h.submit(op{kind: opBroadcast, room: room, exclude: excludeConnID, frame: frame})
}

// Send queues event for c alone.
func (h *Hub) Send(c *Client, event string, payload any) {
	frame, err := encode(event, payload)
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("encode frame")
		return
	}
	h.submit(op{kind: opSend, client: c, frame: frame})
}

// Online reports how many clients are joined to room.
func (h *Hub) Online(room string) int {
	reply := make(chan any, 1)
	if !h.submit(op{kind: opOnline, room: room, reply: reply}) {
		return 0
	}
	select {
	case v := <-reply:
		return v.(int)
	case <-h.done:
		return 0
	}
}

// Rooms lists the rooms c is joined to, in no particular order.
func (h *Hub) Rooms(c *Client) []string {
	reply := make(chan any, 1)
	if !h.submit(op{kind: opRooms, client: c, reply: reply}) {
		return nil
	}
	select {
	case v := <-reply:
		return v.([]string)
	case <-h.done:
		return nil
	}
}

func encode(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}
