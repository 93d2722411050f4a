package service

import (
	"context"

	"medevent/internal/chat"
)

type MessageService struct {
	relay *chat.Relay
}

func NewMessageService(relay *chat.Relay) *MessageService {
	return &MessageService{relay: relay}
}

// Send pushes an HTTP-submitted draft through the same pipeline sockets use.
func (s *MessageService) Send(ctx context.Context, d chat.Draft, o chat.Origin) (*chat.Result, error) {
	o.Transport = chat.TransportHTTP
	return s.relay.Send(ctx, d, o)
}

// ListByRoom returns at most chat.HistoryLimit messages, newest first.
func (s *MessageService) ListByRoom(ctx context.Context, roomID string, limit int) ([]chat.Message, error) {
	msgs, err := s.relay.History(ctx, roomID, limit)
	if err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []chat.Message{}
	}
	return msgs, nil
}
