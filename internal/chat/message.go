// Package chat holds the send-message pipeline shared by the socket and HTTP
// transports: payload normalization, admin sentinel rewriting, duplicate
// suppression, persistence and broadcast.
package chat

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrValidation        = errors.New("invalid message")
	ErrPersistence       = errors.New("failed to save message")
	ErrForbidden         = errors.New("forbidden")
	ErrDuplicateInFlight = errors.New("duplicate message in flight")
)

// Outbound event names.
const (
	EventReceive   = "receive_message"
	EventConfirmed = "message_confirmed"
	EventError     = "message_error"
	EventTyping    = "user_typing"
)

// Message is the canonical record as stored by the persistence gateway.
type Message struct {
	ID             string    `json:"id,omitempty"`
	Content        string    `json:"content"`
	SenderID       string    `json:"sender_id"`
	SenderName     string    `json:"sender_name"`
	ReceiverID     *string   `json:"receiver_id"`
	RoomID         string    `json:"room_id"`
	CreatedAt      time.Time `json:"created_at"`
	IsAttachment   bool      `json:"is_attachment"`
	AttachmentType string    `json:"attachment_type,omitempty"`
	FileURL        string    `json:"file_url,omitempty"`
	FileName       string    `json:"file_name,omitempty"`
	FileType       string    `json:"file_type,omitempty"`
	FileSize       int64     `json:"file_size,omitempty"`
}

// Attachment describes an optional file carried by a message.
type Attachment struct {
	IsAttachment bool
	Type         string
	FileURL      string
	FileName     string
	FileType     string
	FileSize     int64
}

// Draft is a normalized inbound message that has not been persisted yet.
type Draft struct {
	Content    string
	SenderID   string
	SenderName string
	ReceiverID string
	RoomID     string
	Attachment Attachment

	// ClientMessageID is the optional client-chosen key used to suppress
	// resends of the same message.
	ClientMessageID string
}

// Validate requires a room and a sender. Content may be empty only for an
// attachment with a file url.
func (d Draft) Validate() error {
	if strings.TrimSpace(d.RoomID) == "" {
		return fmt.Errorf("%w: room id is required", ErrValidation)
	}
	if strings.TrimSpace(d.SenderID) == "" {
		return fmt.Errorf("%w: sender id is required", ErrValidation)
	}
	if strings.TrimSpace(d.Content) == "" && !(d.Attachment.IsAttachment && d.Attachment.FileURL != "") {
		return fmt.Errorf("%w: content is required", ErrValidation)
	}
	return nil
}

// Record converts the draft into the row handed to the store.
func (d Draft) Record() *Message {
	m := &Message{
		Content:        d.Content,
		SenderID:       d.SenderID,
		SenderName:     d.SenderName,
		RoomID:         d.RoomID,
		IsAttachment:   d.Attachment.IsAttachment,
		AttachmentType: d.Attachment.Type,
		FileURL:        d.Attachment.FileURL,
		FileName:       d.Attachment.FileName,
		FileType:       d.Attachment.FileType,
		FileSize:       d.Attachment.FileSize,
	}
	if d.ReceiverID != "" {
		r := d.ReceiverID
		m.ReceiverID = &r
	}
	return m
}

func (d Draft) dedupeKey() string {
	if d.ClientMessageID == "" {
		return ""
	}
	return d.SenderID + "|" + d.ClientMessageID
}
