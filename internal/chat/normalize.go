package chat

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Shape tells which field-naming convention an inbound payload used.
type Shape int

const (
	ShapeEmpty Shape = iota
	ShapeCanonical
	ShapeLegacy
	ShapeMixed
)

func (s Shape) String() string {
	switch s {
	case ShapeCanonical:
		return "canonical"
	case ShapeLegacy:
		return "legacy"
	case ShapeMixed:
		return "mixed"
	default:
		return "empty"
	}
}

// flexString accepts a JSON string or number.
type flexString struct {
	set bool
	v   string
}

func (f *flexString) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		f.set, f.v = true, s
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", b)
	}
	f.set, f.v = true, n.String()
	return nil
}

// flexInt accepts a JSON number or a numeric string.
type flexInt struct {
	set bool
	v   int64
}

func (f *flexInt) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	var n int64
	if err := json.Unmarshal(b, &n); err == nil {
		f.set, f.v = true, n
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("expected integer, got %s", b)
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("expected integer, got %q", s)
	}
	f.set, f.v = true, n
	return nil
}

type canonicalFields struct {
	Content         flexString `json:"content"`
	SenderID        flexString `json:"sender_id"`
	SenderName      flexString `json:"sender_name"`
	ReceiverID      flexString `json:"receiver_id"`
	RoomID          flexString `json:"room_id"`
	IsAttachment    *bool      `json:"is_attachment"`
	AttachmentType  flexString `json:"attachment_type"`
	FileURL         flexString `json:"file_url"`
	FileName        flexString `json:"file_name"`
	FileType        flexString `json:"file_type"`
	FileSize        flexInt    `json:"file_size"`
	ClientMessageID flexString `json:"client_message_id"`
}

type legacyFields struct {
	Text            flexString `json:"text"`
	SenderID        flexString `json:"senderId"`
	SenderName      flexString `json:"senderName"`
	ReceiverID      flexString `json:"receiverId"`
	RoomID          flexString `json:"roomId"`
	IsAttachment    *bool      `json:"isAttachment"`
	AttachmentType  flexString `json:"attachmentType"`
	FileURL         flexString `json:"fileUrl"`
	FileName        flexString `json:"fileName"`
	FileType        flexString `json:"fileType"`
	FileSize        flexInt    `json:"fileSize"`
	ClientMessageID flexString `json:"clientMessageId"`
	TempID          flexString `json:"tempId"`
}

func (c canonicalFields) any() bool {
	return c.Content.set || c.SenderID.set || c.SenderName.set || c.ReceiverID.set || c.RoomID.set ||
		c.IsAttachment != nil || c.FileURL.set || c.ClientMessageID.set
}

func (l legacyFields) any() bool {
	return l.Text.set || l.SenderID.set || l.SenderName.set || l.ReceiverID.set || l.RoomID.set ||
		l.IsAttachment != nil || l.FileURL.set || l.ClientMessageID.set || l.TempID.set
}

// sendPayload is the union of both conventions, resolved once by draft().
type sendPayload struct {
	canonical canonicalFields
	legacy    legacyFields
}

func (p *sendPayload) UnmarshalJSON(b []byte) error {
	if err := json.Unmarshal(b, &p.canonical); err != nil {
		return err
	}
	return json.Unmarshal(b, &p.legacy)
}

func (p sendPayload) shape() Shape {
	c, l := p.canonical.any(), p.legacy.any()
	switch {
	case c && l:
		return ShapeMixed
	case c:
		return ShapeCanonical
	case l:
		return ShapeLegacy
	default:
		return ShapeEmpty
	}
}

func pick(canonical, legacy flexString) string {
	if canonical.set && canonical.v != "" {
		return canonical.v
	}
	return legacy.v
}

func (p sendPayload) draft() Draft {
	c, l := p.canonical, p.legacy
	d := Draft{
		Content:    pick(c.Content, l.Text),
		SenderID:   pick(c.SenderID, l.SenderID),
		SenderName: pick(c.SenderName, l.SenderName),
		ReceiverID: pick(c.ReceiverID, l.ReceiverID),
		RoomID:     pick(c.RoomID, l.RoomID),
		Attachment: Attachment{
			Type:     pick(c.AttachmentType, l.AttachmentType),
			FileURL:  pick(c.FileURL, l.FileURL),
			FileName: pick(c.FileName, l.FileName),
			FileType: pick(c.FileType, l.FileType),
		},
		ClientMessageID: pick(c.ClientMessageID, l.ClientMessageID),
	}
	if d.ClientMessageID == "" {
		d.ClientMessageID = l.TempID.v
	}
	switch {
	case c.IsAttachment != nil:
		d.Attachment.IsAttachment = *c.IsAttachment
	case l.IsAttachment != nil:
		d.Attachment.IsAttachment = *l.IsAttachment
	}
	switch {
	case c.FileSize.set:
		d.Attachment.FileSize = c.FileSize.v
	case l.FileSize.set:
		d.Attachment.FileSize = l.FileSize.v
	}
	return d
}

// DecodeSend parses a send-message payload written in either naming
// convention into a Draft. Field-level precedence goes to the canonical
// (snake_case) name.
func DecodeSend(data []byte) (Draft, Shape, error) {
	var p sendPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return Draft{}, ShapeEmpty, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return p.draft(), p.shape(), nil
}

// Typing is a normalized typing indicator.
type Typing struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	RoomID   string `json:"roomId"`
	IsTyping bool   `json:"isTyping"`
}

type typingPayload struct {
	RoomID        flexString `json:"roomId"`
	RoomIDSnake   flexString `json:"room_id"`
	UserID        flexString `json:"userId"`
	UserIDSnake   flexString `json:"user_id"`
	UserName      flexString `json:"userName"`
	UserNameSnake flexString `json:"user_name"`
	IsTyping      *bool      `json:"isTyping"`
	IsTypingSnake *bool      `json:"is_typing"`
}

// DecodeTyping parses a typing payload in either naming convention.
func DecodeTyping(data []byte) (Typing, error) {
	var p typingPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return Typing{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	t := Typing{
		RoomID:   pick(p.RoomID, p.RoomIDSnake),
		UserID:   pick(p.UserID, p.UserIDSnake),
		UserName: pick(p.UserName, p.UserNameSnake),
	}
	switch {
	case p.IsTyping != nil:
		t.IsTyping = *p.IsTyping
	case p.IsTypingSnake != nil:
		t.IsTyping = *p.IsTypingSnake
	}
	if t.RoomID == "" {
		return Typing{}, fmt.Errorf("%w: room id is required", ErrValidation)
	}
	return t, nil
}

// DecodeRoomRef accepts a bare room id (string or number) or an object
// carrying roomId / room_id.
func DecodeRoomRef(data []byte) (string, error) {
	var bare flexString
	if err := json.Unmarshal(data, &bare); err == nil && bare.set {
		if bare.v == "" {
			return "", fmt.Errorf("%w: room id is required", ErrValidation)
		}
		return bare.v, nil
	}
	var obj struct {
		RoomID      flexString `json:"roomId"`
		RoomIDSnake flexString `json:"room_id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return "", fmt.Errorf("%w: %v", ErrValidation, err)
	}
	id := pick(obj.RoomIDSnake, obj.RoomID)
	if id == "" {
		return "", fmt.Errorf("%w: room id is required", ErrValidation)
	}
	return id, nil
}
