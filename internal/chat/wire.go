package chat

import "time"

// WireMessage is the outbound message shape. Every logical field is emitted
// under both spellings so older and newer clients read the same event.
type WireMessage struct {
	ID string `json:"id,omitempty"`

	Content string `json:"content"`
	Text    string `json:"text"`

	SenderID       string `json:"sender_id"`
	SenderIDLegacy string `json:"senderId"`

	SenderName       string `json:"sender_name"`
	SenderNameLegacy string `json:"senderName"`

	ReceiverID       *string `json:"receiver_id"`
	ReceiverIDLegacy *string `json:"receiverId"`

	RoomID       string `json:"room_id"`
	RoomIDLegacy string `json:"roomId"`

	CreatedAt time.Time `json:"created_at"`
	Timestamp time.Time `json:"timestamp"`

	IsAttachment       bool `json:"is_attachment"`
	IsAttachmentLegacy bool `json:"isAttachment"`

	AttachmentType       string `json:"attachment_type,omitempty"`
	AttachmentTypeLegacy string `json:"attachmentType,omitempty"`
	FileURL              string `json:"file_url,omitempty"`
	FileURLLegacy        string `json:"fileUrl,omitempty"`
	FileName             string `json:"file_name,omitempty"`
	FileNameLegacy       string `json:"fileName,omitempty"`
	FileType             string `json:"file_type,omitempty"`
	FileTypeLegacy       string `json:"fileType,omitempty"`
	FileSize             int64  `json:"file_size,omitempty"`
	FileSizeLegacy       int64  `json:"fileSize,omitempty"`

	ClientMessageID       string `json:"client_message_id,omitempty"`
	ClientMessageIDLegacy string `json:"clientMessageId,omitempty"`
}

// Wire renders m in the dual naming used on every outbound event.
func (m Message) Wire() WireMessage {
	return WireMessage{
		ID:                   m.ID,
		Content:              m.Content,
		Text:                 m.Content,
		SenderID:             m.SenderID,
		SenderIDLegacy:       m.SenderID,
		SenderName:           m.SenderName,
		SenderNameLegacy:     m.SenderName,
		ReceiverID:           m.ReceiverID,
		ReceiverIDLegacy:     m.ReceiverID,
		RoomID:               m.RoomID,
		RoomIDLegacy:         m.RoomID,
		CreatedAt:            m.CreatedAt,
		Timestamp:            m.CreatedAt,
		IsAttachment:         m.IsAttachment,
		IsAttachmentLegacy:   m.IsAttachment,
		AttachmentType:       m.AttachmentType,
		AttachmentTypeLegacy: m.AttachmentType,
		FileURL:              m.FileURL,
		FileURLLegacy:        m.FileURL,
		FileName:             m.FileName,
		FileNameLegacy:       m.FileName,
		FileType:             m.FileType,
		FileTypeLegacy:       m.FileType,
		FileSize:             m.FileSize,
		FileSizeLegacy:       m.FileSize,
	}
}

// withClientID echoes the client key back so senders can match their
// optimistic copy.
func (w WireMessage) withClientID(id string) WireMessage {
	w.ClientMessageID = id
	w.ClientMessageIDLegacy = id
	return w
}
