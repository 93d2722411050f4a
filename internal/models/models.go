package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Roles accepted at signup.
const (
	RoleDoctor = "doctor"
	RolePharma = "pharma"
	RoleAdmin  = "admin"
)

type User struct {
	ID             string `gorm:"primaryKey;size:36"`
	Name           string `gorm:"size:128;not null"`
	Email          string `gorm:"uniqueIndex;size:255;not null"`
	PasswordHash   string `gorm:"not null"`
	Role           string `gorm:"size:16;index;not null"`
	AvatarURL      string
	Degree         string
	Achievements   string
	Specialization string
	Company        string
	Department     string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (u *User) BeforeCreate(*gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}

// ChatRoom binds two participants. At most one direct room exists per
// unordered user pair; the service layer enforces it.
type ChatRoom struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	Name      string    `gorm:"size:255" json:"name"`
	User1ID   string    `gorm:"column:user1_id;index;not null" json:"user1_id"`
	User2ID   string    `gorm:"column:user2_id;index;not null" json:"user2_id"`
	Type      string    `gorm:"size:16;index;not null;default:direct" json:"type"`
	CreatedAt time.Time `json:"created_at"`
}

func (r *ChatRoom) BeforeCreate(*gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

// Message is the persisted row shape of a chat message.
type Message struct {
	ID             string    `gorm:"primaryKey;size:36"`
	Content        string    `gorm:"type:text"`
	SenderID       string    `gorm:"index;not null"`
	SenderName     string    `gorm:"size:128"`
	ReceiverID     *string   `gorm:"index"`
	RoomID         string    `gorm:"index:idx_msg_room_created,priority:1;not null"`
	CreatedAt      time.Time `gorm:"index:idx_msg_room_created,priority:2"`
	IsAttachment   bool      `gorm:"not null;default:false"`
	AttachmentType string    `gorm:"size:32"`
	FileURL        string
	FileName       string
	FileType       string `gorm:"size:128"`
	FileSize       int64
}

func (m *Message) BeforeCreate(*gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

type RefreshToken struct {
	ID        uint      `gorm:"primaryKey"`
	UserID    string    `gorm:"index;size:36;not null"`
	Token     string    `gorm:"uniqueIndex;size:128;not null"`
	ExpiresAt time.Time `gorm:"index;not null"`
	RevokedAt *time.Time
	CreatedAt time.Time
}
