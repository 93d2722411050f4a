package db

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"medevent/internal/chat"
	"medevent/internal/models"
)

// Store serves the chat tables from GORM.
type Store struct {
	db *gorm.DB
}

func NewStore(gdb *gorm.DB) *Store { return &Store{db: gdb} }

func (s *Store) InsertMessage(ctx context.Context, m *chat.Message) (*chat.Message, error) {
	row := toRow(m)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, err
	}
	out := fromRow(row)
	return &out, nil
}

// ListRoomMessages returns the newest limit messages of a room, newest first.
func (s *Store) ListRoomMessages(ctx context.Context, roomID string, limit int) ([]chat.Message, error) {
	var rows []models.Message
	err := s.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("created_at desc").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]chat.Message, 0, len(rows))
	for _, r := range rows {
		out = append(out, fromRow(r))
	}
	return out, nil
}

// FindDirectRoom returns the direct room between a and b in either order, or
// nil when there is none.
func (s *Store) FindDirectRoom(ctx context.Context, a, b string) (*models.ChatRoom, error) {
	var room models.ChatRoom
	err := s.db.WithContext(ctx).
		Where("type = ?", "direct").
		Where("(user1_id = ? AND user2_id = ?) OR (user1_id = ? AND user2_id = ?)", a, b, b, a).
		Order("created_at asc").
		First(&room).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

func (s *Store) CreateRoom(ctx context.Context, room *models.ChatRoom) (*models.ChatRoom, error) {
	if err := s.db.WithContext(ctx).Create(room).Error; err != nil {
		return nil, err
	}
	return room, nil
}

func (s *Store) ListUserRooms(ctx context.Context, userID string) ([]models.ChatRoom, error) {
	var rooms []models.ChatRoom
	err := s.db.WithContext(ctx).
		Where("user1_id = ? OR user2_id = ?", userID, userID).
		Order("created_at desc").
		Find(&rooms).Error
	return rooms, err
}

// UsersByID loads the accounts with the given ids. Missing ids are skipped.
func (s *Store) UsersByID(ctx context.Context, ids []string) ([]models.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var users []models.User
	err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error
	return users, err
}

func toRow(m *chat.Message) models.Message {
	return models.Message{
		ID:             m.ID,
		Content:        m.Content,
		SenderID:       m.SenderID,
		SenderName:     m.SenderName,
		ReceiverID:     m.ReceiverID,
		RoomID:         m.RoomID,
		CreatedAt:      m.CreatedAt,
		IsAttachment:   m.IsAttachment,
		AttachmentType: m.AttachmentType,
		FileURL:        m.FileURL,
		FileName:       m.FileName,
		FileType:       m.FileType,
		FileSize:       m.FileSize,
	}
}

func fromRow(r models.Message) chat.Message {
	return chat.Message{
		ID:             r.ID,
		Content:        r.Content,
		SenderID:       r.SenderID,
		SenderName:     r.SenderName,
		ReceiverID:     r.ReceiverID,
		RoomID:         r.RoomID,
		CreatedAt:      r.CreatedAt.UTC(),
		IsAttachment:   r.IsAttachment,
		AttachmentType: r.AttachmentType,
		FileURL:        r.FileURL,
		FileName:       r.FileName,
		FileType:       r.FileType,
		FileSize:       r.FileSize,
	}
}
