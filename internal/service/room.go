package service

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"medevent/internal/chat"
	"medevent/internal/models"
)

const RoomTypeDirect = "direct"

// RoomStore persists chat rooms. FindDirectRoom returns nil when the pair has
// no direct room.
type RoomStore interface {
	FindDirectRoom(ctx context.Context, a, b string) (*models.ChatRoom, error)
	CreateRoom(ctx context.Context, room *models.ChatRoom) (*models.ChatRoom, error)
	ListUserRooms(ctx context.Context, userID string) ([]models.ChatRoom, error)
}

// Directory resolves the user profiles embedded in room listings. Unknown
// ids are simply absent from the result.
type Directory interface {
	UsersByID(ctx context.Context, ids []string) ([]models.User, error)
}

// Participant is the part of a profile shown next to a room.
type Participant struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Role      string `json:"role"`
	AvatarURL string `json:"avatar_url"`
}

// RoomView is a room with both participants. A participant without a local
// account is null.
type RoomView struct {
	models.ChatRoom
	User1 *Participant `json:"user1"`
	User2 *Participant `json:"user2"`
}

type RoomService struct {
	store    RoomStore
	users    Directory
	resolver chat.AdminResolver
	// mu serialises find-or-create so two racing requests in this process
	// cannot both create the same direct room.
	mu sync.Mutex
}

// NewRoomService builds the room service. users may be nil, in which case
// listings carry no participant profiles.
func NewRoomService(store RoomStore, users Directory, resolver chat.AdminResolver) *RoomService {
	return &RoomService{store: store, users: users, resolver: resolver}
}

type CreateRoomInput struct {
	Name    string `json:"name"`
	User1ID string `json:"user1_id"`
	User2ID string `json:"user2_id"`
	Type    string `json:"type"`
}

// Participants returns the trimmed pair with the admin sentinel resolved on
// both sides.
func (s *RoomService) Participants(in CreateRoomInput) (string, string) {
	return s.resolver.Resolve(strings.TrimSpace(in.User1ID)), s.resolver.Resolve(strings.TrimSpace(in.User2ID))
}

// CreateDirect returns the existing direct room for the unordered pair, or
// creates one. created reports which happened. Rooms of other types are
// always created. A direct room with the support user gets the id
// admin-<other user>.
func (s *RoomService) CreateDirect(ctx context.Context, in CreateRoomInput) (room *models.ChatRoom, created bool, err error) {
	u1, u2 := s.Participants(in)
	if u1 == "" || u2 == "" {
		return nil, false, ErrRoomParticipants
	}
	typ := strings.TrimSpace(in.Type)
	if typ == "" {
		typ = RoomTypeDirect
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = fmt.Sprintf("Chat between %s and %s", u1, u2)
	}

	row := &models.ChatRoom{Name: name, User1ID: u1, User2ID: u2, Type: typ}
	if typ == RoomTypeDirect {
		s.mu.Lock()
		defer s.mu.Unlock()
		existing, err := s.store.FindDirectRoom(ctx, u1, u2)
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			return existing, false, nil
		}
		if id, ok := s.resolver.SupportRoomFor(u1, u2); ok {
			row.ID = id
		}
	}
	room, err = s.store.CreateRoom(ctx, row)
	if err != nil {
		return nil, false, err
	}
	return room, true, nil
}

// ListForUser returns the rooms userID takes part in, newest first, with
// participant profiles attached.
func (s *RoomService) ListForUser(ctx context.Context, userID string) ([]RoomView, error) {
	rooms, err := s.store.ListUserRooms(ctx, s.resolver.Resolve(userID))
	if err != nil {
		return nil, err
	}
	return s.withParticipants(ctx, rooms)
}

// SupportInbox lists the rooms of the support user. It is empty when no
// support user is configured.
func (s *RoomService) SupportInbox(ctx context.Context) ([]RoomView, error) {
	if s.resolver.SupportID() == "" {
		return []RoomView{}, nil
	}
	return s.ListForUser(ctx, s.resolver.SupportID())
}

func (s *RoomService) withParticipants(ctx context.Context, rooms []models.ChatRoom) ([]RoomView, error) {
	views := make([]RoomView, 0, len(rooms))
	for _, r := range rooms {
		views = append(views, RoomView{ChatRoom: r})
	}
	if s.users == nil || len(rooms) == 0 {
		return views, nil
	}

	seen := make(map[string]bool)
	ids := make([]string, 0, 2*len(rooms))
	for _, r := range rooms {
		for _, id := range []string{r.User1ID, r.User2ID} {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	users, err := s.users.UsersByID(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*Participant, len(users))
	for _, u := range users {
		byID[u.ID] = &Participant{ID: u.ID, Name: u.Name, Role: u.Role, AvatarURL: u.AvatarURL}
	}
	for i := range views {
		views[i].User1 = byID[views[i].User1ID]
		views[i].User2 = byID[views[i].User2ID]
	}
	return views, nil
}
