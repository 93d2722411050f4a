package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"medevent/internal/auth"
	"medevent/internal/chat"
	"medevent/internal/config"
	"medevent/internal/db"
	"medevent/internal/models"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := db.Connect("sqlite", ":memory:")
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb))
	t.Cleanup(func() { _ = db.Close(gdb) })
	return gdb
}

func testConfig() config.Config {
	return config.Config{JWTSecret: "test-secret", AccessTokenTTLMinutes: 15, RefreshTokenTTLDays: 7}
}

func TestSignup(t *testing.T) {
	svc := NewUserService(testDB(t), testConfig())
	ctx := context.Background()

	u, err := svc.Signup(ctx, SignupInput{Name: "Dr Ann", Email: " Ann@Example.com ", Password: "pw", Role: "doctor",
		Degree: "MD", Company: "ignored"})
	require.NoError(t, err)
	assert.Equal(t, "ann@example.com", u.Email)
	assert.Equal(t, "MD", u.Degree)
	assert.Empty(t, u.Company)

	_, err = svc.Signup(ctx, SignupInput{Name: "Other", Email: "ann@example.com", Password: "pw", Role: "pharma"})
	assert.ErrorIs(t, err, ErrEmailTaken)

	_, err = svc.Signup(ctx, SignupInput{Name: "X", Email: "x@example.com", Password: "pw", Role: "nurse"})
	assert.ErrorIs(t, err, ErrInvalidRole)

	_, err = svc.Signup(ctx, SignupInput{Email: "y@example.com", Password: "pw", Role: "admin"})
	assert.ErrorIs(t, err, ErrInvalidSignup)
}

func TestLoginAndRefresh(t *testing.T) {
	cfg := testConfig()
	svc := NewUserService(testDB(t), cfg)
	ctx := context.Background()
	_, err := svc.Signup(ctx, SignupInput{Name: "Pat", Email: "pat@example.com", Password: "secret", Role: "pharma", Company: "Acme"})
	require.NoError(t, err)

	_, err = svc.Login(ctx, "pat@example.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.Login(ctx, "nobody@example.com", "secret")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	res, err := svc.Login(ctx, "PAT@example.com", "secret")
	require.NoError(t, err)
	claims, err := auth.ParseAccessToken(res.AccessToken, cfg.JWTSecret)
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, claims.UserID)
	assert.Equal(t, "pharma", claims.Role)

	next, err := svc.RefreshTokens(ctx, res.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, res.RefreshToken, next.RefreshToken)

	_, err = svc.RefreshTokens(ctx, res.RefreshToken)
	assert.Error(t, err, "a rotated refresh token must not be reusable")
}

func TestCreateDirect_Idempotent(t *testing.T) {
	svc := NewRoomService(db.NewStore(testDB(t)), nil, chat.NewAdminResolver("support-1"))
	ctx := context.Background()

	first, created, err := svc.CreateDirect(ctx, CreateRoomInput{User1ID: "u1", User2ID: "u2"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "Chat between u1 and u2", first.Name)
	assert.Equal(t, RoomTypeDirect, first.Type)

	second, created, err := svc.CreateDirect(ctx, CreateRoomInput{User1ID: "u1", User2ID: "u2"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	reversed, created, err := svc.CreateDirect(ctx, CreateRoomInput{User1ID: "u2", User2ID: "u1"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, reversed.ID)
}

func TestCreateDirect_Concurrent(t *testing.T) {
	svc := NewRoomService(db.NewStore(testDB(t)), nil, chat.AdminResolver{})
	ctx := context.Background()
	ids := make([]string, 8)
	var wg sync.WaitGroup
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			room, _, err := svc.CreateDirect(ctx, CreateRoomInput{User1ID: "a", User2ID: "b"})
			if err == nil {
				ids[i] = room.ID
			}
		}(i)
	}
	wg.Wait()
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestCreateDirect_AdminAndValidation(t *testing.T) {
	svc := NewRoomService(db.NewStore(testDB(t)), nil, chat.NewAdminResolver("support-1"))
	ctx := context.Background()

	room, _, err := svc.CreateDirect(ctx, CreateRoomInput{User1ID: "u1", User2ID: "admin", Name: "Support"})
	require.NoError(t, err)
	assert.Equal(t, "support-1", room.User2ID)
	assert.Equal(t, "Support", room.Name)

	_, _, err = svc.CreateDirect(ctx, CreateRoomInput{User1ID: "u1"})
	assert.ErrorIs(t, err, ErrRoomParticipants)

	rooms, err := svc.ListForUser(ctx, "support-1")
	require.NoError(t, err)
	assert.Len(t, rooms, 1)
	rooms, err = svc.ListForUser(ctx, "stranger")
	require.NoError(t, err)
	assert.NotNil(t, rooms)
	assert.Empty(t, rooms)
}

func TestCreateDirect_SupportRoom(t *testing.T) {
	svc := NewRoomService(db.NewStore(testDB(t)), nil, chat.NewAdminResolver("support-1"))
	ctx := context.Background()

	first, created, err := svc.CreateDirect(ctx, CreateRoomInput{User1ID: "u1", User2ID: "admin"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "admin-u1", first.ID)

	second, created, err := svc.CreateDirect(ctx, CreateRoomInput{User1ID: "admin", User2ID: "u1"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "support-1", second.User2ID)

	other, _, err := svc.CreateDirect(ctx, CreateRoomInput{User1ID: "u1", User2ID: "u2"})
	require.NoError(t, err)
	assert.NotEqual(t, "admin-u1", other.ID)
}

func TestListForUser_Participants(t *testing.T) {
	gdb := testDB(t)
	store := db.NewStore(gdb)
	require.NoError(t, gdb.Create(&models.User{ID: "u1", Name: "Dr Ann", Email: "ann@example.com", Role: models.RoleDoctor,
		AvatarURL: "https://cdn.example.com/ann.png"}).Error)
	svc := NewRoomService(store, store, chat.NewAdminResolver("support-1"))
	ctx := context.Background()

	_, _, err := svc.CreateDirect(ctx, CreateRoomInput{User1ID: "u1", User2ID: "ghost"})
	require.NoError(t, err)

	rooms, err := svc.ListForUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	require.NotNil(t, rooms[0].User1)
	assert.Equal(t, "Dr Ann", rooms[0].User1.Name)
	assert.Equal(t, models.RoleDoctor, rooms[0].User1.Role)
	assert.Equal(t, "https://cdn.example.com/ann.png", rooms[0].User1.AvatarURL)
	assert.Nil(t, rooms[0].User2)
}

func TestSupportInbox(t *testing.T) {
	store := db.NewStore(testDB(t))
	ctx := context.Background()

	none := NewRoomService(store, nil, chat.AdminResolver{})
	rooms, err := none.SupportInbox(ctx)
	require.NoError(t, err)
	assert.NotNil(t, rooms)
	assert.Empty(t, rooms)

	svc := NewRoomService(store, nil, chat.NewAdminResolver("support-1"))
	_, _, err = svc.CreateDirect(ctx, CreateRoomInput{User1ID: "u1", User2ID: "admin"})
	require.NoError(t, err)
	_, _, err = svc.CreateDirect(ctx, CreateRoomInput{User1ID: "u1", User2ID: "u2"})
	require.NoError(t, err)

	rooms, err = svc.SupportInbox(ctx)
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, "admin-u1", rooms[0].ID)
}

func TestProfiles(t *testing.T) {
	svc := NewUserService(testDB(t), testConfig())
	ctx := context.Background()
	ann, err := svc.Signup(ctx, SignupInput{Name: "Dr Ann", Email: "ann@example.com", Password: "pw", Role: "doctor", Degree: "MD"})
	require.NoError(t, err)
	_, err = svc.Signup(ctx, SignupInput{Name: "Dr Abe", Email: "abe@example.com", Password: "pw", Role: "doctor"})
	require.NoError(t, err)
	_, err = svc.Signup(ctx, SignupInput{Name: "Pat", Email: "pat@example.com", Password: "pw", Role: "pharma", Company: "Acme"})
	require.NoError(t, err)

	doctors, err := svc.ListDoctors(ctx)
	require.NoError(t, err)
	require.Len(t, doctors, 2)
	assert.Equal(t, "Dr Abe", doctors[0].Name)
	assert.Equal(t, "MD", doctors[1].Degree)

	name, avatar := "  Dr Ann Lee ", "https://cdn.example.com/ann.png"
	p, err := svc.UpdateProfile(ctx, ann.ID, ProfileUpdate{Name: &name, AvatarURL: &avatar})
	require.NoError(t, err)
	assert.Equal(t, "Dr Ann Lee", p.Name)
	assert.Equal(t, avatar, p.AvatarURL)
	assert.Equal(t, "MD", p.Degree, "unset fields are kept")
	assert.Equal(t, models.RoleDoctor, p.Role)

	got, err := svc.Profile(ctx, ann.ID)
	require.NoError(t, err)
	assert.Equal(t, "Dr Ann Lee", got.Name)

	blank := "   "
	_, err = svc.UpdateProfile(ctx, ann.ID, ProfileUpdate{Name: &blank})
	assert.ErrorIs(t, err, ErrInvalidProfile)
	_, err = svc.UpdateProfile(ctx, "missing", ProfileUpdate{Name: &name})
	assert.ErrorIs(t, err, ErrUserNotFound)
	_, err = svc.Profile(ctx, "missing")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

type failingRooms struct{}

func (failingRooms) FindDirectRoom(context.Context, string, string) (*models.ChatRoom, error) {
	return nil, errors.New("down")
}

func (failingRooms) CreateRoom(context.Context, *models.ChatRoom) (*models.ChatRoom, error) {
	return nil, errors.New("down")
}

func (failingRooms) ListUserRooms(context.Context, string) ([]models.ChatRoom, error) {
	return nil, errors.New("down")
}

func TestCreateDirect_StoreError(t *testing.T) {
	svc := NewRoomService(failingRooms{}, nil, chat.AdminResolver{})
	_, _, err := svc.CreateDirect(context.Background(), CreateRoomInput{User1ID: "a", User2ID: "b"})
	assert.Error(t, err)
}

func TestMessageService_ListByRoom(t *testing.T) {
	store := db.NewStore(testDB(t))
	relay := chat.NewRelay(store, nil, chat.NewAdminResolver("support-1"))
	svc := NewMessageService(relay)
	ctx := context.Background()

	empty, err := svc.ListByRoom(ctx, "r", 50)
	require.NoError(t, err)
	assert.NotNil(t, empty)

	for i := 0; i < 55; i++ {
		_, err := store.InsertMessage(ctx, &chat.Message{Content: "m", SenderID: "u1", RoomID: "r",
			CreatedAt: time.Unix(int64(1_700_000_000+i), 0).UTC()})
		require.NoError(t, err)
	}
	msgs, err := svc.ListByRoom(ctx, "r", 500)
	require.NoError(t, err)
	assert.Len(t, msgs, chat.HistoryLimit)
	assert.Equal(t, int64(1_700_000_054), msgs[0].CreatedAt.Unix())

	res, err := svc.Send(ctx, chat.Draft{Content: "via http", SenderID: "u1", RoomID: "admin"}, chat.Origin{})
	require.NoError(t, err)
	assert.Equal(t, "support-1", res.Message.RoomID)
}
