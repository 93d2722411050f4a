package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"medevent/internal/auth"
	"medevent/internal/chat"
	"medevent/internal/config"
	"medevent/internal/db"
	"medevent/internal/models"
	"medevent/internal/ws"
)

type testApp struct {
	engine *gin.Engine
	hub    *ws.Hub
	gdb    *gorm.DB
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := config.Config{Port: "0", Env: "dev", JWTSecret: "secret", AccessTokenTTLMinutes: 15, RefreshTokenTTLDays: 7,
		AdminSupportID: "support-1"}
	gdb, err := db.Connect("sqlite", ":memory:")
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb))
	t.Cleanup(func() { _ = db.Close(gdb) })

	hub := ws.NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)

	store := db.NewStore(gdb)
	relay := chat.NewRelay(store, hub, chat.NewAdminResolver(cfg.AdminSupportID))
	engine := SetupRouter(Deps{Config: cfg, DB: gdb, Hub: hub, Relay: relay, Rooms: store, Users: store})
	return &testApp{engine: engine, hub: hub, gdb: gdb}
}

func (a *testApp) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, req)
	var out map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w, out
}

// signup registers a user and returns its id and access token.
func (a *testApp) signup(t *testing.T, email, role string) (string, string) {
	t.Helper()
	w, out := a.do(t, http.MethodPost, "/api/auth/signup", "", map[string]string{
		"name": "U " + email, "email": email, "password": "pw-123", "role": role,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	w, out = a.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": email, "password": "pw-123"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	user := out["user"].(map[string]any)
	return user["id"].(string), out["access_token"].(string)
}

// seed stores a user with a fixed id and returns an access token for it.
func (a *testApp) seed(t *testing.T, id, role string) string {
	t.Helper()
	require.NoError(t, a.gdb.Create(&models.User{ID: id, Name: "U " + id, Email: id + "@example.com", Role: role}).Error)
	token, err := auth.GenerateAccessToken(id, role, "secret", 15)
	require.NoError(t, err)
	return token
}

// counter reads one series from the metrics endpoint, zero when absent.
func (a *testApp) counter(t *testing.T, series string) float64 {
	t.Helper()
	w, _ := a.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	for _, line := range strings.Split(w.Body.String(), "\n") {
		if v, ok := strings.CutPrefix(line, series+" "); ok {
			f, err := strconv.ParseFloat(v, 64)
			require.NoError(t, err)
			return f
		}
	}
	return 0
}

func TestHealthz(t *testing.T) {
	app := newTestApp(t)
	w, _ := app.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, out := app.do(t, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Server is running", out["message"])
}

func TestAuthFlow(t *testing.T) {
	app := newTestApp(t)
	_, _ = app.signup(t, "doc@example.com", "doctor")

	w, _ := app.do(t, http.MethodPost, "/api/auth/signup", "", map[string]string{
		"name": "Dup", "email": "doc@example.com", "password": "x", "role": "doctor",
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	w, _ = app.do(t, http.MethodPost, "/api/auth/signup", "", map[string]string{
		"name": "Bad", "email": "bad@example.com", "password": "x", "role": "nurse",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = app.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "doc@example.com", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = app.do(t, http.MethodGet, "/api/messages/r", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestPostAndListMessages(t *testing.T) {
	app := newTestApp(t)
	uid, token := app.signup(t, "doc@example.com", "doctor")
	legacy := `medevent_chat_payload_shapes_total{shape="legacy",transport="http"}`
	before := app.counter(t, legacy)

	w, out := app.do(t, http.MethodPost, "/api/messages", token, map[string]string{"text": "first", "senderId": uid, "roomId": "room-1"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, before+1, app.counter(t, legacy))
	assert.Equal(t, "Message saved successfully", out["message"])
	assert.NotEmpty(t, out["id"])

	w, _ = app.do(t, http.MethodPost, "/api/messages", token, map[string]string{"content": "second", "sender_id": uid, "room_id": "room-1"})
	require.Equal(t, http.StatusCreated, w.Code)

	w, _ = app.do(t, http.MethodPost, "/api/messages", token, map[string]string{"content": "no room", "sender_id": uid})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, out = app.do(t, http.MethodPost, "/api/messages", token, map[string]string{"content": "spoof", "sender_id": "someone-else", "room_id": "room-1"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, false, out["success"])

	w, _ = app.do(t, http.MethodGet, "/api/messages/room-1", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var msgs []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &msgs))
	require.Len(t, msgs, 2)
	assert.Equal(t, "second", msgs[0]["content"])
	assert.Equal(t, "first", msgs[1]["content"])
}

func TestPostMessage_BroadcastsToSocket(t *testing.T) {
	app := newTestApp(t)
	uid, token := app.signup(t, "pharma@example.com", "pharma")
	srv := httptest.NewServer(app.engine)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.WriteJSON(map[string]any{"event": "join_room", "data": "admin"}))
	deadline := time.Now().Add(2 * time.Second)
	for app.hub.Online("support-1") != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	w, _ := app.do(t, http.MethodPost, "/api/messages", token, map[string]string{"text": "need help", "senderId": uid, "roomId": "admin", "receiverId": "admin"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, chat.EventReceive, env.Event)
	var got map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, "need help", got["text"])
	assert.Equal(t, "support-1", got["room_id"])
	assert.Equal(t, "support-1", got["receiver_id"])
}

func TestChatRooms(t *testing.T) {
	app := newTestApp(t)
	u1, t1 := app.signup(t, "a@example.com", "doctor")
	u2, t2 := app.signup(t, "b@example.com", "pharma")
	_, t3 := app.signup(t, "c@example.com", "doctor")
	_, admin := app.signup(t, "root@example.com", "admin")

	w, out := app.do(t, http.MethodPost, "/api/chat-rooms", t1, map[string]string{"user1_id": u1, "user2_id": u2})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	first := out["room"].(map[string]any)["id"]

	w, out = app.do(t, http.MethodPost, "/api/chat-rooms", t2, map[string]string{"user1_id": u2, "user2_id": u1})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Chat room already exists", out["message"])
	assert.Equal(t, first, out["room"].(map[string]any)["id"])

	w, out = app.do(t, http.MethodPost, "/api/chat-rooms", t1, map[string]string{"user1_id": u1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Both users are required to create a chat room", out["message"])

	w, _ = app.do(t, http.MethodPost, "/api/chat-rooms", t3, map[string]string{"user1_id": u1, "user2_id": u2})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, out = app.do(t, http.MethodGet, "/api/chat-rooms/"+u1, t1, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, out["rooms"], 1)

	w, _ = app.do(t, http.MethodGet, "/api/chat-rooms/"+u1, t3, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, out = app.do(t, http.MethodGet, "/api/chat-rooms/"+u2, admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, out["rooms"], 1)
}

func TestChatRooms_AdminSentinel(t *testing.T) {
	app := newTestApp(t)
	support := app.seed(t, "support-1", models.RoleDoctor)
	u1, t1 := app.signup(t, "a@example.com", "doctor")

	w, out := app.do(t, http.MethodPost, "/api/chat-rooms", support, map[string]string{"user1_id": "admin", "user2_id": u1})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	room := out["room"].(map[string]any)
	assert.Equal(t, "admin-"+u1, room["id"])
	assert.Equal(t, "support-1", room["user1_id"])

	w, out = app.do(t, http.MethodPost, "/api/chat-rooms", t1, map[string]string{"user1_id": u1, "user2_id": "admin"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "admin-"+u1, out["room"].(map[string]any)["id"])

	w, out = app.do(t, http.MethodGet, "/api/chat-rooms/admin", support, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	rooms := out["rooms"].([]any)
	require.Len(t, rooms, 1)
	listed := rooms[0].(map[string]any)
	assert.Equal(t, "U support-1", listed["user1"].(map[string]any)["name"])
	assert.Equal(t, "U a@example.com", listed["user2"].(map[string]any)["name"])

	w, _ = app.do(t, http.MethodGet, "/api/chat-rooms/admin", t1, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestSupportRooms_RequiresAdmin(t *testing.T) {
	app := newTestApp(t)
	u1, t1 := app.signup(t, "a@example.com", "doctor")
	_, admin := app.signup(t, "root@example.com", "admin")

	w, _ := app.do(t, http.MethodPost, "/api/chat-rooms", t1, map[string]string{"user1_id": u1, "user2_id": "admin"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w, _ = app.do(t, http.MethodGet, "/api/admin/support-rooms", t1, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, out := app.do(t, http.MethodGet, "/api/admin/support-rooms", admin, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Len(t, out["rooms"], 1)
}

func TestDoctorsAndProfiles(t *testing.T) {
	app := newTestApp(t)
	u1, t1 := app.signup(t, "a@example.com", "doctor")
	u2, t2 := app.signup(t, "b@example.com", "pharma")

	w, _ := app.do(t, http.MethodGet, "/api/doctors", t2, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var doctors []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doctors))
	require.Len(t, doctors, 1)
	assert.Equal(t, u1, doctors[0]["id"])

	w, out := app.do(t, http.MethodGet, "/api/user-profile/"+u1, t2, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "a@example.com", out["email"])

	w, out = app.do(t, http.MethodGet, "/api/user-profile/nobody", t2, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "User not found", out["message"])

	w, _ = app.do(t, http.MethodPut, "/api/user-profile/"+u1, t2, map[string]string{"name": "Hijack"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = app.do(t, http.MethodPut, "/api/user-profile/"+u2, t2, map[string]string{"name": " "})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, out = app.do(t, http.MethodPut, "/api/user-profile/"+u1, t1, map[string]string{"name": "Dr A", "avatar_url": "https://cdn.example.com/a.png"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Profile updated successfully", out["message"])
	user := out["user"].(map[string]any)
	assert.Equal(t, "Dr A", user["name"])
	assert.Equal(t, "https://cdn.example.com/a.png", user["avatar_url"])
	assert.Equal(t, "doctor", user["role"])
}
