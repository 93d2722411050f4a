// Package supabase talks to the hosted Postgres through its PostgREST API.
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"medevent/internal/chat"
	"medevent/internal/config"
	"medevent/internal/models"
)

const (
	tableMessages  = "messages"
	tableChatRooms = "chat_rooms"
)

// Client serves the chat tables from Supabase using the service role key.
type Client struct {
	baseURL        string
	apiKey         string
	representation bool
	httpClient     *http.Client
	now            func() time.Time
}

func NewClient(cfg config.Config) *Client {
	return &Client{
		baseURL:        cfg.SupabaseURL,
		apiKey:         cfg.SupabaseKey,
		representation: cfg.SupabaseReturnRepresentation,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		now: time.Now,
	}
}

// StatusError is a non-2xx answer from PostgREST.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("supabase error (status %d): %s", e.Status, e.Body)
}

func (c *Client) do(ctx context.Context, method, table string, q url.Values, body any, prefer string) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	u := fmt.Sprintf("%s/rest/v1/%s", c.baseURL, table)
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, &StatusError{Status: resp.StatusCode, Body: string(respBody)}
	}
	return respBody, nil
}

type messageInsert struct {
	Content        string     `json:"content"`
	SenderID       string     `json:"sender_id"`
	SenderName     string     `json:"sender_name"`
	ReceiverID     *string    `json:"receiver_id"`
	RoomID         string     `json:"room_id"`
	CreatedAt      *time.Time `json:"created_at,omitempty"`
	IsAttachment   bool       `json:"is_attachment"`
	AttachmentType string     `json:"attachment_type,omitempty"`
	FileURL        string     `json:"file_url,omitempty"`
	FileName       string     `json:"file_name,omitempty"`
	FileType       string     `json:"file_type,omitempty"`
	FileSize       int64      `json:"file_size,omitempty"`
}

// InsertMessage returns a nil row when the API was asked for a minimal
// answer or echoed nothing back.
func (c *Client) InsertMessage(ctx context.Context, m *chat.Message) (*chat.Message, error) {
	in := messageInsert{
		Content:        m.Content,
		SenderID:       m.SenderID,
		SenderName:     m.SenderName,
		ReceiverID:     m.ReceiverID,
		RoomID:         m.RoomID,
		IsAttachment:   m.IsAttachment,
		AttachmentType: m.AttachmentType,
		FileURL:        m.FileURL,
		FileName:       m.FileName,
		FileType:       m.FileType,
		FileSize:       m.FileSize,
	}
	if !m.CreatedAt.IsZero() {
		in.CreatedAt = &m.CreatedAt
	}
	prefer := "return=minimal"
	if c.representation {
		prefer = "return=representation"
	}
	body, err := c.do(ctx, http.MethodPost, tableMessages, nil, in, prefer)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}
	var rows []chat.Message
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (c *Client) ListRoomMessages(ctx context.Context, roomID string, limit int) ([]chat.Message, error) {
	q := url.Values{}
	q.Set("select", "*")
	q.Set("room_id", "eq."+roomID)
	q.Set("order", "created_at.desc")
	q.Set("limit", fmt.Sprint(limit))
	body, err := c.do(ctx, http.MethodGet, tableMessages, q, nil, "")
	if err != nil {
		return nil, err
	}
	var rows []chat.Message
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse messages: %w", err)
	}
	return rows, nil
}

func (c *Client) FindDirectRoom(ctx context.Context, a, b string) (*models.ChatRoom, error) {
	q := url.Values{}
	q.Set("select", "*")
	q.Set("type", "eq.direct")
	a, b = quote(a), quote(b)
	q.Set("or", fmt.Sprintf("(and(user1_id.eq.%s,user2_id.eq.%s),and(user1_id.eq.%s,user2_id.eq.%s))", a, b, b, a))
	q.Set("order", "created_at.asc")
	q.Set("limit", "1")
	rooms, err := c.rooms(ctx, q)
	if err != nil || len(rooms) == 0 {
		return nil, err
	}
	return &rooms[0], nil
}

type roomInsert struct {
	ID        string    `json:"id,omitempty"`
	Name      string    `json:"name"`
	User1ID   string    `json:"user1_id"`
	User2ID   string    `json:"user2_id"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
}

func (c *Client) CreateRoom(ctx context.Context, room *models.ChatRoom) (*models.ChatRoom, error) {
	created := room.CreatedAt
	if created.IsZero() {
		created = c.now().UTC()
	}
	in := roomInsert{ID: room.ID, Name: room.Name, User1ID: room.User1ID, User2ID: room.User2ID, Type: room.Type, CreatedAt: created}
	body, err := c.do(ctx, http.MethodPost, tableChatRooms, nil, in, "return=representation")
	if err != nil {
		return nil, err
	}
	var rooms []models.ChatRoom
	if err := json.Unmarshal(body, &rooms); err != nil {
		return nil, fmt.Errorf("failed to parse chat room: %w", err)
	}
	if len(rooms) == 0 {
		return nil, fmt.Errorf("chat room insert returned no row")
	}
	return &rooms[0], nil
}

func (c *Client) ListUserRooms(ctx context.Context, userID string) ([]models.ChatRoom, error) {
	q := url.Values{}
	q.Set("select", "*")
	id := quote(userID)
	q.Set("or", fmt.Sprintf("(user1_id.eq.%s,user2_id.eq.%s)", id, id))
	q.Set("order", "created_at.desc")
	return c.rooms(ctx, q)
}

var filterEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// quote makes v a single value inside a PostgREST logic tree, so commas and
// parentheses in ids cannot open new conditions.
func quote(v string) string {
	return `"` + filterEscaper.Replace(v) + `"`
}

func (c *Client) rooms(ctx context.Context, q url.Values) ([]models.ChatRoom, error) {
	body, err := c.do(ctx, http.MethodGet, tableChatRooms, q, nil, "")
	if err != nil {
		return nil, err
	}
	var rooms []models.ChatRoom
	if err := json.Unmarshal(body, &rooms); err != nil {
		return nil, fmt.Errorf("failed to parse chat rooms: %w", err)
	}
	return rooms, nil
}
