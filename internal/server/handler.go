package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"medevent/internal/auth"
	"medevent/internal/chat"
	"medevent/internal/metrics"
	"medevent/internal/service"
)

type Handler struct {
	userSvc  *service.UserService
	roomSvc  *service.RoomService
	msgSvc   *service.MessageService
	resolver chat.AdminResolver
}

func NewHandler(userSvc *service.UserService, roomSvc *service.RoomService, msgSvc *service.MessageService, resolver chat.AdminResolver) *Handler {
	return &Handler{userSvc: userSvc, roomSvc: roomSvc, msgSvc: msgSvc, resolver: resolver}
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "message": "Server is running"})
}

func (h *Handler) Signup(c *gin.Context) {
	var req service.SignupInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if len(req.Password) > 72 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid password"})
		return
	}
	user, err := h.userSvc.Signup(c.Request.Context(), req)
	switch {
	case errors.Is(err, service.ErrInvalidSignup), errors.Is(err, service.ErrInvalidRole):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, service.ErrEmailTaken):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case err != nil:
		log.Error().Err(err).Str("email", req.Email).Msg("signup")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create user"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "message": "User registered successfully", "user": user})
}

func (h *Handler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Email) == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	result, err := h.userSvc.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		log.Error().Err(err).Str("email", req.Email).Msg("login")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) RefreshToken(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	result, err := h.userSvc.RefreshTokens(c.Request.Context(), req.RefreshToken)
	if err != nil {
		log.Warn().Err(err).Msg("refresh token")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	c.JSON(http.StatusOK, result)
}

// PostMessage is the HTTP fallback for send_message. It accepts both field
// naming conventions.
func (h *Handler) PostMessage(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid message", "error": err.Error()})
		return
	}
	d, shape, err := chat.DecodeSend(body)
	if err == nil {
		metrics.PayloadShapesTotal.WithLabelValues(chat.TransportHTTP, shape.String()).Inc()
		if d.SenderID == "" {
			d.SenderID = auth.GetUserID(c)
		}
		var res *chat.Result
		res, err = h.msgSvc.Send(c.Request.Context(), d, chat.Origin{
			UserID:        auth.GetUserID(c),
			IsAdmin:       auth.IsAdmin(c),
			Authenticated: auth.GetUserID(c) != "",
		})
		if err == nil {
			if !res.Persisted {
				c.JSON(http.StatusCreated, gin.H{"success": true, "message": "Message processed but no data returned"})
				return
			}
			c.JSON(http.StatusCreated, gin.H{"success": true, "message": "Message saved successfully", "id": res.Message.ID, "duplicate": res.Duplicate})
			return
		}
	}
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, chat.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, chat.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, chat.ErrDuplicateInFlight):
		status = http.StatusConflict
	}
	c.JSON(status, gin.H{"success": false, "message": chat.PublicError(err), "error": err.Error()})
}

func (h *Handler) ListMessages(c *gin.Context) {
	roomID := c.Param("roomId")
	limit := chat.HistoryLimit
	if v, err := strconv.Atoi(c.Query("limit")); err == nil {
		limit = v
	}
	msgs, err := h.msgSvc.ListByRoom(c.Request.Context(), roomID, limit)
	if err != nil {
		if errors.Is(err, chat.ErrValidation) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
			return
		}
		log.Error().Err(err).Str("room_id", roomID).Msg("list messages")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to fetch messages", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, msgs)
}

func (h *Handler) CreateChatRoom(c *gin.Context) {
	var req service.CreateRoomInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Both users are required to create a chat room"})
		return
	}
	me := auth.GetUserID(c)
	u1, u2 := h.roomSvc.Participants(req)
	if !auth.IsAdmin(c) && u1 != me && u2 != me {
		c.JSON(http.StatusForbidden, gin.H{"success": false, "message": "Access denied"})
		return
	}
	room, created, err := h.roomSvc.CreateDirect(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, service.ErrRoomParticipants) {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Both users are required to create a chat room"})
			return
		}
		log.Error().Err(err).Str("user1_id", u1).Str("user2_id", u2).Msg("create chat room")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to create chat room", "error": err.Error()})
		return
	}
	if !created {
		c.JSON(http.StatusOK, gin.H{"success": true, "message": "Chat room already exists", "room": room})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "message": "Chat room created successfully", "room": room})
}

func (h *Handler) ListChatRooms(c *gin.Context) {
	userID := h.resolver.Resolve(c.Param("userId"))
	if userID != auth.GetUserID(c) && !auth.IsAdmin(c) {
		c.JSON(http.StatusForbidden, gin.H{"success": false, "message": "Access denied"})
		return
	}
	rooms, err := h.roomSvc.ListForUser(c.Request.Context(), userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("list chat rooms")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to fetch chat rooms", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "rooms": rooms})
}

// SupportInbox lists every room of the support user. Admins only.
func (h *Handler) SupportInbox(c *gin.Context) {
	rooms, err := h.roomSvc.SupportInbox(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Msg("support inbox")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to fetch chat rooms", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "rooms": rooms})
}

func (h *Handler) ListDoctors(c *gin.Context) {
	doctors, err := h.userSvc.ListDoctors(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Msg("list doctors")
		c.JSON(http.StatusInternalServerError, gin.H{"message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, doctors)
}

func (h *Handler) GetProfile(c *gin.Context) {
	userID := h.resolver.Resolve(c.Param("userId"))
	profile, err := h.userSvc.Profile(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"message": "User not found"})
			return
		}
		log.Error().Err(err).Str("user_id", userID).Msg("get profile")
		c.JSON(http.StatusInternalServerError, gin.H{"message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, profile)
}

// UpdateProfile lets users edit their own profile. Admins may edit anyone.
func (h *Handler) UpdateProfile(c *gin.Context) {
	userID := h.resolver.Resolve(c.Param("userId"))
	if userID != auth.GetUserID(c) && !auth.IsAdmin(c) {
		c.JSON(http.StatusForbidden, gin.H{"success": false, "message": "Access denied"})
		return
	}
	var req service.ProfileUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Failed to update profile", "error": err.Error()})
		return
	}
	profile, err := h.userSvc.UpdateProfile(c.Request.Context(), userID, req)
	switch {
	case errors.Is(err, service.ErrInvalidProfile):
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Failed to update profile", "error": err.Error()})
		return
	case errors.Is(err, service.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "User not found"})
		return
	case err != nil:
		log.Error().Err(err).Str("user_id", userID).Msg("update profile")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to update profile", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Profile updated successfully", "user": profile})
}
