package service

import "errors"

// Handlers map these to HTTP status codes with errors.Is.
var (
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidRole        = errors.New("invalid role")
	ErrInvalidProfile     = errors.New("name cannot be empty")
	ErrInvalidSignup      = errors.New("name, email and password are required")
	ErrRoomParticipants   = errors.New("both users are required to create a chat room")
	ErrUserNotFound       = errors.New("user not found")
)
