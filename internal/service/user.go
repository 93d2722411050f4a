package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"medevent/internal/auth"
	"medevent/internal/config"
	"medevent/internal/models"
)

type UserService struct {
	db  *gorm.DB
	cfg config.Config
}

func NewUserService(db *gorm.DB, cfg config.Config) *UserService {
	return &UserService{db: db, cfg: cfg}
}

type SignupInput struct {
	Name         string `json:"name"`
	Email        string `json:"email"`
	Password     string `json:"password"`
	Role         string `json:"role"`
	Degree       string `json:"degree"`
	Achievements string `json:"achievements"`
	Company      string `json:"company"`
	Department   string `json:"department"`
}

// UserDTO is the public view of a user.
type UserDTO struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	Role         string `json:"role"`
	Degree       string `json:"degree,omitempty"`
	Achievements string `json:"achievements,omitempty"`
	Company      string `json:"company,omitempty"`
	Department   string `json:"department,omitempty"`
}

func NewUserDTO(u models.User) UserDTO {
	return UserDTO{ID: u.ID, Name: u.Name, Email: u.Email, Role: u.Role, Degree: u.Degree,
		Achievements: u.Achievements, Company: u.Company, Department: u.Department}
}

func validRole(role string) bool {
	switch role {
	case models.RoleDoctor, models.RolePharma, models.RoleAdmin:
		return true
	}
	return false
}

// Signup creates a user. Only the profile fields of the chosen role are kept:
// degree and achievements for doctors, company for pharma, department for
// admins.
func (s *UserService) Signup(ctx context.Context, in SignupInput) (*UserDTO, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Role = strings.ToLower(strings.TrimSpace(in.Role))
	if in.Name == "" || in.Email == "" || in.Password == "" {
		return nil, ErrInvalidSignup
	}
	if !validRole(in.Role) {
		return nil, ErrInvalidRole
	}

	q := s.db.WithContext(ctx)
	var count int64
	if err := q.Model(&models.User{}).Where("email = ?", in.Email).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, ErrEmailTaken
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	user := models.User{Name: in.Name, Email: in.Email, PasswordHash: hash, Role: in.Role}
	switch in.Role {
	case models.RoleDoctor:
		user.Degree, user.Achievements = in.Degree, in.Achievements
	case models.RolePharma:
		user.Company = in.Company
	case models.RoleAdmin:
		user.Department = in.Department
	}
	if err := q.Create(&user).Error; err != nil {
		return nil, err
	}
	dto := NewUserDTO(user)
	return &dto, nil
}

type LoginResult struct {
	AccessToken  string  `json:"access_token"`
	RefreshToken string  `json:"refresh_token"`
	User         UserDTO `json:"user"`
}

func (s *UserService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("email = ?", strings.ToLower(strings.TrimSpace(email))).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !auth.VerifyPassword(user.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	at, rt, err := s.issue(s.db.WithContext(ctx), user)
	if err != nil {
		return nil, err
	}
	return &LoginResult{AccessToken: at, RefreshToken: rt, User: NewUserDTO(user)}, nil
}

type RefreshResult struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// RefreshTokens revokes oldRT and issues a new pair.
func (s *UserService) RefreshTokens(ctx context.Context, oldRT string) (*RefreshResult, error) {
	var result RefreshResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec, err := auth.ValidateRefreshToken(tx, oldRT)
		if err != nil {
			return err
		}
		if err := auth.RevokeRefreshToken(tx, oldRT); err != nil {
			return err
		}
		var user models.User
		if err := tx.First(&user, "id = ?", rec.UserID).Error; err != nil {
			return ErrUserNotFound
		}
		at, rt, err := s.issue(tx, user)
		if err != nil {
			return err
		}
		result.AccessToken, result.RefreshToken = at, rt
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (s *UserService) issue(tx *gorm.DB, user models.User) (string, string, error) {
	at, err := auth.GenerateAccessToken(user.ID, user.Role, s.cfg.JWTSecret, s.cfg.AccessTokenTTLMinutes)
	if err != nil {
		return "", "", err
	}
	rt, err := auth.GenerateRefreshToken()
	if err != nil {
		return "", "", err
	}
	exp := time.Now().Add(time.Duration(s.cfg.RefreshTokenTTLDays) * 24 * time.Hour)
	if err := auth.SaveRefreshToken(tx, user.ID, rt, exp); err != nil {
		return "", "", err
	}
	return at, rt, nil
}
