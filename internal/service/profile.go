package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"medevent/internal/models"
)

// Profile is what chat partners see of a user.
type Profile struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	Role           string    `json:"role"`
	AvatarURL      string    `json:"avatar_url"`
	Degree         string    `json:"degree"`
	Achievements   string    `json:"achievements"`
	Specialization string    `json:"specialization"`
	Company        string    `json:"company,omitempty"`
	Department     string    `json:"department,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

func newProfile(u models.User) Profile {
	return Profile{
		ID:             u.ID,
		Name:           u.Name,
		Email:          u.Email,
		Role:           u.Role,
		AvatarURL:      u.AvatarURL,
		Degree:         u.Degree,
		Achievements:   u.Achievements,
		Specialization: u.Specialization,
		Company:        u.Company,
		Department:     u.Department,
		CreatedAt:      u.CreatedAt,
	}
}

// Doctor is one entry of the doctor directory.
type Doctor struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Role         string `json:"role"`
	Degree       string `json:"degree"`
	Achievements string `json:"achievements"`
}

// ProfileUpdate carries the editable profile fields. Nil fields are left
// unchanged; id, email, role and timestamps cannot be edited.
type ProfileUpdate struct {
	Name           *string `json:"name"`
	AvatarURL      *string `json:"avatar_url"`
	Degree         *string `json:"degree"`
	Achievements   *string `json:"achievements"`
	Specialization *string `json:"specialization"`
	Company        *string `json:"company"`
	Department     *string `json:"department"`
}

func (u ProfileUpdate) columns() (map[string]any, error) {
	cols := make(map[string]any)
	if u.Name != nil {
		name := strings.TrimSpace(*u.Name)
		if name == "" {
			return nil, ErrInvalidProfile
		}
		cols["name"] = name
	}
	for col, v := range map[string]*string{
		"avatar_url":     u.AvatarURL,
		"degree":         u.Degree,
		"achievements":   u.Achievements,
		"specialization": u.Specialization,
		"company":        u.Company,
		"department":     u.Department,
	} {
		if v != nil {
			cols[col] = strings.TrimSpace(*v)
		}
	}
	return cols, nil
}

// ListDoctors returns every doctor ordered by name.
func (s *UserService) ListDoctors(ctx context.Context) ([]Doctor, error) {
	doctors := []Doctor{}
	err := s.db.WithContext(ctx).Model(&models.User{}).
		Select("id", "name", "role", "degree", "achievements").
		Where("role = ?", models.RoleDoctor).
		Order("name asc").
		Find(&doctors).Error
	if err != nil {
		return nil, err
	}
	return doctors, nil
}

func (s *UserService) Profile(ctx context.Context, userID string) (*Profile, error) {
	user, err := s.find(s.db.WithContext(ctx), userID)
	if err != nil {
		return nil, err
	}
	p := newProfile(*user)
	return &p, nil
}

// UpdateProfile applies the set fields of u and returns the stored profile.
func (s *UserService) UpdateProfile(ctx context.Context, userID string, u ProfileUpdate) (*Profile, error) {
	cols, err := u.columns()
	if err != nil {
		return nil, err
	}
	var out *models.User
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.find(tx, userID); err != nil {
			return err
		}
		if len(cols) > 0 {
			if err := tx.Model(&models.User{}).Where("id = ?", userID).Updates(cols).Error; err != nil {
				return err
			}
		}
		out, err = s.find(tx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	p := newProfile(*out)
	return &p, nil
}

func (s *UserService) find(q *gorm.DB, userID string) (*models.User, error) {
	var user models.User
	err := q.First(&user, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}
