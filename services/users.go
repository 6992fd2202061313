package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"devconnect/models"
)

const (
	maxNameLength = 60
	maxBioLength  = 300
)

var usernamePattern = regexp.MustCompile(`^[a-z0-9_.]{3,30}$`)

type ProfileStore interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	UpdateProfile(ctx context.Context, id string, set map[string]interface{}) (*models.User, error)
}

// ProfileUpdate carries the editable profile fields. Nil fields are left unchanged.
type ProfileUpdate struct {
	Name      *string `json:"name"`
	Username  *string `json:"username"`
	Bio       *string `json:"bio"`
	Avatar    *string `json:"avatar"`
	IsPrivate *bool   `json:"isPrivate"`
}

type UserService struct {
	users  ProfileStore
	fanout *Fanout
}

func NewUserService(users ProfileStore, fanout *Fanout) *UserService {
	return &UserService{users: users, fanout: fanout}
}

// Profile loads the user behind id, which may be any id the user is known by. Contact details
// are only returned to the user themselves.
func (s *UserService) Profile(ctx context.Context, viewerID, id string) (*models.User, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: user id", ErrInvalidID)
	}
	ident := s.fanout.Resolve(ctx, id)
	user, err := s.users.FindByID(ctx, ident.Canonical)
	if err != nil {
		return nil, storeErr(err, "user")
	}
	user.IsOnline = s.fanout.Online(ctx, ident)
	if !ident.Has(viewerID) {
		user.Phone, user.Email = "", ""
	}
	return user, nil
}

// UpdateProfile applies in to the caller's own profile and tells the caller's other sessions.
func (s *UserService) UpdateProfile(ctx context.Context, userID string, in ProfileUpdate) (*models.User, error) {
	set, err := in.fields()
	if err != nil {
		return nil, err
	}
	me := s.fanout.Resolve(ctx, userID)

	user, err := s.users.UpdateProfile(ctx, me.Canonical, set)
	if err != nil {
		if err = storeErr(err, "user"); errors.Is(err, ErrConflict) {
			return nil, fmt.Errorf("%w: username already taken", ErrConflict)
		}
		return nil, err
	}
	s.fanout.ToIdentity(me, EventProfileUpdated, user)
	return user, nil
}

func (in ProfileUpdate) fields() (map[string]interface{}, error) {
	set := map[string]interface{}{}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" || utf8.RuneCountInString(name) > maxNameLength {
			return nil, invalid(fmt.Sprintf("name must be 1 to %d characters", maxNameLength))
		}
		set["name"] = name
	}
	if in.Username != nil {
		username := strings.ToLower(strings.TrimSpace(*in.Username))
		if !usernamePattern.MatchString(username) {
			return nil, invalid("username must be 3 to 30 lowercase letters, digits, dots or underscores")
		}
		set["username"] = username
	}
	if in.Bio != nil {
		bio := strings.TrimSpace(*in.Bio)
		if utf8.RuneCountInString(bio) > maxBioLength {
			return nil, invalid(fmt.Sprintf("bio must be at most %d characters", maxBioLength))
		}
		set["bio"] = bio
	}
	if in.Avatar != nil {
		avatar := strings.TrimSpace(*in.Avatar)
		if avatar != "" && !strings.HasPrefix(avatar, "https://") {
			return nil, invalid("avatar must be an https URL")
		}
		set["avatar"] = avatar
	}
	if in.IsPrivate != nil {
		set["isPrivate"] = *in.IsPrivate
	}
	if len(set) == 0 {
		return nil, invalid("no changes to update")
	}
	return set, nil
}
