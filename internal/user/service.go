package user

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"flowchat/internal/auth"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmptyLookup        = errors.New("provide either username, email, or user_id")
)

var validate = validator.New()

// Store is the persistence the service needs. *Repository satisfies it.
type Store interface {
	CreateUser(ctx context.Context, user *User) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUserByID(ctx context.Context, id int64) (*User, error)
	SearchUsers(ctx context.Context, query string, exclude int64) ([]User, error)
	UpdateProfile(ctx context.Context, id int64, req *UpdateProfileRequest) (*User, error)
	LookupUser(ctx context.Context, q LookupQuery, exclude int64) (*User, error)
}

// Presence is the presence write logout needs. presence.Store satisfies it.
type Presence interface {
	MarkOffline(ctx context.Context, userID int64, at time.Time) error
}

type Service struct {
	repo     Store
	presence Presence
	verifier *auth.Verifier
	tokenTTL time.Duration
	now      func() time.Time
}

func NewService(repo Store, presence Presence, verifier *auth.Verifier, tokenTTL time.Duration) *Service {
	return &Service{
		repo:     repo,
		presence: presence,
		verifier: verifier,
		tokenTTL: tokenTTL,
		now:      time.Now,
	}
}

func (s *Service) Register(ctx context.Context, req *RegisterRequest) (*Profile, error) {
	req.Email = strings.TrimSpace(req.Email)
	if err := validate.Struct(req); err != nil {
		return nil, err
	}

	hashedPwd, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	u := &User{
		Email:     req.Email,
		Username:  req.Username,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Password:  string(hashedPwd),
	}
	if _, err := s.repo.CreateUser(ctx, u); err != nil {
		return nil, err
	}

	p := u.Profile()
	return &p, nil
}

func (s *Service) Login(ctx context.Context, req *LoginRequest) (*LoginResponse, error) {
	if err := validate.Struct(req); err != nil {
		return nil, err
	}

	u, err := s.repo.GetUserByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	token, err := s.verifier.Issue(auth.Identity{UserID: u.ID, Name: u.FullName()}, s.tokenTTL)
	if err != nil {
		return nil, err
	}

	return &LoginResponse{AccessToken: token, User: u.Profile()}, nil
}

func (s *Service) Me(ctx context.Context, id int64) (*Profile, error) {
	u, err := s.repo.GetUserByID(ctx, id)
	if err != nil {
		return nil, err
	}
	p := u.Profile()
	return &p, nil
}

func (s *Service) SearchUsers(ctx context.Context, query string, exclude int64) ([]Profile, error) {
	users, err := s.repo.SearchUsers(ctx, query, exclude)
	if err != nil {
		return nil, err
	}
	profiles := make([]Profile, 0, len(users))
	for _, u := range users {
		profiles = append(profiles, u.Profile())
	}
	return profiles, nil
}

// Logout flags the user offline. Access tokens are stateless and stay
// valid until they expire.
func (s *Service) Logout(ctx context.Context, id int64) error {
	if err := s.presence.MarkOffline(ctx, id, s.now()); err != nil {
		return fmt.Errorf("marking user offline: %w", err)
	}
	return nil
}

func (s *Service) UpdateProfile(ctx context.Context, id int64, req *UpdateProfileRequest) (*Profile, error) {
	if err := validate.Struct(req); err != nil {
		return nil, err
	}
	if req.ProfilePicture != nil && *req.ProfilePicture != "" {
		if err := validate.Var(*req.ProfilePicture, "url"); err != nil {
			return nil, err
		}
	}

	u, err := s.repo.UpdateProfile(ctx, id, req)
	if err != nil {
		return nil, err
	}
	p := u.Profile()
	return &p, nil
}

// Lookup returns the single user matching q exactly, never the caller.
// A leading @ on the username is ignored.
func (s *Service) Lookup(ctx context.Context, q LookupQuery, exclude int64) (*Profile, error) {
	q.Username = strings.TrimLeft(strings.TrimSpace(q.Username), "@")
	q.Email = strings.TrimSpace(q.Email)
	if q.UserID <= 0 && q.Username == "" && q.Email == "" {
		return nil, ErrEmptyLookup
	}

	u, err := s.repo.LookupUser(ctx, q, exclude)
	if err != nil {
		return nil, err
	}
	p := u.Profile()
	return &p, nil
}
