package user

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/quantnex/quantnex/internal/platform/apperr"
	"github.com/quantnex/quantnex/internal/platform/auth"
)

type Service struct {
	repo   Repository
	logger zerolog.Logger

	dummyOnce sync.Once
	dummyHash string
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger.With().Str("component", "user").Logger()}
}

// Register creates a doctor account.
func (s *Service) Register(ctx context.Context, req *RegisterRequest) (*User, error) {
	return s.create(ctx, req, auth.RoleDoctor)
}

// CreateWithRole creates an account with an explicit role. Only admins reach
// this through the API; the CLI uses it to bootstrap the first admin.
func (s *Service) CreateWithRole(ctx context.Context, req *CreateUserRequest) (*User, error) {
	if !auth.ValidRoles[req.Role] {
		return nil, apperr.Validation(apperr.FieldError{Field: "role", Message: "must be one of: admin, doctor, researcher"})
	}
	return s.create(ctx, req.registration(), req.Role)
}

func (s *Service) create(ctx context.Context, req *RegisterRequest, role string) (*User, error) {
	if len(req.Password) < auth.MinPasswordLength {
		return nil, apperr.Validation(apperr.FieldError{Field: "password", Message: fmt.Sprintf("must be at least %d", auth.MinPasswordLength)})
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	u := &User{
		Username:     normalize(req.Username),
		Email:        normalize(req.Email),
		PasswordHash: hash,
		Name:         strings.TrimSpace(req.Name),
		Title:        strings.TrimSpace(req.Title),
		Role:         role,
	}
	if err := s.repo.Create(ctx, u); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return nil, apperr.Conflict("username or email already registered")
		}
		return nil, err
	}
	s.logger.Info().Int64("user_id", u.ID).Str("role", role).Msg("user created")
	return u, nil
}

// Authenticate verifies a username-or-email and password pair. Unknown users
// and wrong passwords are indistinguishable to the caller.
func (s *Service) Authenticate(ctx context.Context, login, password string) (*User, error) {
	login = normalize(login)
	var (
		u   *User
		err error
	)
	if strings.Contains(login, "@") {
		u, err = s.repo.GetByEmail(ctx, login)
	} else {
		u, err = s.repo.GetByUsername(ctx, login)
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	hash := s.dummy()
	if u != nil {
		hash = u.PasswordHash
	}
	ok, cerr := auth.CheckPassword(hash, password)
	if cerr != nil {
		return nil, fmt.Errorf("check password: %w", cerr)
	}
	if u == nil || !ok {
		s.logger.Info().Str("login", login).Msg("failed login")
		return nil, apperr.Unauthorized("invalid username or password")
	}
	return u, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*User, error) {
	u, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.NotFound("user")
	}
	return u, err
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]*User, int, error) {
	return s.repo.List(ctx, limit, offset)
}

func (s *Service) UpdateProfile(ctx context.Context, id int64, req *UpdateProfileRequest) (*User, error) {
	u, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Name != nil {
		u.Name = strings.TrimSpace(*req.Name)
	}
	if req.Title != nil {
		u.Title = strings.TrimSpace(*req.Title)
	}
	if req.ProfileImage != nil {
		u.ProfileImage = strings.TrimSpace(*req.ProfileImage)
	}
	if req.Email != nil {
		u.Email = normalize(*req.Email)
	}
	if err := s.repo.Update(ctx, u); err != nil {
		switch {
		case errors.Is(err, ErrDuplicate):
			return nil, apperr.Conflict("email already registered")
		case errors.Is(err, ErrNotFound):
			return nil, apperr.NotFound("user")
		}
		return nil, err
	}
	return u, nil
}

func (s *Service) ChangePassword(ctx context.Context, id int64, req *ChangePasswordRequest) error {
	u, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	ok, err := auth.CheckPassword(u.PasswordHash, req.CurrentPassword)
	if err != nil {
		return fmt.Errorf("check password: %w", err)
	}
	if !ok {
		return apperr.Validation(apperr.FieldError{Field: "currentPassword", Message: "is incorrect"})
	}
	hash, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	u.PasswordHash = hash
	if err := s.repo.Update(ctx, u); err != nil {
		return err
	}
	s.logger.Info().Int64("user_id", id).Msg("password changed")
	return nil
}

// LookupIdentity implements auth.IdentityLookup so credentials always carry
// the stored role.
func (s *Service) LookupIdentity(ctx context.Context, userID int64) (*auth.Principal, error) {
	u, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &auth.Principal{UserID: u.ID, Username: u.Username, Role: u.Role}, nil
}

func (s *Service) dummy() string {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = auth.HashPassword("not-a-real-password")
	})
	return s.dummyHash
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
