package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"vendorbox/internal/model"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials is returned by Authenticate for an unknown user, a
// wrong password or an inactive account alike.
var ErrInvalidCredentials = errors.New("invalid credentials")

// maxPasswordBytes is the longest input bcrypt accepts
const maxPasswordBytes = 72

// UserService manages field staff accounts
type UserService struct {
	store Store
	bus   EventBus
	cost  int
	log   *zap.Logger
}

func NewUserService(store Store, bus EventBus, log *zap.Logger) *UserService {
	return &UserService{
		store: store,
		bus:   busOrNop(bus),
		cost:  bcrypt.DefaultCost,
		log:   log,
	}
}

type CreateUserInput struct {
	Name     string     `json:"name"`
	Username string     `json:"username"`
	Password string     `json:"password"`
	Role     model.Role `json:"role"`
}

// UpdateUserInput changes only the attributes that are set. An empty
// password keeps the current one.
type UpdateUserInput struct {
	Name     *string `json:"name"`
	Username *string `json:"username"`
	IsActive *bool   `json:"isActive"`
	Password *string `json:"password"`
}

func (s *UserService) hash(password string) (string, error) {
	if len(password) > maxPasswordBytes {
		return "", fmt.Errorf("%w: password is longer than %d bytes", model.ErrInvalidInput, maxPasswordBytes)
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(h), nil
}

// Create adds an active account. Role defaults to agent.
func (s *UserService) Create(ctx context.Context, in CreateUserInput) (model.User, error) {
	name := strings.TrimSpace(in.Name)
	username := strings.TrimSpace(in.Username)
	if name == "" || username == "" || in.Password == "" {
		return model.User{}, fmt.Errorf("%w: name, username and password are required", model.ErrInvalidInput)
	}
	role := in.Role
	if role == "" {
		role = model.RoleAgent
	}
	if !role.FieldStaff() {
		return model.User{}, fmt.Errorf("%w: role must be %s or %s", model.ErrInvalidInput, model.RoleAgent, model.RoleEmployee)
	}
	hash, err := s.hash(in.Password)
	if err != nil {
		return model.User{}, err
	}

	now := time.Now().UTC()
	u, err := s.store.CreateUser(ctx, model.User{
		ID:           ulid.Make().String(),
		Name:         name,
		Username:     username,
		Role:         role,
		IsActive:     true,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		return model.User{}, fmt.Errorf("failed to create user: %w", err)
	}

	_ = s.bus.PublishAdmin(map[string]interface{}{
		"type":   "user.created",
		"userId": u.ID,
		"role":   string(u.Role),
	})
	s.log.Info("User created", zap.String("user_id", u.ID), zap.String("role", string(u.Role)))
	return u, nil
}

func (s *UserService) Get(ctx context.Context, id string) (model.User, error) {
	var u model.User
	err := retryRead(ctx, func() error {
		var err error
		u, err = s.store.GetUser(ctx, id)
		return err
	})
	if err != nil {
		return model.User{}, fmt.Errorf("failed to load user %s: %w", id, err)
	}
	return u, nil
}

// List returns accounts, optionally narrowed to one role and to those whose
// name or username contains search.
func (s *UserService) List(ctx context.Context, role model.Role, search string) ([]model.User, error) {
	if role != "" && !role.FieldStaff() {
		return nil, fmt.Errorf("%w: unknown user role %q", model.ErrInvalidInput, role)
	}
	var users []model.User
	err := retryRead(ctx, func() error {
		var err error
		users, err = s.store.ListUsers(ctx, role)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	needle := strings.ToLower(strings.TrimSpace(search))
	if needle == "" {
		return users, nil
	}
	out := []model.User{}
	for _, u := range users {
		if strings.Contains(strings.ToLower(u.Name), needle) || strings.Contains(strings.ToLower(u.Username), needle) {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *UserService) Update(ctx context.Context, id string, in UpdateUserInput) (model.User, error) {
	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		return model.User{}, fmt.Errorf("failed to load user %s: %w", id, err)
	}
	if in.Name != nil {
		if u.Name = strings.TrimSpace(*in.Name); u.Name == "" {
			return model.User{}, fmt.Errorf("%w: name must not be empty", model.ErrInvalidInput)
		}
	}
	if in.Username != nil {
		if u.Username = strings.TrimSpace(*in.Username); u.Username == "" {
			return model.User{}, fmt.Errorf("%w: username must not be empty", model.ErrInvalidInput)
		}
	}
	if in.IsActive != nil {
		u.IsActive = *in.IsActive
	}
	if in.Password != nil && *in.Password != "" {
		if u.PasswordHash, err = s.hash(*in.Password); err != nil {
			return model.User{}, err
		}
	}

	saved, err := s.store.SaveUser(ctx, u)
	if err != nil {
		return model.User{}, fmt.Errorf("failed to save user %s: %w", id, err)
	}
	_ = s.bus.PublishAdmin(map[string]interface{}{
		"type":     "user.updated",
		"userId":   id,
		"isActive": saved.IsActive,
	})
	return saved, nil
}

// Delete removes an account. Vendors onboarded by it keep their agentId.
func (s *UserService) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteUser(ctx, id); err != nil {
		return fmt.Errorf("failed to delete user %s: %w", id, err)
	}
	_ = s.bus.PublishAdmin(map[string]interface{}{
		"type":   "user.deleted",
		"userId": id,
	})
	s.log.Info("User deleted", zap.String("user_id", id))
	return nil
}

// Authenticate checks a username and password against an active account
func (s *UserService) Authenticate(ctx context.Context, username, password string) (model.User, error) {
	u, err := s.store.GetUserByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, model.ErrNotFound) {
		return model.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return model.User{}, fmt.Errorf("failed to load user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return model.User{}, ErrInvalidCredentials
	}
	if !u.IsActive {
		return model.User{}, ErrInvalidCredentials
	}
	return u, nil
}

// AccountActive reports whether id names an existing, active account
func (s *UserService) AccountActive(ctx context.Context, id string) (bool, error) {
	u, err := s.Get(ctx, id)
	if errors.Is(err, model.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return u.IsActive, nil
}
