package service

import (
	"context"
	"testing"

	"vendorbox/internal/memstore"
	"vendorbox/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

func newUserService(t *testing.T) (*UserService, *MockEventBus) {
	t.Helper()
	bus := &MockEventBus{}
	users := NewUserService(memstore.New(), bus, zap.NewNop())
	users.cost = bcrypt.MinCost
	return users, bus
}

func TestUserService_CreateAndAuthenticate(t *testing.T) {
	users, bus := newUserService(t)
	ctx := context.Background()

	u, err := users.Create(ctx, CreateUserInput{Name: " Ravi ", Username: "ravi", Password: "pa55word"})
	require.NoError(t, err)
	assert.Equal(t, "Ravi", u.Name)
	assert.Equal(t, model.RoleAgent, u.Role)
	assert.True(t, u.IsActive)
	assert.NotEqual(t, "pa55word", u.PasswordHash)
	assert.Contains(t, bus.types(), "user.created")

	got, err := users.Authenticate(ctx, "RAVI", "pa55word")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = users.Authenticate(ctx, "ravi", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = users.Authenticate(ctx, "nobody", "pa55word")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = users.Create(ctx, CreateUserInput{Name: "Dup", Username: "Ravi", Password: "x"})
	assert.ErrorIs(t, err, model.ErrConflict)
}

func TestUserService_CreateRules(t *testing.T) {
	users, _ := newUserService(t)
	ctx := context.Background()

	cases := []CreateUserInput{
		{Username: "a", Password: "x"},
		{Name: "A", Password: "x"},
		{Name: "A", Username: "a"},
		{Name: "A", Username: "a", Password: "x", Role: model.RoleAdmin},
		{Name: "A", Username: "a", Password: "x", Role: model.RoleVendor},
		{Name: "A", Username: "a", Password: string(make([]byte, maxPasswordBytes+1))},
	}
	for _, in := range cases {
		_, err := users.Create(ctx, in)
		assert.ErrorIs(t, err, model.ErrInvalidInput, "%+v", in)
	}

	u, err := users.Create(ctx, CreateUserInput{Name: "Asha", Username: "asha", Password: "x", Role: model.RoleEmployee})
	require.NoError(t, err)
	assert.Equal(t, model.RoleEmployee, u.Role)
}

func TestUserService_UpdateDeactivatesAndKeepsPassword(t *testing.T) {
	users, bus := newUserService(t)
	ctx := context.Background()
	u, err := users.Create(ctx, CreateUserInput{Name: "Ravi", Username: "ravi", Password: "first"})
	require.NoError(t, err)

	inactive := false
	empty := ""
	name := "Ravi Kumar"
	updated, err := users.Update(ctx, u.ID, UpdateUserInput{Name: &name, IsActive: &inactive, Password: &empty})
	require.NoError(t, err)
	assert.Equal(t, "Ravi Kumar", updated.Name)
	assert.False(t, updated.IsActive)
	assert.Equal(t, u.PasswordHash, updated.PasswordHash, "empty password keeps the current one")
	assert.Contains(t, bus.types(), "user.updated")

	active, err := users.AccountActive(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, active)
	_, err = users.Authenticate(ctx, "ravi", "first")
	assert.ErrorIs(t, err, ErrInvalidCredentials, "inactive accounts cannot sign in")

	active = true
	second := "second"
	_, err = users.Update(ctx, u.ID, UpdateUserInput{IsActive: &active, Password: &second})
	require.NoError(t, err)
	_, err = users.Authenticate(ctx, "ravi", "first")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = users.Authenticate(ctx, "ravi", "second")
	assert.NoError(t, err)

	blank := "  "
	_, err = users.Update(ctx, u.ID, UpdateUserInput{Username: &blank})
	assert.ErrorIs(t, err, model.ErrInvalidInput)
	_, err = users.Update(ctx, "missing", UpdateUserInput{Name: &name})
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestUserService_ListSearchAndDelete(t *testing.T) {
	users, bus := newUserService(t)
	ctx := context.Background()
	ravi, err := users.Create(ctx, CreateUserInput{Name: "Ravi", Username: "ravi.k", Password: "x"})
	require.NoError(t, err)
	_, err = users.Create(ctx, CreateUserInput{Name: "Asha", Username: "asha", Password: "x", Role: model.RoleEmployee})
	require.NoError(t, err)

	all, err := users.List(ctx, "", "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	agents, err := users.List(ctx, model.RoleAgent, "")
	require.NoError(t, err)
	require.Len(t, agents, 1)
	assert.Equal(t, ravi.ID, agents[0].ID)

	found, err := users.List(ctx, "", "RAVI.")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, ravi.ID, found[0].ID)

	_, err = users.List(ctx, model.RoleAdmin, "")
	assert.ErrorIs(t, err, model.ErrInvalidInput)

	require.NoError(t, users.Delete(ctx, ravi.ID))
	assert.Contains(t, bus.types(), "user.deleted")
	active, err := users.AccountActive(ctx, ravi.ID)
	require.NoError(t, err)
	assert.False(t, active, "deleted accounts are not active")
	assert.ErrorIs(t, users.Delete(ctx, ravi.ID), model.ErrNotFound)
}
