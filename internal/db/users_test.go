package db

import (
	"context"
	"testing"
	"time"

	"vendorbox/internal/model"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newUser(name, username string, role model.Role) model.User {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return model.User{
		ID:           ulid.Make().String(),
		Name:         name,
		Username:     username,
		Role:         role,
		IsActive:     true,
		PasswordHash: "hash",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestQueries_Users(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	q := pool.Queries

	ravi, err := q.CreateUser(ctx, newUser("Ravi", "ravi", model.RoleAgent))
	require.NoError(t, err)
	_, err = q.CreateUser(ctx, newUser("Asha", "asha", model.RoleEmployee))
	require.NoError(t, err)

	_, err = q.CreateUser(ctx, newUser("Other Ravi", "RAVI", model.RoleAgent))
	assert.ErrorIs(t, err, model.ErrConflict)

	got, err := q.GetUserByUsername(ctx, "Ravi")
	require.NoError(t, err)
	assert.Equal(t, ravi.ID, got.ID)
	assert.Equal(t, "hash", got.PasswordHash)

	all, err := q.ListUsers(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Asha", all[0].Name)

	agents, err := q.ListUsers(ctx, model.RoleAgent)
	require.NoError(t, err)
	require.Len(t, agents, 1)
	assert.Equal(t, ravi.ID, agents[0].ID)

	ravi.IsActive = false
	ravi.Name = "Ravi K"
	saved, err := q.SaveUser(ctx, ravi)
	require.NoError(t, err)
	assert.False(t, saved.IsActive)
	assert.Equal(t, "Ravi K", saved.Name)

	ravi.Username = "asha"
	_, err = q.SaveUser(ctx, ravi)
	assert.ErrorIs(t, err, model.ErrConflict)

	_, err = q.SaveUser(ctx, newUser("Ghost", "ghost", model.RoleAgent))
	assert.ErrorIs(t, err, model.ErrNotFound)

	require.NoError(t, q.DeleteUser(ctx, ravi.ID))
	_, err = q.GetUser(ctx, ravi.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.ErrorIs(t, q.DeleteUser(ctx, ravi.ID), model.ErrNotFound)
}
