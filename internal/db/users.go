package db

import (
	"context"
	"errors"
	"fmt"

	"vendorbox/internal/model"

	"github.com/jackc/pgx/v5"
)

// User queries

const userColumns = `id, name, username, role, is_active, password_hash, created_at, updated_at`

func scanUser(row scanner) (model.User, error) {
	var u model.User
	var role string
	err := row.Scan(&u.ID, &u.Name, &u.Username, &role, &u.IsActive, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return model.User{}, err
	}
	u.Role = model.Role(role)
	return u, nil
}

func usernameTaken(err error, username string) error {
	if pgCode(err) == uniqueViolation {
		return fmt.Errorf("%w: username %q is taken", model.ErrConflict, username)
	}
	return err
}

func (q *Queries) CreateUser(ctx context.Context, u model.User) (model.User, error) {
	created, err := scanUser(q.Pool.QueryRow(ctx,
		`INSERT INTO users (id, name, username, role, is_active, password_hash, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING `+userColumns,
		u.ID, u.Name, u.Username, string(u.Role), u.IsActive, u.PasswordHash, u.CreatedAt, u.UpdatedAt,
	))
	if err != nil {
		return model.User{}, usernameTaken(err, u.Username)
	}
	return created, nil
}

func (q *Queries) GetUser(ctx context.Context, id string) (model.User, error) {
	u, err := scanUser(q.Pool.QueryRow(ctx,
		"SELECT "+userColumns+" FROM users WHERE id = $1",
		id,
	))
	if err != nil {
		return model.User{}, notFound(err, "user "+id)
	}
	return u, nil
}

func (q *Queries) GetUserByUsername(ctx context.Context, username string) (model.User, error) {
	u, err := scanUser(q.Pool.QueryRow(ctx,
		"SELECT "+userColumns+" FROM users WHERE LOWER(username) = LOWER($1)",
		username,
	))
	if err != nil {
		return model.User{}, notFound(err, fmt.Sprintf("user %q", username))
	}
	return u, nil
}

func (q *Queries) ListUsers(ctx context.Context, role model.Role) ([]model.User, error) {
	rows, err := q.Pool.Query(ctx,
		"SELECT "+userColumns+" FROM users WHERE $1 = '' OR role = $1 ORDER BY name, id",
		string(role),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []model.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (q *Queries) SaveUser(ctx context.Context, u model.User) (model.User, error) {
	saved, err := scanUser(q.Pool.QueryRow(ctx,
		`UPDATE users
		 SET name = $2, username = $3, role = $4, is_active = $5, password_hash = $6, updated_at = NOW()
		 WHERE id = $1
		 RETURNING `+userColumns,
		u.ID, u.Name, u.Username, string(u.Role), u.IsActive, u.PasswordHash,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.User{}, notFound(err, "user "+u.ID)
	}
	if err != nil {
		return model.User{}, usernameTaken(err, u.Username)
	}
	return saved, nil
}

func (q *Queries) DeleteUser(ctx context.Context, id string) error {
	tag, err := q.Pool.Exec(ctx, "DELETE FROM users WHERE id = $1", id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user %s: %w", id, model.ErrNotFound)
	}
	return nil
}
