package db

import (
	"context"
	"database/sql"
	"errors"

	"alumnet/internal/apperror"
	"alumnet/internal/models"
)

const userColumns = `id, email, full_name, password_hash, role, profile_pic_url, created_at`

// CreateUser inserts the user and fills in ID and CreatedAt.
func (db *DB) CreateUser(ctx context.Context, user *models.User) error {
	if user.Role == "" {
		user.Role = models.RoleAlumni
	}
	user.CreatedAt = now()

	err := db.QueryRowxContext(ctx, db.Rebind(`
		INSERT INTO users (email, full_name, password_hash, role, profile_pic_url, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id
	`), user.Email, user.FullName, user.PasswordHash, user.Role, user.ProfilePicURL, user.CreatedAt).Scan(&user.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("email already registered", err)
		}
		return apperror.Persistence("failed to create user", err)
	}
	return nil
}

func (db *DB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := db.GetContext(ctx, &user, db.Rebind(`SELECT `+userColumns+` FROM users WHERE email = ?`), email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user not found")
		}
		return nil, apperror.Persistence("failed to look up user by email", err)
	}
	return &user, nil
}

func (db *DB) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	var user models.User
	err := db.GetContext(ctx, &user, db.Rebind(`SELECT `+userColumns+` FROM users WHERE id = ?`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user not found")
		}
		return nil, apperror.Persistence("failed to look up user by id", err)
	}
	return &user, nil
}
