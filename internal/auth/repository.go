package auth

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/lib/pq"
)

var (
	ErrUserNotFound      = errors.New("user not found")
	ErrEmailOrUserExists = errors.New("email or username already exists")
)

// User is a domain model representing a user, decoupled from the database schema.
type User struct {
	ID           string
	Email        string
	Username     string
	PasswordHash string
}

// Repository defines the contract for database operations for the auth service.
type Repository interface {
	CreateUser(ctx context.Context, email, username, hashedPassword string) (string, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
}

const schema = `
	CREATE TABLE IF NOT EXISTS users (
		id            UUID PRIMARY KEY DEFAULT md5(random()::text || clock_timestamp()::text)::uuid,
		email         TEXT NOT NULL UNIQUE,
		username      TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	);`

type postgresRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &postgresRepository{db: db}
}

// EnsureSchema creates the users table if it does not exist yet.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, schema)
	return err
}

func (r *postgresRepository) CreateUser(ctx context.Context, email, username, hashedPassword string) (string, error) {
	query := `
		INSERT INTO users (email, username, password_hash)
		VALUES ($1, $2, $3)
		RETURNING id;`

	var userID string
	err := r.db.QueryRowContext(ctx, query, email, username, hashedPassword).Scan(&userID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			slog.Warn("Attempted to create user with duplicate email or username", "email", email, "username", username)
			return "", ErrEmailOrUserExists
		}
		slog.Error("Failed to create user in database", "error", err)
		return "", err
	}

	return userID, nil
}

func (r *postgresRepository) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	query := `
		SELECT id, email, username, password_hash
		FROM users
		WHERE email = $1;`

	var user User
	err := r.db.QueryRowContext(ctx, query, email).Scan(
		&user.ID,
		&user.Email,
		&user.Username,
		&user.PasswordHash,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		slog.Error("Failed to get user by email from database", "error", err)
		return nil, err
	}

	return &user, nil
}
