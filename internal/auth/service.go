package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidInput       = errors.New("invalid input")
	ErrAccountsDisabled   = errors.New("accounts are not enabled")
)

var validate = validator.New()

// RegisterRequest is the input of account registration.
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Username string `json:"username" validate:"required,min=3,max=32"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

// Service defines the contract for the auth business logic.
type Service interface {
	// GuestLogin creates an anonymous participant and a token for it.
	GuestLogin(ctx context.Context) (participantID, token string, err error)
	Register(ctx context.Context, req RegisterRequest) (string, error)
	Login(ctx context.Context, email, password string) (string, error)
}

type service struct {
	repo   Repository
	tokens *TokenService
}

// NewService builds the auth service. repo may be nil, in which case only guest
// logins are available.
func NewService(repo Repository, tokens *TokenService) Service {
	return &service{
		repo:   repo,
		tokens: tokens,
	}
}

func (s *service) GuestLogin(ctx context.Context) (string, string, error) {
	participantID := uuid.NewString()
	token, err := s.tokens.Issue(participantID)
	if err != nil {
		return "", "", err
	}
	slog.Info("Guest session issued", "participantID", participantID)
	return participantID, token, nil
}

// Register handles the business logic for creating a new user.
func (s *service) Register(ctx context.Context, req RegisterRequest) (string, error) {
	if s.repo == nil {
		return "", ErrAccountsDisabled
	}
	if err := validate.Struct(req); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		slog.Error("Failed to hash password", "error", err)
		return "", err
	}

	userID, err := s.repo.CreateUser(ctx, req.Email, req.Username, string(hashedPassword))
	if err != nil {
		return "", err
	}

	slog.Info("New user registered successfully", "userID", userID)
	return userID, nil
}

// Login verifies credentials and returns a token whose participant id is the user id.
func (s *service) Login(ctx context.Context, email, password string) (string, error) {
	if s.repo == nil {
		return "", ErrAccountsDisabled
	}

	user, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return "", ErrInvalidCredentials
		}
		return "", err
	}

	// Same error as an unknown email so that accounts cannot be enumerated.
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}

	return s.tokens.Issue(user.ID)
}
