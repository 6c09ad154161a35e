package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/cheildo/nexus-clash-matchmaker/internal/pkg/respond"
)

// HTTPHandler exposes the auth service over HTTP.
type HTTPHandler struct {
	svc Service
}

func NewHTTPHandler(svc Service) *HTTPHandler {
	return &HTTPHandler{svc: svc}
}

type guestResponse struct {
	Token         string `json:"token"`
	ParticipantID string `json:"participantId"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// HandleGuest is the HTTP handler for POST /auth/guest. It needs no body.
func (h *HTTPHandler) HandleGuest(w http.ResponseWriter, r *http.Request) {
	participantID, token, err := h.svc.GuestLogin(r.Context())
	if err != nil {
		respond.InternalError(w)
		return
	}
	respond.JSON(w, http.StatusOK, guestResponse{Token: token, ParticipantID: participantID})
}

// HandleRegister is the HTTP handler for POST /auth/register.
func (h *HTTPHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.Message(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	userID, err := h.svc.Register(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidInput):
			respond.Message(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, ErrEmailOrUserExists):
			respond.Message(w, http.StatusConflict, err.Error())
		case errors.Is(err, ErrAccountsDisabled):
			respond.Message(w, http.StatusNotImplemented, err.Error())
		default:
			slog.Error("Registration failed", "error", err)
			respond.Message(w, http.StatusInternalServerError, "Registration failed")
		}
		return
	}

	respond.JSON(w, http.StatusCreated, map[string]string{"userId": userID})
}

// HandleLogin is the HTTP handler for POST /auth/login.
func (h *HTTPHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.Message(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	token, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidCredentials):
			respond.Message(w, http.StatusUnauthorized, "Invalid credentials")
		case errors.Is(err, ErrAccountsDisabled):
			respond.Message(w, http.StatusNotImplemented, err.Error())
		default:
			slog.Error("Login failed", "error", err)
			respond.Message(w, http.StatusInternalServerError, "Login failed")
		}
		return
	}

	respond.JSON(w, http.StatusOK, map[string]string{"token": token})
}
