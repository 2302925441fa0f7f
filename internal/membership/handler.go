// internal/membership/handler.go
package membership

import (
	"log/slog"
	"net/http"

	"github.com/jules-labs/librarydesk/internal/apperror"
	"github.com/jules-labs/librarydesk/internal/httpx"
)

// TokenIssuer signs access tokens for authenticated users.
type TokenIssuer interface {
	Issue(u *User) (string, error)
}

type Handler struct {
	service Service
	tokens  TokenIssuer
	logger  *slog.Logger
}

func NewHandler(service Service, tokens TokenIssuer, logger *slog.Logger) *Handler {
	return &Handler{service: service, tokens: tokens, logger: logger}
}

type userResponse struct {
	Message string `json:"message"`
	User    *User  `json:"user"`
}

type loginResponse struct {
	Message string `json:"message"`
	Token   string `json:"token"`
	User    *User  `json:"user"`
}

func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterInput
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	user, err := h.service.Register(r.Context(), req)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, userResponse{Message: "user registered", User: user})
}

func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email" validate:"required,email"`
		Password string `json:"password" validate:"required"`
	}
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	user, err := h.service.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	token, err := h.tokens.Issue(user)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, loginResponse{Message: "login successful", Token: token, User: user})
}

func (h *Handler) HandleProfile(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		httpx.WriteError(w, r, h.logger, apperror.New(apperror.ErrUnauthorized, "authentication required"))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, user)
}

func (h *Handler) HandleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.ListUsers(r.Context())
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, users)
}
