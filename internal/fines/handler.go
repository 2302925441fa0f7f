// internal/fines/handler.go
package fines

import (
	"log/slog"
	"net/http"

	"github.com/jules-labs/librarydesk/internal/httpx"
)

type Handler struct {
	service Service
	logger  *slog.Logger
}

func NewHandler(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

type payResponse struct {
	Message string `json:"message"`
	Fine    *Fine  `json:"fine"`
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	details, err := h.service.List(r.Context())
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, details)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.UUIDParam(r, "id")
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	detail, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, detail)
}

func (h *Handler) HandleByUser(w http.ResponseWriter, r *http.Request) {
	userID, err := httpx.UUIDParam(r, "userId")
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	details, err := h.service.ByUser(r.Context(), userID)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, details)
}

func (h *Handler) HandlePay(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.UUIDParam(r, "id")
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	var req struct {
		PaidAt string `json:"paidAt"`
	}
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	paidAt, err := httpx.OptionalTime("paidAt", req.PaidAt)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	fine, err := h.service.Pay(r.Context(), id, paidAt)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, payResponse{Message: "fine paid", Fine: fine})
}

func (h *Handler) HandlePendingTotal(w http.ResponseWriter, r *http.Request) {
	userID, err := httpx.UUIDParam(r, "userId")
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	total, err := h.service.PendingTotal(r.Context(), userID)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, total)
}

func (h *Handler) HandleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.Summary(r.Context())
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, summary)
}

func (h *Handler) HandlePendingByUser(w http.ResponseWriter, r *http.Request) {
	totals, err := h.service.PendingTotalsByUser(r.Context())
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, totals)
}
