// internal/circulation/handler.go
package circulation

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/jules-labs/librarydesk/internal/apperror"
	"github.com/jules-labs/librarydesk/internal/httpx"
)

type Handler struct {
	service Service
	logger  *slog.Logger
}

func NewHandler(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

type loanResponse struct {
	Message string `json:"message"`
	Loan    *Loan  `json:"loan"`
}

type sweepResponse struct {
	Message      string `json:"message"`
	UpdatedLoans int    `json:"updatedLoans"`
}

func (h *Handler) HandleOpen(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID  uuid.UUID `json:"userId" validate:"required"`
		BookID  uuid.UUID `json:"bookId" validate:"required"`
		DueDate string    `json:"dueDate" validate:"required"`
	}
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	due, err := httpx.OptionalTime("dueDate", req.DueDate)
	if err == nil && due == nil {
		err = apperror.New(apperror.ErrValidation, "dueDate is required")
	}
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	loan, err := h.service.Open(r.Context(), OpenInput{UserID: req.UserID, BookID: req.BookID, DueDate: *due})
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, loanResponse{Message: "loan created", Loan: loan})
}

func (h *Handler) HandleReturn(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.UUIDParam(r, "id")
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	var req struct {
		ReturnDate string `json:"returnDate"`
	}
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	returnDate, err := httpx.OptionalTime("returnDate", req.ReturnDate)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	loan, err := h.service.Return(r.Context(), id, returnDate)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	msg := "loan returned"
	if loan.Fine != nil {
		msg = "loan returned late, fine issued"
	}
	httpx.WriteJSON(w, http.StatusOK, loanResponse{Message: msg, Loan: loan})
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	loans, err := h.service.List(r.Context())
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, loans)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.UUIDParam(r, "id")
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	loan, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, loan)
}

func (h *Handler) HandleByUser(w http.ResponseWriter, r *http.Request) {
	userID, err := httpx.UUIDParam(r, "userId")
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	loans, err := h.service.ByUser(r.Context(), userID)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, loans)
}

func (h *Handler) HandleOverdue(w http.ResponseWriter, r *http.Request) {
	loans, err := h.service.Overdue(r.Context())
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, loans)
}

func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.UUIDParam(r, "id")
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	events, err := h.service.History(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, events)
}

func (h *Handler) HandleSweep(w http.ResponseWriter, r *http.Request) {
	updated, err := h.service.SweepOverdue(r.Context())
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, sweepResponse{Message: "overdue loans updated", UpdatedLoans: len(updated)})
}
