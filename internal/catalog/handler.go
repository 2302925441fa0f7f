// internal/catalog/handler.go
package catalog

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

func (h *Handler) HandleListBooks(w http.ResponseWriter, r *http.Request) {
	books, err := h.service.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, books)
}

func (h *Handler) HandleGetBook(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.UUIDParam(r, "id")
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	book, err := h.service.GetBook(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, book)
}

func (h *Handler) HandleAddBook(w http.ResponseWriter, r *http.Request) {
	var req BookInput
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	book, err := h.service.AddBook(r.Context(), req)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, book)
}

func (h *Handler) HandleUpdateBook(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.UUIDParam(r, "id")
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	var req BookPatch
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	book, err := h.service.UpdateBook(r.Context(), id, req)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, book)
}

func (h *Handler) HandleRemoveBook(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.UUIDParam(r, "id")
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	if err := h.service.RemoveBook(r.Context(), id); err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, httpx.Message{Message: "book deleted"})
}

func (h *Handler) HandleListWriters(w http.ResponseWriter, r *http.Request) {
	writers, err := h.service.ListWriters(r.Context())
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, writers)
}

func (h *Handler) HandleAddWriter(w http.ResponseWriter, r *http.Request) {
	var req WriterInput
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	writer, err := h.service.AddWriter(r.Context(), req)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, writer)
}
