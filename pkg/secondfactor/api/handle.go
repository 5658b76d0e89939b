package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/jwtauth/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/opencivics/simple-mandate/pkg/secondfactor"
)

// Handler exposes the second-factor card lifecycle operations.
type Handler struct {
	service *secondfactor.Service
}

// NewHandler creates a new card API handler.
func NewHandler(service *secondfactor.Service) *Handler {
	return &Handler{service: service}
}

// ErrorResponse is the JSON error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// AssociateRequest is the body of POST /{serialNumber}/associate.
type AssociateRequest struct {
	HelperID string `json:"helper_id"`
}

// ConfirmRequest is the body of POST /{serialNumber}/confirm.
type ConfirmRequest struct {
	Code string `json:"code"`
}

// ImportRequest is the body of POST /import.
type ImportRequest struct {
	Cards []ImportCard `json:"cards"`
}

// ImportCard is one card seed in an import batch.
type ImportCard struct {
	SerialNumber string `json:"serial_number"`
	Seed         string `json:"seed"`
}

// Routes mounts the card endpoints.
func Routes(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Post("/import", h.Import)
	r.Post("/{serialNumber}/associate", h.Associate)
	r.Post("/{serialNumber}/confirm", h.Confirm)
	r.Post("/{serialNumber}/dissociate", h.Dissociate)
	r.Get("/helpers/{helperID}/confirmed", h.HasConfirmed)
	return r
}

// Associate handles POST /{serialNumber}/associate.
func (h *Handler) Associate(w http.ResponseWriter, r *http.Request) {
	serial := chi.URLParam(r, "serialNumber")

	var req AssociateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Error: "invalid request body"})
		return
	}
	helperID, err := uuid.Parse(req.HelperID)
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Error: "malformed helper_id"})
		return
	}

	if err := h.service.Associate(r.Context(), serial, helperID, actorID(r)); err != nil {
		status, body := errorResponse(err)
		render.Status(r, status)
		render.JSON(w, r, body)
		return
	}
	render.NoContent(w, r)
}

// Confirm handles POST /{serialNumber}/confirm.
func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	serial := chi.URLParam(r, "serialNumber")

	var req ConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Error: "invalid request body"})
		return
	}

	if err := h.service.Confirm(r.Context(), serial, req.Code, actorID(r)); err != nil {
		status, body := errorResponse(err)
		render.Status(r, status)
		render.JSON(w, r, body)
		return
	}
	render.NoContent(w, r)
}

// Dissociate handles POST /{serialNumber}/dissociate.
func (h *Handler) Dissociate(w http.ResponseWriter, r *http.Request) {
	serial := chi.URLParam(r, "serialNumber")

	if err := h.service.Dissociate(r.Context(), serial, actorID(r)); err != nil {
		status, body := errorResponse(err)
		render.Status(r, status)
		render.JSON(w, r, body)
		return
	}
	render.NoContent(w, r)
}

// HasConfirmed handles GET /helpers/{helperID}/confirmed.
func (h *Handler) HasConfirmed(w http.ResponseWriter, r *http.Request) {
	helperID, err := uuid.Parse(chi.URLParam(r, "helperID"))
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Error: "malformed helper id"})
		return
	}

	confirmed, err := h.service.HasConfirmed(r.Context(), helperID)
	if err != nil {
		status, body := errorResponse(err)
		render.Status(r, status)
		render.JSON(w, r, body)
		return
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]bool{"confirmed": confirmed})
}

// Import handles POST /import.
func (h *Handler) Import(w http.ResponseWriter, r *http.Request) {
	var req ImportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Error: "invalid request body"})
		return
	}

	seeds := make([]secondfactor.CardSeed, 0, len(req.Cards))
	for _, c := range req.Cards {
		seeds = append(seeds, secondfactor.CardSeed{SerialNumber: c.SerialNumber, Seed: c.Seed})
	}

	imported, err := h.service.ImportBatch(r.Context(), seeds, actorID(r))
	if err != nil {
		status, body := errorResponse(err)
		render.Status(r, status)
		render.JSON(w, r, body)
		return
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]int{"imported": imported})
}

// actorID resolves the acting subject from the JWT claims, falling back to
// a fixed label for unauthenticated import tooling.
func actorID(r *http.Request) string {
	_, claims, err := jwtauth.FromContext(r.Context())
	if err == nil && claims != nil {
		if sub, ok := claims["sub"].(string); ok && sub != "" {
			return sub
		}
	}
	return "card-admin"
}

func errorResponse(err error) (int, ErrorResponse) {
	var (
		notFound secondfactor.ErrCardNotFound
		conflict secondfactor.ErrCardConflict
		badCode  secondfactor.ErrInvalidPasscode
		badState secondfactor.ErrInvalidState
	)
	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound, ErrorResponse{Error: notFound.Error()}
	case errors.As(err, &conflict):
		return http.StatusConflict, ErrorResponse{Error: conflict.Error()}
	case errors.As(err, &badCode):
		return http.StatusBadRequest, ErrorResponse{Error: badCode.Error()}
	case errors.As(err, &badState):
		return http.StatusConflict, ErrorResponse{Error: badState.Error()}
	default:
		slog.Error("Card request failed", "error", err)
		return http.StatusInternalServerError, ErrorResponse{Error: "internal error"}
	}
}
