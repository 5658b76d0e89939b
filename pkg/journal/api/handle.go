package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/opencivics/simple-mandate/pkg/journal"
)

// Handler exposes read-only queries over the audit journal. The journal is
// append-only, so the API carries no mutation routes.
type Handler struct {
	repo journal.Repository
}

func NewHandler(repo journal.Repository) *Handler {
	return &Handler{repo: repo}
}

func Routes(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	return r
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// List returns journal entries filtered by at most one of the query
// parameters action, actor or since (RFC 3339). Filters are applied in that
// order of precedence.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	var (
		entries []journal.Entry
		err     error
	)

	switch {
	case r.URL.Query().Get("action") != "":
		entries, err = h.repo.FindByAction(r.Context(), journal.Action(r.URL.Query().Get("action")))
	case r.URL.Query().Get("actor") != "":
		entries, err = h.repo.FindByActor(r.Context(), r.URL.Query().Get("actor"))
	case r.URL.Query().Get("since") != "":
		var since time.Time
		since, err = time.Parse(time.RFC3339, r.URL.Query().Get("since"))
		if err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, ErrorResponse{Error: "since must be an RFC 3339 timestamp"})
			return
		}
		entries, err = h.repo.FindSince(r.Context(), since)
	default:
		// Unfiltered listing defaults to the last 24 hours to keep the
		// response bounded.
		entries, err = h.repo.FindSince(r.Context(), time.Now().Add(-24*time.Hour))
	}
	if err != nil {
		slog.Error("failed to query journal", "error", err)
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{Error: "failed to query journal"})
		return
	}

	if entries == nil {
		entries = []journal.Entry{}
	}
	render.JSON(w, r, entries)
}
