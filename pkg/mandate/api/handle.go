package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/jwtauth/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/jinzhu/copier"

	"github.com/opencivics/simple-mandate/pkg/iam"
	"github.com/opencivics/simple-mandate/pkg/mandate"
	"github.com/opencivics/simple-mandate/pkg/procedure"
)

// Handler exposes the delegation ledger admin operations.
type Handler struct {
	service *mandate.Service
}

// NewHandler creates a new mandate API handler.
func NewHandler(service *mandate.Service) *Handler {
	return &Handler{service: service}
}

// ErrorResponse is the JSON error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// CreateMandateRequest is the body of POST /.
type CreateMandateRequest struct {
	OrganizationID string   `json:"organization_id"`
	BeneficiarySub string   `json:"beneficiary_sub"`
	Procedures     []string `json:"procedures"`
	Duration       string   `json:"duration"`
	Remote         bool     `json:"remote"`
}

// MandateResponse is the JSON shape of a mandate with its authorizations.
type MandateResponse struct {
	ID              string                  `json:"id"`
	OrganizationID  string                  `json:"organization_id"`
	BeneficiarySub  string                  `json:"beneficiary_sub"`
	Duration        string                  `json:"duration"`
	CreatedAt       time.Time               `json:"created_at"`
	ExpiresAt       time.Time               `json:"expires_at"`
	Remote          bool                    `json:"remote"`
	RevokedAt       *time.Time              `json:"revoked_at,omitempty"`
	AttestationHash string                  `json:"attestation_hash,omitempty"`
	Authorizations  []AuthorizationResponse `json:"authorizations"`
}

// AuthorizationResponse is the JSON shape of one authorization.
type AuthorizationResponse struct {
	ID        string     `json:"id"`
	Procedure string     `json:"procedure"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

// TransferRequest is the body of POST /transfer.
type TransferRequest struct {
	OrganizationID string   `json:"organization_id"`
	MandateIDs     []string `json:"mandate_ids"`
}

// TransferResponse reports the outcome per mandate.
type TransferResponse struct {
	Transferred []string `json:"transferred"`
	Failed      []string `json:"failed"`
}

// Routes mounts the mandate admin endpoints.
func Routes(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Create)
	r.Get("/expiring", h.Expiring)
	r.Post("/transfer", h.Transfer)
	r.Post("/correlation-id", h.CorrelationID)
	r.Get("/{mandateID}", h.Get)
	r.Post("/{mandateID}/revoke", h.Revoke)
	r.Post("/{mandateID}/renew", h.Renew)
	r.Post("/authorizations/{authorizationID}/revoke", h.RevokeAuthorization)
	return r
}

// Create handles POST /.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateMandateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Error: "invalid request body"})
		return
	}
	orgID, err := uuid.Parse(req.OrganizationID)
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Error: "malformed organization_id"})
		return
	}

	procedures := make([]procedure.Code, 0, len(req.Procedures))
	for _, p := range req.Procedures {
		procedures = append(procedures, procedure.Code(p))
	}

	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	receipt, err := h.service.CreateMandate(r.Context(), mandate.CreateMandateParams{
		OrganizationID: orgID,
		BeneficiarySub: req.BeneficiarySub,
		Procedures:     procedures,
		Duration:       mandate.DurationKeyword(req.Duration),
		Remote:         req.Remote,
		ActorID:        actor,
	})
	if err != nil {
		status, body := errorResponse(err)
		render.Status(r, status)
		render.JSON(w, r, body)
		return
	}

	renderMandate(w, r, http.StatusCreated, receipt.Mandate, receipt.Authorizations, receipt.AttestationHash)
}

// Get handles GET /{mandateID}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "mandateID"))
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Error: "malformed mandate id"})
		return
	}

	m, auths, err := h.service.GetMandate(r.Context(), id)
	if err != nil {
		status, body := errorResponse(err)
		render.Status(r, status)
		render.JSON(w, r, body)
		return
	}
	renderMandate(w, r, http.StatusOK, m, auths, "")
}

// Revoke handles POST /{mandateID}/revoke.
func (h *Handler) Revoke(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "mandateID"))
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Error: "malformed mandate id"})
		return
	}

	if err := h.service.RevokeMandate(r.Context(), id, actorID(r).String()); err != nil {
		status, body := errorResponse(err)
		render.Status(r, status)
		render.JSON(w, r, body)
		return
	}
	render.NoContent(w, r)
}

// RenewRequest is the body of POST /{mandateID}/renew. Procedures is
// optional; left empty, the renewal carries over what is still active.
type RenewRequest struct {
	Procedures []string `json:"procedures,omitempty"`
	Duration   string   `json:"duration"`
	Remote     bool     `json:"remote"`
}

// Renew handles POST /{mandateID}/renew.
func (h *Handler) Renew(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "mandateID"))
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Error: "malformed mandate id"})
		return
	}

	var req RenewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Error: "invalid request body"})
		return
	}

	procedures := make([]procedure.Code, 0, len(req.Procedures))
	for _, p := range req.Procedures {
		procedures = append(procedures, procedure.Code(p))
	}

	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	receipt, err := h.service.RenewMandate(r.Context(), id, mandate.RenewMandateParams{
		Procedures: procedures,
		Duration:   mandate.DurationKeyword(req.Duration),
		Remote:     req.Remote,
		ActorID:    actor,
	})
	if err != nil {
		status, body := errorResponse(err)
		render.Status(r, status)
		render.JSON(w, r, body)
		return
	}

	renderMandate(w, r, http.StatusCreated, receipt.Mandate, receipt.Authorizations, receipt.AttestationHash)
}

// RevokeAuthorization handles POST /authorizations/{authorizationID}/revoke.
func (h *Handler) RevokeAuthorization(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "authorizationID"))
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Error: "malformed authorization id"})
		return
	}

	if err := h.service.RevokeAuthorization(r.Context(), id, actorID(r).String()); err != nil {
		status, body := errorResponse(err)
		render.Status(r, status)
		render.JSON(w, r, body)
		return
	}
	render.NoContent(w, r)
}

// Expiring handles GET /expiring?days=N.
func (h *Handler) Expiring(w http.ResponseWriter, r *http.Request) {
	days := 30
	if q := r.URL.Query().Get("days"); q != "" {
		parsed, err := strconv.Atoi(q)
		if err != nil || parsed <= 0 {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, ErrorResponse{Error: "days must be a positive integer"})
			return
		}
		days = parsed
	}

	mandates, err := h.service.FindExpiringSoon(r.Context(), days)
	if err != nil {
		status, body := errorResponse(err)
		render.Status(r, status)
		render.JSON(w, r, body)
		return
	}

	out := make([]MandateResponse, 0, len(mandates))
	for _, m := range mandates {
		resp, err := toMandateResponse(m, nil, "")
		if err != nil {
			status, body := errorResponse(err)
			render.Status(r, status)
			render.JSON(w, r, body)
			return
		}
		out = append(out, resp)
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, out)
}

// Transfer handles POST /transfer.
func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Error: "invalid request body"})
		return
	}
	orgID, err := uuid.Parse(req.OrganizationID)
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Error: "malformed organization_id"})
		return
	}
	ids := make([]uuid.UUID, 0, len(req.MandateIDs))
	for _, raw := range req.MandateIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, ErrorResponse{Error: "malformed mandate id: " + raw})
			return
		}
		ids = append(ids, id)
	}

	report, err := h.service.TransferToOrganization(r.Context(), orgID, ids, actorID(r).String())
	if err != nil {
		status, body := errorResponse(err)
		render.Status(r, status)
		render.JSON(w, r, body)
		return
	}

	resp := TransferResponse{Transferred: []string{}, Failed: []string{}}
	for _, id := range report.Transferred {
		resp.Transferred = append(resp.Transferred, id.String())
	}
	for _, id := range report.Failed {
		resp.Failed = append(resp.Failed, id.String())
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, resp)
}

// CorrelationID handles POST /correlation-id.
func (h *Handler) CorrelationID(w http.ResponseWriter, r *http.Request) {
	id, err := h.service.NextCorrelationID(r.Context(), actorID(r).String())
	if err != nil {
		status, body := errorResponse(err)
		render.Status(r, status)
		render.JSON(w, r, body)
		return
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]int64{"correlation_id": id})
}

func renderMandate(w http.ResponseWriter, r *http.Request, status int, m mandate.Mandate, auths []mandate.Authorization, hash string) {
	resp, err := toMandateResponse(m, auths, hash)
	if err != nil {
		errStatus, body := errorResponse(err)
		render.Status(r, errStatus)
		render.JSON(w, r, body)
		return
	}
	render.Status(r, status)
	render.JSON(w, r, resp)
}

func toMandateResponse(m mandate.Mandate, auths []mandate.Authorization, hash string) (MandateResponse, error) {
	var resp MandateResponse
	if err := copier.Copy(&resp, &m); err != nil {
		return MandateResponse{}, fmt.Errorf("failed to map mandate response: %w", err)
	}
	resp.ID = m.ID.String()
	resp.OrganizationID = m.OrganizationID.String()
	resp.Duration = string(m.DurationKeyword)
	resp.AttestationHash = hash
	resp.Authorizations = []AuthorizationResponse{}
	for _, a := range auths {
		resp.Authorizations = append(resp.Authorizations, AuthorizationResponse{
			ID:        a.ID.String(),
			Procedure: string(a.Procedure),
			RevokedAt: a.RevokedAt,
		})
	}
	return resp, nil
}

func errorResponse(err error) (int, ErrorResponse) {
	var (
		validation   mandate.ValidationError
		notFound     mandate.ErrMandateNotFound
		authMiss     mandate.ErrAuthorizationNotFound
		notPermitted iam.ErrNotPermitted
		noHelper     iam.ErrHelperNotFound
	)
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest, ErrorResponse{Error: validation.Error()}
	case errors.As(err, &notFound):
		return http.StatusNotFound, ErrorResponse{Error: notFound.Error()}
	case errors.As(err, &authMiss):
		return http.StatusNotFound, ErrorResponse{Error: authMiss.Error()}
	case errors.As(err, &notPermitted):
		return http.StatusForbidden, ErrorResponse{Error: notPermitted.Error()}
	case errors.As(err, &noHelper):
		return http.StatusForbidden, ErrorResponse{Error: "this account may not create mandates"}
	default:
		slog.Error("Mandate request failed", "error", err)
		return http.StatusInternalServerError, ErrorResponse{Error: "internal error"}
	}
}

// actorID resolves the acting helper from the JWT subject placed in the
// request context by jwtauth middleware.
func actorID(r *http.Request) uuid.UUID {
	_, claims, err := jwtauth.FromContext(r.Context())
	if err != nil || claims == nil {
		return uuid.Nil
	}
	sub, ok := claims["sub"].(string)
	if !ok {
		return uuid.Nil
	}
	id, err := uuid.Parse(sub)
	if err != nil {
		return uuid.Nil
	}
	return id
}

// requireActor resolves the acting helper and writes a 401 when the token
// subject is missing or not a helper id. Creation paths never run with an
// anonymous actor.
func requireActor(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	actor := actorID(r)
	if actor == uuid.Nil {
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, ErrorResponse{Error: "a helper identity is required"})
		return uuid.Nil, false
	}
	return actor, true
}
