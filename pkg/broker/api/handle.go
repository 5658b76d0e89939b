package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/opencivics/simple-mandate/pkg/broker"
	"github.com/opencivics/simple-mandate/pkg/mandate"
	"github.com/opencivics/simple-mandate/pkg/procedure"
)

// Handler exposes the authorization code flow over HTTP.
type Handler struct {
	service *broker.Service
}

// NewHandler creates a new broker API handler.
func NewHandler(service *broker.Service) *Handler {
	return &Handler{service: service}
}

// ErrorResponse is the OAuth2 JSON error body.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// CallbackRequest is the identity-source callback payload.
type CallbackRequest struct {
	Sub        string `json:"sub"`
	GivenName  string `json:"given_name"`
	FamilyName string `json:"family_name"`
	Birthdate  string `json:"birthdate,omitempty"`
	Email      string `json:"email,omitempty"`
	Phone      string `json:"phone,omitempty"`
}

// ConsentRequest is the recap-screen confirmation payload.
type ConsentRequest struct {
	HelperID       string   `json:"helper_id"`
	OrganizationID string   `json:"organization_id"`
	TOTPCode       string   `json:"totp_code"`
	Procedures     []string `json:"procedures"`
	Duration       string   `json:"duration"`
	Remote         bool     `json:"remote"`
}

// Routes mounts the broker endpoints on a chi router.
func Routes(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Get("/authorize", h.Authorize)
	r.Post("/sessions/{sessionID}/callback", h.Callback)
	r.Post("/sessions/{sessionID}/consent", h.Consent)
	r.Post("/token", h.Token)
	r.Get("/userinfo", h.Userinfo)
	r.Get("/end_session", h.EndSession)
	return r
}

// Authorize handles GET /authorize.
func (h *Handler) Authorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	redirect, err := h.service.Authorize(r.Context(), broker.AuthorizeParams{
		ClientID:    q.Get("client_id"),
		RedirectURI: q.Get("redirect_uri"),
		Scope:       q.Get("scope"),
		State:       q.Get("state"),
		Nonce:       q.Get("nonce"),
		ACRValues:   q.Get("acr_values"),

		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: q.Get("code_challenge_method"),
	})
	if err != nil {
		var reqErr broker.InvalidRequestError
		if errors.As(err, &reqErr) {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, ErrorResponse{Error: "invalid_request", ErrorDescription: reqErr.Detail})
			return
		}
		slog.Error("Authorize failed", "error", err)
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{Error: "server_error"})
		return
	}
	http.Redirect(w, r, redirect, http.StatusFound)
}

// Callback handles the identity-source return leg.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Error: "invalid_request", ErrorDescription: "malformed session id"})
		return
	}

	var req CallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Error: "invalid_request", ErrorDescription: "invalid request body"})
		return
	}

	err = h.service.ResumeWithIdentity(r.Context(), sessionID, broker.BeneficiaryIdentity{
		Sub:        req.Sub,
		GivenName:  req.GivenName,
		FamilyName: req.FamilyName,
		Birthdate:  req.Birthdate,
		Email:      req.Email,
		Phone:      req.Phone,
	})
	if err != nil {
		status, body := brokerErrorResponse(err)
		render.Status(r, status)
		render.JSON(w, r, body)
		return
	}
	render.NoContent(w, r)
}

// Consent handles the recap confirmation and redirects back to the relying
// party with the authorization code.
func (h *Handler) Consent(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Error: "invalid_request", ErrorDescription: "malformed session id"})
		return
	}

	var req ConsentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Error: "invalid_request", ErrorDescription: "invalid request body"})
		return
	}
	helperID, err := uuid.Parse(req.HelperID)
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Error: "invalid_request", ErrorDescription: "malformed helper_id"})
		return
	}
	orgID, err := uuid.Parse(req.OrganizationID)
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Error: "invalid_request", ErrorDescription: "malformed organization_id"})
		return
	}

	procedures := make([]procedure.Code, 0, len(req.Procedures))
	for _, p := range req.Procedures {
		procedures = append(procedures, procedure.Code(p))
	}

	redirect, err := h.service.CompleteConsent(r.Context(), sessionID, broker.ConsentParams{
		HelperID:       helperID,
		OrganizationID: orgID,
		TOTPCode:       req.TOTPCode,
		Procedures:     procedures,
		Duration:       mandate.DurationKeyword(req.Duration),
		Remote:         req.Remote,
	})
	if err != nil {
		status, body := brokerErrorResponse(err)
		render.Status(r, status)
		render.JSON(w, r, body)
		return
	}
	http.Redirect(w, r, redirect, http.StatusFound)
}

// Token handles POST /token with a form-encoded body.
func (h *Handler) Token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Error: "invalid_request", ErrorDescription: "invalid form body"})
		return
	}

	clientID := r.PostFormValue("client_id")
	clientSecret := r.PostFormValue("client_secret")
	if clientID == "" {
		// Client credentials may also come via HTTP basic auth.
		if id, secret, ok := r.BasicAuth(); ok {
			clientID, clientSecret = id, secret
		}
	}

	resp, err := h.service.Token(r.Context(), r.PostFormValue("code"), clientID, clientSecret,
		r.PostFormValue("code_verifier"))
	if err != nil {
		status, body := brokerErrorResponse(err)
		render.Status(r, status)
		render.JSON(w, r, body)
		return
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, resp)
}

// Userinfo handles GET /userinfo with a Bearer token.
func (h *Handler) Userinfo(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		w.Header().Set("WWW-Authenticate", "Bearer")
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, ErrorResponse{Error: "unauthorized", ErrorDescription: "missing bearer token"})
		return
	}

	claims, err := h.service.Userinfo(r.Context(), token)
	if err != nil {
		status, body := brokerErrorResponse(err)
		if status == http.StatusUnauthorized {
			w.Header().Set("WWW-Authenticate", "Bearer error=\"invalid_token\"")
		}
		render.Status(r, status)
		render.JSON(w, r, body)
		return
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, claims)
}

// EndSession handles GET /end_session.
func (h *Handler) EndSession(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sessionID, err := uuid.Parse(q.Get("session_id"))
	if err != nil {
		sessionID = uuid.Nil
	}

	redirect, err := h.service.EndSession(r.Context(), sessionID, q.Get("post_logout_redirect_uri"))
	if err != nil {
		status, body := brokerErrorResponse(err)
		render.Status(r, status)
		render.JSON(w, r, body)
		return
	}
	http.Redirect(w, r, redirect, http.StatusFound)
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	auth := r.Header.Get("Authorization")
	if len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
		return auth[len(prefix):]
	}
	return ""
}

func brokerErrorResponse(err error) (int, ErrorResponse) {
	var (
		reqErr       broker.InvalidRequestError
		grantErr     broker.InvalidGrantError
		clientErr    broker.InvalidClientError
		unauthorized broker.UnauthorizedError
		notFound     broker.ErrSessionNotFound
		stateErr     broker.ErrInvalidFlowState
		validation   mandate.ValidationError
	)
	switch {
	case errors.As(err, &reqErr):
		return http.StatusBadRequest, ErrorResponse{Error: "invalid_request", ErrorDescription: reqErr.Detail}
	case errors.As(err, &grantErr):
		return http.StatusBadRequest, ErrorResponse{Error: "invalid_grant", ErrorDescription: grantErr.Detail}
	case errors.As(err, &clientErr):
		return http.StatusBadRequest, ErrorResponse{Error: "invalid_client", ErrorDescription: clientErr.Detail}
	case errors.As(err, &unauthorized):
		return http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", ErrorDescription: unauthorized.Detail}
	case errors.As(err, &notFound):
		return http.StatusNotFound, ErrorResponse{Error: "not_found", ErrorDescription: notFound.Error()}
	case errors.As(err, &stateErr):
		return http.StatusConflict, ErrorResponse{Error: "invalid_request", ErrorDescription: stateErr.Error()}
	case errors.As(err, &validation):
		return http.StatusBadRequest, ErrorResponse{Error: "invalid_request", ErrorDescription: validation.Error()}
	default:
		slog.Error("Broker request failed", "error", err)
		return http.StatusInternalServerError, ErrorResponse{Error: "server_error"}
	}
}
