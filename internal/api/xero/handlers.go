// Package xero implements the browser redirect entry points of the Xero
// authorization flow and the JSON API over a user's linked account.
//
// The redirect endpoints (start, accept, logout, interstitial) are meant for
// browsers and answer with 302s; everything under /api/v1/xero answers JSON.
package xero

import (
	"context"
	"embed"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/render"

	"github.com/xerolink/xerolink/internal/audit"
	"github.com/xerolink/xerolink/internal/db/models"
	"github.com/xerolink/xerolink/internal/linking"
	"github.com/xerolink/xerolink/internal/middleware"
	xeroclient "github.com/xerolink/xerolink/internal/xero"
)

//go:embed interstitial.html
var templatesFS embed.FS

var interstitialTmpl = template.Must(template.ParseFS(templatesFS, "interstitial.html"))

// Route paths of the redirect entry points
const (
	StartPath        = "/xero/auth/start"
	AcceptPath       = "/xero/auth/accept"
	LogoutPath       = "/xero/logout"
	InterstitialPath = "/xero/interstitial"
)

// LinkService is the part of linking.Service the handlers use
type LinkService interface {
	StartFlow(ctx context.Context, callbackURL, nextPage string) (*models.PendingFlow, error)
	PendingFlow(ctx context.Context, requestToken string) (*models.PendingFlow, error)
	CompleteFlow(ctx context.Context, requestToken, verifier, userID string) (*models.AccountLink, error)
	DiscardFlow(ctx context.Context, requestToken string) error
	SetOrg(ctx context.Context, link *models.AccountLink, org string) error
	Link(ctx context.Context, userID string) (*models.AccountLink, error)
	Unlink(ctx context.Context, userID string) error
	CurrentToken(link *models.AccountLink) (*xeroclient.Credentials, error)
	APIClient(link *models.AccountLink) (*xeroclient.APIClient, error)
	GuessProviderIdentity(ctx context.Context, link *models.AccountLink, u *models.User) (*xeroclient.User, error)
	GuessProjectsIdentity(ctx context.Context, link *models.AccountLink, u *models.User) (*xeroclient.ProjectsUser, error)
	StoredProjectsUser(ctx context.Context, userID string) (string, error)
	ConfirmProviderIdentity(ctx context.Context, link *models.AccountLink, providerUserID, providerEmail string) error
	RelinkURL(next string) string
}

// AuditLister reads a user's recorded link events, newest first
type AuditLister interface {
	ListAuditLogsForUser(ctx context.Context, userID string, limit int) ([]*models.AuditLog, error)
}

// Handlers serves the Xero routes
type Handlers struct {
	svc         LinkService
	history     AuditLister
	callbackURL string
	now         func() time.Time
}

// NewHandlers creates the handlers. callbackURL is the absolute URL of
// AcceptPath that Xero sends the browser back to.
func NewHandlers(svc LinkService, history AuditLister, callbackURL string) *Handlers {
	return &Handlers{svc: svc, history: history, callbackURL: callbackURL, now: time.Now}
}

// @Summary      Start Xero authorization
// @Description  Obtains a request token and redirects the browser to Xero to approve access.
// @Tags         Xero
// @Param        next  query  string  false  "Same-site path to return to once linked"
// @Success      302  "Redirect to the Xero authorization page"
// @Failure      503  {object}  map[string]interface{}  "Xero consumer key or secret not configured"
// @Failure      502  {object}  map[string]interface{}  "Xero refused the request token"
// @Router       /xero/auth/start [get]
// Start begins the authorization flow
func (h *Handlers) Start(c *gin.Context) {
	flow, err := h.svc.StartFlow(c.Request.Context(), h.callbackURL, SafeNext(c.Query("next")))
	if err != nil {
		writeError(c, err)
		return
	}
	c.Redirect(http.StatusFound, flow.AuthorizationURL)
}

// @Summary      Xero authorization callback
// @Description  Exchanges the verifier for an access token, stores it on the user's link and redirects to the page recorded at start.
// @Tags         Xero
// @Param        oauth_token     query  string  true   "Request token"
// @Param        oauth_verifier  query  string  true   "Verifier issued by Xero"
// @Param        org             query  string  false  "Organisation name as reported by Xero"
// @Success      302  "Redirect to the recorded next page"
// @Failure      400  {object}  map[string]interface{}  "Missing parameters or verifier rejected"
// @Failure      404  {object}  map[string]interface{}  "Unknown or expired request token"
// @Router       /xero/auth/accept [get]
// Accept completes the authorization flow
func (h *Handlers) Accept(c *gin.Context) {
	token := c.Query("oauth_token")
	verifier := c.Query("oauth_verifier")
	if token == "" || verifier == "" {
		slog.Warn("xero callback missing token or verifier",
			"request_token", token,
			"error", c.Query("error"),
			"error_description", c.Query("error_description"))
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing oauth_token or oauth_verifier"})
		return
	}

	ctx := c.Request.Context()
	userID := c.GetString(middleware.UserIDKey)

	flow, err := h.svc.PendingFlow(ctx, token)
	if err != nil {
		writeError(c, err)
		return
	}
	link, err := h.svc.CompleteFlow(ctx, token, verifier, userID)
	if err != nil {
		writeError(c, err)
		return
	}
	if org := c.Query("org"); org != "" {
		if err := h.svc.SetOrg(ctx, link, org); err != nil {
			slog.Error("failed to record xero org", "link_id", link.ID, "error", err)
		}
	}
	// A failed delete only leaves a stale row for the sweeper.
	if err := h.svc.DiscardFlow(ctx, token); err != nil {
		slog.Error("failed to discard completed flow", "request_token", token, "error", err)
	}

	middleware.SetAudit(c, "xero.link", "account_link", link.ID)
	c.Redirect(http.StatusFound, SafeNext(flow.Next("/")))
}

// @Summary      Unlink Xero
// @Description  Deletes the current user's Xero link and redirects to next.
// @Tags         Xero
// @Param        next  formData  string  false  "Same-site path to return to"
// @Success      302  "Redirect to next"
// @Router       /xero/logout [post]
// Logout removes the user's link
func (h *Handlers) Logout(c *gin.Context) {
	userID := c.GetString(middleware.UserIDKey)
	if err := h.svc.Unlink(c.Request.Context(), userID); err != nil {
		writeError(c, err)
		return
	}
	middleware.SetAudit(c, "xero.unlink", "account_link", "")
	c.Redirect(http.StatusFound, SafeNext(c.PostForm("next")))
}

// Interstitial renders the page that sends the user off to link Xero
func (h *Handlers) Interstitial(c *gin.Context) {
	next := SafeNext(c.Query("next"))
	startURL := StartPath
	if next != "/" {
		startURL += "?next=" + url.QueryEscape(next)
	}
	c.Render(http.StatusOK, render.HTML{
		Template: interstitialTmpl,
		Name:     "interstitial",
		Data: gin.H{
			"StartURL": startURL,
			"Expired":  c.Query("reason") == linking.ReasonExpired,
		},
	})
}

// statusResponse describes the user's link
type statusResponse struct {
	Linked                 bool       `json:"linked"`
	Valid                  bool       `json:"valid"`
	Corrupt                bool       `json:"corrupt,omitempty"`
	Org                    string     `json:"org,omitempty"`
	ExpiresAt              *time.Time `json:"expires_at,omitempty"`
	AuthorizationExpiresAt *time.Time `json:"authorization_expires_at,omitempty"`
	IdentityConfirmed      bool       `json:"identity_confirmed"`
	ProjectsUserID         string     `json:"projects_user_id,omitempty"`
	RelinkURL              string     `json:"relink_url,omitempty"`
}

// @Summary      Xero link status
// @Tags         Xero
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  statusResponse
// @Router       /api/v1/xero/status [get]
// Status reports whether the user is linked and whether the token is usable
func (h *Handlers) Status(c *gin.Context) {
	userID := c.GetString(middleware.UserIDKey)
	link, err := h.svc.Link(c.Request.Context(), userID)
	if errors.Is(err, linking.ErrNotFound) {
		c.JSON(http.StatusOK, statusResponse{RelinkURL: h.svc.RelinkURL("")})
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}

	resp := statusResponse{
		Linked:            true,
		Org:               link.OrgName(),
		IdentityConfirmed: link.IdentityConfirmed(),
	}
	if resp.ProjectsUserID, err = h.svc.StoredProjectsUser(c.Request.Context(), userID); err != nil {
		writeError(c, err)
		return
	}
	creds, err := h.svc.CurrentToken(link)
	switch {
	case errors.Is(err, linking.ErrCorruptState):
		resp.Corrupt = true
	case err != nil:
		writeError(c, err)
		return
	default:
		resp.Valid = linking.IsValid(creds, h.now())
		if creds.ExpiresAt != nil {
			t := creds.ExpiresAt.Time
			resp.ExpiresAt = &t
		}
		if creds.AuthorizationExpiresAt != nil {
			t := creds.AuthorizationExpiresAt.Time
			resp.AuthorizationExpiresAt = &t
		}
	}
	if !resp.Valid {
		resp.RelinkURL = h.svc.RelinkURL("")
	}
	c.JSON(http.StatusOK, resp)
}

// historyResponse lists audit entries for the current user
type historyResponse struct {
	Entries []*audit.LogEntry `json:"entries"`
}

// @Summary      Link history
// @Tags         Xero
// @Security     Bearer
// @Produce      json
// @Param        limit  query  int  false  "Maximum entries (1-100, default 20)"
// @Success      200  {object}  historyResponse
// @Router       /api/v1/xero/history [get]
// History lists the user's recent link events
func (h *Handlers) History(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	logs, err := h.history.ListAuditLogsForUser(c.Request.Context(), c.GetString(middleware.UserIDKey), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	resp := historyResponse{Entries: make([]*audit.LogEntry, 0, len(logs))}
	for _, l := range logs {
		resp.Entries = append(resp.Entries, audit.FromModel(l))
	}
	c.JSON(http.StatusOK, resp)
}

// @Summary      Linked organisation
// @Description  Fetches the organisation the user's access token is bound to.
// @Tags         Xero
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  xeroclient.Organisation
// @Failure      502  {object}  map[string]interface{}  "Xero request failed"
// @Router       /api/v1/xero/organisation [get]
// Organisation returns the Xero organisation of the linked account
func (h *Handlers) Organisation(c *gin.Context) {
	client, ok := h.client(c)
	if !ok {
		return
	}
	org, err := client.Organisation(c.Request.Context())
	if err != nil {
		writeProviderError(c, err)
		return
	}
	c.JSON(http.StatusOK, org)
}

// @Summary      Guess Xero identity
// @Description  Looks for the Xero user matching the local user. The result is advisory and nothing is stored.
// @Tags         Xero
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "match: Xero user or null"
// @Router       /api/v1/xero/identity [get]
// GuessIdentity returns the best matching Xero user, if any
func (h *Handlers) GuessIdentity(c *gin.Context) {
	user, link, ok := h.userAndLink(c)
	if !ok {
		return
	}
	match, err := h.svc.GuessProviderIdentity(c.Request.Context(), link, user)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"match":     match,
		"confirmed": link.ProviderUserID,
	})
}

// ConfirmIdentityRequest is the body of PUT /api/v1/xero/identity
type ConfirmIdentityRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Email  string `json:"email"`
}

// @Summary      Confirm Xero identity
// @Tags         Xero
// @Security     Bearer
// @Accept       json
// @Param        body  body  ConfirmIdentityRequest  true  "Xero user to bind"
// @Success      204
// @Failure      400  {object}  map[string]interface{}  "Invalid request body"
// @Router       /api/v1/xero/identity [put]
// ConfirmIdentity stores the Xero user the caller picked for this link
func (h *Handlers) ConfirmIdentity(c *gin.Context) {
	var req ConfirmIdentityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}
	_, link, ok := h.userAndLink(c)
	if !ok {
		return
	}
	if err := h.svc.ConfirmProviderIdentity(c.Request.Context(), link, req.UserID, req.Email); err != nil {
		writeError(c, err)
		return
	}
	middleware.SetAudit(c, "xero.identity.confirm", "account_link", link.ID)
	c.Status(http.StatusNoContent)
}

// @Summary      Guess projects identity
// @Description  Finds the user's id in the Xero projects API by email and records it.
// @Tags         Xero
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "match: projects user or null"
// @Failure      422  {object}  map[string]interface{}  "User has no email address"
// @Router       /api/v1/xero/identity/projects [get]
// GuessProjectsIdentity resolves the user's projects API id
func (h *Handlers) GuessProjectsIdentity(c *gin.Context) {
	user, link, ok := h.userAndLink(c)
	if !ok {
		return
	}
	match, err := h.svc.GuessProjectsIdentity(c.Request.Context(), link, user)
	if err != nil {
		writeError(c, err)
		return
	}
	if match != nil {
		middleware.SetAudit(c, "xero.identity.projects", "projects_user", user.ID)
	}
	c.JSON(http.StatusOK, gin.H{"match": match})
}

func (h *Handlers) userAndLink(c *gin.Context) (*models.User, *models.AccountLink, bool) {
	user := middleware.CurrentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return nil, nil, false
	}
	link, err := h.svc.Link(c.Request.Context(), user.ID)
	if err != nil {
		writeError(c, err)
		return nil, nil, false
	}
	return user, link, true
}

func (h *Handlers) client(c *gin.Context) (*xeroclient.APIClient, bool) {
	link, err := h.svc.Link(c.Request.Context(), c.GetString(middleware.UserIDKey))
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	client, err := h.svc.APIClient(link)
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	return client, true
}
