package linking

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xerolink/xerolink/internal/crypto"
	"github.com/xerolink/xerolink/internal/db/models"
	"github.com/xerolink/xerolink/internal/secrets"
	"github.com/xerolink/xerolink/internal/xero"
)

var testNow = time.Date(2024, 6, 1, 9, 0, 0, 123456789, time.Local)

// fakeXero serves the token endpoints and the handful of API calls the service makes
type fakeXero struct {
	srv *httptest.Server

	mu        sync.Mutex
	calls     int
	issued    int
	expiresIn int
	// users maps a where clause to the users it returns
	users    map[string][]xero.User
	projects []xero.ProjectsUser
	pages    []int
}

func newFakeXero(t *testing.T) *fakeXero {
	t.Helper()
	f := &fakeXero{expiresIn: 1800, users: map[string][]xero.User{}}
	f.srv = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeXero) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++

	switch r.URL.Path {
	case "/oauth/RequestToken":
		f.issued++
		fmt.Fprintf(w, "oauth_token=req-%d&oauth_token_secret=req-secret-%d&oauth_callback_confirmed=true", f.issued, f.issued)
	case "/oauth/AccessToken":
		if strings.Contains(r.Header.Get("Authorization"), `oauth_verifier="bad"`) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte("oauth_problem=token_rejected"))
			return
		}
		fmt.Fprintf(w, "oauth_token=acc&oauth_token_secret=acc-secret&oauth_expires_in=%d&oauth_authorization_expires_in=31536000&oauth_session_handle=sh", f.expiresIn)
	case "/api.xro/2.0/Users":
		users := f.users[r.URL.Query().Get("where")]
		if users == nil {
			users = []xero.User{}
		}
		writeJSON(w, map[string]any{"Users": users})
	case "/projects.xro/2.0/projectsusers":
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		size, _ := strconv.Atoi(r.URL.Query().Get("pageSize"))
		f.pages = append(f.pages, page)
		pageCount := (len(f.projects) + size - 1) / size
		start := (page - 1) * size
		end := min(start+size, len(f.projects))
		items := []xero.ProjectsUser{}
		if start < end {
			items = f.projects[start:end]
		}
		writeJSON(w, xero.ProjectsUsersPage{
			Pagination: xero.Pagination{Page: page, PageSize: size, PageCount: pageCount, ItemCount: len(f.projects)},
			Items:      items,
		})
	default:
		http.NotFound(w, r)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (f *fakeXero) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeXero) provider() *xero.Provider {
	base := f.srv.URL
	return xero.NewProvider(xero.Endpoints{
		RequestTokenURL: base + "/oauth/RequestToken",
		AuthorizeURL:    base + "/oauth/Authorize",
		AccessTokenURL:  base + "/oauth/AccessToken",
		APIBaseURL:      base + "/api.xro/2.0",
		ProjectsBaseURL: base + "/projects.xro/2.0",
	}, f.srv.Client(), "xerolink-test").WithClock(func() time.Time { return testNow })
}

type memFlows struct {
	mu    sync.Mutex
	flows map[string]*models.PendingFlow
}

func (m *memFlows) CreatePendingFlow(_ context.Context, flow *models.PendingFlow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.flows[flow.RequestToken]; ok {
		return fmt.Errorf("duplicate %s", flow.RequestToken)
	}
	cp := *flow
	m.flows[flow.RequestToken] = &cp
	return nil
}

func (m *memFlows) GetPendingFlow(_ context.Context, token string) (*models.PendingFlow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	flow, ok := m.flows[token]
	if !ok {
		return nil, nil
	}
	cp := *flow
	return &cp, nil
}

func (m *memFlows) DeletePendingFlow(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.flows, token)
	return nil
}

type memLinks struct {
	mu    sync.Mutex
	next  int
	links map[string]*models.AccountLink
}

func (m *memLinks) UpsertAccountLink(_ context.Context, userID, sealed string) (*models.AccountLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	link, ok := m.links[userID]
	if !ok {
		m.next++
		link = &models.AccountLink{ID: fmt.Sprintf("link-%d", m.next), UserID: userID, CreatedAt: testNow}
		m.links[userID] = link
	}
	link.LastToken = sealed
	link.UpdatedAt = testNow
	cp := *link
	return &cp, nil
}

func (m *memLinks) GetAccountLinkByUserID(_ context.Context, userID string) (*models.AccountLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	link, ok := m.links[userID]
	if !ok {
		return nil, nil
	}
	cp := *link
	return &cp, nil
}

func (m *memLinks) byID(id string) *models.AccountLink {
	for _, l := range m.links {
		if l.ID == id {
			return l
		}
	}
	return nil
}

func (m *memLinks) UpdateOrg(_ context.Context, linkID string, org *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l := m.byID(linkID); l != nil {
		l.Org = org
	}
	return nil
}

func (m *memLinks) UpdateProviderIdentity(_ context.Context, linkID, id, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l := m.byID(linkID); l != nil {
		l.ProviderUserID, l.ProviderEmail = &id, &email
	}
	return nil
}

func (m *memLinks) DeleteAccountLinkByUserID(_ context.Context, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.links[userID]
	delete(m.links, userID)
	return ok, nil
}

func (m *memLinks) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.links)
}

type memProjects struct {
	rows map[string]*models.ProjectsUser
}

func (m *memProjects) UpsertProjectsUser(_ context.Context, pu *models.ProjectsUser) error {
	cp := *pu
	m.rows[pu.UserID] = &cp
	return nil
}

func (m *memProjects) GetProjectsUser(_ context.Context, userID string) (*models.ProjectsUser, error) {
	pu, ok := m.rows[userID]
	if !ok {
		return nil, nil
	}
	cp := *pu
	return &cp, nil
}

type harness struct {
	svc      *Service
	xero     *fakeXero
	flows    *memFlows
	links    *memLinks
	projects *memProjects
	cipher   *crypto.TokenCipher
}

// staticSecrets is a secrets.Store over fixed values
type staticSecrets map[string]string

func (s staticSecrets) Get(_ context.Context, name string) (string, error) {
	return s[name], nil
}

func configuredSecrets() staticSecrets {
	return staticSecrets{
		models.SecretConsumerKey:    "consumer-key",
		models.SecretConsumerSecret: "consumer-secret",
	}
}

func newHarness(t *testing.T, store secrets.Store, opts ...Option) *harness {
	t.Helper()
	tc, err := crypto.NewTokenCipher(bytes.Repeat([]byte("k"), 32))
	require.NoError(t, err)

	h := &harness{
		xero:     newFakeXero(t),
		flows:    &memFlows{flows: map[string]*models.PendingFlow{}},
		links:    &memLinks{links: map[string]*models.AccountLink{}},
		projects: &memProjects{rows: map[string]*models.ProjectsUser{}},
		cipher:   tc,
	}
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	h.svc = NewService(store, h.flows, h.links, h.projects, h.xero.provider(), tc, opts...)
	return h
}

// link runs a complete flow for userID and discards the pending flow
func (h *harness) link(t *testing.T, userID string) *models.AccountLink {
	t.Helper()
	ctx := context.Background()
	flow, err := h.svc.StartFlow(ctx, "https://app.example/xero/auth/accept", "/dashboard")
	require.NoError(t, err)
	link, err := h.svc.CompleteFlow(ctx, flow.RequestToken, "good", userID)
	require.NoError(t, err)
	require.NoError(t, h.svc.DiscardFlow(ctx, flow.RequestToken))
	return link
}
