// Package linking implements the three-legged OAuth1 flow that links a local
// user to a Xero account, the accessors over a stored link, and the session
// gate that decides whether a request may use the link.
//
// A flow is started with StartFlow, which stores a PendingFlow keyed by the
// request token Xero issued. When Xero redirects back, CompleteFlow exchanges
// the verifier for an access token and upserts the user's AccountLink. The
// pending flow is not removed by CompleteFlow; callers discard it afterwards
// with DiscardFlow.
package linking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xerolink/xerolink/internal/crypto"
	"github.com/xerolink/xerolink/internal/db/models"
	"github.com/xerolink/xerolink/internal/secrets"
	"github.com/xerolink/xerolink/internal/telemetry"
	"github.com/xerolink/xerolink/internal/xero"
)

// FlowRepository persists pending flows. GetPendingFlow returns nil, nil for an unknown token.
type FlowRepository interface {
	CreatePendingFlow(ctx context.Context, flow *models.PendingFlow) error
	GetPendingFlow(ctx context.Context, requestToken string) (*models.PendingFlow, error)
	DeletePendingFlow(ctx context.Context, requestToken string) error
}

// LinkRepository persists account links. GetAccountLinkByUserID returns nil, nil for an unlinked user.
type LinkRepository interface {
	UpsertAccountLink(ctx context.Context, userID, sealedToken string) (*models.AccountLink, error)
	GetAccountLinkByUserID(ctx context.Context, userID string) (*models.AccountLink, error)
	UpdateOrg(ctx context.Context, linkID string, org *string) error
	UpdateProviderIdentity(ctx context.Context, linkID, providerUserID, providerEmail string) error
	DeleteAccountLinkByUserID(ctx context.Context, userID string) (bool, error)
}

// ProjectsUserRepository persists the projects API identifier of a user
type ProjectsUserRepository interface {
	UpsertProjectsUser(ctx context.Context, pu *models.ProjectsUser) error
	GetProjectsUser(ctx context.Context, userID string) (*models.ProjectsUser, error)
}

// Provider is the Xero side of the flow
type Provider interface {
	RequestToken(ctx context.Context, consumer xero.Consumer, callbackURL string) (*xero.Credentials, error)
	AuthorizationURL(requestToken string) string
	AccessToken(ctx context.Context, req *xero.Credentials, verifier string) (*xero.Credentials, error)
	NewAPIClient(creds *xero.Credentials) *xero.APIClient
}

// Service runs the authorization flow and serves linked accounts
type Service struct {
	secrets    secrets.Store
	flows      FlowRepository
	links      LinkRepository
	projects   ProjectsUserRepository
	provider   Provider
	cipher     *crypto.TokenCipher
	strategies []IdentityStrategy

	pendingTTL       time.Duration
	projectsPageSize int
	interstitialPath string
	now              func() time.Time
}

// Option customises a Service
type Option func(*Service)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithPendingTTL makes flows older than ttl unusable. Zero keeps them forever.
func WithPendingTTL(ttl time.Duration) Option {
	return func(s *Service) { s.pendingTTL = ttl }
}

// WithProjectsPageSize sets the page size used to walk the projects user listing
func WithProjectsPageSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.projectsPageSize = n
		}
	}
}

// WithInterstitialPath sets where the session gate sends users who need to link
func WithInterstitialPath(path string) Option {
	return func(s *Service) { s.interstitialPath = path }
}

// WithIdentityStrategies replaces the default provider identity strategies
func WithIdentityStrategies(strategies ...IdentityStrategy) Option {
	return func(s *Service) { s.strategies = strategies }
}

// NewService creates a Service
func NewService(
	store secrets.Store,
	flows FlowRepository,
	links LinkRepository,
	projects ProjectsUserRepository,
	provider Provider,
	cipher *crypto.TokenCipher,
	opts ...Option,
) *Service {
	s := &Service{
		secrets:          store,
		flows:            flows,
		links:            links,
		projects:         projects,
		provider:         provider,
		cipher:           cipher,
		strategies:       DefaultIdentityStrategies(),
		projectsPageSize: 50,
		interstitialPath: "/xero/interstitial",
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartFlow obtains a request token and records the pending flow. nextPage is
// where the user goes once linking completes; empty means no preference.
func (s *Service) StartFlow(ctx context.Context, callbackURL, nextPage string) (*models.PendingFlow, error) {
	provider, err := secrets.LoadProviderCredentials(ctx, s.secrets)
	if err != nil {
		telemetry.FlowsStartedTotal.WithLabelValues("configuration_error").Inc()
		if errors.Is(err, secrets.ErrNotConfigured) {
			return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
		}
		return nil, fmt.Errorf("load provider secrets: %w", err)
	}

	creds, err := s.provider.RequestToken(ctx, provider.Consumer(), callbackURL)
	if err != nil {
		telemetry.FlowsStartedTotal.WithLabelValues("provider_error").Inc()
		return nil, fmt.Errorf("%w: %w", ErrProvider, err)
	}

	state, err := s.cipher.SealJSON(creds)
	if err != nil {
		return nil, fmt.Errorf("seal flow state: %w", err)
	}

	flow := &models.PendingFlow{
		RequestToken:     creds.OAuthToken,
		State:            state,
		AuthorizationURL: s.provider.AuthorizationURL(creds.OAuthToken),
		CreatedAt:        s.now(),
	}
	if nextPage != "" {
		flow.NextPage = &nextPage
	}
	if err := s.flows.CreatePendingFlow(ctx, flow); err != nil {
		telemetry.FlowsStartedTotal.WithLabelValues("storage_error").Inc()
		return nil, fmt.Errorf("store pending flow: %w", err)
	}

	telemetry.FlowsStartedTotal.WithLabelValues("ok").Inc()
	slog.Info("xero authorization started", "request_token", flow.RequestToken)
	return flow, nil
}

// PendingFlow returns the flow for requestToken, or ErrNotFound
func (s *Service) PendingFlow(ctx context.Context, requestToken string) (*models.PendingFlow, error) {
	flow, err := s.flows.GetPendingFlow(ctx, requestToken)
	if err != nil {
		return nil, fmt.Errorf("load pending flow: %w", err)
	}
	if flow == nil {
		return nil, ErrNotFound
	}
	if s.pendingTTL > 0 && flow.Abandoned(s.pendingTTL, s.now()) {
		return nil, ErrNotFound
	}
	return flow, nil
}

// CompleteFlow exchanges verifier for an access token and stores it on the
// user's link, creating the link on first use. The pending flow is left in place.
func (s *Service) CompleteFlow(ctx context.Context, requestToken, verifier, userID string) (*models.AccountLink, error) {
	flow, err := s.PendingFlow(ctx, requestToken)
	if err != nil {
		telemetry.FlowsCompletedTotal.WithLabelValues("not_found").Inc()
		return nil, err
	}

	req, err := s.openCredentials(flow.State)
	if err != nil {
		telemetry.FlowsCompletedTotal.WithLabelValues("corrupt_state").Inc()
		return nil, err
	}

	access, err := s.provider.AccessToken(ctx, req, verifier)
	if err != nil {
		if errors.Is(err, xero.ErrVerifierRejected) {
			telemetry.FlowsCompletedTotal.WithLabelValues("verification_error").Inc()
			return nil, fmt.Errorf("%w: %w", ErrVerification, err)
		}
		telemetry.FlowsCompletedTotal.WithLabelValues("provider_error").Inc()
		return nil, fmt.Errorf("%w: %w", ErrProvider, err)
	}
	if !access.Verified {
		telemetry.FlowsCompletedTotal.WithLabelValues("verification_error").Inc()
		return nil, ErrVerification
	}

	sealed, err := s.cipher.SealJSON(access)
	if err != nil {
		return nil, fmt.Errorf("seal access token: %w", err)
	}
	link, err := s.links.UpsertAccountLink(ctx, userID, sealed)
	if err != nil {
		telemetry.FlowsCompletedTotal.WithLabelValues("storage_error").Inc()
		return nil, fmt.Errorf("store account link: %w", err)
	}

	telemetry.FlowsCompletedTotal.WithLabelValues("ok").Inc()
	slog.Info("xero account linked", "user_id", userID, "link_id", link.ID)
	return link, nil
}

// DiscardFlow deletes the pending flow for requestToken
func (s *Service) DiscardFlow(ctx context.Context, requestToken string) error {
	if err := s.flows.DeletePendingFlow(ctx, requestToken); err != nil {
		return fmt.Errorf("delete pending flow: %w", err)
	}
	return nil
}

func (s *Service) openCredentials(sealed string) (*xero.Credentials, error) {
	var creds xero.Credentials
	if err := s.cipher.OpenJSON(sealed, &creds); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptState, err)
	}
	if err := creds.Check(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptState, err)
	}
	return &creds, nil
}
