// Package xero talks to Xero over OAuth 1.0a: the request-token and access-token
// exchanges of the three-legged flow, and signed calls to the accounting and
// projects APIs on behalf of a linked account. Signing and token parsing are
// done by github.com/mrjones/oauth; this package keeps the durable
// Credentials record and the Xero-specific response fields.
package xero

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mrjones/oauth"

	"github.com/xerolink/xerolink/internal/telemetry"
)

const maxResponseBytes = 4 << 20

// Consumer is the application's OAuth consumer key pair
type Consumer struct {
	Key    string
	Secret string
}

// Endpoints are the Xero URLs the provider talks to
type Endpoints struct {
	RequestTokenURL string
	AuthorizeURL    string
	AccessTokenURL  string
	APIBaseURL      string
	ProjectsBaseURL string
}

// Provider performs the OAuth1 token exchanges and builds API clients
type Provider struct {
	endpoints  Endpoints
	httpClient *http.Client
	userAgent  string
	now        func() time.Time
}

// NewProvider creates a Provider. httpClient carries the timeout applied to
// every provider call; nil means a client with a 30 second timeout.
func NewProvider(endpoints Endpoints, httpClient *http.Client, userAgent string) *Provider {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Provider{
		endpoints:  endpoints,
		httpClient: httpClient,
		userAgent:  userAgent,
		now:        time.Now,
	}
}

// WithClock overrides the clock used to compute token expiries
func (p *Provider) WithClock(now func() time.Time) *Provider {
	cp := *p
	cp.now = now
	return &cp
}

// AuthorizationURL is where the user is sent to approve the request token
func (p *Provider) AuthorizationURL(requestToken string) string {
	sep := "?"
	if strings.Contains(p.endpoints.AuthorizeURL, "?") {
		sep = "&"
	}
	return p.endpoints.AuthorizeURL + sep + "oauth_token=" + url.QueryEscape(requestToken)
}

// RequestToken obtains temporary credentials for a new authorization
func (p *Provider) RequestToken(ctx context.Context, consumer Consumer, callbackURL string) (*Credentials, error) {
	c, doer := p.consumer(ctx, consumer)
	rtoken, _, err := c.GetRequestTokenAndUrl(callbackURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenRequestFailed, doer.failure(p.endpoints.RequestTokenURL, err))
	}
	if rtoken.Token == "" || rtoken.Secret == "" {
		return nil, fmt.Errorf("%w: response lacks oauth_token or oauth_token_secret", ErrTokenRequestFailed)
	}

	return &Credentials{
		Version:          CredentialsVersion,
		ConsumerKey:      consumer.Key,
		ConsumerSecret:   consumer.Secret,
		CallbackURI:      callbackURL,
		OAuthToken:       rtoken.Token,
		OAuthTokenSecret: rtoken.Secret,
	}, nil
}

// AccessToken exchanges the verifier returned on the callback for an access
// token. A refusal from Xero is reported as ErrVerifierRejected. The returned
// record is a new value; req is not modified.
func (p *Provider) AccessToken(ctx context.Context, req *Credentials, verifier string) (*Credentials, error) {
	c, doer := p.consumer(ctx, req.Consumer())
	atoken, err := c.AuthorizeToken(&oauth.RequestToken{Token: req.OAuthToken, Secret: req.OAuthTokenSecret}, verifier)
	if err != nil {
		err = doer.failure(p.endpoints.AccessTokenURL, err)
		var apiErr *APIError
		if errors.As(err, &apiErr) &&
			(apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusBadRequest || apiErr.Problem != "") {
			return nil, fmt.Errorf("%w: %w", ErrVerifierRejected, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrTokenRequestFailed, err)
	}
	if atoken.Token == "" || atoken.Secret == "" {
		return nil, fmt.Errorf("%w: response lacks oauth_token or oauth_token_secret", ErrTokenRequestFailed)
	}

	extra := atoken.AdditionalData
	now := p.now()
	access := *req
	access.OAuthToken = atoken.Token
	access.OAuthTokenSecret = atoken.Secret
	access.OAuthVerifier = verifier
	access.Verified = true
	access.SessionHandle = extra["oauth_session_handle"]
	access.OrgMUID = extra["xero_org_muid"]
	access.ExpiresAt = expiryFrom(now, extra["oauth_expires_in"])
	access.AuthorizationExpiresAt = expiryFrom(now, extra["oauth_authorization_expires_in"])
	return &access, nil
}

func expiryFrom(now time.Time, seconds string) *Timestamp {
	n, err := strconv.ParseInt(seconds, 10, 64)
	if err != nil || n < 0 {
		return nil
	}
	ts := NewTimestamp(now.Add(time.Duration(n) * time.Second))
	return &ts
}

// serviceProvider describes the Xero token endpoints to the oauth library
func (p *Provider) serviceProvider() oauth.ServiceProvider {
	return oauth.ServiceProvider{
		RequestTokenUrl:   p.endpoints.RequestTokenURL,
		AuthorizeTokenUrl: p.endpoints.AuthorizeURL,
		AccessTokenUrl:    p.endpoints.AccessTokenURL,
		HttpMethod:        http.MethodPost,
	}
}

// consumer builds a library consumer whose token requests go through a
// tokenDoer bound to ctx. A consumer serves a single exchange.
func (p *Provider) consumer(ctx context.Context, consumer Consumer) (*oauth.Consumer, *tokenDoer) {
	doer := &tokenDoer{ctx: ctx, client: p.httpClient, userAgent: p.userAgent}
	c := oauth.NewConsumer(consumer.Key, consumer.Secret, p.serviceProvider())
	c.HttpClient = doer
	return c, doer
}

// tokenDoer runs the library's token requests under the caller's context,
// records them in the provider metrics and remembers how the last one failed.
type tokenDoer struct {
	ctx       context.Context
	client    *http.Client
	userAgent string

	transportErr error
	status       int
	body         []byte
}

func (d *tokenDoer) Do(req *http.Request) (*http.Response, error) {
	started := time.Now()
	req = req.WithContext(d.ctx)
	if d.userAgent != "" {
		req.Header.Set("User-Agent", d.userAgent)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		d.transportErr = err
		telemetry.ObserveProviderRequest("oauth", OutcomeTransportError.String(), started)
		return nil, err
	}
	d.status = resp.StatusCode
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		resp.Body.Close()
		resp.Body = io.NopCloser(bytes.NewReader(body))
		d.body = body
		telemetry.ObserveProviderRequest("oauth", OutcomeHTTPError.String(), started)
		return resp, nil
	}
	telemetry.ObserveProviderRequest("oauth", OutcomeSuccess.String(), started)
	return resp, nil
}

// failure explains why an exchange failed: the transport error, an *APIError
// for a non-200 answer, or the library's own error for an unusable 200 body.
func (d *tokenDoer) failure(endpoint string, libErr error) error {
	if d.transportErr != nil {
		return d.transportErr
	}
	if d.status != 0 && d.status != http.StatusOK {
		values, _ := url.ParseQuery(string(d.body))
		return &APIError{
			Method:     http.MethodPost,
			URL:        endpoint,
			StatusCode: d.status,
			Body:       string(d.body),
			Problem:    values.Get("oauth_problem"),
		}
	}
	return libErr
}
