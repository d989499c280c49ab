package xero

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mrjones/oauth"

	"github.com/xerolink/xerolink/internal/telemetry"
)

// Outcome classifies a signed API call
type Outcome int

const (
	// OutcomeSuccess means Xero answered 200
	OutcomeSuccess Outcome = iota
	// OutcomeTransportError means no HTTP answer was obtained
	OutcomeTransportError
	// OutcomeHTTPError means Xero answered with a status other than 200
	OutcomeHTTPError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeTransportError:
		return "transport_error"
	case OutcomeHTTPError:
		return "http_error"
	default:
		return "unknown"
	}
}

// CallResult is the result of one signed API call. Err is nil on success, the
// transport error on OutcomeTransportError and an *APIError on OutcomeHTTPError.
type CallResult struct {
	Outcome    Outcome
	StatusCode int
	Body       []byte
	Err        error
}

// OK reports whether the call succeeded
func (r CallResult) OK() bool {
	return r.Outcome == OutcomeSuccess
}

// Decode unmarshals a successful JSON body into v, or returns the call's error
func (r CallResult) Decode(v any) error {
	if !r.OK() {
		return r.Err
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("xero: decode response: %w", err)
	}
	return nil
}

// APIClient makes OAuth1-signed calls to the accounting and projects APIs for one linked account
type APIClient struct {
	httpClient   *http.Client
	apiBase      string
	projectsBase string
	userAgent    string
}

// NewAPIClient returns a client bound to creds. Requests are signed by the
// oauth library's round tripper and sent through the provider's HTTP client,
// so its timeout applies.
func (p *Provider) NewAPIClient(creds *Credentials) *APIClient {
	c := oauth.NewConsumer(creds.ConsumerKey, creds.ConsumerSecret, p.serviceProvider())
	c.HttpClient = p.httpClient
	signed, err := c.MakeHttpClient(&oauth.AccessToken{Token: creds.OAuthToken, Secret: creds.OAuthTokenSecret})
	if err != nil {
		// MakeHttpClient only wraps the consumer; keep a client that will
		// surface as a transport error on the first call.
		signed = &http.Client{Transport: failingTransport{err: err}}
	}
	signed.Timeout = p.httpClient.Timeout
	return &APIClient{
		httpClient:   signed,
		apiBase:      strings.TrimRight(p.endpoints.APIBaseURL, "/"),
		projectsBase: strings.TrimRight(p.endpoints.ProjectsBaseURL, "/"),
		userAgent:    p.userAgent,
	}
}

type failingTransport struct{ err error }

func (t failingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	return nil, t.err
}

// AccountingURL resolves path against the accounting API base
func (c *APIClient) AccountingURL(path string, query url.Values) string {
	return joinURL(c.apiBase, path, query)
}

// ProjectsURL resolves path against the projects API base
func (c *APIClient) ProjectsURL(path string, query url.Values) string {
	return joinURL(c.projectsBase, path, query)
}

func joinURL(base, path string, query url.Values) string {
	u := base + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// Call is the generic signed-request helper for endpoints without a typed
// method. endpoint may be absolute or relative to the accounting API. A non-nil
// body is sent as JSON. Only a 200 answer counts as success.
func (c *APIClient) Call(ctx context.Context, method, endpoint string, body any) CallResult {
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		endpoint = c.AccountingURL(endpoint, nil)
	}
	api := "accounting"
	if c.projectsBase != "" && strings.HasPrefix(endpoint, c.projectsBase) {
		api = "projects"
	}
	started := time.Now()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return CallResult{Outcome: OutcomeTransportError, Err: fmt.Errorf("xero: encode request: %w", err)}
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return CallResult{Outcome: OutcomeTransportError, Err: fmt.Errorf("xero: create request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		telemetry.ObserveProviderRequest(api, OutcomeTransportError.String(), started)
		return CallResult{Outcome: OutcomeTransportError, Err: fmt.Errorf("xero: %s %s: %w", method, endpoint, err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		telemetry.ObserveProviderRequest(api, OutcomeTransportError.String(), started)
		return CallResult{Outcome: OutcomeTransportError, StatusCode: resp.StatusCode, Err: fmt.Errorf("xero: read response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		telemetry.ObserveProviderRequest(api, OutcomeHTTPError.String(), started)
		problem, _ := url.ParseQuery(string(respBody))
		return CallResult{
			Outcome:    OutcomeHTTPError,
			StatusCode: resp.StatusCode,
			Body:       respBody,
			Err: &APIError{
				Method:     method,
				URL:        endpoint,
				StatusCode: resp.StatusCode,
				Body:       string(respBody),
				Problem:    problem.Get("oauth_problem"),
			},
		}
	}

	telemetry.ObserveProviderRequest(api, OutcomeSuccess.String(), started)
	return CallResult{Outcome: OutcomeSuccess, StatusCode: resp.StatusCode, Body: respBody}
}

// Organisation returns the organisation the access token is bound to
func (c *APIClient) Organisation(ctx context.Context) (*Organisation, error) {
	var payload struct {
		Organisations []Organisation `json:"Organisations"`
	}
	if err := c.Call(ctx, http.MethodGet, c.AccountingURL("Organisation", nil), nil).Decode(&payload); err != nil {
		return nil, err
	}
	if len(payload.Organisations) == 0 {
		return nil, fmt.Errorf("xero: organisation response was empty")
	}
	return &payload.Organisations[0], nil
}

// Users lists accounting users matching the optional where filter
func (c *APIClient) Users(ctx context.Context, where string) ([]User, error) {
	query := url.Values{}
	if where != "" {
		query.Set("where", where)
	}
	var payload struct {
		Users []User `json:"Users"`
	}
	if err := c.Call(ctx, http.MethodGet, c.AccountingURL("Users", query), nil).Decode(&payload); err != nil {
		return nil, err
	}
	return payload.Users, nil
}

// ProjectsUsers returns one page of the projects API user listing. Pages start at 1.
func (c *APIClient) ProjectsUsers(ctx context.Context, page, pageSize int) (*ProjectsUsersPage, error) {
	query := url.Values{}
	query.Set("page", fmt.Sprint(page))
	query.Set("pageSize", fmt.Sprint(pageSize))
	var out ProjectsUsersPage
	if err := c.Call(ctx, http.MethodGet, c.ProjectsURL("projectsusers", query), nil).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}
