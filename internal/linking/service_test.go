package linking

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xerolink/xerolink/internal/db/models"
	"github.com/xerolink/xerolink/internal/secrets"
	"github.com/xerolink/xerolink/internal/xero"
)

func TestStartFlow_PersistsSealedState(t *testing.T) {
	h := newHarness(t, configuredSecrets())

	flow, err := h.svc.StartFlow(context.Background(), "https://app.example/xero/auth/accept", "/invoices")
	require.NoError(t, err)

	assert.NotEmpty(t, flow.RequestToken)
	assert.Contains(t, flow.AuthorizationURL, flow.RequestToken)
	assert.Equal(t, "/invoices", flow.Next("/"))
	assert.True(t, flow.CreatedAt.Equal(testNow))

	stored, err := h.flows.GetPendingFlow(context.Background(), flow.RequestToken)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.NotContains(t, stored.State, "req-secret")

	creds, err := h.svc.openCredentials(stored.State)
	require.NoError(t, err)
	assert.Equal(t, "consumer-key", creds.ConsumerKey)
	assert.Equal(t, "consumer-secret", creds.ConsumerSecret)
	assert.Equal(t, flow.RequestToken, creds.OAuthToken)
	assert.NotEmpty(t, creds.OAuthTokenSecret)
	assert.Equal(t, "https://app.example/xero/auth/accept", creds.CallbackURI)
	assert.False(t, creds.Verified)
}

func TestStartFlow_NoNextPage(t *testing.T) {
	h := newHarness(t, configuredSecrets())
	flow, err := h.svc.StartFlow(context.Background(), "https://cb", "")
	require.NoError(t, err)
	assert.Nil(t, flow.NextPage)
	assert.Equal(t, "/", flow.Next("/"))
}

func TestStartFlow_SecretsUnsetFailsBeforeNetwork(t *testing.T) {
	for name, store := range map[string]staticSecrets{
		"both unset":   {},
		"secret unset": {models.SecretConsumerKey: "ck"},
		"key unset":    {models.SecretConsumerSecret: "cs"},
	} {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, store)
			_, err := h.svc.StartFlow(context.Background(), "https://cb", "/")
			require.ErrorIs(t, err, ErrConfiguration)
			assert.ErrorIs(t, err, secrets.ErrNotConfigured)
			assert.Zero(t, h.xero.callCount())
			assert.Empty(t, h.flows.flows)
		})
	}
}

func TestStartFlow_TwiceGivesDistinctFlows(t *testing.T) {
	h := newHarness(t, configuredSecrets())
	ctx := context.Background()

	a, err := h.svc.StartFlow(ctx, "https://cb", "/a")
	require.NoError(t, err)
	b, err := h.svc.StartFlow(ctx, "https://cb", "/b")
	require.NoError(t, err)

	assert.NotEqual(t, a.RequestToken, b.RequestToken)
	assert.Len(t, h.flows.flows, 2)
}

func TestCompleteFlow_UnknownToken(t *testing.T) {
	h := newHarness(t, configuredSecrets())

	link, err := h.svc.CompleteFlow(context.Background(), "never-issued", "good", "user-1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Nil(t, link)
	assert.Zero(t, h.links.count())
	assert.Zero(t, h.xero.callCount())
}

func TestCompleteFlow_RejectedVerifier(t *testing.T) {
	h := newHarness(t, configuredSecrets())
	ctx := context.Background()
	flow, err := h.svc.StartFlow(ctx, "https://cb", "/")
	require.NoError(t, err)

	link, err := h.svc.CompleteFlow(ctx, flow.RequestToken, "bad", "user-1")
	require.ErrorIs(t, err, ErrVerification)
	assert.ErrorIs(t, err, xero.ErrVerifierRejected)
	assert.Nil(t, link)
	assert.Zero(t, h.links.count())
}

func TestCompleteFlow_LinksUserAndLeavesFlowForCaller(t *testing.T) {
	h := newHarness(t, configuredSecrets())
	ctx := context.Background()
	flow, err := h.svc.StartFlow(ctx, "https://cb", "/next")
	require.NoError(t, err)

	link, err := h.svc.CompleteFlow(ctx, flow.RequestToken, "good", "user-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", link.UserID)
	assert.NotContains(t, link.LastToken, "acc-secret")

	still, err := h.flows.GetPendingFlow(ctx, flow.RequestToken)
	require.NoError(t, err)
	assert.NotNil(t, still, "CompleteFlow must not delete the pending flow")

	creds, err := h.svc.CurrentToken(link)
	require.NoError(t, err)
	assert.True(t, creds.Verified)
	assert.Equal(t, "acc", creds.OAuthToken)
	assert.Equal(t, "good", creds.OAuthVerifier)
}

func TestCompleteFlow_ReplayAfterDiscardIsNotFound(t *testing.T) {
	h := newHarness(t, configuredSecrets())
	ctx := context.Background()
	flow, err := h.svc.StartFlow(ctx, "https://cb", "/")
	require.NoError(t, err)

	_, err = h.svc.CompleteFlow(ctx, flow.RequestToken, "good", "user-1")
	require.NoError(t, err)
	require.NoError(t, h.svc.DiscardFlow(ctx, flow.RequestToken))

	_, err = h.svc.CompleteFlow(ctx, flow.RequestToken, "good", "user-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCompleteFlow_RelinkKeepsOneLinkPerUser(t *testing.T) {
	h := newHarness(t, configuredSecrets())
	first := h.link(t, "user-1")
	second := h.link(t, "user-1")

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, h.links.count())
}

func TestCompleteFlow_AbandonedFlowIsNotFound(t *testing.T) {
	h := newHarness(t, configuredSecrets(), WithPendingTTL(time.Hour))
	ctx := context.Background()
	flow, err := h.svc.StartFlow(ctx, "https://cb", "/")
	require.NoError(t, err)

	h.flows.flows[flow.RequestToken].CreatedAt = testNow.Add(-2 * time.Hour)

	_, err = h.svc.CompleteFlow(ctx, flow.RequestToken, "good", "user-1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, h.links.count())
}

func TestCompleteFlow_CorruptState(t *testing.T) {
	h := newHarness(t, configuredSecrets())
	h.flows.flows["req-x"] = &models.PendingFlow{RequestToken: "req-x", State: "tampered", CreatedAt: testNow}

	_, err := h.svc.CompleteFlow(context.Background(), "req-x", "good", "user-1")
	assert.ErrorIs(t, err, ErrCorruptState)
	assert.Zero(t, h.links.count())
}

func TestCurrentToken_PreservesExpiryToMicrosecond(t *testing.T) {
	h := newHarness(t, configuredSecrets())
	link := h.link(t, "user-1")

	creds, err := h.svc.CurrentToken(link)
	require.NoError(t, err)

	want := testNow.Add(1800 * time.Second).Truncate(time.Microsecond)
	require.NotNil(t, creds.ExpiresAt)
	assert.True(t, creds.ExpiresAt.Equal(want), "got %v want %v", creds.ExpiresAt.Time, want)
	require.NotNil(t, creds.AuthorizationExpiresAt)
	assert.Equal(t, "sh", creds.SessionHandle)
}

func TestCurrentToken_Corrupt(t *testing.T) {
	h := newHarness(t, configuredSecrets())
	for _, token := range []string{"", "garbage"} {
		_, err := h.svc.CurrentToken(&models.AccountLink{LastToken: token})
		assert.ErrorIs(t, err, ErrCorruptState)
	}

	sealed, err := h.cipher.Seal(`{"version":99,"consumer_key":"ck","oauth_token":"t"}`)
	require.NoError(t, err)
	_, err = h.svc.CurrentToken(&models.AccountLink{LastToken: sealed})
	assert.ErrorIs(t, err, ErrCorruptState)
}

func TestIsLinkValid_BoundaryInclusive(t *testing.T) {
	h := newHarness(t, configuredSecrets())
	link := h.link(t, "user-1")
	expiry := testNow.Add(1800 * time.Second).Truncate(time.Microsecond)

	valid, err := h.svc.IsLinkValid(link, expiry)
	require.NoError(t, err)
	assert.True(t, valid, "expiry equal to now must be valid")

	valid, err = h.svc.IsLinkValid(link, expiry.Add(time.Microsecond))
	require.NoError(t, err)
	assert.False(t, valid)

	valid, err = h.svc.IsLinkValid(link, testNow)
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestSetOrgAndUnlink(t *testing.T) {
	h := newHarness(t, configuredSecrets())
	ctx := context.Background()
	link := h.link(t, "user-1")

	require.NoError(t, h.svc.SetOrg(ctx, link, " !Kdfg3 "))
	assert.Equal(t, "!Kdfg3", link.OrgName())
	stored, err := h.svc.Link(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "!Kdfg3", stored.OrgName())

	require.NoError(t, h.svc.SetOrg(ctx, link, ""))
	assert.Nil(t, link.Org)

	require.NoError(t, h.svc.Unlink(ctx, "user-1"))
	_, err = h.svc.Link(ctx, "user-1")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, h.svc.Unlink(ctx, "user-1"), "unlinking twice is not an error")
}

func TestAPIClient_SignsWithStoredToken(t *testing.T) {
	h := newHarness(t, configuredSecrets())
	link := h.link(t, "user-1")

	client, err := h.svc.APIClient(link)
	require.NoError(t, err)
	res := client.Call(context.Background(), "GET", "Users", nil)
	assert.True(t, res.OK(), "%+v", res)

	_, err = h.svc.APIClient(&models.AccountLink{LastToken: "garbage"})
	assert.ErrorIs(t, err, ErrCorruptState)
}

func TestConfirmProviderIdentity(t *testing.T) {
	h := newHarness(t, configuredSecrets())
	link := h.link(t, "user-1")

	require.NoError(t, h.svc.ConfirmProviderIdentity(context.Background(), link, "xero-user-1", "ann@example.com"))
	assert.True(t, link.IdentityConfirmed())
	stored, _ := h.svc.Link(context.Background(), "user-1")
	assert.Equal(t, "xero-user-1", *stored.ProviderUserID)
	assert.True(t, strings.EqualFold("ann@example.com", *stored.ProviderEmail))
}
