package linking

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/xerolink/xerolink/internal/db/models"
	"github.com/xerolink/xerolink/internal/xero"
)

// Link returns the user's account link, or ErrNotFound
func (s *Service) Link(ctx context.Context, userID string) (*models.AccountLink, error) {
	link, err := s.links.GetAccountLinkByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load account link: %w", err)
	}
	if link == nil {
		return nil, ErrNotFound
	}
	return link, nil
}

// StoredProjectsUser returns the projects API identifier recorded for the
// user, or "" when none has been stored yet.
func (s *Service) StoredProjectsUser(ctx context.Context, userID string) (string, error) {
	pu, err := s.projects.GetProjectsUser(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("load projects user: %w", err)
	}
	if pu == nil {
		return "", nil
	}
	return pu.ProjectsUserID, nil
}

// SetOrg records the org reported on the callback. It is not validated.
func (s *Service) SetOrg(ctx context.Context, link *models.AccountLink, org string) error {
	var value *string
	if org = strings.TrimSpace(org); org != "" {
		value = &org
	}
	if err := s.links.UpdateOrg(ctx, link.ID, value); err != nil {
		return fmt.Errorf("update org: %w", err)
	}
	link.Org = value
	return nil
}

// Unlink deletes the user's link. Unlinking a user with no link is not an error.
func (s *Service) Unlink(ctx context.Context, userID string) error {
	deleted, err := s.links.DeleteAccountLinkByUserID(ctx, userID)
	if err != nil {
		return fmt.Errorf("delete account link: %w", err)
	}
	if deleted {
		slog.Info("xero account unlinked", "user_id", userID)
	}
	return nil
}

// CurrentToken decodes the credentials stored on link
func (s *Service) CurrentToken(link *models.AccountLink) (*xero.Credentials, error) {
	return s.openCredentials(link.LastToken)
}

// IsValid reports whether creds can still be used at now. An expiry equal to
// now is still valid. Stored expiries are naive server-local wall clock
// values, so now must come from a clock in the same timezone.
func IsValid(creds *xero.Credentials, now time.Time) bool {
	return creds.ValidAt(now)
}

// IsLinkValid reports whether the token stored on link is valid at now
func (s *Service) IsLinkValid(link *models.AccountLink, now time.Time) (bool, error) {
	creds, err := s.CurrentToken(link)
	if err != nil {
		return false, err
	}
	return IsValid(creds, now), nil
}

// APIClient returns a client that signs requests with the link's access token
func (s *Service) APIClient(link *models.AccountLink) (*xero.APIClient, error) {
	creds, err := s.CurrentToken(link)
	if err != nil {
		return nil, err
	}
	return s.provider.NewAPIClient(creds), nil
}

// ConfirmProviderIdentity stores the Xero user id and email the user confirmed.
// Guessed identities are never written without this call.
func (s *Service) ConfirmProviderIdentity(ctx context.Context, link *models.AccountLink, providerUserID, providerEmail string) error {
	if err := s.links.UpdateProviderIdentity(ctx, link.ID, providerUserID, providerEmail); err != nil {
		return fmt.Errorf("update provider identity: %w", err)
	}
	link.ProviderUserID = &providerUserID
	link.ProviderEmail = &providerEmail
	return nil
}
