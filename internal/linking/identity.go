package linking

import (
	"context"
	"fmt"
	"strings"

	"github.com/xerolink/xerolink/internal/db/models"
	"github.com/xerolink/xerolink/internal/xero"
)

// IdentityStrategy is one attempt at finding the Xero user behind a local user.
// Find returns nil, nil when nothing matches or the strategy does not apply.
type IdentityStrategy interface {
	Name() string
	Find(ctx context.Context, client *xero.APIClient, user *models.User) (*xero.User, error)
}

// UserField is a local user attribute usable in a Users filter
type UserField int

const (
	FieldEmail UserField = iota
	FieldFirstName
	FieldLastName
)

func (f UserField) xeroName() string {
	switch f {
	case FieldEmail:
		return "EmailAddress"
	case FieldFirstName:
		return "FirstName"
	default:
		return "LastName"
	}
}

func (f UserField) value(u *models.User) string {
	switch f {
	case FieldEmail:
		return strings.TrimSpace(u.Email)
	case FieldFirstName:
		return strings.TrimSpace(u.FirstName)
	default:
		return strings.TrimSpace(u.LastName)
	}
}

// UsersFilter queries the accounting Users endpoint with an equality filter on
// every field. It does not apply when any field is blank on the local user.
type UsersFilter struct {
	Label  string
	Fields []UserField
}

// Name implements IdentityStrategy
func (f UsersFilter) Name() string { return f.Label }

// Where renders the Users where clause for u, or false when a field is blank
func (f UsersFilter) Where(u *models.User) (string, bool) {
	clauses := make([]string, 0, len(f.Fields))
	for _, field := range f.Fields {
		v := field.value(u)
		if v == "" {
			return "", false
		}
		clauses = append(clauses, fmt.Sprintf(`%s=="%s"`, field.xeroName(), escapeFilterValue(v)))
	}
	return strings.Join(clauses, " AND "), len(clauses) > 0
}

// Find implements IdentityStrategy. The first returned user wins; several
// users sharing the filtered attributes are not disambiguated.
func (f UsersFilter) Find(ctx context.Context, client *xero.APIClient, u *models.User) (*xero.User, error) {
	where, ok := f.Where(u)
	if !ok {
		return nil, nil
	}
	users, err := client.Users(ctx, where)
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, nil
	}
	return &users[0], nil
}

func escapeFilterValue(v string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(v)
}

// DefaultIdentityStrategies matches on email and full name, then on email alone
func DefaultIdentityStrategies() []IdentityStrategy {
	return []IdentityStrategy{
		UsersFilter{Label: "email_and_name", Fields: []UserField{FieldEmail, FieldFirstName, FieldLastName}},
		UsersFilter{Label: "email", Fields: []UserField{FieldEmail}},
	}
}

// FirstMatch runs strategies in order and returns the first match. A provider
// failure stops the search.
func FirstMatch(ctx context.Context, client *xero.APIClient, u *models.User, strategies ...IdentityStrategy) (*xero.User, error) {
	for _, strategy := range strategies {
		found, err := strategy.Find(ctx, client, u)
		if err != nil {
			return nil, fmt.Errorf("%w: identity strategy %s: %w", ErrProvider, strategy.Name(), err)
		}
		if found != nil {
			return found, nil
		}
	}
	return nil, nil
}

// GuessProviderIdentity looks for the Xero user behind u. The result is
// advisory: nil means no strategy matched, and nothing is stored.
func (s *Service) GuessProviderIdentity(ctx context.Context, link *models.AccountLink, u *models.User) (*xero.User, error) {
	client, err := s.APIClient(link)
	if err != nil {
		return nil, err
	}
	return FirstMatch(ctx, client, u, s.strategies...)
}

// GuessProjectsIdentity walks the projects users listing for an entry with
// u's email, stopping at the last reported page. A match is stored as the
// user's projects identifier.
func (s *Service) GuessProjectsIdentity(ctx context.Context, link *models.AccountLink, u *models.User) (*xero.ProjectsUser, error) {
	email := FieldEmail.value(u)
	if email == "" {
		return nil, ErrMissingEmail
	}
	client, err := s.APIClient(link)
	if err != nil {
		return nil, err
	}

	for page := 1; ; page++ {
		result, err := client.ProjectsUsers(ctx, page, s.projectsPageSize)
		if err != nil {
			return nil, fmt.Errorf("%w: projects users page %d: %w", ErrProvider, page, err)
		}
		for i := range result.Items {
			item := &result.Items[i]
			if !strings.EqualFold(strings.TrimSpace(item.Email), email) {
				continue
			}
			linkID := link.ID
			if err := s.projects.UpsertProjectsUser(ctx, &models.ProjectsUser{
				UserID:         u.ID,
				AccountLinkID:  &linkID,
				ProjectsUserID: item.UserID,
			}); err != nil {
				return nil, fmt.Errorf("store projects user: %w", err)
			}
			return item, nil
		}
		if len(result.Items) == 0 || page >= result.Pagination.PageCount {
			return nil, nil
		}
	}
}
