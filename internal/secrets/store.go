// Package secrets provides the provider credentials the authorization flow
// needs. The production store keeps them encrypted in the provider_secrets
// table.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/xerolink/xerolink/internal/crypto"
	"github.com/xerolink/xerolink/internal/db/models"
	"github.com/xerolink/xerolink/internal/xero"
)

// ErrNotConfigured is returned when a required secret has no value
var ErrNotConfigured = errors.New("secrets: required provider secret is not configured")

// Required lists the secrets that must be set before any flow can start
var Required = []string{models.SecretConsumerKey, models.SecretConsumerSecret}

var defaultLabels = map[string]string{
	models.SecretConsumerKey:    "Consumer Key",
	models.SecretConsumerSecret: "Consumer Secret",
}

// Store reads named secrets. Get returns "" for a secret that exists but is unset.
type Store interface {
	Get(ctx context.Context, name string) (string, error)
}

// Entry describes a stored secret without revealing its value
type Entry struct {
	Name       string
	Label      string
	Configured bool
}

// Repository is the persistence DBStore needs
type Repository interface {
	GetSecret(ctx context.Context, name string) (*models.ProviderSecret, error)
	ListSecrets(ctx context.Context) ([]*models.ProviderSecret, error)
	SetSecretValue(ctx context.Context, name, value, label string) error
}

// DBStore is a Store over encrypted provider_secrets rows
type DBStore struct {
	repo   Repository
	cipher *crypto.TokenCipher
}

// NewDBStore creates a DBStore
func NewDBStore(repo Repository, cipher *crypto.TokenCipher) *DBStore {
	return &DBStore{repo: repo, cipher: cipher}
}

// Get returns the decrypted value of name
func (s *DBStore) Get(ctx context.Context, name string) (string, error) {
	row, err := s.repo.GetSecret(ctx, name)
	if err != nil {
		return "", fmt.Errorf("secrets: load %s: %w", name, err)
	}
	if row == nil || row.Value == "" {
		return "", nil
	}
	value, err := s.cipher.Open(row.Value)
	if err != nil {
		return "", fmt.Errorf("secrets: decrypt %s: %w", name, err)
	}
	return value, nil
}

// Set encrypts and stores value under name
func (s *DBStore) Set(ctx context.Context, name, value string) error {
	sealed, err := s.cipher.Seal(value)
	if err != nil {
		return fmt.Errorf("secrets: encrypt %s: %w", name, err)
	}
	label := defaultLabels[name]
	if label == "" {
		label = name
	}
	return s.repo.SetSecretValue(ctx, name, sealed, label)
}

// List returns every stored secret, flagging which have values
func (s *DBStore) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.repo.ListSecrets(ctx)
	if err != nil {
		return nil, fmt.Errorf("secrets: list: %w", err)
	}
	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, Entry{Name: row.Name, Label: row.Label, Configured: row.Value != ""})
	}
	return entries, nil
}

// ProviderCredentials is the typed view of the required secrets
type ProviderCredentials struct {
	ConsumerKey    string
	ConsumerSecret string
}

// Consumer returns the OAuth consumer pair
func (p ProviderCredentials) Consumer() xero.Consumer {
	return xero.Consumer{Key: p.ConsumerKey, Secret: p.ConsumerSecret}
}

// LoadProviderCredentials reads every required secret. The error names all
// missing secrets at once so an operator can fix them in one pass.
func LoadProviderCredentials(ctx context.Context, store Store) (ProviderCredentials, error) {
	values := make(map[string]string, len(Required))
	var missing []string
	for _, name := range Required {
		v, err := store.Get(ctx, name)
		if err != nil {
			return ProviderCredentials{}, err
		}
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
		values[name] = v
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return ProviderCredentials{}, fmt.Errorf("%w: %s", ErrNotConfigured, strings.Join(missing, ", "))
	}
	return ProviderCredentials{
		ConsumerKey:    values[models.SecretConsumerKey],
		ConsumerSecret: values[models.SecretConsumerSecret],
	}, nil
}
