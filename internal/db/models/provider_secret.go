package models

// ProviderSecret is one named, operator-managed credential. Value holds
// ciphertext; an empty Value means the secret has not been configured.
type ProviderSecret struct {
	Name  string `db:"name"`
	Value string `db:"value"`
	Label string `db:"label"`
}

// Well-known secret names seeded by the initial migration
const (
	SecretConsumerKey    = "xero_consumer_key"
	SecretConsumerSecret = "xero_consumer_secret"
)
