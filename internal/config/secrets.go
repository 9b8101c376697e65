package config

import (
	"errors"
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Secrets holds sensitive configuration loaded from environment variables.
// They are never read from the config file or CLI flags, which show up in
// process listings.
type Secrets struct {
	// PIN unlocks pin-tier commands. Without it pin-tier commands fail.
	// Env: SHELLGATE_PIN
	PIN string `envconfig:"PIN"`

	// DBKey is the SQLCipher key for the audit database.
	// Env: SHELLGATE_DB_KEY
	DBKey string `envconfig:"DB_KEY"`
}

// LoadSecrets loads secrets from SHELLGATE_* environment variables
func LoadSecrets() (*Secrets, error) {
	var s Secrets
	if err := envconfig.Process("shellgate", &s); err != nil {
		return nil, fmt.Errorf("failed to load secrets from environment: %w", err)
	}
	return &s, nil
}

// ValidateDBKey validates the database encryption key if set
func (s *Secrets) ValidateDBKey() error {
	if s.DBKey != "" && len(s.DBKey) < 16 {
		return errors.New("database encryption key must be at least 16 characters")
	}
	return nil
}

// HasDBEncryption returns true if database encryption is configured
func (s *Secrets) HasDBEncryption() bool {
	return s.DBKey != ""
}

// HasPIN returns true if pin-tier approvals are possible
func (s *Secrets) HasPIN() bool {
	return s.PIN != ""
}

// String never prints secret values.
func (s *Secrets) String() string {
	mask := func(v string) string {
		if v == "" {
			return "(not set)"
		}
		return "****"
	}
	return fmt.Sprintf("{PIN: %s, DBKey: %s}", mask(s.PIN), mask(s.DBKey))
}
