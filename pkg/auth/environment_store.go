package auth

import (
	"os"
	"time"
)

// Environment variables read by EnvironmentStore
const (
	EnvCookie    = "BOARDSCRAPER_COOKIE"
	EnvCookieFor = "BOARDSCRAPER_COOKIE_HOST"
)

// EnvironmentStore is a read-only store backed by BOARDSCRAPER_COOKIE. When
// BOARDSCRAPER_COOKIE_HOST is set the cookie only applies to that host.
type EnvironmentStore struct{}

// NewEnvironmentStore creates a new environment-based credential store
func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

// Store is not supported for environment variables
func (e *EnvironmentStore) Store(cred *Credential) error {
	return ErrStoreUnavailable
}

// Retrieve returns the cookie from the environment
func (e *EnvironmentStore) Retrieve(host string) (*Credential, error) {
	cookie := os.Getenv(EnvCookie)
	if cookie == "" {
		return nil, ErrCredentialsNotFound
	}
	if only := os.Getenv(EnvCookieFor); only != "" && host != "" && NormalizeHost(only) != host {
		return nil, ErrCredentialsNotFound
	}
	if host == "" {
		host = "default"
	}

	return &Credential{
		Host:         host,
		Cookie:       cookie,
		LastModified: time.Now(),
	}, nil
}

// List returns the environment credential if one is set
func (e *EnvironmentStore) List() ([]*Credential, error) {
	host := NormalizeHost(os.Getenv(EnvCookieFor))
	cred, err := e.Retrieve(host)
	if err != nil {
		return []*Credential{}, nil
	}
	return []*Credential{cred}, nil
}

// Delete is not supported for environment variables
func (e *EnvironmentStore) Delete(host string) error {
	return ErrStoreUnavailable
}

// Exists checks if an environment cookie applies to host
func (e *EnvironmentStore) Exists(host string) bool {
	_, err := e.Retrieve(host)
	return err == nil
}
