package auth

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"
)

// Credential is the session cookie used for one API host
type Credential struct {
	Host         string    `json:"host"`
	Cookie       string    `json:"cookie"`
	UserAgent    string    `json:"user_agent,omitempty"`
	LastModified time.Time `json:"last_modified"`
}

// CredentialStore is the interface for storing and retrieving credentials
type CredentialStore interface {
	// Store saves the credential for its host
	Store(cred *Credential) error

	// Retrieve gets the credential for host
	Retrieve(host string) (*Credential, error)

	// List returns all stored credentials
	List() ([]*Credential, error)

	// Delete removes the credential for host
	Delete(host string) error

	// Exists checks if a credential exists for host
	Exists(host string) bool
}

// Manager tries its stores in order: system keychain, encrypted file,
// environment.
type Manager struct {
	stores []CredentialStore
}

// NewManager creates a credential manager with every available backend
func NewManager() (*Manager, error) {
	var stores []CredentialStore

	if keyringStore, err := NewKeyringStore(); err == nil {
		stores = append(stores, keyringStore)
	}

	configDir, err := ConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}
	encryptedStore, err := NewEncryptedFileStore(filepath.Join(configDir, "credentials.enc"))
	if err != nil {
		return nil, fmt.Errorf("failed to create encrypted store: %w", err)
	}
	stores = append(stores, encryptedStore, NewEnvironmentStore())

	return &Manager{stores: stores}, nil
}

// NewManagerWithStores creates a manager over explicit stores
func NewManagerWithStores(stores ...CredentialStore) *Manager {
	return &Manager{stores: stores}
}

// Store saves the credential in the first store that accepts it
func (m *Manager) Store(cred *Credential) error {
	if cred == nil || cred.Host == "" {
		return errors.New("host is required")
	}
	if strings.TrimSpace(cred.Cookie) == "" {
		return errors.New("cookie is required")
	}
	cred.Host = NormalizeHost(cred.Host)
	cred.LastModified = time.Now()

	var lastErr error
	for _, store := range m.stores {
		err := store.Store(cred)
		if err == nil {
			return nil
		}
		lastErr = err
	}

	if lastErr != nil {
		return fmt.Errorf("failed to store credentials: %w", lastErr)
	}
	return errors.New("no available credential stores")
}

// Retrieve gets the credential for host from the first store that has it
func (m *Manager) Retrieve(host string) (*Credential, error) {
	host = NormalizeHost(host)
	for _, store := range m.stores {
		if cred, err := store.Retrieve(host); err == nil && cred != nil {
			return cred, nil
		}
	}
	return nil, fmt.Errorf("%w for host: %s", ErrCredentialsNotFound, host)
}

// CookieFor returns the stored cookie for the host of endpoint
func (m *Manager) CookieFor(endpoint string) (string, error) {
	host, err := HostOf(endpoint)
	if err != nil {
		return "", err
	}
	cred, err := m.Retrieve(host)
	if err != nil {
		return "", err
	}
	return cred.Cookie, nil
}

// List returns the newest credential per host across all stores
func (m *Manager) List() ([]*Credential, error) {
	byHost := make(map[string]*Credential)

	for _, store := range m.stores {
		creds, err := store.List()
		if err != nil {
			continue
		}
		for _, cred := range creds {
			if existing, ok := byHost[cred.Host]; !ok || cred.LastModified.After(existing.LastModified) {
				byHost[cred.Host] = cred
			}
		}
	}

	result := make([]*Credential, 0, len(byHost))
	for _, cred := range byHost {
		result = append(result, cred)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Host < result[j].Host })
	return result, nil
}

// Delete removes the credential for host from every store
func (m *Manager) Delete(host string) error {
	host = NormalizeHost(host)
	var deleted bool
	var lastErr error

	for _, store := range m.stores {
		if err := store.Delete(host); err == nil {
			deleted = true
		} else {
			lastErr = err
		}
	}

	if !deleted && lastErr != nil && !errors.Is(lastErr, ErrCredentialsNotFound) && !errors.Is(lastErr, ErrStoreUnavailable) {
		return fmt.Errorf("failed to delete credentials: %w", lastErr)
	}
	if !deleted {
		return fmt.Errorf("%w for host: %s", ErrCredentialsNotFound, host)
	}
	return nil
}

// HostOf extracts the host (with port, if any) of an endpoint URL
func HostOf(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("endpoint %q has no host", endpoint)
	}
	return NormalizeHost(u.Host), nil
}

// NormalizeHost lowercases host and strips a scheme or path if one was given
func NormalizeHost(host string) string {
	host = strings.TrimSpace(strings.ToLower(host))
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	if i := strings.IndexByte(host, '/'); i >= 0 {
		host = host[:i]
	}
	return host
}

// ConfigDir returns the per-user boardscraper config directory, creating it
func ConfigDir() (string, error) {
	var configDir string

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		configDir = filepath.Join(home, "Library", "Application Support", "boardscraper")
	case "windows":
		configDir = filepath.Join(os.Getenv("APPDATA"), "boardscraper")
	default:
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			configDir = filepath.Join(xdgConfig, "boardscraper")
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			configDir = filepath.Join(home, ".config", "boardscraper")
		}
	}

	if err := os.MkdirAll(configDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	return configDir, nil
}

// Sanitize returns a copy of cred with the cookie masked
func Sanitize(cred *Credential) *Credential {
	if cred == nil {
		return nil
	}
	masked := *cred
	masked.Cookie = MaskString(cred.Cookie)
	return &masked
}

// MaskString masks all but the first 4 and last 4 characters of a string
func MaskString(s string) string {
	if len(s) <= 8 {
		return "********"
	}
	return s[:4] + "..." + s[len(s)-4:]
}

// Errors
var (
	ErrCredentialsNotFound = errors.New("credentials not found")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrStoreUnavailable    = errors.New("credential store unavailable")
)
