package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/zalando/go-keyring"
)

const (
	serviceName = "issuesync"
)

// Credentials is a stored API token.
type Credentials struct {
	Token   string    `json:"token"`
	SavedAt time.Time `json:"saved_at"`
}

// Store handles credential storage, preferring the system keychain.
type Store struct {
	useKeyring  bool
	fallbackDir string
}

// NewStore creates a credential store.
func NewStore(fallbackDir string) *Store {
	// Skip keyring for tests or when explicitly disabled
	if os.Getenv("ISSUESYNC_NO_KEYRING") != "" {
		return &Store{useKeyring: false, fallbackDir: fallbackDir}
	}

	// Test if keyring is available
	testKey := "issuesync::test"
	err := keyring.Set(serviceName, testKey, "test")
	if err == nil {
		_ = keyring.Delete(serviceName, testKey) // Best-effort cleanup
		return &Store{useKeyring: true, fallbackDir: fallbackDir}
	}
	fmt.Fprintf(os.Stderr, "warning: system keyring unavailable, token stored in plaintext at %s\n",
		filepath.Join(fallbackDir, "credentials.json"))
	return &Store{useKeyring: false, fallbackDir: fallbackDir}
}

// key returns the keyring key for an API host.
func key(host string) string {
	return fmt.Sprintf("issuesync::%s", host)
}

// Load retrieves the credentials for host. Returns ErrNoToken when none are stored.
func (s *Store) Load(host string) (*Credentials, error) {
	if s.useKeyring {
		return s.loadFromKeyring(host)
	}
	return s.loadFromFile(host)
}

// Save stores credentials for host.
func (s *Store) Save(host string, creds *Credentials) error {
	if s.useKeyring {
		return s.saveToKeyring(host, creds)
	}
	return s.saveToFile(host, creds)
}

// Delete removes the credentials for host. Deleting missing credentials is not an error.
func (s *Store) Delete(host string) error {
	if s.useKeyring {
		err := keyring.Delete(serviceName, key(host))
		if errors.Is(err, keyring.ErrNotFound) {
			return nil
		}
		return err
	}
	return s.deleteFile(host)
}

// UsingKeyring returns true if the store is using the system keyring.
func (s *Store) UsingKeyring() bool {
	return s.useKeyring
}

// Backend names where tokens live.
func (s *Store) Backend() string {
	if s.useKeyring {
		return "keyring"
	}
	return "file"
}

func (s *Store) loadFromKeyring(host string) (*Credentials, error) {
	data, err := keyring.Get(serviceName, key(host))
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, ErrNoToken
		}
		return nil, fmt.Errorf("reading keyring: %w", err)
	}

	var creds Credentials
	if err := json.Unmarshal([]byte(data), &creds); err != nil {
		return nil, fmt.Errorf("invalid credentials: %w", err)
	}
	return &creds, nil
}

func (s *Store) saveToKeyring(host string, creds *Credentials) error {
	data, err := json.Marshal(creds)
	if err != nil {
		return err
	}
	return keyring.Set(serviceName, key(host), string(data))
}

// File fallback

func (s *Store) credentialsPath() string {
	return filepath.Join(s.fallbackDir, "credentials.json")
}

func (s *Store) loadAllFromFile() (map[string]*Credentials, error) {
	data, err := os.ReadFile(s.credentialsPath())
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]*Credentials), nil
		}
		return nil, err
	}

	var all map[string]*Credentials
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	if all == nil {
		all = make(map[string]*Credentials)
	}
	return all, nil
}

func (s *Store) saveAllToFile(all map[string]*Credentials) error {
	if err := os.MkdirAll(s.fallbackDir, 0700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return err
	}

	tmpFile, err := os.CreateTemp(s.fallbackDir, "credentials-*.json.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmpFile.Chmod(0600); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	destPath := s.credentialsPath()
	if err := os.Rename(tmpPath, destPath); err != nil {
		if runtime.GOOS == "windows" {
			_ = os.Remove(destPath)
			return os.Rename(tmpPath, destPath)
		}
		os.Remove(tmpPath)
		return err
	}
	return nil
}

func (s *Store) loadFromFile(host string) (*Credentials, error) {
	all, err := s.loadAllFromFile()
	if err != nil {
		return nil, err
	}

	creds, ok := all[host]
	if !ok || creds == nil || creds.Token == "" {
		return nil, ErrNoToken
	}
	return creds, nil
}

func (s *Store) saveToFile(host string, creds *Credentials) error {
	all, err := s.loadAllFromFile()
	if err != nil {
		return err
	}

	all[host] = creds
	return s.saveAllToFile(all)
}

func (s *Store) deleteFile(host string) error {
	all, err := s.loadAllFromFile()
	if err != nil {
		return err
	}
	if _, ok := all[host]; !ok {
		return nil
	}

	delete(all, host)
	return s.saveAllToFile(all)
}
