package infra

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"

	"curfewd/internal/domain"
)

// auditKeyBytes is the SQLCipher key length. The key file stores it
// hex-encoded, the same form the database DSN consumes.
const auditKeyBytes = 32

// FileKeyProvider keeps the audit-database key in a file next to the
// database, readable only by the owning user. There is no recovery
// path: losing the file orphans the database, and a fresh key starts a
// fresh one.
type FileKeyProvider struct {
	path string
}

// NewFileKeyProvider creates a provider rooted at dataDir.
func NewFileKeyProvider(dataDir string) *FileKeyProvider {
	return &FileKeyProvider{path: filepath.Join(dataDir, "audit.key")}
}

// GetKey reads and decodes the stored key.
func (p *FileKeyProvider) GetKey() ([]byte, error) {
	raw, err := os.ReadFile(p.path)
	if err != nil {
		return nil, fmt.Errorf("read audit key: %w", err)
	}
	key, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("decode audit key: %w", err)
	}
	if len(key) != auditKeyBytes {
		return nil, fmt.Errorf("audit key is %d bytes, want %d", len(key), auditKeyBytes)
	}
	return key, nil
}

// StoreKey persists the key atomically with 0600 permissions. A crash
// mid-write can never leave a truncated key behind.
func (p *FileKeyProvider) StoreKey(key []byte) error {
	if len(key) != auditKeyBytes {
		return fmt.Errorf("audit key is %d bytes, want %d", len(key), auditKeyBytes)
	}
	if err := os.MkdirAll(filepath.Dir(p.path), 0700); err != nil {
		return fmt.Errorf("create key directory: %w", err)
	}
	encoded := hex.EncodeToString(key) + "\n"
	if err := renameio.WriteFile(p.path, []byte(encoded), 0600); err != nil {
		return fmt.Errorf("write audit key: %w", err)
	}
	return nil
}

// KeyExists reports whether a key file is present.
func (p *FileKeyProvider) KeyExists() bool {
	_, err := os.Stat(p.path)
	return err == nil
}

// EnsureKey returns the stored key, generating and persisting a fresh
// random one on first use.
func EnsureKey(provider domain.KeyProvider) ([]byte, error) {
	if provider.KeyExists() {
		return provider.GetKey()
	}
	key := make([]byte, auditKeyBytes)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate audit key: %w", err)
	}
	if err := provider.StoreKey(key); err != nil {
		return nil, err
	}
	return key, nil
}

var _ domain.KeyProvider = (*FileKeyProvider)(nil)
