// Package credential serves the device-scoped token the terminal uses for
// every remote call. Provisioning and refresh happen out-of-band; this
// package only reads the cached credential file and notices when it changes.
package credential

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"pos-sync-terminal/internal/logger"
)

var (
	ErrNoCredential = errors.New("device credential not provisioned")
	ErrExpired      = errors.New("device credential expired")
)

// Claims are the fields the terminal reads from its token. The signature is
// not checked here; the backend verifies every request.
type Claims struct {
	DeviceID string `json:"device_id"`
	TenantID string `json:"tenant_id"`
	BranchID string `json:"branch_id"`
	jwt.RegisteredClaims
}

type Sealer interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// Source reads the credential file lazily and re-reads it whenever its size
// or modification time changes.
type Source struct {
	path  string
	vault Sealer
	now   func() time.Time

	mu      sync.Mutex
	modTime time.Time
	size    int64
	token   string
	claims  *Claims
}

func NewSource(path string, vault Sealer) *Source {
	return &Source{path: path, vault: vault, now: time.Now}
}

// Token implements the remote client's token source.
func (s *Source) Token(ctx context.Context) (string, error) {
	tok, claims, err := s.load()
	if err != nil {
		return "", err
	}
	if claims.ExpiresAt != nil && !claims.ExpiresAt.After(s.now()) {
		return "", ErrExpired
	}
	return tok, nil
}

func (s *Source) Claims(ctx context.Context) (*Claims, error) {
	_, claims, err := s.load()
	if err != nil {
		return nil, err
	}
	c := *claims
	return &c, nil
}

func (s *Source) load() (string, *Claims, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := os.Stat(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.token, s.claims = "", nil
		return "", nil, ErrNoCredential
	}
	if err != nil {
		return "", nil, fmt.Errorf("stat credential: %w", err)
	}
	if s.claims != nil && info.ModTime().Equal(s.modTime) && info.Size() == s.size {
		return s.token, s.claims, nil
	}

	raw, err := os.ReadFile(s.path)
	if err != nil {
		return "", nil, fmt.Errorf("read credential: %w", err)
	}
	tok := strings.TrimSpace(string(raw))
	if s.vault != nil {
		if tok, err = s.vault.Decrypt(tok); err != nil {
			return "", nil, fmt.Errorf("open credential: %w", err)
		}
	}
	claims, err := ParseClaims(tok)
	if err != nil {
		return "", nil, err
	}

	s.token, s.claims = tok, claims
	s.modTime, s.size = info.ModTime(), info.Size()
	logger.L().Info("Device credential loaded",
		zap.String("device_id", claims.DeviceID),
		zap.String("tenant_id", claims.TenantID),
	)
	return tok, claims, nil
}

// ParseClaims decodes the token payload without verifying the signature.
func ParseClaims(token string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("parse credential: %w", err)
	}
	return claims, nil
}

// Save writes a token sealed by vault. It is used by the provisioning
// handshake, which lives outside the terminal core.
func Save(path, token string, vault Sealer) error {
	if _, err := ParseClaims(token); err != nil {
		return err
	}
	data := token
	if vault != nil {
		var err error
		if data, err = vault.Encrypt(token); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(data), 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
