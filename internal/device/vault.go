package device

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/secretbox"
)

var ErrDecrypt = errors.New("vault: cannot decrypt value")

const vaultPrefix = "v1:"

// Vault seals short local secrets (tokens, PINs) with a key bound to this
// machine. Values copied to another machine do not open.
type Vault struct {
	key [32]byte
}

func NewVault(machineID string) (*Vault, error) {
	if strings.TrimSpace(machineID) == "" {
		return nil, errors.New("vault: empty machine id")
	}
	v := &Vault{}
	r := hkdf.New(sha256.New, []byte(machineID), []byte("pos-terminal/vault/v1"), []byte("local-secrets"))
	if _, err := io.ReadFull(r, v.key[:]); err != nil {
		return nil, fmt.Errorf("vault: derive key: %w", err)
	}
	return v, nil
}

func (v *Vault) Encrypt(plaintext string) (string, error) {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("vault: nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &v.key)
	return vaultPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

func (v *Vault) Decrypt(ciphertext string) (string, error) {
	raw, ok := strings.CutPrefix(strings.TrimSpace(ciphertext), vaultPrefix)
	if !ok {
		return "", ErrDecrypt
	}
	b, err := base64.StdEncoding.DecodeString(raw)
	if err != nil || len(b) < 24+secretbox.Overhead {
		return "", ErrDecrypt
	}
	var nonce [24]byte
	copy(nonce[:], b[:24])
	out, ok := secretbox.Open(nil, b[24:], &nonce, &v.key)
	if !ok {
		return "", ErrDecrypt
	}
	return string(out), nil
}
