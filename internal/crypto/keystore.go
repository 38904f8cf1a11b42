// Package crypto manages the encrypted session keys that sign delegated
// transactions. Keys rest on disk under PBKDF2-derived AES-256-GCM and are
// decrypted transiently per use.
package crypto

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/pbkdf2"

	"github.com/alanyoungcy/dcapilot/internal/domain"
)

const (
	// pbkdf2Iterations is the OWASP-recommended minimum for HMAC-SHA256.
	pbkdf2Iterations = 480_000
	saltLen          = 16
	aesKeyLen        = 32
	// currentVersion is the encrypted-key JSON schema version.
	currentVersion = 1
)

// encryptedKeyJSON is the on-disk format of one session key. Address is
// stored alongside the ciphertext so the file can be matched to its delegate
// without decrypting it.
type encryptedKeyJSON struct {
	Version    int    `json:"version"`
	Address    string `json:"address"`
	Salt       string `json:"salt"`       // base64 standard encoding
	Nonce      string `json:"nonce"`      // base64 standard encoding
	Ciphertext string `json:"ciphertext"` // base64 standard encoding
}

// FileKeyStore keeps one encrypted key file per delegate address under a
// single directory, all sealed with the same service password.
type FileKeyStore struct {
	dir      string
	password string
	logger   *slog.Logger
}

var _ domain.SessionKeyStore = (*FileKeyStore)(nil)

// NewFileKeyStore creates a store over dir. The directory is created on
// first Generate; Load only reads.
func NewFileKeyStore(dir, password string, logger *slog.Logger) (*FileKeyStore, error) {
	if password == "" {
		return nil, errors.New("crypto: keystore password must not be empty")
	}
	return &FileKeyStore{
		dir:      dir,
		password: password,
		logger:   logger.With(slog.String("component", "keystore")),
	}, nil
}

// Load decrypts the session key for delegate. The returned key is freshly
// reconstructed on every call; callers must drop it after signing.
func (s *FileKeyStore) Load(ctx context.Context, delegate string) (*ecdsa.PrivateKey, error) {
	data, err := os.ReadFile(s.keyPath(delegate))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("crypto: no session key for %s: %w", delegate, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("crypto: reading key file for %s: %w", delegate, err)
	}

	keyBytes, err := decryptKey(data, s.password)
	if err != nil {
		return nil, err
	}
	defer zero(keyBytes)

	key, err := ethcrypto.ToECDSA(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("crypto: malformed key material for %s: %w", delegate, err)
	}

	derived := ethcrypto.PubkeyToAddress(key.PublicKey).Hex()
	if !strings.EqualFold(derived, delegate) {
		return nil, fmt.Errorf("crypto: key file for %s derives address %s", delegate, derived)
	}
	return key, nil
}

// Generate creates a fresh session key, seals it to disk, and returns the
// delegate address it controls.
func (s *FileKeyStore) Generate(ctx context.Context) (string, error) {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return "", fmt.Errorf("crypto: creating keystore dir: %w", err)
	}

	key, err := ethcrypto.GenerateKey()
	if err != nil {
		return "", fmt.Errorf("crypto: generating key: %w", err)
	}
	address := ethcrypto.PubkeyToAddress(key.PublicKey).Hex()

	keyBytes := ethcrypto.FromECDSA(key)
	defer zero(keyBytes)

	blob, err := encryptKey(keyBytes, address, s.password)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(s.keyPath(address), blob, 0o600); err != nil {
		return "", fmt.Errorf("crypto: writing key file: %w", err)
	}

	s.logger.Info("session key generated", slog.String("delegate", address))
	return address, nil
}

// Addresses lists the delegate addresses with a key file on disk, without
// decrypting anything.
func (s *FileKeyStore) Addresses() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("crypto: listing keystore: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			continue
		}
		var stored encryptedKeyJSON
		if err := json.Unmarshal(data, &stored); err != nil || stored.Address == "" {
			continue
		}
		out = append(out, stored.Address)
	}
	return out, nil
}

func (s *FileKeyStore) keyPath(delegate string) string {
	return filepath.Join(s.dir, keyFileName(delegate))
}

func keyFileName(delegate string) string {
	return strings.ToLower(delegate) + ".json"
}

// encryptKey seals 32 bytes of key material with a password using
// PBKDF2-HMAC-SHA256 derivation and AES-256-GCM.
func encryptKey(keyBytes []byte, address, password string) ([]byte, error) {
	if len(keyBytes) != 32 {
		return nil, fmt.Errorf("crypto: expected 32-byte key, got %d bytes", len(keyBytes))
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: generating salt: %w", err)
	}
	derivedKey := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeyLen, sha256.New)

	block, err := aes.NewCipher(derivedKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating GCM: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: generating nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, keyBytes, nil)

	out := encryptedKeyJSON{
		Version:    currentVersion,
		Address:    address,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
	}
	return json.MarshalIndent(out, "", "  ")
}

// decryptKey opens a blob produced by encryptKey and returns the raw key
// bytes. The caller owns zeroizing the result.
func decryptKey(blob []byte, password string) ([]byte, error) {
	var stored encryptedKeyJSON
	if err := json.Unmarshal(blob, &stored); err != nil {
		return nil, fmt.Errorf("crypto: parsing key file: %w", err)
	}
	if stored.Version != currentVersion {
		return nil, fmt.Errorf("crypto: unsupported key file version %d", stored.Version)
	}

	salt, err := base64.StdEncoding.DecodeString(stored.Salt)
	if err != nil {
		return nil, fmt.Errorf("crypto: decoding salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(stored.Nonce)
	if err != nil {
		return nil, fmt.Errorf("crypto: decoding nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(stored.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("crypto: decoding ciphertext: %w", err)
	}

	derivedKey := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeyLen, sha256.New)

	block, err := aes.NewCipher(derivedKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating GCM: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("crypto: decryption failed (wrong password?): %w", err)
	}
	return plaintext, nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
