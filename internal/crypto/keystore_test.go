package crypto

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dcapilot/internal/domain"
)

func TestFileKeyStoreRoundTrip(t *testing.T) {
	store, err := NewFileKeyStore(t.TempDir(), "correct horse battery staple", slog.Default())
	require.NoError(t, err)

	addr, err := store.Generate(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, addr)

	key, err := store.Load(context.Background(), addr)
	require.NoError(t, err)
	assert.Equal(t, addr, ethcrypto.PubkeyToAddress(key.PublicKey).Hex())
}

func TestFileKeyStoreUnknownDelegate(t *testing.T) {
	store, err := NewFileKeyStore(t.TempDir(), "pw", slog.Default())
	require.NoError(t, err)

	_, err = store.Load(context.Background(), "0x0000000000000000000000000000000000000001")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestFileKeyStoreWrongPassword(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileKeyStore(dir, "right", slog.Default())
	require.NoError(t, err)
	addr, err := store.Generate(context.Background())
	require.NoError(t, err)

	wrong, err := NewFileKeyStore(dir, "wrong", slog.Default())
	require.NoError(t, err)
	_, err = wrong.Load(context.Background(), addr)
	assert.ErrorContains(t, err, "decryption failed")
}

func TestFileKeyStoreRejectsMismatchedFile(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileKeyStore(dir, "pw", slog.Default())
	require.NoError(t, err)
	addr, err := store.Generate(context.Background())
	require.NoError(t, err)

	// Rename the file to claim a different delegate; the derived address
	// check must catch the mismatch.
	other := "0x00000000000000000000000000000000000000ff"
	require.NoError(t, os.Rename(
		filepath.Join(dir, keyFileName(addr)),
		filepath.Join(dir, keyFileName(other)),
	))

	_, err = store.Load(context.Background(), other)
	assert.ErrorContains(t, err, "derives address")
}

func TestFileKeyStoreAddresses(t *testing.T) {
	store, err := NewFileKeyStore(t.TempDir(), "pw", slog.Default())
	require.NoError(t, err)

	listed, err := store.Addresses()
	require.NoError(t, err)
	assert.Empty(t, listed)

	a1, err := store.Generate(context.Background())
	require.NoError(t, err)
	a2, err := store.Generate(context.Background())
	require.NoError(t, err)

	listed, err = store.Addresses()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a1, a2}, listed)
}

func TestEmptyPasswordRejected(t *testing.T) {
	_, err := NewFileKeyStore(t.TempDir(), "", slog.Default())
	assert.Error(t, err)
}
