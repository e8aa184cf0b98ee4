package store

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"
)

// sealCheckKey holds an encrypted canary. Unsealing with a wrong master key
// fails to decrypt it instead of silently serving garbage.
const sealCheckKey = "core/seal-check"

var sealCheckValue = []byte("arvon-barrier-v1")

// Barrier guards a physical Store behind a seal. All access fails with
// ErrSealed until Unseal is called with the master key; values are
// AES-GCM encrypted at rest under a key derived from the master key.
//
// The seal is a guarded resource, not a global flag: tests construct
// sealed and unsealed barriers independently.
type Barrier struct {
	inner Store

	mu   sync.RWMutex
	aead cipher.AEAD
}

var _ Store = (*Barrier)(nil)

func NewBarrier(inner Store) *Barrier {
	return &Barrier{inner: inner}
}

// Sealed reports whether the barrier currently rejects access.
func (b *Barrier) Sealed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.aead == nil
}

// Unseal derives the encryption key from masterKey and unlocks the barrier.
// On first use it writes the seal-check canary; afterwards it verifies the
// canary and rejects wrong keys. Unsealing an unsealed barrier is a no-op.
func (b *Barrier) Unseal(ctx context.Context, masterKey []byte) error {
	if len(masterKey) == 0 {
		return fmt.Errorf("master key must not be empty")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.aead != nil {
		return nil
	}

	derived := sha256.Sum256(masterKey)
	block, err := aes.NewCipher(derived[:])
	if err != nil {
		return fmt.Errorf("initializing cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("initializing gcm: %w", err)
	}

	entry, err := b.inner.Get(ctx, sealCheckKey)
	switch {
	case err == nil:
		plain, err := decrypt(aead, entry.Value)
		if err != nil || string(plain) != string(sealCheckValue) {
			return fmt.Errorf("invalid master key")
		}
	case errors.Is(err, ErrNotFound):
		sealed, err := encrypt(aead, sealCheckValue)
		if err != nil {
			return fmt.Errorf("writing seal check: %w", err)
		}
		if _, err := b.inner.Put(ctx, sealCheckKey, sealed, 0); err != nil {
			return fmt.Errorf("writing seal check: %w", err)
		}
	default:
		return fmt.Errorf("reading seal check: %w", err)
	}

	b.aead = aead
	return nil
}

// Seal locks the barrier again and drops the derived key.
func (b *Barrier) Seal() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.aead = nil
}

func (b *Barrier) cipher() (cipher.AEAD, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.aead == nil {
		return nil, ErrSealed
	}
	return b.aead, nil
}

func (b *Barrier) Get(ctx context.Context, key string) (*Entry, error) {
	aead, err := b.cipher()
	if err != nil {
		return nil, err
	}
	entry, err := b.inner.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	plain, err := decrypt(aead, entry.Value)
	if err != nil {
		return nil, fmt.Errorf("decrypting '%s': %w", key, err)
	}
	entry.Value = plain
	return entry, nil
}

func (b *Barrier) Put(ctx context.Context, key string, value []byte, cas uint64) (uint64, error) {
	aead, err := b.cipher()
	if err != nil {
		return 0, err
	}
	sealed, err := encrypt(aead, value)
	if err != nil {
		return 0, fmt.Errorf("encrypting '%s': %w", key, err)
	}
	return b.inner.Put(ctx, key, sealed, cas)
}

func (b *Barrier) Delete(ctx context.Context, key string, cas uint64) error {
	if _, err := b.cipher(); err != nil {
		return err
	}
	return b.inner.Delete(ctx, key, cas)
}

func (b *Barrier) List(ctx context.Context, prefix string) ([]string, error) {
	if _, err := b.cipher(); err != nil {
		return nil, err
	}
	keys, err := b.inner.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	// the canary is barrier-internal and not part of the logical keyspace
	filtered := keys[:0]
	for _, k := range keys {
		if k != sealCheckKey {
			filtered = append(filtered, k)
		}
	}
	return filtered, nil
}

func encrypt(aead cipher.AEAD, plain []byte) ([]byte, error) {
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plain, nil), nil
}

func decrypt(aead cipher.AEAD, sealed []byte) ([]byte, error) {
	if len(sealed) < aead.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	return aead.Open(nil, nonce, ciphertext, nil)
}
