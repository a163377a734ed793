package keys

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

const (
	saltSize      = 32
	masterKeySize = 32
)

// Context labels partition the fingerprint and ciphertext domains so that a
// key derived for one cache tier can never be replayed against another.
const (
	ContextToken   = "token-validation"
	ContextSession = "user-session"
)

var (
	// ErrCiphertextTampered indicates authenticated decryption failed. The
	// payload was modified, truncated, or encrypted under a different key or
	// context. Always terminal; never recovered silently.
	ErrCiphertextTampered = errors.New("ciphertext integrity check failed")
	// ErrInvalidMasterKey indicates the configured master key has the wrong size.
	ErrInvalidMasterKey = errors.New("master key must be 32 bytes")
)

// Fingerprinter derives collision-resistant, non-reversible cache keys from
// raw credentials using a per-process secret salt.
type Fingerprinter struct {
	salt [saltSize]byte
}

// NewFingerprinter creates a [Fingerprinter] with a fresh random salt.
// Fingerprints are stable within the process and unguessable outside it.
func NewFingerprinter() (*Fingerprinter, error) {
	f := &Fingerprinter{}
	if _, err := rand.Read(f.salt[:]); err != nil {
		return nil, fmt.Errorf("fingerprint salt generation failed: %w", err)
	}
	return f, nil
}

// Fingerprint returns the hex-encoded 256-bit digest of the raw credential
// bound to subjectID under the given context label.
func (f *Fingerprinter) Fingerprint(context, subjectID, rawToken string) string {
	mac := hmac.New(sha256.New, f.salt[:])
	mac.Write([]byte(context))
	mac.Write([]byte{0})
	mac.Write([]byte(subjectID))
	mac.Write([]byte{0})
	mac.Write([]byte(rawToken))
	return hex.EncodeToString(mac.Sum(nil))
}

// Cipher performs authenticated encryption of cached payloads with
// AES-256-GCM. Instances are safe for concurrent use.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher creates a [Cipher] from a 32-byte master key. A nil or empty key
// generates a fresh per-process key, which makes encrypted cache entries
// unreadable by other processes and across restarts.
func NewCipher(masterKey []byte) (*Cipher, error) {
	if len(masterKey) == 0 {
		masterKey = make([]byte, masterKeySize)
		if _, err := rand.Read(masterKey); err != nil {
			return nil, fmt.Errorf("master key generation failed: %w", err)
		}
	}
	if len(masterKey) != masterKeySize {
		return nil, ErrInvalidMasterKey
	}

	block, err := aes.NewCipher(masterKey)
	if err != nil {
		return nil, fmt.Errorf("cipher init failed: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm init failed: %w", err)
	}

	return &Cipher{aead: aead}, nil
}

// Encrypt seals plaintext under the given context label. The random nonce is
// prepended to the returned ciphertext.
func (c *Cipher) Encrypt(plaintext []byte, context string) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("nonce generation failed: %w", err)
	}
	return c.aead.Seal(nonce, nonce, plaintext, []byte(context)), nil
}

// Decrypt opens ciphertext produced by [Cipher.Encrypt] under the same
// context label. Returns [ErrCiphertextTampered] on any integrity failure.
func (c *Cipher) Decrypt(ciphertext []byte, context string) ([]byte, error) {
	if len(ciphertext) < c.aead.NonceSize() {
		return nil, ErrCiphertextTampered
	}

	nonce := ciphertext[:c.aead.NonceSize()]
	sealed := ciphertext[c.aead.NonceSize():]

	plaintext, err := c.aead.Open(nil, nonce, sealed, []byte(context))
	if err != nil {
		return nil, ErrCiphertextTampered
	}
	return plaintext, nil
}
