package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/and161185/todo-keeper/internal/errs"
)

// MasterKeyLen is the required length of the field encryption master key.
const MasterKeyLen = 32

const (
	infoEnc = "field-enc"
	infoIdx = "field-idx"
)

// FieldCipher encrypts individual string fields for storage and derives blind indexes
// so encrypted columns can still be looked up and constrained as unique.
type FieldCipher struct {
	encKey []byte
	idxKey []byte
}

// NewFieldCipher derives independent encryption and index subkeys from masterKey via HKDF-SHA256.
func NewFieldCipher(masterKey []byte) (*FieldCipher, error) {
	if len(masterKey) != MasterKeyLen {
		return nil, fmt.Errorf("master key must be %d bytes, got %d: %w", MasterKeyLen, len(masterKey), errs.ErrCrypto)
	}
	encKey, err := deriveKey(masterKey, infoEnc)
	if err != nil {
		return nil, err
	}
	idxKey, err := deriveKey(masterKey, infoIdx)
	if err != nil {
		return nil, err
	}
	return &FieldCipher{encKey: encKey, idxKey: idxKey}, nil
}

func deriveKey(master []byte, info string) ([]byte, error) {
	r := hkdf.New(sha256.New, master, nil, []byte(info))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive %s: %w", info, errs.ErrCrypto)
	}
	return key, nil
}

// Encrypt seals plaintext with XChaCha20-Poly1305 under a random nonce.
// Output is base64(nonce || ciphertext).
func (c *FieldCipher) Encrypt(plaintext string) (string, error) {
	aead, err := chacha20poly1305.NewX(c.encKey)
	if err != nil {
		return "", fmt.Errorf("%v: %w", err, errs.ErrCrypto)
	}
	nonce, err := RandBytes(chacha20poly1305.NonceSizeX)
	if err != nil {
		return "", fmt.Errorf("nonce: %w", errs.ErrCrypto)
	}
	out := make([]byte, 0, len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, nonce...)
	out = aead.Seal(out, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt opens a value produced by Encrypt.
func (c *FieldCipher) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("decode: %w", errs.ErrCrypto)
	}
	aead, err := chacha20poly1305.NewX(c.encKey)
	if err != nil {
		return "", fmt.Errorf("%v: %w", err, errs.ErrCrypto)
	}
	if len(raw) < chacha20poly1305.NonceSizeX+aead.Overhead() {
		return "", fmt.Errorf("ciphertext too short: %w", errs.ErrCrypto)
	}
	nonce, ct := raw[:chacha20poly1305.NonceSizeX], raw[chacha20poly1305.NonceSizeX:]
	pt, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", fmt.Errorf("open: %w", errs.ErrCrypto)
	}
	return string(pt), nil
}

// Index returns a keyed HMAC-SHA256 of value. Equal inputs give equal indexes.
func (c *FieldCipher) Index(value string) []byte {
	m := hmac.New(sha256.New, c.idxKey)
	m.Write([]byte(value))
	return m.Sum(nil)
}
