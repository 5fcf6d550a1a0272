// Package crypt provides payload encryption for network channels.
// Both ends of a channel derive the same DES key from a shared secret
// string, so encrypted payloads survive the wire without a handshake.
package crypt

import (
	"crypto/des"
	"crypto/md5"
	"errors"
	"fmt"
)

var (
	ErrEmptySecret      = errors.New("secret is empty")
	ErrInvalidBlockSize = errors.New("ciphertext is not a multiple of the block size")
	ErrInvalidPadding   = errors.New("invalid padding")
)

// Cipher encrypts and decrypts message payloads
type Cipher interface {
	Encrypt(data []byte) ([]byte, error)
	Decrypt(data []byte) ([]byte, error)
}

// HashKey derives an 8-byte DES key from a secret string
func HashKey(secret string) []byte {
	h := md5.New()
	h.Write([]byte(secret))
	return h.Sum(nil)[:8]
}

// DESCipher implements Cipher using DES-ECB with PKCS5 padding
type DESCipher struct {
	key []byte
}

// NewDESCipher creates a cipher keyed from the shared secret
func NewDESCipher(secret string) (*DESCipher, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	return &DESCipher{key: HashKey(secret)}, nil
}

// Encrypt encrypts data, padding it to a whole number of blocks
func (d *DESCipher) Encrypt(data []byte) ([]byte, error) {
	block, err := des.NewCipher(d.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	// PKCS5: always pad, a full block when data is already aligned
	padLen := 8 - (len(data) % 8)
	padded := make([]byte, len(data)+padLen)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}

	encrypted := make([]byte, len(padded))
	for i := 0; i < len(padded); i += 8 {
		block.Encrypt(encrypted[i:i+8], padded[i:i+8])
	}

	return encrypted, nil
}

// Decrypt decrypts data and strips the padding
func (d *DESCipher) Decrypt(data []byte) ([]byte, error) {
	if len(data) == 0 || len(data)%8 != 0 {
		return nil, ErrInvalidBlockSize
	}

	block, err := des.NewCipher(d.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	decrypted := make([]byte, len(data))
	for i := 0; i < len(data); i += 8 {
		block.Decrypt(decrypted[i:i+8], data[i:i+8])
	}

	padLen := int(decrypted[len(decrypted)-1])
	if padLen <= 0 || padLen > 8 || padLen > len(decrypted) {
		return nil, ErrInvalidPadding
	}

	return decrypted[:len(decrypted)-padLen], nil
}
