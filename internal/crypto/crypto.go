// Package crypto implements the passphrase-framed AES-256-CBC envelope
// used to store branch database passwords, pgbouncer admin passwords and
// API keys at rest (§3 invariant 5), ported from the original
// src/api/crypto.py so existing encrypted rows keep decrypting.
package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5" //nolint:gosec // required to reproduce OpenSSL's EVP_BytesToKey
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/sethvargo/go-password/password"
)

const (
	saltedMagic = "Salted__"
	saltLen     = 8
	keyLen      = 32 // AES-256
	ivLen       = aes.BlockSize
)

var (
	// ErrMalformedCiphertext is returned when a ciphertext is too short
	// or does not carry the expected framing.
	ErrMalformedCiphertext = errors.New("crypto: malformed ciphertext")
	// ErrInvalidPadding is returned when PKCS7 unpadding fails, almost
	// always because the wrong passphrase was used.
	ErrInvalidPadding = errors.New("crypto: invalid padding")
)

// evpBytesToKey reproduces OpenSSL's EVP_BytesToKey with MD5, the
// derivation used by `openssl enc -aes-256-cbc` and therefore by the
// original Python implementation's `Crypto.Cipher` usage.
func evpBytesToKey(passphrase, salt []byte, keyLen, ivLen int) (key, iv []byte) {
	total := keyLen + ivLen
	var derived []byte
	var prev []byte
	for len(derived) < total {
		h := md5.New() //nolint:gosec
		h.Write(prev)
		h.Write(passphrase)
		h.Write(salt)
		prev = h.Sum(nil)
		derived = append(derived, prev...)
	}
	return derived[:keyLen], derived[keyLen:total]
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padding := bytes.Repeat([]byte{byte(padLen)}, padLen)
	return append(data, padding...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, ErrInvalidPadding
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > blockSize || padLen > len(data) {
		return nil, ErrInvalidPadding
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, ErrInvalidPadding
		}
	}
	return data[:len(data)-padLen], nil
}

// EncryptWithPassphrase encrypts plaintext under passphrase, producing an
// OpenSSL-compatible "Salted__" envelope, base64-encoded.
func EncryptWithPassphrase(plaintext, passphrase []byte) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("crypto: generating salt: %w", err)
	}

	key, iv := evpBytesToKey(passphrase, salt, keyLen, ivLen)

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("crypto: building cipher: %w", err)
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	envelope := make([]byte, 0, len(saltedMagic)+saltLen+len(ciphertext))
	envelope = append(envelope, []byte(saltedMagic)...)
	envelope = append(envelope, salt...)
	envelope = append(envelope, ciphertext...)

	return base64.StdEncoding.EncodeToString(envelope), nil
}

// DecryptWithPassphrase reverses EncryptWithPassphrase.
func DecryptWithPassphrase(encoded string, passphrase []byte) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("crypto: decoding base64: %w", err)
	}

	if len(raw) < len(saltedMagic)+saltLen || string(raw[:len(saltedMagic)]) != saltedMagic {
		return nil, ErrMalformedCiphertext
	}

	salt := raw[len(saltedMagic) : len(saltedMagic)+saltLen]
	ciphertext := raw[len(saltedMagic)+saltLen:]
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, ErrMalformedCiphertext
	}

	key, iv := evpBytesToKey(passphrase, salt, keyLen, ivLen)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: building cipher: %w", err)
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	return pkcs7Unpad(plaintext, aes.BlockSize)
}

// DecryptWithBase64Key decrypts the legacy envelope format used before
// the passphrase-framed scheme: a raw base64-encoded fixed key, no
// EVP_BytesToKey derivation, with the IV as the first AES block of the
// payload (src/api/crypto.py:decrypt_with_base64_key). Rows stored in
// this format are not re-encrypted by anything in this module;
// DecryptBranchSecret reports when this path was used.
func DecryptWithBase64Key(encoded string, base64Key string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, fmt.Errorf("crypto: decoding legacy key: %w", err)
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("crypto: decoding base64: %w", err)
	}

	if len(raw) < ivLen+aes.BlockSize {
		return nil, ErrMalformedCiphertext
	}

	iv := raw[:ivLen]
	ciphertext := raw[ivLen:]
	if len(ciphertext)%aes.BlockSize != 0 {
		return nil, ErrMalformedCiphertext
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: building legacy cipher: %w", err)
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	return pkcs7Unpad(plaintext, aes.BlockSize)
}

// GenerateRandomPassphrase returns a random passphrase of the given bit
// strength, matching generate_random_passphrase(bits=64) from the
// original implementation (default branch password / API key strength).
func GenerateRandomPassphrase(bits int) (string, error) {
	if bits <= 0 {
		bits = 64
	}
	numBytes := (bits + 7) / 8
	return password.Generate(numBytes*2, numBytes/2, 0, false, true)
}

// EncryptWithRandomPassphrase generates a random passphrase, encrypts
// plaintext with it, and returns both the envelope and the passphrase
// that must be stored alongside it (or handed back to the caller once,
// for API keys that are shown to the user a single time).
func EncryptWithRandomPassphrase(plaintext []byte, bits int) (envelope, passphrase string, err error) {
	passphrase, err = GenerateRandomPassphrase(bits)
	if err != nil {
		return "", "", err
	}
	envelope, err = EncryptWithPassphrase(plaintext, []byte(passphrase))
	if err != nil {
		return "", "", err
	}
	return envelope, passphrase, nil
}
