package cipher

import (
	"bytes"
	"crypto/aes"
	"crypto/md5"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/avoronov/qrvault/internal/kdf"
)

// EncryptMnemonic protects the mnemonic phrase with a master password
// (current format): the key is derived with scrypt over a fresh 32-byte
// salt, the payload is the space-joined phrase plus a 16-byte digest,
// padded and encrypted under CBC with a fresh 16-byte IV.
// Returns base64 (ciphertext, kdf salt, iv).
func EncryptMnemonic(words []string, masterPassword string) (enc, salt1, salt2 string, err error) {
	key, salt, err := kdf.Derive([]byte(masterPassword), nil, kdf.CostInteractive)
	if err != nil {
		return "", "", "", fmt.Errorf("derive mnemonic key: %w", err)
	}
	defer kdf.Zero(key)

	plain := []byte(strings.Join(words, " "))
	digest := md5.Sum(plain)
	plain = append(plain, digest[:]...)
	padded := pad(plain, aes.BlockSize)

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", "", "", fmt.Errorf("generate iv: %w", err)
	}

	ct, err := encryptCBC(padded, key, iv)
	if err != nil {
		return "", "", "", err
	}

	return base64.StdEncoding.EncodeToString(ct),
		base64.StdEncoding.EncodeToString(salt),
		base64.StdEncoding.EncodeToString(iv), nil
}

// DecryptMnemonic reverses EncryptMnemonic. A digest mismatch (or any
// malformation caused by a bad key) fails with ErrWrongPassword so the
// caller can re-prompt instead of treating the vault as corrupt.
func DecryptMnemonic(enc, salt1, salt2, masterPassword string) ([]string, error) {
	ct, err := base64.StdEncoding.DecodeString(enc)
	if err != nil {
		return nil, fmt.Errorf("%w: bad ciphertext encoding: %v", ErrCorruption, err)
	}
	salt, err := base64.StdEncoding.DecodeString(salt1)
	if err != nil {
		return nil, fmt.Errorf("%w: bad salt encoding: %v", ErrCorruption, err)
	}
	iv, err := base64.StdEncoding.DecodeString(salt2)
	if err != nil {
		return nil, fmt.Errorf("%w: bad iv encoding: %v", ErrCorruption, err)
	}

	key, _, err := kdf.Derive([]byte(masterPassword), salt, kdf.CostInteractive)
	if err != nil {
		return nil, fmt.Errorf("derive mnemonic key: %w", err)
	}
	defer kdf.Zero(key)

	padded, err := decryptCBC(ct, key, iv)
	if err != nil {
		return nil, err
	}
	plain, err := unpad(padded, aes.BlockSize)
	if err != nil {
		// A wrong key produces garbage padding long before a digest check.
		return nil, fmt.Errorf("%w: %v", ErrWrongPassword, err)
	}
	if len(plain) < digestLen {
		return nil, ErrWrongPassword
	}

	body := plain[:len(plain)-digestLen]
	want := plain[len(plain)-digestLen:]
	got := md5.Sum(body)
	if !bytes.Equal(got[:], want) {
		return nil, ErrWrongPassword
	}

	return strings.Split(string(body), " "), nil
}

// DecryptMnemonicLegacy decrypts a pre-2.0 mnemonic: the key is the last 16
// bytes of a double SHA-256 of the master password, there is no KDF salt
// and no digest. Kept only so old vaults stay openable; callers must
// immediately re-encrypt with EncryptMnemonic.
func DecryptMnemonicLegacy(enc, iv, masterPassword string) ([]string, error) {
	ct, err := base64.StdEncoding.DecodeString(enc)
	if err != nil {
		return nil, fmt.Errorf("%w: bad ciphertext encoding: %v", ErrCorruption, err)
	}
	ivBytes, err := base64.StdEncoding.DecodeString(iv)
	if err != nil {
		return nil, fmt.Errorf("%w: bad iv encoding: %v", ErrCorruption, err)
	}

	first := sha256.Sum256([]byte(masterPassword))
	second := sha256.Sum256(first[:])
	key := second[sha256.Size-16:]

	padded, err := decryptCBC(ct, key, ivBytes)
	if err != nil {
		return nil, err
	}
	plain, err := unpad(padded, aes.BlockSize)
	if err != nil {
		// No digest in the legacy format: bad padding is the only signal.
		return nil, fmt.Errorf("%w: %v", ErrWrongPassword, err)
	}
	if len(plain) == 0 {
		return nil, ErrWrongPassword
	}

	return strings.Split(string(plain), " "), nil
}

// IsAuthFailure reports whether err means the supplied password or key was
// wrong, as opposed to the stored data being damaged.
func IsAuthFailure(err error) bool {
	return errors.Is(err, ErrWrongPassword) || errors.Is(err, ErrIntegrity)
}
