// Package cipher seals and opens credential records and the recovery
// mnemonic. The wire format is fixed for interoperability: canonical compact
// JSON minus the enclosing braces, a trailing 16-byte MD5 tag, zlib level 9,
// PKCS#7 padding and AES-256-CBC, with everything base64-encoded.
//
// The MD5 tag is an integrity check, not a security boundary; authenticity
// comes from possession of the key.
package cipher

import (
	"bytes"
	"compress/zlib"
	"crypto/aes"
	stdcipher "crypto/cipher"
	"crypto/md5"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

const digestLen = md5.Size // 16 bytes

var (
	// ErrIntegrity means the decrypted record's digest did not match.
	// The result must be discarded entirely.
	ErrIntegrity = errors.New("cipher: integrity check failed")
	// ErrPadding means the decrypted bytes were not valid PKCS#7.
	ErrPadding = errors.New("cipher: invalid padding")
	// ErrCorruption means the compressed stream inside the ciphertext
	// was malformed.
	ErrCorruption = errors.New("cipher: corrupted data")
	// ErrWrongPassword means a mnemonic failed to decrypt under the
	// supplied master password. Recoverable: the caller should re-prompt.
	ErrWrongPassword = errors.New("cipher: wrong master password")
)

// SealRecord encrypts a credential record under key. A fresh random IV is
// generated on every call, including re-sealing of unchanged data, so
// repeated syncs of identical content produce distinct ciphertexts.
// Both return values are base64-encoded.
func SealRecord(record map[string]string, key []byte) (enc, iv string, err error) {
	plain, err := canonicalRecord(record)
	if err != nil {
		return "", "", err
	}

	digest := md5.Sum(plain)
	plain = append(plain, digest[:]...)

	var compressed bytes.Buffer
	zw, err := zlib.NewWriterLevel(&compressed, zlib.BestCompression)
	if err != nil {
		return "", "", fmt.Errorf("init compressor: %w", err)
	}
	if _, err := zw.Write(plain); err != nil {
		return "", "", fmt.Errorf("compress record: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", "", fmt.Errorf("compress record: %w", err)
	}

	padded := pad(compressed.Bytes(), aes.BlockSize)

	ivBytes := make([]byte, aes.BlockSize)
	if _, err := rand.Read(ivBytes); err != nil {
		return "", "", fmt.Errorf("generate iv: %w", err)
	}

	ct, err := encryptCBC(padded, key, ivBytes)
	if err != nil {
		return "", "", err
	}

	return base64.StdEncoding.EncodeToString(ct), base64.StdEncoding.EncodeToString(ivBytes), nil
}

// OpenRecord reverses SealRecord. It fails with ErrPadding on malformed
// ciphertext, ErrCorruption on an invalid compressed stream and
// ErrIntegrity on a digest mismatch; on any failure no partial data is
// returned.
func OpenRecord(enc, iv string, key []byte) (map[string]string, error) {
	ct, err := base64.StdEncoding.DecodeString(enc)
	if err != nil {
		return nil, fmt.Errorf("%w: bad ciphertext encoding: %v", ErrCorruption, err)
	}
	ivBytes, err := base64.StdEncoding.DecodeString(iv)
	if err != nil {
		return nil, fmt.Errorf("%w: bad iv encoding: %v", ErrCorruption, err)
	}

	padded, err := decryptCBC(ct, key, ivBytes)
	if err != nil {
		return nil, err
	}

	compressed, err := unpad(padded, aes.BlockSize)
	if err != nil {
		return nil, err
	}

	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruption, err)
	}
	plain, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruption, err)
	}
	if err := zr.Close(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruption, err)
	}

	if len(plain) < digestLen {
		return nil, ErrIntegrity
	}
	body := plain[:len(plain)-digestLen]
	want := plain[len(plain)-digestLen:]
	got := md5.Sum(body)
	if !bytes.Equal(got[:], want) {
		return nil, ErrIntegrity
	}

	var record map[string]string
	if err := json.Unmarshal(append(append([]byte("{"), body...), '}'), &record); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruption, err)
	}
	return record, nil
}

// canonicalRecord renders the record as deterministic compact JSON without
// the enclosing braces (encoding/json sorts map keys).
func canonicalRecord(record map[string]string) ([]byte, error) {
	b, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return b[1 : len(b)-1], nil
}

func encryptCBC(padded, key, iv []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	ct := make([]byte, len(padded))
	stdcipher.NewCBCEncrypter(block, iv).CryptBlocks(ct, padded)
	return ct, nil
}

func decryptCBC(ct, key, iv []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	if len(iv) != aes.BlockSize || len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: bad ciphertext length", ErrCorruption)
	}
	plain := make([]byte, len(ct))
	stdcipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, ct)
	return plain, nil
}

// pad appends PKCS#7 padding up to blockSize.
func pad(b []byte, blockSize int) []byte {
	n := blockSize - len(b)%blockSize
	out := make([]byte, len(b)+n)
	copy(out, b)
	for i := len(b); i < len(out); i++ {
		out[i] = byte(n)
	}
	return out
}

// unpad strips PKCS#7 padding, failing with ErrPadding when malformed.
func unpad(b []byte, blockSize int) ([]byte, error) {
	if len(b) == 0 || len(b)%blockSize != 0 {
		return nil, ErrPadding
	}
	n := int(b[len(b)-1])
	if n == 0 || n > blockSize || n > len(b) {
		return nil, ErrPadding
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, ErrPadding
		}
	}
	return b[:len(b)-n], nil
}
