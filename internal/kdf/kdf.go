// Package kdf derives fixed-length symmetric keys from secrets using a
// memory-hard function. It is the root of every key in the system: master
// keys, device keys and sync-session keys all come through Derive.
package kdf

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/scrypt"
)

const (
	// SaltLen is the scrypt salt length in bytes.
	SaltLen = 32
	// KeyLen is the derived key length in bytes (AES-256).
	KeyLen = 32

	// CostInteractive is the scrypt cost used where both sides must derive
	// the key during an interactive session: mnemonic protection, device
	// keys and sync-session keys. Also the master-key cost of pre-2.1
	// vault files, which must remain decodable.
	CostInteractive = 1 << 16
	// CostMaster is the scrypt cost for the at-rest master key.
	CostMaster = 1 << 20

	scryptR = 8
	scryptP = 1
)

// Derive stretches secret into a 32-byte key using scrypt with the given
// cost. A nil salt generates a fresh random 32-byte one; the salt actually
// used is returned alongside the key. Deterministic for a fixed
// secret/salt/cost triple. The secret is never logged.
func Derive(secret, salt []byte, cost int) (key, outSalt []byte, err error) {
	if salt == nil {
		salt = make([]byte, SaltLen)
		if _, err := rand.Read(salt); err != nil {
			return nil, nil, fmt.Errorf("generate salt: %w", err)
		}
	}
	key, err = scrypt.Key(secret, salt, cost, scryptR, scryptP, KeyLen)
	if err != nil {
		return nil, nil, fmt.Errorf("scrypt: %w", err)
	}
	return key, salt, nil
}

// Zero wipes a byte slice holding key material.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
