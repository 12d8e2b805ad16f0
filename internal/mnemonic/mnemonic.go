// Package mnemonic converts between the human-memorable recovery phrase and
// the 128-bit vault entropy using the BIP-39 English wordlist.
package mnemonic

import (
	"errors"
	"fmt"
	"strings"

	bip39 "github.com/tyler-smith/go-bip39"
)

// WordCount is the only accepted phrase length (128 bits of entropy).
const WordCount = 12

// ErrInvalidPhrase means the words are not a valid 12-word phrase.
var ErrInvalidPhrase = errors.New("mnemonic: invalid phrase")

// Generate produces a fresh 12-word phrase from 128 bits of entropy.
func Generate() ([]string, error) {
	entropy, err := bip39.NewEntropy(128)
	if err != nil {
		return nil, fmt.Errorf("generate entropy: %w", err)
	}
	phrase, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return nil, fmt.Errorf("encode mnemonic: %w", err)
	}
	return strings.Split(phrase, " "), nil
}

// ToEntropy recovers the 16-byte entropy from a phrase, validating word
// count, wordlist membership and the built-in checksum.
func ToEntropy(words []string) ([]byte, error) {
	if len(words) != WordCount {
		return nil, fmt.Errorf("%w: want %d words, got %d", ErrInvalidPhrase, WordCount, len(words))
	}
	entropy, err := bip39.EntropyFromMnemonic(strings.Join(words, " "))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPhrase, err)
	}
	return entropy, nil
}

// FromEntropy encodes 16 bytes of entropy back into the 12-word phrase.
func FromEntropy(entropy []byte) ([]string, error) {
	phrase, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return nil, fmt.Errorf("encode mnemonic: %w", err)
	}
	return strings.Split(phrase, " "), nil
}

// Validate reports whether words form a decodable phrase.
func Validate(words []string) error {
	_, err := ToEntropy(words)
	return err
}
