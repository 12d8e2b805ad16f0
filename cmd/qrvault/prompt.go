package main

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"os"
	"strings"

	"golang.org/x/term"
)

// passwordCharset matches the generator of the desktop original: letters,
// digits and punctuation.
const passwordCharset = "abcdefghijklmnopqrstuvwxyz" +
	"ABCDEFGHIJKLMNOPQRSTUVWXYZ" +
	"0123456789" +
	"!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"

const generatedPasswordLen = 12

// promptLine prints a label and reads one trimmed line.
func (a *app) promptLine(label string) string {
	fmt.Print(label)
	if !a.in.Scan() {
		return ""
	}
	return strings.TrimSpace(a.in.Text())
}

// promptPassword reads a line without echo when stdin is a terminal.
func (a *app) promptPassword(label string) string {
	fmt.Print(label)
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		raw, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return ""
		}
		return strings.TrimSpace(string(raw))
	}
	if !a.in.Scan() {
		return ""
	}
	return strings.TrimSpace(a.in.Text())
}

// generatePassword builds a random password from passwordCharset.
func generatePassword(length int) (string, error) {
	var b strings.Builder
	max := big.NewInt(int64(len(passwordCharset)))
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate password: %w", err)
		}
		b.WriteByte(passwordCharset[n.Int64()])
	}
	return b.String(), nil
}
