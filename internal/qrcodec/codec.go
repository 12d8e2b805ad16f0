// Package qrcodec splits action lists into size-bounded QR frame payloads
// and reassembles them from a live, error-prone stream of decoded frames.
//
// A frame's text is a JSON object minus the enclosing braces:
//
//	"i":<part_index>,"n":<part_count>,"slt":"<base64 salt>","acts":[...]
//
// The mnemonic transport is simpler: one frame, the raw space-joined words.
package qrcodec

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/avoronov/qrvault/internal/models"
)

// FrameLimitBytes is the byte budget of one frame, chosen for QR scan
// reliability. Approximate: a frame closes once its encoding reaches the
// budget, so the final text may exceed it slightly.
const FrameLimitBytes = 500

// ErrTransportParse means a scanned frame was not a conforming payload.
// Scanning continues; partial and angled captures are expected.
var ErrTransportParse = errors.New("qrcodec: malformed frame")

// framePayload is the wire form of one frame.
type framePayload struct {
	I    int             `json:"i"`
	N    int             `json:"n"`
	Salt string          `json:"slt,omitempty"`
	Acts []models.Action `json:"acts"`
}

// frameDraft measures a frame's size while the part count is still unknown.
type frameDraft struct {
	I    int             `json:"i"`
	Acts []models.Action `json:"acts"`
}

// EncodeActions renders actions as 1..N frame texts. Actions accumulate
// into the current frame until its compact encoding meets the byte budget;
// the part count (and the session salt) is back-filled into every frame
// once encoding finishes.
func EncodeActions(actions []models.Action, salt []byte) ([]string, error) {
	if len(actions) == 0 {
		return nil, nil
	}

	var parts [][]models.Action
	cur := 0
	for _, action := range actions {
		if cur >= len(parts) {
			parts = append(parts, nil)
		}
		parts[cur] = append(parts[cur], action)

		draft, err := json.Marshal(frameDraft{I: cur, Acts: parts[cur]})
		if err != nil {
			return nil, fmt.Errorf("encode frame: %w", err)
		}
		// Minus the braces, like the final payload.
		if len(draft)-2 >= FrameLimitBytes {
			cur++
		}
	}

	saltStr := ""
	if len(salt) > 0 {
		saltStr = base64.StdEncoding.EncodeToString(salt)
	}

	frames := make([]string, 0, len(parts))
	for i, acts := range parts {
		payload, err := json.Marshal(framePayload{I: i, N: len(parts), Salt: saltStr, Acts: acts})
		if err != nil {
			return nil, fmt.Errorf("encode frame: %w", err)
		}
		frames = append(frames, string(payload[1:len(payload)-1]))
	}
	return frames, nil
}

// Decoder reassembles an action list from scanned frames. Duplicate decodes
// of the same physical code are dropped by exact payload equality; frames
// may arrive in any order. The sequence is complete once every part has
// been seen, including the final-index frame.
type Decoder struct {
	seen  map[string]struct{}
	parts map[int][]models.Action
	total int
	salt  []byte
}

// NewDecoder returns an empty reassembly session.
func NewDecoder() *Decoder {
	return &Decoder{
		seen:  map[string]struct{}{},
		parts: map[int][]models.Action{},
	}
}

// Feed consumes one decoded frame text and reports whether the sequence is
// now complete. Malformed frames fail with ErrTransportParse and change
// nothing; the caller keeps scanning.
func (d *Decoder) Feed(text string) (bool, error) {
	if _, dup := d.seen[text]; dup {
		return d.done(), nil
	}

	var payload framePayload
	if err := json.Unmarshal([]byte("{"+text+"}"), &payload); err != nil {
		return d.done(), fmt.Errorf("%w: %v", ErrTransportParse, err)
	}
	if payload.N < 1 {
		payload.N = 1
	}
	if payload.I < 0 || payload.I >= payload.N {
		return d.done(), fmt.Errorf("%w: part %d of %d", ErrTransportParse, payload.I, payload.N)
	}
	if d.total != 0 && d.total != payload.N {
		return d.done(), fmt.Errorf("%w: part count changed from %d to %d",
			ErrTransportParse, d.total, payload.N)
	}

	if payload.Salt != "" && d.salt == nil {
		salt, err := base64.StdEncoding.DecodeString(payload.Salt)
		if err != nil {
			return d.done(), fmt.Errorf("%w: bad salt: %v", ErrTransportParse, err)
		}
		d.salt = salt
	}

	d.seen[text] = struct{}{}
	d.total = payload.N
	if _, ok := d.parts[payload.I]; !ok {
		d.parts[payload.I] = payload.Acts
	}
	return d.done(), nil
}

func (d *Decoder) done() bool {
	return d.total > 0 && len(d.parts) == d.total
}

// Received reports reassembly progress: which part indexes have landed and
// the expected total (0 while unknown).
func (d *Decoder) Received() (parts []int, total int) {
	for i := range d.parts {
		parts = append(parts, i)
	}
	sort.Ints(parts)
	return parts, d.total
}

// Result returns the reassembled action list in original order and the
// session salt carried by the frames. Valid only once Feed reported
// completion.
func (d *Decoder) Result() ([]models.Action, []byte) {
	if !d.done() {
		return nil, nil
	}
	var actions []models.Action
	for i := 0; i < d.total; i++ {
		actions = append(actions, d.parts[i]...)
	}
	return actions, d.salt
}

// EncodeMnemonic renders the recovery phrase as a single raw frame: twelve
// space-joined lowercase words, no envelope.
func EncodeMnemonic(words []string) (string, error) {
	if len(words) != 12 {
		return "", fmt.Errorf("%w: mnemonic must be 12 words", ErrTransportParse)
	}
	return strings.ToLower(strings.Join(words, " ")), nil
}

// DecodeMnemonic parses a raw mnemonic frame. Structural checks only (word
// count, lowercasing); wordlist membership is the caller's concern.
func DecodeMnemonic(text string) ([]string, error) {
	words := strings.Fields(strings.ToLower(strings.TrimSpace(text)))
	if len(words) != 12 {
		return nil, fmt.Errorf("%w: mnemonic must be 12 words, got %d", ErrTransportParse, len(words))
	}
	return words, nil
}
