package scanner

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/avoronov/qrvault/internal/models"
	"github.com/avoronov/qrvault/internal/qrcodec"
)

type fakeSource struct {
	nextFn  func() (string, error)
	closeFn func() error
	closed  bool
}

func (f *fakeSource) Next() (string, error) { return f.nextFn() }

func (f *fakeSource) Close() error {
	f.closed = true
	if f.closeFn != nil {
		return f.closeFn()
	}
	return nil
}

// queueSource yields the given texts in order, then io.EOF.
func queueSource(texts ...string) *fakeSource {
	i := 0
	return &fakeSource{nextFn: func() (string, error) {
		if i >= len(texts) {
			return "", io.EOF
		}
		text := texts[i]
		i++
		return text, nil
	}}
}

func TestActionsSessionCompletes(t *testing.T) {
	actions := []models.Action{
		{Act: models.ActDelete, ID: "gone"},
		{Act: models.ActAdd, ID: "a1", Enc: strings.Repeat("Q", 300), IV: "aXY="},
		{Act: models.ActSync, ID: "a2", Enc: strings.Repeat("R", 300), IV: "aXY="},
	}
	salt := []byte{1, 2, 3}
	frames, err := qrcodec.EncodeActions(actions, salt)
	require.NoError(t, err)
	require.Greater(t, len(frames), 1)

	// Noise and duplicates interleaved, like a real capture stream.
	feed := []string{"garbage", frames[0], frames[0]}
	feed = append(feed, frames[1:]...)
	src := queueSource(feed...)

	s := NewActionsSession(src, zap.NewNop())
	s.Start()
	<-s.Done()

	got, gotSalt, err := s.Actions()
	require.NoError(t, err)
	assert.Equal(t, actions, got)
	assert.Equal(t, salt, gotSalt)
	assert.True(t, src.closed, "source released when the session ends")
}

func TestActionsSessionCanceledOnEOF(t *testing.T) {
	src := queueSource("garbage that never completes anything")

	s := NewActionsSession(src, zap.NewNop())
	s.Start()
	<-s.Done()

	got, _, err := s.Actions()
	assert.ErrorIs(t, err, ErrCanceled)
	assert.Nil(t, got)
	assert.True(t, src.closed)
}

func TestSessionCameraFailure(t *testing.T) {
	src := &fakeSource{nextFn: func() (string, error) {
		return "", errors.New("device busy")
	}}

	s := NewActionsSession(src, zap.NewNop())
	s.Start()
	<-s.Done()

	_, _, err := s.Actions()
	assert.ErrorIs(t, err, ErrCamera)
	assert.True(t, src.closed)
}

func TestSessionStopFlag(t *testing.T) {
	src := &fakeSource{nextFn: func() (string, error) {
		return "", errors.New("must not be read after stop")
	}}

	s := NewActionsSession(src, zap.NewNop())
	s.Stop()
	s.Start()
	<-s.Done()

	_, _, err := s.Actions()
	assert.ErrorIs(t, err, ErrCanceled, "stop wins over the source")
	assert.True(t, src.closed)
}

func TestMnemonicSessionSkipsInvalidFrames(t *testing.T) {
	phrase := "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
	src := queueSource(
		"not a phrase",
		"twelve words that are not on the wordlist at all zzz zzz", // right count, not a phrase
		phrase,
	)

	s := NewMnemonicSession(src, zap.NewNop())
	s.Start()
	<-s.Done()

	words, err := s.Words()
	require.NoError(t, err)
	assert.Equal(t, strings.Fields(phrase), words)
}

func TestMnemonicSessionCanceled(t *testing.T) {
	src := queueSource()

	s := NewMnemonicSession(src, zap.NewNop())
	s.Start()
	<-s.Done()

	words, err := s.Words()
	assert.ErrorIs(t, err, ErrCanceled)
	assert.Nil(t, words)
}
