// Package scanner runs a QR scan session on a dedicated worker. The camera
// and QR region detection live behind the FrameSource collaborator, which
// yields decoded UTF-8 texts, possibly duplicated and possibly out of order
// within a burst; the worker feeds them to the transport codec until the
// sequence completes, the user cancels, or the source fails.
package scanner

import (
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/avoronov/qrvault/internal/mnemonic"
	"github.com/avoronov/qrvault/internal/models"
	"github.com/avoronov/qrvault/internal/qrcodec"
)

var (
	// ErrCamera means the frame source failed; the session is aborted and
	// the failure surfaced to the user.
	ErrCamera = errors.New("scanner: camera failure")
	// ErrCanceled means the session was stopped before completing.
	ErrCanceled = errors.New("scanner: canceled")
)

// FrameSource is the scanning collaborator. Next blocks until another QR
// code is decoded and returns its text; io.EOF means the source has no more
// frames to offer.
type FrameSource interface {
	Next() (string, error)
	Close() error
}

type sessionKind int

const (
	kindActions sessionKind = iota
	kindMnemonic
)

// Session is one scan. The worker is the sole writer to the result fields
// until the completion signal; consumers read them only after Done.
type Session struct {
	log  *zap.Logger
	src  FrameSource
	kind sessionKind

	stop atomic.Bool
	done chan struct{}

	actions []models.Action
	salt    []byte
	words   []string
	err     error
}

// NewActionsSession prepares a session that reassembles an action list.
func NewActionsSession(src FrameSource, log *zap.Logger) *Session {
	return &Session{log: log, src: src, kind: kindActions, done: make(chan struct{})}
}

// NewMnemonicSession prepares a session that expects a single raw mnemonic
// frame of twelve wordlist words.
func NewMnemonicSession(src FrameSource, log *zap.Logger) *Session {
	return &Session{log: log, src: src, kind: kindMnemonic, done: make(chan struct{})}
}

// Start launches the worker goroutine.
func (s *Session) Start() {
	go s.run()
}

// Stop requests cooperative cancellation. The worker observes the flag at
// the top of its per-frame loop, releases the source and signals completion
// with a no-result outcome.
func (s *Session) Stop() {
	s.stop.Store(true)
}

// Done is closed once the worker has finished, for any reason.
func (s *Session) Done() <-chan struct{} { return s.done }

// Actions returns the reassembled action list and session salt. Valid only
// after Done; nil with ErrCanceled when the session was stopped.
func (s *Session) Actions() ([]models.Action, []byte, error) {
	return s.actions, s.salt, s.err
}

// Words returns the scanned mnemonic phrase. Valid only after Done.
func (s *Session) Words() ([]string, error) {
	return s.words, s.err
}

func (s *Session) run() {
	defer close(s.done)
	defer func() {
		if err := s.src.Close(); err != nil {
			s.log.Warn("closing frame source", zap.Error(err))
		}
	}()

	decoder := qrcodec.NewDecoder()
	for {
		if s.stop.Load() {
			s.err = ErrCanceled
			return
		}

		text, err := s.src.Next()
		if errors.Is(err, io.EOF) {
			s.err = ErrCanceled
			return
		}
		if err != nil {
			s.err = fmt.Errorf("%w: %v", ErrCamera, err)
			return
		}

		switch s.kind {
		case kindActions:
			done, err := decoder.Feed(text)
			if err != nil {
				// Partial or angled captures are routine; keep scanning.
				s.log.Debug("skipping malformed frame", zap.Error(err))
				continue
			}
			parts, total := decoder.Received()
			s.log.Debug("frame received", zap.Ints("parts", parts), zap.Int("total", total))
			if done {
				s.actions, s.salt = decoder.Result()
				return
			}

		case kindMnemonic:
			words, err := qrcodec.DecodeMnemonic(text)
			if err != nil {
				s.log.Debug("skipping malformed frame", zap.Error(err))
				continue
			}
			if err := mnemonic.Validate(words); err != nil {
				s.log.Debug("skipping non-mnemonic frame", zap.Error(err))
				continue
			}
			s.words = words
			return
		}
	}
}
