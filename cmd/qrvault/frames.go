package main

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/mdp/qrterminal/v3"
)

// stdinFrameSource is the frame-scanning collaborator of the shell: each
// line pasted on stdin stands in for one decoded QR capture (a hardware
// scanner in keyboard-wedge mode produces exactly this). An empty line or
// "." ends the stream.
type stdinFrameSource struct {
	in *bufio.Scanner
}

func newStdinFrameSource(in *bufio.Scanner) *stdinFrameSource {
	return &stdinFrameSource{in: in}
}

// Next returns the next pasted frame text, or io.EOF when the operator
// finishes the stream.
func (s *stdinFrameSource) Next() (string, error) {
	fmt.Print("frame> ")
	if !s.in.Scan() {
		return "", io.EOF
	}
	text := s.in.Text()
	if text == "" || text == "." {
		return "", io.EOF
	}
	return text, nil
}

func (s *stdinFrameSource) Close() error { return nil }

// showQR renders one frame as a QR code in the terminal.
func showQR(text string) {
	qrterminal.GenerateHalfBlock(text, qrterminal.L, os.Stdout)
}

// showFrames renders frames one by one, waiting for the operator between
// codes so the receiving camera can settle on each.
func (a *app) showFrames(frames []string) {
	for i, frame := range frames {
		if len(frames) > 1 {
			fmt.Printf("--- frame %d / %d ---\n", i+1, len(frames))
		}
		showQR(frame)
		if i < len(frames)-1 {
			a.promptLine("Press Enter for the next code...")
		}
	}
}
