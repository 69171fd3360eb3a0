// ABOUTME: Line-based trigger input for sessions run without the TUI
// ABOUTME: Parses trigger names typed on stdin and queues them
package app

import (
	"bufio"
	"io"
	"log"
	"strings"

	"github.com/neurobridge/mitrain/internal/training"
)

// ReadTriggers queues one trigger per non-empty input line until r is
// exhausted. Unknown names are logged and skipped.
func (s *Session) ReadTriggers(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		name := strings.TrimSpace(scanner.Text())
		if name == "" {
			continue
		}

		t, err := training.ParseTrigger(strings.ToLower(name))
		if err != nil {
			log.Printf("Console: %v", err)
			continue
		}
		s.Trigger(t)
	}
	if err := scanner.Err(); err != nil {
		log.Printf("Console input error: %v", err)
	}
}
