package recorder

import (
	"log"

	"github.com/neurobridge/mitrain/pkg/openvibe"
)

// Poller is the part of openvibe.SignalReader a Tap reads from
type Poller interface {
	Poll() (*openvibe.Chunk, error)
	Header() (openvibe.Header, bool)
}

// Tap records every chunk on its way to the classifier and hands on only
// the newest one
type Tap struct {
	src Poller
	rec *Recorder
}

func NewTap(src Poller, rec *Recorder) *Tap {
	return &Tap{src: src, rec: rec}
}

// Latest drains complete chunks, recording each, and returns the last
func (t *Tap) Latest() (*openvibe.Chunk, error) {
	var latest *openvibe.Chunk
	for {
		chunk, err := t.src.Poll()
		if err != nil {
			if latest != nil {
				return latest, nil
			}
			return nil, err
		}
		if chunk == nil {
			return latest, nil
		}

		if h, ok := t.src.Header(); ok {
			if err := t.rec.Record(h, chunk); err != nil {
				log.Printf("Recording disabled: %v", err)
			}
		}
		latest = chunk
	}
}
