// ABOUTME: Asynchronous cue player for trial starts
// ABOUTME: Plays the clip for the trial side without blocking the tick loop
package cue

import (
	"fmt"
	"log"
	"sync"

	"github.com/neurobridge/mitrain/internal/training"
)

// Player announces trial sides through a Sink
type Player struct {
	sink   Sink
	bank   map[training.Side]*Clip
	volume int

	queue chan training.Side
	wg    sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	played  int
	dropped int
}

// NewPlayer opens the sink at the bank's format and starts the playback
// goroutine. volume is 0..100.
func NewPlayer(sink Sink, bank map[training.Side]*Clip, volume int) (*Player, error) {
	left, right := bank[training.Left], bank[training.Right]
	if left == nil || right == nil {
		return nil, fmt.Errorf("cue bank needs both left and right clips")
	}
	if left.SampleRate != right.SampleRate || left.Channels != right.Channels {
		return nil, fmt.Errorf("cue clips must share one format")
	}

	if err := sink.Open(left.SampleRate, left.Channels); err != nil {
		return nil, fmt.Errorf("failed to open cue output: %w", err)
	}

	p := &Player{
		sink:   sink,
		bank:   bank,
		volume: volume,
		queue:  make(chan training.Side, 1),
	}

	p.wg.Add(1)
	go p.run()

	return p, nil
}

// Cue plays the clip for side. A cue arriving while one is still queued is
// dropped.
func (p *Player) Cue(side training.Side) {
	if _, ok := p.bank[side]; !ok {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}

	select {
	case p.queue <- side:
	default:
		p.dropped++
	}
}

func (p *Player) run() {
	defer p.wg.Done()

	for side := range p.queue {
		clip := p.bank[side]
		if err := p.sink.Write(scale(clip.Samples, p.volume)); err != nil {
			log.Printf("Cue playback failed: %v", err)
			continue
		}

		p.mu.Lock()
		p.played++
		p.mu.Unlock()
	}
}

// Stats returns how many cues were played and dropped
func (p *Player) Stats() (played, dropped int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.played, p.dropped
}

// Close drains queued cues and releases the sink
func (p *Player) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
	return p.sink.Close()
}
