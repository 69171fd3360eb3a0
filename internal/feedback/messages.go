// ABOUTME: Feedback websocket message types
// ABOUTME: JSON envelopes exchanged between the trainer and animation renderers
package feedback

import (
	"encoding/json"
	"fmt"

	"github.com/neurobridge/mitrain/internal/training"
)

// Message types
const (
	TypeRendererHello = "renderer/hello"
	TypeServerHello   = "server/hello"
	TypeSnapshot      = "feedback/snapshot"
	TypeFinish        = "trial/finish"
	TypeTrigger       = "control/trigger"
)

// Message is the top-level envelope
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// RendererHello introduces a renderer or monitor
type RendererHello struct {
	Name string `json:"name"`
	// Finalizes is true when the renderer owns the success animation and
	// sends trial/finish when it completes
	Finalizes bool `json:"finalizes"`
}

// ServerHello answers a hello
type ServerHello struct {
	ServerID  string `json:"server_id"`
	SessionID string `json:"session_id"`
	Name      string `json:"name"`
	Version   string `json:"version"`
}

// TriggerRequest asks the trainer to apply a named trigger
type TriggerRequest struct {
	Trigger string `json:"trigger"`
}

// NewMessage builds an envelope around payload
func NewMessage(msgType string, payload interface{}) (Message, error) {
	if payload == nil {
		return Message{Type: msgType}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	return Message{Type: msgType, Payload: data}, nil
}

// DecodeSnapshot extracts the snapshot from a feedback/snapshot message
func DecodeSnapshot(msg Message) (Snapshot, error) {
	var s Snapshot
	if msg.Type != TypeSnapshot {
		return s, fmt.Errorf("expected %s, got %s", TypeSnapshot, msg.Type)
	}
	if err := json.Unmarshal(msg.Payload, &s); err != nil {
		return s, fmt.Errorf("decode snapshot: %w", err)
	}
	return s, nil
}

// Snapshot is the wire form of training.Snapshot with names instead of
// enum values
type Snapshot struct {
	State          string   `json:"state"`
	ClockMs        int64    `json:"clock_ms"`
	TrialIndex     int      `json:"trial_index"`
	TrialsTotal    int      `json:"trials_total"`
	Side           string   `json:"side"`
	Score          float64  `json:"score"`
	TotalScore     float64  `json:"total_score"`
	Progress       int      `json:"progress"`
	Animation      int      `json:"animation"`
	Speed          float64  `json:"speed"`
	Classification float64  `json:"classification"`
	Fresh          bool     `json:"fresh"`
	Paused         bool     `json:"paused"`
	Invalid        bool     `json:"invalid"`
	TimedOut       bool     `json:"timed_out"`
	QueueLen       int      `json:"queue_len"`
	Demo           bool     `json:"demo"`
	Finished       bool     `json:"finished"`
	Aborted        bool     `json:"aborted"`
	Pending        []string `json:"pending,omitempty"`
}

// FromTraining converts a controller snapshot
func FromTraining(s training.Snapshot) Snapshot {
	return Snapshot{
		State:          s.State.String(),
		ClockMs:        s.Clock.Milliseconds(),
		TrialIndex:     s.TrialIndex,
		TrialsTotal:    s.TrialsTotal,
		Side:           s.Side.String(),
		Score:          s.Score,
		TotalScore:     s.TotalScore,
		Progress:       s.Progress,
		Animation:      s.Animation,
		Speed:          s.Speed,
		Classification: s.Classification,
		Fresh:          s.Fresh,
		Paused:         s.Paused,
		Invalid:        s.Invalid,
		TimedOut:       s.TimedOut,
		QueueLen:       s.QueueLen,
		Demo:           s.Demo,
		Finished:       s.Finished,
		Aborted:        s.Aborted,
		Pending:        s.Pending,
	}
}
