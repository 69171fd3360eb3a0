// ABOUTME: Trial states, sides and control triggers
// ABOUTME: Enumerations shared by the controller, the TUI and the feedback feed
package training

import (
	"fmt"
	"strings"
)

// State is the controller's single active phase
type State int

const (
	PreTraining State = iota
	NonTrial
	Init
	Onset
	OngoingFeedback
	OngoingFail
	Ended
	PostTraining
)

var stateNames = [...]string{
	PreTraining:     "pre-training",
	NonTrial:        "non-trial",
	Init:            "init",
	Onset:           "onset",
	OngoingFeedback: "feedback",
	OngoingFail:     "fail",
	Ended:           "ended",
	PostTraining:    "post-training",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// MarshalText lets snapshots carry readable state names
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// inFeedback reports whether classification is folded into the trial
func (s State) inFeedback() bool {
	return s == OngoingFeedback || s == OngoingFail
}

// Side is the hand a trial asks the subject to imagine moving
type Side int

const (
	SideNone Side = iota
	Left
	Right
)

// Sign is the side's direction on the classifier axis
func (s Side) Sign() float64 {
	switch s {
	case Left:
		return -1
	case Right:
		return 1
	}
	return 0
}

func (s Side) String() string {
	switch s {
	case Left:
		return "left"
	case Right:
		return "right"
	}
	return "none"
}

func (s Side) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Trigger is a named control-surface action
type Trigger int

const (
	TriggerStart Trigger = iota + 1
	TriggerAbort
	TriggerPause
	TriggerInvalidate
	TriggerMark
	TriggerBaselineStart
	TriggerBaselineStop
	TriggerFinish
)

var triggerNames = map[Trigger]string{
	TriggerStart:         "start",
	TriggerAbort:         "abort",
	TriggerPause:         "pause",
	TriggerInvalidate:    "invalidate",
	TriggerMark:          "mark",
	TriggerBaselineStart: "baseline-start",
	TriggerBaselineStop:  "baseline-stop",
	TriggerFinish:        "finish",
}

func (t Trigger) String() string {
	if name, ok := triggerNames[t]; ok {
		return name
	}
	return fmt.Sprintf("trigger(%d)", int(t))
}

// ParseTrigger maps a trigger name back to its value
func ParseTrigger(name string) (Trigger, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for t, n := range triggerNames {
		if n == name {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown trigger %q", name)
}
