// ABOUTME: Stimulation code table
// ABOUTME: OpenViBE toolkit and GDF marker identifiers
package openvibe

import (
	"fmt"
	"strconv"
	"strings"
)

// Stimulation identifiers understood by OpenViBE. Any uint64 can be sent;
// these are the ones the training session uses.
const (
	StimExperimentStart uint64 = 0x00008001
	StimExperimentStop  uint64 = 0x00008002
	StimSegmentStart    uint64 = 0x00008003
	StimSegmentStop     uint64 = 0x00008004
	StimTrialStart      uint64 = 0x00008005
	StimTrialStop       uint64 = 0x00008006
	StimBaselineStart   uint64 = 0x00008007
	StimBaselineStop    uint64 = 0x00008008
	StimLabel00         uint64 = 0x00008100
	StimTrain           uint64 = 0x00008201
	StimBeep            uint64 = 0x00008202
	StimTarget          uint64 = 0x00008205
	StimNonTarget       uint64 = 0x00008206
	StimTrainCompleted  uint64 = 0x00008207
	StimReset           uint64 = 0x00008208

	// GDF event codes
	GDFArtifactMovement   uint64 = 0x104
	GDFStartOfTrial       uint64 = 0x300
	GDFLeft               uint64 = 0x301
	GDFRight              uint64 = 0x302
	GDFFeedbackContinuous uint64 = 0x30D
	GDFBeep               uint64 = 0x311
	GDFCrossOnScreen      uint64 = 0x312
	GDFEndOfTrial         uint64 = 0x320
	GDFCorrect            uint64 = 0x381
	GDFIncorrect          uint64 = 0x382
	GDFEndOfSession       uint64 = 0x3F2
	GDFLeftHandMovement   uint64 = 0x441
	GDFRightHandMovement  uint64 = 0x442
)

var stimNames = map[uint64]string{
	StimExperimentStart:   "ExperimentStart",
	StimExperimentStop:    "ExperimentStop",
	StimSegmentStart:      "SegmentStart",
	StimSegmentStop:       "SegmentStop",
	StimTrialStart:        "TrialStart",
	StimTrialStop:         "TrialStop",
	StimBaselineStart:     "BaselineStart",
	StimBaselineStop:      "BaselineStop",
	StimLabel00:           "Label_00",
	StimTrain:             "Train",
	StimBeep:              "Beep",
	StimTarget:            "Target",
	StimNonTarget:         "NonTarget",
	StimTrainCompleted:    "TrainCompleted",
	StimReset:             "Reset",
	GDFArtifactMovement:   "Artifact_Movement",
	GDFStartOfTrial:       "Start_Of_Trial",
	GDFLeft:               "Left",
	GDFRight:              "Right",
	GDFFeedbackContinuous: "Feedback_Continuous",
	GDFBeep:               "GDF_Beep",
	GDFCrossOnScreen:      "Cross_On_Screen",
	GDFEndOfTrial:         "End_Of_Trial",
	GDFCorrect:            "Correct",
	GDFIncorrect:          "Incorrect",
	GDFEndOfSession:       "End_Of_Session",
	GDFLeftHandMovement:   "Left_Hand_Movement",
	GDFRightHandMovement:  "Right_Hand_Movement",
}

// StimName returns a readable name for a known code, or its hex value.
func StimName(code uint64) string {
	if name, ok := stimNames[code]; ok {
		return name
	}
	return fmt.Sprintf("0x%X", code)
}

// ParseStim accepts a code name from the table (case-insensitive) or a
// number in Go literal syntax, e.g. 0x8001
func ParseStim(s string) (uint64, error) {
	for code, name := range stimNames {
		if strings.EqualFold(name, s) {
			return code, nil
		}
	}
	code, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("unknown stimulation %q", s)
	}
	return code, nil
}
