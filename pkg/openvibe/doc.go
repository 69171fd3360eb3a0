// ABOUTME: OpenViBE TCP wire protocols
// ABOUTME: Stimulation marker writer and signal stream reader
// Package openvibe implements the two TCP wire contracts used to talk to an
// OpenViBE acquisition setup:
//   - StimChannel: writes 24-byte stimulation frames to the Acquisition
//     Server's TCP tagging port (default 15361)
//   - SignalReader: reads the 32-byte header and the repeating sample-matrix
//     chunks produced by a Designer "TCP Writer" box (default 5678)
//
// Neither type blocks the caller: Send queues a frame for a writer goroutine,
// and Poll only decodes bytes that have already arrived.
//
// Example:
//
//	stims := openvibe.NewStimChannel()
//	if err := stims.Dial(ctx, "localhost:15361"); err != nil {
//	    return err
//	}
//	defer stims.Close()
//	stims.Send(openvibe.StimExperimentStart)
//
//	reader := openvibe.NewSignalReader()
//	err := reader.Dial(ctx, "localhost:5678")
//	chunk, err := reader.Poll() // nil, nil until a full chunk is buffered
package openvibe
