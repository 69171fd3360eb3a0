// ABOUTME: EDF recording of the streamed classifier signal
// ABOUTME: One data record per chunk, one EDF signal per stream channel
package recorder

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/OpenPSG/edf"

	"github.com/neurobridge/mitrain/pkg/openvibe"
)

// Options control the EDF header
type Options struct {
	PatientID   string
	RecordingID string

	// Physical range mapped onto the 16-bit digital range. Values outside
	// are clipped.
	PhysicalMin float64
	PhysicalMax float64
	Dimension   string
}

// DefaultOptions suits classifier output, which stays well inside ±10
func DefaultOptions() Options {
	return Options{
		PatientID:   "X",
		PhysicalMin: -10,
		PhysicalMax: 10,
		Dimension:   "a.u.",
	}
}

// Recorder writes chunks to an EDF file. The file is created on the first
// chunk, once the stream header is known.
type Recorder struct {
	mu      sync.Mutex
	path    string
	opts    Options
	f       *os.File
	w       *edf.Writer
	header  openvibe.Header
	records int
	failed  bool
}

func New(path string, opts Options) *Recorder {
	return &Recorder{path: path, opts: opts}
}

// Record appends one chunk. The header must match the one of the first
// chunk recorded.
func (r *Recorder) Record(h openvibe.Header, c *openvibe.Chunk) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.failed {
		return nil
	}

	if r.w == nil {
		if err := r.create(h); err != nil {
			r.failed = true
			return err
		}
	} else if h.ChannelCount != r.header.ChannelCount || h.SampleCount != r.header.SampleCount {
		return fmt.Errorf("chunk shape %dx%d does not match recording %dx%d",
			h.SampleCount, h.ChannelCount, r.header.SampleCount, r.header.ChannelCount)
	}

	// EDF records are channel-major
	signals := make([][]float64, c.Channels)
	for ch := 0; ch < c.Channels; ch++ {
		signals[ch] = make([]float64, c.Samples)
		for s := 0; s < c.Samples; s++ {
			signals[ch][s] = r.clip(c.At(s, ch))
		}
	}

	if err := r.w.WriteRecord(signals); err != nil {
		r.failed = true
		return fmt.Errorf("write EDF record: %w", err)
	}
	r.records++
	return nil
}

func (r *Recorder) create(h openvibe.Header) error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("create recording directory: %w", err)
	}

	f, err := os.OpenFile(r.path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create recording: %w", err)
	}

	signals := make([]edf.SignalHeader, h.ChannelCount)
	for i := range signals {
		signals[i] = edf.SignalHeader{
			Label:             fmt.Sprintf("CH%d", i+1),
			TransducerType:    "OpenViBE stream",
			PhysicalDimension: r.opts.Dimension,
			PhysicalMin:       r.opts.PhysicalMin,
			PhysicalMax:       r.opts.PhysicalMax,
			DigitalMin:        -32768,
			DigitalMax:        32767,
			SamplesPerRecord:  h.SampleCount,
		}
	}

	w, err := edf.Create(f, edf.Header{
		Version:            edf.Version0,
		PatientID:          r.opts.PatientID,
		RecordingID:        r.opts.RecordingID,
		StartTime:          time.Now(),
		DataRecordDuration: recordDuration(h),
		SignalCount:        h.ChannelCount,
		Signals:            signals,
	})
	if err != nil {
		f.Close()
		return fmt.Errorf("write EDF header: %w", err)
	}

	r.f, r.w, r.header = f, w, h
	log.Printf("Recording %d channels at %dHz to %s", h.ChannelCount, h.FrequencyHz, r.path)
	return nil
}

// recordDuration is the time one chunk covers. Streams that do not declare
// a frequency get one second per record.
func recordDuration(h openvibe.Header) time.Duration {
	if h.FrequencyHz == 0 {
		return time.Second
	}
	return time.Duration(float64(h.SampleCount) / float64(h.FrequencyHz) * float64(time.Second))
}

func (r *Recorder) clip(v float64) float64 {
	if v < r.opts.PhysicalMin {
		return r.opts.PhysicalMin
	}
	if v > r.opts.PhysicalMax {
		return r.opts.PhysicalMax
	}
	return v
}

// Records returns the number of data records written
func (r *Recorder) Records() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.records
}

func (r *Recorder) Path() string { return r.path }

// Close finalizes the header record count and closes the file. Safe to call
// when nothing was recorded.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.w == nil {
		return nil
	}

	err := r.w.Close()
	if cerr := r.f.Close(); cerr != nil {
		err = errors.Join(err, cerr)
	}
	r.w, r.f = nil, nil
	if err != nil {
		return fmt.Errorf("close recording: %w", err)
	}
	log.Printf("Recording closed: %d records in %s", r.records, r.path)
	return nil
}
