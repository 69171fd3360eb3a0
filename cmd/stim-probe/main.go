// ABOUTME: Diagnostic tool for the OpenViBE links
// ABOUTME: Sends stimulation markers or dumps a signal stream, optionally to EDF
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/neurobridge/mitrain/internal/recorder"
	"github.com/neurobridge/mitrain/internal/training"
	"github.com/neurobridge/mitrain/pkg/openvibe"
)

var (
	stimAddr   = flag.String("as-addr", fmt.Sprintf("127.0.0.1:%d", openvibe.DefaultStimPort), "Acquisition Server TCP tagging address")
	stims      = flag.String("send", "", "Comma-separated stimulations to send (names or numbers)")
	interval   = flag.Duration("interval", 100*time.Millisecond, "Delay between sent stimulations")
	streamAddr = flag.String("stream-addr", "", "Signal stream address to dump")
	duration   = flag.Duration("duration", 0, "Stop dumping after this long (0 = until interrupted)")
	edfPath    = flag.String("edf", "", "Also record the dumped stream to this EDF file")
	lda        = flag.Bool("lda", false, "Print the reduced classification instead of raw matrices")
)

func main() {
	flag.Parse()

	log.SetFlags(log.Ltime | log.Lmicroseconds)

	if *stims == "" && *streamAddr == "" {
		fmt.Fprintln(os.Stderr, "nothing to do: pass -send and/or -stream-addr")
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *stims != "" {
		if err := sendStims(ctx); err != nil {
			log.Fatalf("Send failed: %v", err)
		}
	}

	if *streamAddr != "" {
		if err := dumpStream(ctx); err != nil {
			log.Fatalf("Stream failed: %v", err)
		}
	}
}

func sendStims(ctx context.Context) error {
	var codes []uint64
	for _, name := range strings.Split(*stims, ",") {
		code, err := openvibe.ParseStim(strings.TrimSpace(name))
		if err != nil {
			return err
		}
		codes = append(codes, code)
	}

	ch := openvibe.NewStimChannel()
	if err := ch.Dial(ctx, *stimAddr); err != nil {
		return err
	}
	defer ch.Close()

	for i, code := range codes {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(*interval):
			}
		}
		ch.Send(code)
		log.Printf("Sent %s (0x%X)", openvibe.StimName(code), code)
	}

	stats := ch.Stats()
	log.Printf("Sent %d, dropped %d", stats.Sent, stats.Dropped)
	return nil
}

func dumpStream(ctx context.Context) error {
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	reader := openvibe.NewSignalReader()
	if err := reader.Dial(ctx, *streamAddr); err != nil {
		return err
	}
	defer reader.Close()

	var rec *recorder.Recorder
	if *edfPath != "" {
		rec = recorder.New(*edfPath, recorder.DefaultOptions())
		defer func() {
			if err := rec.Close(); err != nil {
				log.Printf("Close recording: %v", err)
			}
			log.Printf("Wrote %d records to %s", rec.Records(), rec.Path())
		}()
	}

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	headerShown := false
	for {
		select {
		case <-ctx.Done():
			chunks, skipped := reader.Stats()
			log.Printf("Read %d chunks (%d skipped)", chunks, skipped)
			return nil
		case <-ticker.C:
		}

		for {
			chunk, err := reader.Poll()
			if err != nil {
				var closed *openvibe.StreamClosedError
				if errors.As(err, &closed) {
					log.Printf("Stream closed by peer")
					return nil
				}
				return err
			}
			if chunk == nil {
				break
			}

			h, _ := reader.Header()
			if !headerShown {
				headerShown = true
				log.Printf("Header: version %d, endianness %d, %d Hz, %d channels x %d samples",
					h.Version, h.Endianness, h.FrequencyHz, h.ChannelCount, h.SampleCount)
			}

			if rec != nil {
				if err := rec.Record(h, chunk); err != nil {
					return fmt.Errorf("record: %w", err)
				}
			}

			if *lda {
				log.Printf("classification %+.4f", training.ReduceLDA(chunk))
				continue
			}
			for s, row := range chunk.Matrix {
				log.Printf("sample %d: %v", s, row)
			}
		}
	}
}
