// ABOUTME: Feedback feed monitor and minimal renderer stand-in
// ABOUTME: Finds a trainer via mDNS, prints snapshots and can own trial finalization
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/neurobridge/mitrain/internal/discovery"
	"github.com/neurobridge/mitrain/internal/feedback"
)

var (
	serverAddr = flag.String("server", "", "Trainer feedback address host:port (skip mDNS)")
	name       = flag.String("name", "feedback-monitor", "Name announced to the trainer")
	finalize   = flag.Bool("finalize", false, "Own trial finalization: send finish when the animation completes")
	trigger    = flag.String("trigger", "", "Send this trigger once connected (e.g. start)")
	wait       = flag.Duration("wait", 10*time.Second, "How long to browse for a trainer")
	quiet      = flag.Bool("quiet", false, "Only print state changes")
)

func main() {
	flag.Parse()

	log.SetFlags(log.Ltime | log.Lmicroseconds)

	addr, path := *serverAddr, feedback.WebSocketPath
	if addr == "" {
		log.Printf("Browsing for %s...", discovery.ServiceType)
		disc := discovery.NewManager(discovery.Config{ServiceName: *name})
		if err := disc.Browse(); err != nil {
			log.Fatalf("Browse failed: %v", err)
		}

		select {
		case trainer := <-disc.Trainers():
			addr, path = trainer.Addr(), trainer.Path
			log.Printf("Discovered trainer %s at %s", trainer.Name, addr)
		case <-time.After(*wait):
			log.Fatalf("No trainer found after %v", *wait)
		}
		disc.Stop()
	}

	client := feedback.NewClient(feedback.ClientConfig{
		ServerAddr: addr,
		Path:       path,
		Name:       *name,
		Finalizes:  *finalize,
	})
	if err := client.Connect(); err != nil {
		log.Fatalf("Connection failed: %v", err)
	}
	defer client.Close()

	hello := client.Hello()
	log.Printf("Connected to %s (session %s)", hello.Name, hello.SessionID)

	if *trigger != "" {
		if err := client.SendTrigger(*trigger); err != nil {
			log.Fatalf("Send trigger: %v", err)
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	lastState := ""
	finished := -1
	for {
		select {
		case <-sigChan:
			log.Printf("Shutdown signal received")
			return

		case snap, ok := <-client.Snapshots:
			if !ok {
				log.Printf("Trainer closed the feed")
				return
			}

			if snap.State != lastState {
				log.Printf("state %s -> %s (trial %d/%d, side %s, total %.1f)",
					lastState, snap.State, snap.TrialIndex+1, snap.TrialsTotal, snap.Side, snap.TotalScore)
				lastState = snap.State
			} else if !*quiet {
				fmt.Printf("\r%-9s trial %2d side %-5s score %5.1f anim %3d%% session %3d%% speed %.2f class %+.3f",
					snap.State, snap.TrialIndex+1, snap.Side, snap.Score, snap.Animation, snap.Progress, snap.Speed, snap.Classification)
			}

			inFeedback := snap.State == "feedback" || snap.State == "fail"
			if *finalize && inFeedback && snap.Animation >= 100 && finished != snap.TrialIndex {
				finished = snap.TrialIndex
				if err := client.SendFinish(); err != nil {
					log.Printf("Send finish: %v", err)
				}
			}

			if snap.Finished || snap.Aborted {
				fmt.Println()
				log.Printf("Session over: total %.1f (aborted=%t)", snap.TotalScore, snap.Aborted)
				return
			}
		}
	}
}
