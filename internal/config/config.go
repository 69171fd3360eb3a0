// ABOUTME: Command-line and environment configuration for a training session
// ABOUTME: Flags default to MITRAIN_* variables, optionally loaded from a .env file
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/neurobridge/mitrain/internal/acquisition"
	"github.com/neurobridge/mitrain/internal/training"
	"github.com/neurobridge/mitrain/pkg/openvibe"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "MITRAIN_"

// Cue modes besides a clip directory
const (
	CueOff  = "off"
	CueTone = "tone"
)

// Config holds everything the session runner needs
type Config struct {
	StimAddr   string
	StreamAddr string
	Receive    bool
	Demo       bool

	// InitialStim is sent once the marker channel connects; empty disables it
	InitialStim string

	TrialsPerClass int
	Tick           time.Duration
	Seed           int64
	Polarity       float64

	ExternalFinalize      bool
	DegradeOnConnectError bool

	LogDir     string
	LogFile    string
	RecordEDF  bool
	DBPath     string
	FlushEvery time.Duration

	FeedbackPort int
	NoFeedback   bool
	NoMDNS       bool
	NoTUI        bool

	Launch      bool
	Runner      string
	Scenario    string
	InstallPath string
	ProcessName string

	Cue       string
	CueVolume int
}

// LoadEnvFile loads path into the process environment. A missing file is
// not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// Parse builds a Config from args. Environment variables supply the
// defaults; flags override them.
func Parse(name string, args []string, output io.Writer) (*Config, error) {
	cfg := &Config{}

	fset := flag.NewFlagSet(name, flag.ContinueOnError)
	if output != nil {
		fset.SetOutput(output)
	}

	fset.StringVar(&cfg.StimAddr, "as-addr", getEnv("AS_ADDR", fmt.Sprintf("127.0.0.1:%d", openvibe.DefaultStimPort)), "Acquisition Server TCP tagging address")
	fset.StringVar(&cfg.StreamAddr, "stream-addr", getEnv("STREAM_ADDR", fmt.Sprintf("127.0.0.1:%d", openvibe.DefaultSignalPort)), "Designer TCP Writer address for the classifier stream")
	fset.BoolVar(&cfg.Receive, "receive", getEnvBool("RECEIVE", true), "Read classification from the signal stream")
	fset.StringVar(&cfg.InitialStim, "initial-stim", getEnv("INITIAL_STIM", "0"), "Stimulation sent when the marker channel connects (empty to disable)")
	fset.BoolVar(&cfg.Demo, "demo", getEnvBool("DEMO", false), "Demo mode: no acquisition, synthetic classifier")

	fset.IntVar(&cfg.TrialsPerClass, "trials", getEnvInt("TRIALS", 20), "Trials per class")
	fset.DurationVar(&cfg.Tick, "tick", getEnvDuration("TICK", 16*time.Millisecond), "Controller tick interval")
	fset.Int64Var(&cfg.Seed, "seed", getEnvInt64("SEED", 0), "Random seed (0 = time based)")
	fset.Float64Var(&cfg.Polarity, "polarity", getEnvFloat("POLARITY", 1), "Classifier polarity: 1 when positive means right, -1 to swap")

	fset.BoolVar(&cfg.ExternalFinalize, "external-finalize", getEnvBool("EXTERNAL_FINALIZE", false), "Leave trial finalization to a renderer or the operator")
	fset.BoolVar(&cfg.DegradeOnConnectError, "degrade-on-connect-error", getEnvBool("DEGRADE_ON_CONNECT_ERROR", false), "Continue without a channel that fails to connect")

	fset.StringVar(&cfg.LogDir, "log-dir", getEnv("LOG_DIR", "logs"), "Directory for session CSV logs and recordings")
	fset.StringVar(&cfg.LogFile, "log-file", getEnv("LOG_FILE", "mitrain.log"), "Diagnostic log file path")
	fset.BoolVar(&cfg.RecordEDF, "record", getEnvBool("RECORD", false), "Record the signal stream to EDF")
	fset.StringVar(&cfg.DBPath, "db", getEnv("DB", "data/mitrain.db"), "SQLite results database (empty to disable)")
	fset.DurationVar(&cfg.FlushEvery, "flush", getEnvDuration("FLUSH", 2*time.Second), "CSV log flush interval")

	fset.IntVar(&cfg.FeedbackPort, "feedback-port", getEnvInt("FEEDBACK_PORT", 8930), "Feedback websocket port")
	fset.BoolVar(&cfg.NoFeedback, "no-feedback", getEnvBool("NO_FEEDBACK", false), "Disable the feedback server")
	fset.BoolVar(&cfg.NoMDNS, "no-mdns", getEnvBool("NO_MDNS", false), "Do not advertise the feedback server")
	fset.BoolVar(&cfg.NoTUI, "no-tui", getEnvBool("NO_TUI", false), "Disable TUI, use streaming logs instead")

	fset.BoolVar(&cfg.Launch, "launch", getEnvBool("LAUNCH", false), "Launch the acquisition scenario before connecting")
	fset.StringVar(&cfg.Runner, "runner", getEnv("RUNNER", ""), "Launcher script for the acquisition scenario")
	fset.StringVar(&cfg.Scenario, "scenario", getEnv("SCENARIO", ""), "Scenario file passed to the runner")
	fset.StringVar(&cfg.InstallPath, "install-path", getEnv("INSTALL_PATH", ""), "Acquisition software install directory")
	fset.StringVar(&cfg.ProcessName, "process-name", getEnv("PROCESS_NAME", acquisition.DefaultProcessName), "Process name probed for liveness")

	fset.StringVar(&cfg.Cue, "cue", getEnv("CUE", CueTone), "Trial cue: off, tone, or a directory with left/right clips")
	fset.IntVar(&cfg.CueVolume, "cue-volume", getEnvInt("CUE_VOLUME", 80), "Cue volume (0-100)")

	if err := fset.Parse(args); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate rejects impossible settings
func (c *Config) Validate() error {
	var errs []error
	if c.TrialsPerClass < 0 {
		errs = append(errs, fmt.Errorf("trials must not be negative, got %d", c.TrialsPerClass))
	}
	if c.Tick <= 0 {
		errs = append(errs, fmt.Errorf("tick must be positive, got %s", c.Tick))
	}
	if c.Polarity != 1 && c.Polarity != -1 {
		errs = append(errs, fmt.Errorf("polarity must be 1 or -1, got %v", c.Polarity))
	}
	if !c.Demo && c.StimAddr == "" {
		errs = append(errs, errors.New("as-addr cannot be empty"))
	}
	if !c.Demo && c.Receive && c.StreamAddr == "" {
		errs = append(errs, errors.New("stream-addr cannot be empty when receiving"))
	}
	if c.InitialStim != "" {
		if _, err := openvibe.ParseStim(c.InitialStim); err != nil {
			errs = append(errs, fmt.Errorf("initial-stim: %w", err))
		}
	}
	if c.LogDir == "" {
		errs = append(errs, errors.New("log-dir cannot be empty"))
	}
	if c.FlushEvery <= 0 {
		errs = append(errs, errors.New("flush interval must be positive"))
	}
	if !c.NoFeedback && (c.FeedbackPort < 0 || c.FeedbackPort > 65535) {
		errs = append(errs, fmt.Errorf("feedback port %d out of range", c.FeedbackPort))
	}
	if c.Launch && !c.Demo && c.Runner == "" {
		errs = append(errs, errors.New("launch requires a runner"))
	}
	if c.CueVolume < 0 || c.CueVolume > 100 {
		errs = append(errs, fmt.Errorf("cue volume must be 0-100, got %d", c.CueVolume))
	}
	return errors.Join(errs...)
}

// Training returns the controller configuration
func (c *Config) Training() training.Config {
	tc := training.DefaultConfig()
	tc.TrialsPerClass = c.TrialsPerClass
	tc.Demo = c.Demo
	tc.Polarity = c.Polarity
	tc.ExternalFinalize = c.ExternalFinalize
	if c.Seed != 0 {
		tc.Seed = c.Seed
	}
	return tc
}

// Acquisition returns the process launcher configuration
func (c *Config) Acquisition() acquisition.Config {
	return acquisition.Config{
		Runner:      c.Runner,
		Scenario:    c.Scenario,
		InstallPath: c.InstallPath,
		ProcessName: c.ProcessName,
	}
}

// InitialStimCode returns the code to send on connect
func (c *Config) InitialStimCode() (uint64, bool) {
	if c.InitialStim == "" {
		return 0, false
	}
	code, err := openvibe.ParseStim(c.InitialStim)
	if err != nil {
		return 0, false
	}
	return code, true
}

// CueDir returns the clip directory, or "" for generated tones
func (c *Config) CueDir() string {
	switch c.Cue {
	case CueOff, CueTone, "":
		return ""
	}
	return c.Cue
}

// CueEnabled reports whether trial cues should play
func (c *Config) CueEnabled() bool {
	return c.Cue != CueOff && c.Cue != ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(EnvPrefix + key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(EnvPrefix + key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(EnvPrefix + key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvInt64(key string, fallback int64) int64 {
	value, ok := os.LookupEnv(EnvPrefix + key)
	if !ok {
		return fallback
	}
	n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(EnvPrefix + key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(EnvPrefix + key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
