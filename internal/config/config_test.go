package config

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/neurobridge/mitrain/internal/acquisition"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, args ...string) (*Config, error) {
	t.Helper()
	return Parse("mitrain", args, io.Discard)
}

func TestParseDefaults(t *testing.T) {
	cfg, err := parse(t)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:15361", cfg.StimAddr)
	assert.Equal(t, "127.0.0.1:5678", cfg.StreamAddr)
	assert.True(t, cfg.Receive)
	assert.False(t, cfg.Demo)
	assert.Equal(t, 20, cfg.TrialsPerClass)
	assert.Equal(t, 16*time.Millisecond, cfg.Tick)
	assert.Equal(t, 1.0, cfg.Polarity)
	assert.Equal(t, "data/mitrain.db", cfg.DBPath)
	assert.Equal(t, 8930, cfg.FeedbackPort)
	assert.Equal(t, acquisition.DefaultProcessName, cfg.ProcessName)
	assert.Equal(t, CueTone, cfg.Cue)
	assert.Equal(t, 2*time.Second, cfg.FlushEvery)

	code, ok := cfg.InitialStimCode()
	assert.True(t, ok)
	assert.Equal(t, uint64(0), code)
}

func TestInitialStim(t *testing.T) {
	cfg, err := parse(t, "-initial-stim", "ExperimentStart")
	require.NoError(t, err)
	code, ok := cfg.InitialStimCode()
	assert.True(t, ok)
	assert.Equal(t, uint64(0x8001), code)

	cfg, err = parse(t, "-initial-stim", "")
	require.NoError(t, err)
	_, ok = cfg.InitialStimCode()
	assert.False(t, ok)

	_, err = parse(t, "-initial-stim", "nonsense")
	assert.ErrorContains(t, err, "initial-stim")
}

func TestParseFlags(t *testing.T) {
	cfg, err := parse(t,
		"-demo",
		"-trials", "3",
		"-tick", "10ms",
		"-polarity", "-1",
		"-seed", "42",
		"-external-finalize",
		"-no-tui",
		"-cue", "off",
	)
	require.NoError(t, err)

	assert.True(t, cfg.Demo)
	assert.Equal(t, 3, cfg.TrialsPerClass)
	assert.Equal(t, 10*time.Millisecond, cfg.Tick)
	assert.Equal(t, -1.0, cfg.Polarity)
	assert.True(t, cfg.NoTUI)
	assert.False(t, cfg.CueEnabled())

	tc := cfg.Training()
	assert.Equal(t, 3, tc.TrialsPerClass)
	assert.True(t, tc.Demo)
	assert.Equal(t, -1.0, tc.Polarity)
	assert.True(t, tc.ExternalFinalize)
	assert.Equal(t, int64(42), tc.Seed)
	assert.NoError(t, tc.Validate())
}

func TestEnvironmentDefaults(t *testing.T) {
	t.Setenv("MITRAIN_TRIALS", "7")
	t.Setenv("MITRAIN_DEMO", "yes")
	t.Setenv("MITRAIN_TICK", "20ms")
	t.Setenv("MITRAIN_FEEDBACK_PORT", "not-a-number")

	cfg, err := parse(t)
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.TrialsPerClass)
	assert.True(t, cfg.Demo)
	assert.Equal(t, 20*time.Millisecond, cfg.Tick)
	assert.Equal(t, 8930, cfg.FeedbackPort, "unparsable values fall back")
}

func TestFlagsOverrideEnvironment(t *testing.T) {
	t.Setenv("MITRAIN_TRIALS", "7")

	cfg, err := parse(t, "-trials", "9")
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.TrialsPerClass)
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("MITRAIN_SCENARIO=mi-csp-online.xml\n"), 0o644))

	// Registered so the variable is restored after the test
	t.Setenv("MITRAIN_SCENARIO", "")
	require.NoError(t, os.Unsetenv("MITRAIN_SCENARIO"))

	require.NoError(t, LoadEnvFile(path))

	cfg, err := parse(t)
	require.NoError(t, err)
	assert.Equal(t, "mi-csp-online.xml", cfg.Scenario)
}

func TestLoadEnvFileMissing(t *testing.T) {
	assert.NoError(t, LoadEnvFile(filepath.Join(t.TempDir(), "absent.env")))
	assert.NoError(t, LoadEnvFile(""))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"negative trials", []string{"-trials", "-1"}, "trials must not be negative"},
		{"zero tick", []string{"-tick", "0s"}, "tick must be positive"},
		{"bad polarity", []string{"-polarity", "0.5"}, "polarity"},
		{"launch without runner", []string{"-launch"}, "launch requires a runner"},
		{"cue volume", []string{"-cue-volume", "150"}, "cue volume"},
		{"empty stim addr", []string{"-as-addr", ""}, "as-addr cannot be empty"},
		{"feedback port", []string{"-feedback-port", "70000"}, "out of range"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parse(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDemoRelaxesAddresses(t *testing.T) {
	_, err := parse(t, "-demo", "-as-addr", "", "-stream-addr", "", "-launch")
	assert.NoError(t, err)
}

func TestCueDir(t *testing.T) {
	tests := []struct {
		cue     string
		dir     string
		enabled bool
	}{
		{CueOff, "", false},
		{CueTone, "", true},
		{"/opt/cues", "/opt/cues", true},
	}

	for _, tt := range tests {
		cfg := &Config{Cue: tt.cue}
		assert.Equal(t, tt.dir, cfg.CueDir(), tt.cue)
		assert.Equal(t, tt.enabled, cfg.CueEnabled(), tt.cue)
	}
}

func TestAcquisition(t *testing.T) {
	cfg, err := parse(t, "-runner", "/opt/ov/run.sh", "-scenario", "mi.xml", "-install-path", "/opt/ov")
	require.NoError(t, err)

	ac := cfg.Acquisition()
	assert.Equal(t, "/opt/ov/run.sh", ac.Runner)
	assert.Equal(t, "mi.xml", ac.Scenario)
	assert.Equal(t, "/opt/ov", ac.InstallPath)
}
