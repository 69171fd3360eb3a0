package acquisition

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeProc(t *testing.T, procs map[string][2]string) string {
	t.Helper()
	root := t.TempDir()
	for pid, p := range procs {
		dir := filepath.Join(root, pid)
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "comm"), []byte(p[0]+"\n"), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "cmdline"), []byte(p[1]), 0o644))
	}
	// non-pid entries are skipped
	require.NoError(t, os.MkdirAll(filepath.Join(root, "self"), 0o755))
	return root
}

func TestRunningMatchesTruncatedComm(t *testing.T) {
	root := fakeProc(t, map[string][2]string{
		"10": {"bash", "/bin/bash\x00-l\x00"},
		"42": {"openvibe-design", "/opt/ov/bin/openvibe-designer\x00--play\x00x.xml\x00"},
	})

	ok, err := Running(root, DefaultProcessName)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Running(root, "openvibe-acquisition-server")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRunningMatchesCmdline(t *testing.T) {
	root := fakeProc(t, map[string][2]string{
		"7": {"python3", "/usr/local/bin/ov-runner\x00"},
	})

	ok, err := Running(root, "ov-runner")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRunningMissingRoot(t *testing.T) {
	_, err := Running(filepath.Join(t.TempDir(), "nope"), "x")
	assert.Error(t, err)
}

func TestStartReportsNotRunning(t *testing.T) {
	root := fakeProc(t, nil)
	p := New(Config{
		Runner:      "/bin/sh",
		Scenario:    "-c",
		InstallPath: "exit 0",
		StartGrace:  10 * time.Millisecond,
		ProcRoot:    root,
	})

	err := p.Start(context.Background())
	require.ErrorIs(t, err, ErrNotRunning)
	assert.NoError(t, p.Terminate())
}

func TestTerminateStopsRunner(t *testing.T) {
	root := fakeProc(t, map[string][2]string{"1": {"openvibe-design", ""}})
	p := New(Config{
		Runner:      "/bin/sh",
		Scenario:    "-c",
		InstallPath: "sleep 30",
		StartGrace:  10 * time.Millisecond,
		StopGrace:   time.Second,
		ProcRoot:    root,
	})

	require.NoError(t, p.Start(context.Background()))
	assert.True(t, p.Alive())

	done := make(chan error, 1)
	go func() { done <- p.Terminate() }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("terminate did not return")
	}
	assert.NoError(t, p.Terminate())
}

func TestTerminateWithoutStart(t *testing.T) {
	assert.NoError(t, New(Config{}).Terminate())
}
