package feedback

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neurobridge/mitrain/internal/training"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s := NewServer(ServerConfig{Name: "test", SessionID: "sess-1"})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.Stop()
		ts.Close()
	})
	return s, ts
}

func connect(t *testing.T, ts *httptest.Server, finalizes bool) *Client {
	t.Helper()
	c := NewClient(ClientConfig{
		ServerAddr: strings.TrimPrefix(ts.URL, "http://"),
		Name:       "renderer",
		Finalizes:  finalizes,
	})
	require.NoError(t, c.Connect())
	t.Cleanup(c.Close)
	return c
}

func TestHealth(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandshake(t *testing.T) {
	s, ts := newTestServer(t)
	c := connect(t, ts, true)

	assert.Equal(t, "sess-1", c.Hello().SessionID)
	assert.Equal(t, "test", c.Hello().Name)
	require.Eventually(t, func() bool { return s.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, s.RendererFinalizes())
}

func TestPublishBroadcastsSnapshot(t *testing.T) {
	s, ts := newTestServer(t)
	c := connect(t, ts, false)
	require.Eventually(t, func() bool { return s.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	s.Publish(training.Snapshot{
		State:      training.OngoingFeedback,
		Clock:      2500 * time.Millisecond,
		TrialIndex: 3,
		Side:       training.Left,
		Score:      62.5,
		Speed:      0.8,
	})

	select {
	case snap := <-c.Snapshots:
		assert.Equal(t, "feedback", snap.State)
		assert.Equal(t, "left", snap.Side)
		assert.Equal(t, int64(2500), snap.ClockMs)
		assert.Equal(t, 3, snap.TrialIndex)
		assert.Equal(t, 62.5, snap.Score)
		assert.Equal(t, 0.8, snap.Speed)
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot received")
	}

	resp, err := http.Get(ts.URL + "/api/snapshot")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var msg Message
	require.NoError(t, json.Unmarshal(body, &msg))
	snap, err := DecodeSnapshot(msg)
	require.NoError(t, err)
	assert.Equal(t, 3, snap.TrialIndex)
}

func TestLateClientGetsLatestSnapshot(t *testing.T) {
	s, ts := newTestServer(t)
	s.Publish(training.Snapshot{State: training.NonTrial, TrialIndex: 7})

	c := connect(t, ts, false)
	select {
	case snap := <-c.Snapshots:
		assert.Equal(t, 7, snap.TrialIndex)
		assert.Equal(t, "non-trial", snap.State)
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot received")
	}
}

func TestSnapshotEmptyBeforePublish(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/snapshot")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestRendererTriggers(t *testing.T) {
	s, ts := newTestServer(t)
	c := connect(t, ts, true)

	require.NoError(t, c.SendFinish())
	require.NoError(t, c.SendTrigger("pause"))
	require.NoError(t, c.SendTrigger("bogus"))

	var got []training.Trigger
	timeout := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case trig := <-s.Triggers():
			got = append(got, trig)
		case <-timeout:
			t.Fatalf("only received %v", got)
		}
	}
	assert.Equal(t, []training.Trigger{training.TriggerFinish, training.TriggerPause}, got)
}

func TestStopDisconnectsClients(t *testing.T) {
	s, ts := newTestServer(t)
	c := connect(t, ts, false)
	require.Eventually(t, func() bool { return s.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	s.Stop()
	assert.Equal(t, 0, s.ClientCount())

	// the client sees the close and its channel ends
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-c.Snapshots:
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 5*time.Millisecond)

	// publishing after stop is harmless
	s.Publish(training.Snapshot{})
}
