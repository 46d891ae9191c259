package stream

import (
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitor_FeedUpdatesState(t *testing.T) {
	m := &Monitor{running: true}

	m.feed([]byte(`{"type":"system","session_id":"abc123def456"}`+"\n"), nil)
	m.feed([]byte(`{"type":"assistant","message":{"content":[{"type":"tool_use","name":"Edit"}]}}`+"\n"), nil)
	m.feed([]byte(`{"type":"assistant","message":{"content":[{"type":"text","text":"done editing"}]}}`+"\n"), nil)

	snap := m.Snapshot()
	assert.Equal(t, "abc123def456", snap.SessionID)
	assert.Equal(t, "Edit", snap.LastToolUse)
	assert.Equal(t, "done editing", snap.LastText)
	assert.True(t, snap.Running)
}

func TestMonitor_PartialLineAcrossChunks(t *testing.T) {
	m := &Monitor{running: true}
	var events []Event
	onEvent := func(ev Event) { events = append(events, ev) }

	line := `{"type":"assistant","message":{"content":[{"type":"tool_use","name":"Grep"}]}}` + "\n"
	// Split mid-JSON: no event until the rest of the line arrives.
	m.feed([]byte(line[:20]), onEvent)
	assert.Empty(t, events)

	m.feed([]byte(line[20:]), onEvent)
	require.Len(t, events, 1, "exactly one event once both chunks arrive")
	assert.Equal(t, EventToolUse, events[0].Kind)
	assert.Equal(t, "Grep", events[0].Tool)
}

func TestMonitor_StderrOverwritesLastText(t *testing.T) {
	m := &Monitor{running: true}
	m.feedStderr("   ")
	assert.Empty(t, m.Snapshot().LastText, "blank stderr is ignored")

	m.feedStderr("  warning: something odd  ")
	assert.Equal(t, "warning: something odd", m.Snapshot().LastText)
}

func TestMonitor_FinishFlushesTrailingFragment(t *testing.T) {
	m := &Monitor{running: true}
	var events []Event

	// A complete JSON line with no trailing newline sits in the buffer.
	m.feed([]byte(`{"type":"result","session_id":"abcdefgh1234"}`), func(ev Event) { events = append(events, ev) })
	assert.Empty(t, events)

	var exitCode int
	m.finish(0, func(ev Event) { events = append(events, ev) }, func(code int, _ *Monitor) { exitCode = code })

	require.Len(t, events, 1)
	assert.Equal(t, EventResult, events[0].Kind)
	assert.Equal(t, "abcdefgh1234", m.SessionID())
	assert.Equal(t, 0, exitCode)
	assert.False(t, m.IsRunning())
}

func TestMonitor_FinishDropsMalformedFragment(t *testing.T) {
	m := &Monitor{running: true}
	m.feed([]byte(`{"type":"resu`), nil)

	called := false
	m.finish(0, nil, func(code int, _ *Monitor) { called = true })
	assert.True(t, called, "onExit fires even when the fragment is garbage")
}

func TestMonitor_ExitCodeNormalization(t *testing.T) {
	for _, tc := range []struct {
		in, want int
	}{
		{-1, 1}, // platform reported no code: treat as failure
		{0, 0},
		{1, 1},
		{42, 42},
	} {
		m := &Monitor{running: true}
		var got int
		m.finish(tc.in, nil, func(code int, _ *Monitor) { got = code })
		assert.Equal(t, tc.want, got, "input %d", tc.in)
	}
}

func TestAttach_EndToEnd(t *testing.T) {
	stdout := strings.NewReader(
		`{"type":"system","session_id":"abc123def456"}` + "\n" +
			`{"type":"assistant","message":{"content":[{"type":"tool_use","name":"Write"}]}}` + "\n",
	)
	stderr := strings.NewReader("fatal: disk full\n")

	exited := make(chan int, 1)
	m := Attach(stdout, stderr, func() int { return 3 },
		nil,
		func(code int, _ *Monitor) { exited <- code },
	)

	select {
	case code := <-exited:
		assert.Equal(t, 3, code)
	case <-time.After(5 * time.Second):
		t.Fatal("onExit never fired")
	}

	snap := m.Snapshot()
	assert.Equal(t, "abc123def456", snap.SessionID)
	assert.Equal(t, "Write", snap.LastToolUse)
	assert.Equal(t, "fatal: disk full", snap.LastText)
	assert.False(t, snap.Running)
}

func TestAttach_DrainsOversizedStderr(t *testing.T) {
	// A stderr stream with no newline at all, far larger than any line
	// buffer, must still be fully consumed so the process can exit and
	// onExit fires; the tail of it lands in LastText.
	stderr := strings.NewReader(strings.Repeat("x", 2<<20))

	exited := make(chan struct{})
	m := Attach(strings.NewReader(""), stderr, func() int { return 0 },
		nil,
		func(int, *Monitor) { close(exited) },
	)

	select {
	case <-exited:
	case <-time.After(5 * time.Second):
		t.Fatal("stderr was not drained; onExit never fired")
	}
	assert.NotEmpty(t, m.Snapshot().LastText)
}

func TestAttach_NilStreams(t *testing.T) {
	exited := make(chan struct{})
	Attach(io.Reader(nil), nil, func() int { return 0 }, nil, func(int, *Monitor) { close(exited) })

	select {
	case <-exited:
	case <-time.After(5 * time.Second):
		t.Fatal("onExit never fired with nil streams")
	}
}
