package stream

import (
	"bytes"
	"io"
	"strings"
	"sync"
)

// Monitor tracks the live status of one agent process from its output
// streams. All mutation goes through the feed/finish path; readers take a
// Snapshot rather than touching fields.
type Monitor struct {
	mu          sync.Mutex
	sessionID   string
	lastToolUse string
	lastText    string
	running     bool
	buf         []byte
}

// Snapshot is a point-in-time copy of a monitor's state.
type Snapshot struct {
	SessionID   string
	LastToolUse string
	LastText    string
	Running     bool
}

// Snapshot returns a consistent copy of the monitor state.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		SessionID:   m.sessionID,
		LastToolUse: m.lastToolUse,
		LastText:    m.lastText,
		Running:     m.running,
	}
}

// SessionID returns the agent-reported session id, or "" if none seen yet.
func (m *Monitor) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// IsRunning reports whether the monitored process has not yet exited.
func (m *Monitor) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Attach wires a monitor to a process's streams. wait must block until the
// process exits and return its exit code (negative when the platform did
// not report one, e.g. killed by signal). onEvent and onExit may be nil.
//
// The monitor is updated from a single goroutine per stream; onExit fires
// exactly once, after both streams are drained and the trailing partial
// line (if any) has been flushed through the parser.
func Attach(stdout, stderr io.Reader, wait func() int, onEvent func(Event), onExit func(code int, m *Monitor)) *Monitor {
	m := &Monitor{running: true}

	var wg sync.WaitGroup

	if stdout != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			chunk := make([]byte, 4096)
			for {
				n, err := stdout.Read(chunk)
				if n > 0 {
					m.feed(chunk[:n], onEvent)
				}
				if err != nil {
					return
				}
			}
		}()
	}

	if stderr != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			chunk := make([]byte, 4096)
			for {
				n, err := stderr.Read(chunk)
				if n > 0 {
					m.feedStderr(string(chunk[:n]))
				}
				if err != nil {
					return
				}
			}
		}()
	}

	go func() {
		wg.Wait()
		code := 1
		if wait != nil {
			code = wait()
		}
		m.finish(code, onEvent, onExit)
	}()

	return m
}

// feed appends a stdout chunk to the line buffer, processes every complete
// line, and keeps the trailing fragment for the next chunk.
func (m *Monitor) feed(chunk []byte, onEvent func(Event)) {
	m.mu.Lock()
	m.buf = append(m.buf, chunk...)
	var lines []string
	for {
		idx := bytes.IndexByte(m.buf, '\n')
		if idx < 0 {
			break
		}
		lines = append(lines, string(m.buf[:idx]))
		m.buf = m.buf[idx+1:]
	}
	m.mu.Unlock()

	for _, line := range lines {
		m.processLine(line, onEvent)
	}
}

// feedStderr records a trimmed stderr chunk as the latest status text.
// stderr is a last-resort status indicator, never parsed as protocol and
// never buffered: arbitrarily long output is consumed chunk by chunk so
// the pipe always drains.
func (m *Monitor) feedStderr(chunk string) {
	chunk = strings.TrimSpace(chunk)
	if chunk == "" {
		return
	}
	m.mu.Lock()
	m.lastText = chunk
	m.mu.Unlock()
}

func (m *Monitor) processLine(line string, onEvent func(Event)) {
	ev, ok := ParseLine(line)
	if !ok {
		return
	}

	m.mu.Lock()
	if ev.SessionID != "" {
		m.sessionID = ev.SessionID
	}
	switch ev.Kind {
	case EventToolUse:
		m.lastToolUse = ev.Tool
	case EventText:
		if ev.Text != "" {
			m.lastText = ev.Text
		}
	}
	m.mu.Unlock()

	if onEvent != nil {
		onEvent(ev)
	}
}

// finish flushes any buffered partial line, marks the monitor stopped, and
// fires onExit. Exit codes the platform could not report are normalized to
// 1: an unexplained death counts as failure.
func (m *Monitor) finish(code int, onEvent func(Event), onExit func(int, *Monitor)) {
	m.mu.Lock()
	rest := string(m.buf)
	m.buf = nil
	m.mu.Unlock()

	if rest != "" {
		m.processLine(rest, onEvent)
	}

	m.mu.Lock()
	m.running = false
	m.mu.Unlock()

	if code < 0 {
		code = 1
	}
	if onExit != nil {
		onExit(code, m)
	}
}
