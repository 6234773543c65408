package agent

import (
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// frameSink collects frames arriving on an ephemeral UDP port
type frameSink struct {
	conn *net.UDPConn

	mu     sync.Mutex
	frames []string
}

func newFrameSink(t *testing.T) *frameSink {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	sink := &frameSink{conn: conn}
	go func() {
		buf := make([]byte, 256)
		for {
			n, _, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			sink.mu.Lock()
			sink.frames = append(sink.frames, strings.TrimSpace(string(buf[:n])))
			sink.mu.Unlock()
		}
	}()
	return sink
}

func (s *frameSink) addr() string {
	return s.conn.LocalAddr().String()
}

func (s *frameSink) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.frames...)
}

func (s *frameSink) contains(frame string) bool {
	for _, f := range s.snapshot() {
		if f == frame {
			return true
		}
	}
	return false
}

func TestAgentAnnouncesAndHeartbeats(t *testing.T) {
	sink := newFrameSink(t)
	a := NewWithInterval(7, sink.addr(), 5*time.Millisecond)

	require.NoError(t, a.Start())
	defer a.Stop()

	require.Eventually(t, func() bool {
		return sink.contains("7,CONNECT") && sink.contains("7,IDLE")
	}, 2*time.Second, 5*time.Millisecond)

	frames := sink.snapshot()
	assert.Equal(t, "7,CONNECT", frames[0], "first frame must announce the worker")
}

func TestAgentReportsBusyState(t *testing.T) {
	sink := newFrameSink(t)
	a := NewWithInterval(7, sink.addr(), 5*time.Millisecond)

	require.NoError(t, a.Start())
	defer a.Stop()

	a.SetBusy()
	require.Eventually(t, func() bool {
		return sink.contains("7,BUSY")
	}, 2*time.Second, 5*time.Millisecond)

	a.SetIdle()
	before := len(sink.snapshot())
	require.Eventually(t, func() bool {
		frames := sink.snapshot()
		for _, f := range frames[before:] {
			if f == "7,IDLE" {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)
}

func TestAgentSaysGoodbyeOnStop(t *testing.T) {
	sink := newFrameSink(t)
	a := NewWithInterval(7, sink.addr(), 5*time.Millisecond)

	require.NoError(t, a.Start())
	a.Stop()

	require.Eventually(t, func() bool {
		return sink.contains("7,DISCONNECT")
	}, 2*time.Second, 5*time.Millisecond)

	frames := sink.snapshot()
	assert.Equal(t, "7,DISCONNECT", frames[len(frames)-1], "goodbye must be the final frame")
}

func TestAgentStopIsIdempotent(t *testing.T) {
	sink := newFrameSink(t)
	a := NewWithInterval(7, sink.addr(), 5*time.Millisecond)

	require.NoError(t, a.Start())
	a.Stop()
	a.Stop()
}
