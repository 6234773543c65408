package agent

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/swarmsync/swarmsync/pkg/log"
)

// DefaultInterval is the worker-side heartbeat period
const DefaultInterval = 50 * time.Millisecond

// Agent is the worker-side half of the heartbeat channel. It announces
// itself with CONNECT, then reports IDLE or BUSY on every interval until
// stopped, when it says DISCONNECT so the core marks the worker offline
// rather than unreachable.
type Agent struct {
	workerID int64
	addr     string
	interval time.Duration
	logger   zerolog.Logger

	mu   sync.Mutex
	busy bool

	conn     net.Conn
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates an agent that reports to the core heartbeat address, e.g.
// "core.example.com:5001"
func New(workerID int64, addr string) *Agent {
	return &Agent{
		workerID: workerID,
		addr:     addr,
		interval: DefaultInterval,
		logger:   log.WithComponent("agent").With().Int64("worker_id", workerID).Logger(),
		stopCh:   make(chan struct{}),
	}
}

// NewWithInterval creates an agent with a custom heartbeat period
func NewWithInterval(workerID int64, addr string, interval time.Duration) *Agent {
	a := New(workerID, addr)
	a.interval = interval
	return a
}

// Start dials the core and begins heartbeating
func (a *Agent) Start() error {
	conn, err := net.Dial("udp", a.addr)
	if err != nil {
		return fmt.Errorf("failed to dial heartbeat address %s: %w", a.addr, err)
	}
	a.conn = conn

	a.send("CONNECT")
	a.logger.Info().Str("addr", a.addr).Msg("heartbeat started")

	a.wg.Add(1)
	go a.run()
	return nil
}

// Stop says goodbye and closes the socket. Safe to call more than once.
func (a *Agent) Stop() {
	a.stopOnce.Do(func() {
		close(a.stopCh)
		a.wg.Wait()
		a.send("DISCONNECT")
		a.conn.Close()
		a.logger.Info().Msg("heartbeat stopped")
	})
}

// SetBusy switches the reported state to BUSY and sends a frame at once so
// the core sees the transition before the next tick
func (a *Agent) SetBusy() {
	a.setState(true)
}

// SetIdle switches the reported state back to IDLE
func (a *Agent) SetIdle() {
	a.setState(false)
}

func (a *Agent) setState(busy bool) {
	a.mu.Lock()
	a.busy = busy
	a.mu.Unlock()

	select {
	case <-a.stopCh:
	default:
		a.send(a.verb())
	}
}

func (a *Agent) run() {
	defer a.wg.Done()

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.send(a.verb())
		case <-a.stopCh:
			return
		}
	}
}

func (a *Agent) verb() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.busy {
		return "BUSY"
	}
	return "IDLE"
}

// send writes one frame. UDP is fire-and-forget; a lost frame is covered
// by the next tick, so errors are only logged at debug.
func (a *Agent) send(verb string) {
	if _, err := fmt.Fprintf(a.conn, "%d,%s\n", a.workerID, verb); err != nil {
		a.logger.Debug().Err(err).Str("verb", verb).Msg("heartbeat send failed")
	}
}
