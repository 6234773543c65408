package dispatcher

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/swarmsync/swarmsync/pkg/types"
)

// Verb is the state a worker reports in a heartbeat frame
type Verb string

const (
	VerbConnect    Verb = "CONNECT"
	VerbIdle       Verb = "IDLE"
	VerbBusy       Verb = "BUSY"
	VerbDisconnect Verb = "DISCONNECT"
)

// frame is one decoded heartbeat datagram
type frame struct {
	workerID int64
	verb     Verb
}

// parseFrame decodes the ASCII wire format "<worker_id>,<verb>" with an
// optional trailing newline. Anything else is a protocol error and the
// datagram is dropped.
func parseFrame(data []byte) (frame, error) {
	text := strings.TrimRight(string(data), "\r\n")
	parts := strings.Split(text, ",")
	if len(parts) != 2 {
		return frame{}, fmt.Errorf("malformed frame %q: want 2 fields, got %d", text, len(parts))
	}

	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return frame{}, fmt.Errorf("malformed frame %q: bad worker id", text)
	}

	verb := Verb(parts[1])
	switch verb {
	case VerbConnect, VerbIdle, VerbBusy, VerbDisconnect:
	default:
		return frame{}, fmt.Errorf("malformed frame %q: unknown verb", text)
	}

	return frame{workerID: id, verb: verb}, nil
}

// nextState applies one frame to the per-worker state machine. The second
// return value is false when the frame causes no transition; the frame
// still refreshes last-seen either way, keeping repeated frames idempotent.
//
//	offline -> idle            CONNECT or IDLE
//	idle    -> busy            BUSY
//	busy    -> idle            IDLE
//	*       -> offline         DISCONNECT
//	unreachable -> idle/busy   next frame of matching verb
//
// Offline is declarative: a BUSY frame from an offline worker is ignored,
// and the reachability sweep never promotes offline to unreachable.
func nextState(current types.WorkerState, verb Verb) (types.WorkerState, bool) {
	switch verb {
	case VerbDisconnect:
		return types.WorkerStateOffline, current != types.WorkerStateOffline
	case VerbConnect:
		if current == types.WorkerStateOffline || current == types.WorkerStateUnreachable {
			return types.WorkerStateIdle, true
		}
		return current, false
	case VerbIdle:
		return types.WorkerStateIdle, current != types.WorkerStateIdle
	case VerbBusy:
		if current == types.WorkerStateOffline {
			return current, false
		}
		return types.WorkerStateBusy, current != types.WorkerStateBusy
	}
	return current, false
}
