// Package dispatcher tracks worker liveness over the UDP heartbeat channel.
//
// Workers report their state in plain ASCII datagrams of the form
// "<worker_id>,<VERB>" where the verb is CONNECT, IDLE, BUSY, or
// DISCONNECT. Each frame both refreshes the worker's last-seen instant and
// drives a small state machine over idle, busy, offline, and unreachable.
// A sweep on the fast pulse demotes idle and busy workers that have been
// silent longer than the reachable timeout; offline workers said goodbye
// explicitly and are never swept. The dispatcher is the only component
// that writes worker status rows.
package dispatcher
