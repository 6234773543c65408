/*
Package journal provides the buffered, leveled log sink shared by every Core
module.

Entries are structured records (level, module, action, optional payload)
rather than free text. Log appends to an in-memory buffer and never blocks
the caller beyond the buffer lock; the drain loop flushes the buffer to the
store on every slow pulse and on restart/shutdown, and deletes stored rows
whose per-level TTL has lapsed.

TTLs by level: info 5m, success 1d, warning 3d, error and fatal 7d.

A failed flush re-prepends the drained batch so submission order is kept and
no entry is lost short of a crash; store errors surface on the process
logger and the flush retries on the next pulse.

	j := journal.New(store)
	j.Start(pulseBroadcaster.SubscribeSlow(), bus.Subscribe())

	j.Customf(types.LogLevelInfo, types.ModuleDispatcher, "worker %d status -> idle", id)
*/
package journal
