/*
Package types defines the core data structures used throughout SwarmSync.

This package contains the domain model shared by the Core's modules and the
storage layer: users, jobs, workers, worker liveness status, assignments,
results, metrics, and journal entries.

# Core Types

  - User: account owning jobs and workers
  - Job: a container workload with image, output, and schedule settings
  - Worker: a remote execution node and its static metadata
  - WorkerStatus: per-worker liveness record (idle/busy/offline/unreachable)
  - JobAssignment: a single (job, worker) execution attempt
  - JobResult / JobMetric: output and execution statistics of a run
  - LogEntry / DBLogEntry: journal entries in memory and in the store

# Lifecycles

Jobs move submitted → queued → running → completed|failed; terminal states
are absorbing. Assignments are active while FinishedAt is nil, and at most
one assignment per job may be active. WorkerStatus rows are written only by
the dispatcher.

All types serialize with encoding/json for storage. Enum-like fields use
typed string constants so stored rows stay readable.
*/
package types
