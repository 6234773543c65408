/*
Package storage provides persistent state storage for the SwarmSync Core.

The package defines the Store interface, the repository contract every module
uses, and a BoltDB-backed implementation. BoltDB gives single-file embedded
persistence with serializable transactions, which the Core leans on for its
multi-write invariants:

  - CreateAssignment checks the one-active-assignment-per-job rule inside the
    insert transaction, so concurrent schedulers cannot double-assign a job.
  - FinalizeAssignment lands the job, assignment, result, metric, and worker
    status writes atomically.
  - ArchiveJob moves a job and all its dependents to the archive buckets
    all-or-nothing.

# Buckets

	users, jobs, workers, worker_status, assignments, results, metrics, logs
	archived_jobs, archived_assignments, archived_results, archived_metrics

Rows are JSON-encoded. Entity keys are 8-byte big-endian ids so iteration is
id-ordered; journal rows are keyed by the bucket sequence so iteration order
matches submission order; metric rows use a composite (job id, worker id) key
that doubles as the upsert key.

# Usage

	store, err := storage.NewBoltStore(dataDir)
	if err != nil {
		return err
	}
	defer store.Close()

	jobs, err := store.ListJobsByState(types.JobStateQueued)
*/
package storage
