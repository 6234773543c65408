package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/swarmsync/swarmsync/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketUsers        = []byte("users")
	bucketJobs         = []byte("jobs")
	bucketWorkers      = []byte("workers")
	bucketWorkerStatus = []byte("worker_status")
	bucketAssignments  = []byte("assignments")
	bucketResults      = []byte("results")
	bucketMetrics      = []byte("metrics")
	bucketLogs         = []byte("logs")

	// Archive buckets; TaskArchive moves terminal jobs and their dependents
	// here in a single transaction
	bucketArchivedJobs        = []byte("archived_jobs")
	bucketArchivedAssignments = []byte("archived_assignments")
	bucketArchivedResults     = []byte("archived_results")
	bucketArchivedMetrics     = []byte("archived_metrics")
)

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "swarmsync.db")
	return NewBoltStoreAt(dbPath)
}

// NewBoltStoreAt opens a store at an explicit database path
func NewBoltStoreAt(dbPath string) (*BoltStore, error) {
	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketUsers,
			bucketJobs,
			bucketWorkers,
			bucketWorkerStatus,
			bucketAssignments,
			bucketResults,
			bucketMetrics,
			bucketLogs,
			bucketArchivedJobs,
			bucketArchivedAssignments,
			bucketArchivedResults,
			bucketArchivedMetrics,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// itob encodes an id as a big-endian key so bucket iteration is id-ordered
func itob(id int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(id))
	return b
}

// metricKey is the composite upsert key for job metrics
func metricKey(jobID, workerID int64) []byte {
	return append(itob(jobID), itob(workerID)...)
}

func putJSON(b *bolt.Bucket, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put(key, data)
}

// User operations

func (s *BoltStore) CreateUser(user *types.User) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		if user.ID == 0 {
			seq, err := b.NextSequence()
			if err != nil {
				return err
			}
			user.ID = int64(seq)
		}
		return putJSON(b, itob(user.ID), user)
	})
}

func (s *BoltStore) GetUser(id int64) (*types.User, error) {
	var user types.User
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketUsers).Get(itob(id))
		if data == nil {
			return fmt.Errorf("user %d: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &user)
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Job operations

func (s *BoltStore) CreateJob(job *types.Job) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobs)
		if job.ID == 0 {
			seq, err := b.NextSequence()
			if err != nil {
				return err
			}
			job.ID = int64(seq)
		}
		return putJSON(b, itob(job.ID), job)
	})
}

func (s *BoltStore) GetJob(id int64) (*types.Job, error) {
	var job types.Job
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketJobs).Get(itob(id))
		if data == nil {
			return fmt.Errorf("job %d: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &job)
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *BoltStore) ListJobs() ([]*types.Job, error) {
	var jobs []*types.Job
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketJobs).ForEach(func(k, v []byte) error {
			var job types.Job
			if err := json.Unmarshal(v, &job); err != nil {
				return err
			}
			jobs = append(jobs, &job)
			return nil
		})
	})
	return jobs, err
}

func (s *BoltStore) ListJobsByState(state types.JobState) ([]*types.Job, error) {
	var jobs []*types.Job
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketJobs).ForEach(func(k, v []byte) error {
			var job types.Job
			if err := json.Unmarshal(v, &job); err != nil {
				return err
			}
			if job.State == state {
				jobs = append(jobs, &job)
			}
			return nil
		})
	})
	return jobs, err
}

func (s *BoltStore) UpdateJob(job *types.Job) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobs)
		if b.Get(itob(job.ID)) == nil {
			return fmt.Errorf("job %d: %w", job.ID, ErrNotFound)
		}
		return putJSON(b, itob(job.ID), job)
	})
}

func (s *BoltStore) DeleteJob(id int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketJobs).Delete(itob(id))
	})
}

// Worker operations

func (s *BoltStore) CreateWorker(worker *types.Worker) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWorkers)
		if worker.ID == 0 {
			seq, err := b.NextSequence()
			if err != nil {
				return err
			}
			worker.ID = int64(seq)
		}
		return putJSON(b, itob(worker.ID), worker)
	})
}

func (s *BoltStore) GetWorker(id int64) (*types.Worker, error) {
	var worker types.Worker
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketWorkers).Get(itob(id))
		if data == nil {
			return fmt.Errorf("worker %d: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &worker)
	})
	if err != nil {
		return nil, err
	}
	return &worker, nil
}

func (s *BoltStore) ListWorkers() ([]*types.Worker, error) {
	var workers []*types.Worker
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketWorkers).ForEach(func(k, v []byte) error {
			var worker types.Worker
			if err := json.Unmarshal(v, &worker); err != nil {
				return err
			}
			workers = append(workers, &worker)
			return nil
		})
	})
	return workers, err
}

func (s *BoltStore) UpdateWorker(worker *types.Worker) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWorkers)
		if b.Get(itob(worker.ID)) == nil {
			return fmt.Errorf("worker %d: %w", worker.ID, ErrNotFound)
		}
		return putJSON(b, itob(worker.ID), worker)
	})
}

func (s *BoltStore) DeleteWorker(id int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketWorkers).Delete(itob(id)); err != nil {
			return err
		}
		return tx.Bucket(bucketWorkerStatus).Delete(itob(id))
	})
}

// Worker status operations

func (s *BoltStore) UpsertWorkerStatus(status *types.WorkerStatus) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketWorkerStatus), itob(status.WorkerID), status)
	})
}

func (s *BoltStore) GetWorkerStatus(workerID int64) (*types.WorkerStatus, error) {
	var status types.WorkerStatus
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketWorkerStatus).Get(itob(workerID))
		if data == nil {
			return fmt.Errorf("worker status %d: %w", workerID, ErrNotFound)
		}
		return json.Unmarshal(data, &status)
	})
	if err != nil {
		return nil, err
	}
	return &status, nil
}

func (s *BoltStore) ListWorkerStatuses() ([]*types.WorkerStatus, error) {
	var statuses []*types.WorkerStatus
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketWorkerStatus).ForEach(func(k, v []byte) error {
			var status types.WorkerStatus
			if err := json.Unmarshal(v, &status); err != nil {
				return err
			}
			statuses = append(statuses, &status)
			return nil
		})
	})
	return statuses, err
}

// Assignment operations

// CreateAssignment inserts a new assignment. It fails with ErrConflict if
// another active assignment already exists for the same job, keeping the
// one-active-assignment-per-job invariant inside the transaction.
func (s *BoltStore) CreateAssignment(assignment *types.JobAssignment) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAssignments)

		var conflict bool
		err := b.ForEach(func(k, v []byte) error {
			var existing types.JobAssignment
			if err := json.Unmarshal(v, &existing); err != nil {
				return err
			}
			if existing.JobID == assignment.JobID && existing.Active() {
				conflict = true
			}
			return nil
		})
		if err != nil {
			return err
		}
		if conflict {
			return fmt.Errorf("job %d already has an active assignment: %w", assignment.JobID, ErrConflict)
		}

		if assignment.ID == 0 {
			seq, err := b.NextSequence()
			if err != nil {
				return err
			}
			assignment.ID = int64(seq)
		}
		return putJSON(b, itob(assignment.ID), assignment)
	})
}

func (s *BoltStore) GetAssignment(id int64) (*types.JobAssignment, error) {
	var assignment types.JobAssignment
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketAssignments).Get(itob(id))
		if data == nil {
			return fmt.Errorf("assignment %d: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &assignment)
	})
	if err != nil {
		return nil, err
	}
	return &assignment, nil
}

func (s *BoltStore) ListAssignments() ([]*types.JobAssignment, error) {
	return s.listAssignments(func(a *types.JobAssignment) bool { return true })
}

func (s *BoltStore) ListActiveAssignments() ([]*types.JobAssignment, error) {
	return s.listAssignments(func(a *types.JobAssignment) bool { return a.Active() })
}

func (s *BoltStore) ListAssignmentsByJob(jobID int64) ([]*types.JobAssignment, error) {
	return s.listAssignments(func(a *types.JobAssignment) bool { return a.JobID == jobID })
}

func (s *BoltStore) listAssignments(keep func(*types.JobAssignment) bool) ([]*types.JobAssignment, error) {
	var assignments []*types.JobAssignment
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAssignments).ForEach(func(k, v []byte) error {
			var assignment types.JobAssignment
			if err := json.Unmarshal(v, &assignment); err != nil {
				return err
			}
			if keep(&assignment) {
				assignments = append(assignments, &assignment)
			}
			return nil
		})
	})
	return assignments, err
}

func (s *BoltStore) UpdateAssignment(assignment *types.JobAssignment) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAssignments)
		if b.Get(itob(assignment.ID)) == nil {
			return fmt.Errorf("assignment %d: %w", assignment.ID, ErrNotFound)
		}
		return putJSON(b, itob(assignment.ID), assignment)
	})
}

// Result and metric operations

func (s *BoltStore) CreateResult(result *types.JobResult) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return s.createResultTx(tx, result)
	})
}

func (s *BoltStore) createResultTx(tx *bolt.Tx, result *types.JobResult) error {
	b := tx.Bucket(bucketResults)
	if result.ID == 0 {
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		result.ID = int64(seq)
	}
	return putJSON(b, itob(result.ID), result)
}

func (s *BoltStore) ListResultsByJob(jobID int64) ([]*types.JobResult, error) {
	var results []*types.JobResult
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketResults).ForEach(func(k, v []byte) error {
			var result types.JobResult
			if err := json.Unmarshal(v, &result); err != nil {
				return err
			}
			if result.JobID == jobID {
				results = append(results, &result)
			}
			return nil
		})
	})
	return results, err
}

func (s *BoltStore) UpsertMetric(metric *types.JobMetric) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return s.upsertMetricTx(tx, metric)
	})
}

func (s *BoltStore) upsertMetricTx(tx *bolt.Tx, metric *types.JobMetric) error {
	b := tx.Bucket(bucketMetrics)
	key := metricKey(metric.JobID, metric.WorkerID)
	if existing := b.Get(key); existing != nil {
		var prev types.JobMetric
		if err := json.Unmarshal(existing, &prev); err != nil {
			return err
		}
		metric.ID = prev.ID
	} else if metric.ID == 0 {
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		metric.ID = int64(seq)
	}
	return putJSON(b, key, metric)
}

func (s *BoltStore) GetMetric(jobID, workerID int64) (*types.JobMetric, error) {
	var metric types.JobMetric
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketMetrics).Get(metricKey(jobID, workerID))
		if data == nil {
			return fmt.Errorf("metric for job %d worker %d: %w", jobID, workerID, ErrNotFound)
		}
		return json.Unmarshal(data, &metric)
	})
	if err != nil {
		return nil, err
	}
	return &metric, nil
}

// FinalizeAssignment commits the terminal state of an execution atomically:
// the job row, the finished assignment, the result, the metric, and the
// worker status all land in one transaction or not at all.
func (s *BoltStore) FinalizeAssignment(job *types.Job, assignment *types.JobAssignment, result *types.JobResult, metric *types.JobMetric, status *types.WorkerStatus) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := putJSON(tx.Bucket(bucketJobs), itob(job.ID), job); err != nil {
			return err
		}
		if err := putJSON(tx.Bucket(bucketAssignments), itob(assignment.ID), assignment); err != nil {
			return err
		}
		if result != nil {
			if err := s.createResultTx(tx, result); err != nil {
				return err
			}
		}
		if metric != nil {
			if err := s.upsertMetricTx(tx, metric); err != nil {
				return err
			}
		}
		return putJSON(tx.Bucket(bucketWorkerStatus), itob(status.WorkerID), status)
	})
}

// Journal operations

// AppendLogs appends a batch of journal rows. Row keys come from the bucket
// sequence so iteration order matches submission order across batches.
func (s *BoltStore) AppendLogs(entries []types.DBLogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLogs)
		for i := range entries {
			seq, err := b.NextSequence()
			if err != nil {
				return err
			}
			if err := putJSON(b, itob(int64(seq)), &entries[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) ListLogs() ([]*types.DBLogEntry, error) {
	var logs []*types.DBLogEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketLogs).ForEach(func(k, v []byte) error {
			var entry types.DBLogEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			logs = append(logs, &entry)
			return nil
		})
	})
	return logs, err
}

// DeleteExpiredLogs removes rows whose ExpiresAt is in the past and returns
// how many were deleted
func (s *BoltStore) DeleteExpiredLogs(now time.Time) (int, error) {
	deleted := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLogs)
		var expired [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var entry types.DBLogEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			if entry.ExpiresAt.Before(now) {
				key := make([]byte, len(k))
				copy(key, k)
				expired = append(expired, key)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, key := range expired {
			if err := b.Delete(key); err != nil {
				return err
			}
		}
		deleted = len(expired)
		return nil
	})
	return deleted, err
}

// Archive operations

// ArchiveJob moves a terminal job and its dependents (assignments, results,
// metrics) into the archive buckets and deletes them from the primary
// buckets, all in one transaction.
func (s *BoltStore) ArchiveJob(jobID int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		jobs := tx.Bucket(bucketJobs)
		data := jobs.Get(itob(jobID))
		if data == nil {
			return fmt.Errorf("job %d: %w", jobID, ErrNotFound)
		}
		var job types.Job
		if err := json.Unmarshal(data, &job); err != nil {
			return err
		}
		if !job.State.IsTerminal() {
			return fmt.Errorf("job %d is %s, not terminal: %w", jobID, job.State, ErrConflict)
		}

		if err := tx.Bucket(bucketArchivedJobs).Put(itob(jobID), data); err != nil {
			return err
		}
		if err := jobs.Delete(itob(jobID)); err != nil {
			return err
		}

		if err := moveMatching(tx, bucketAssignments, bucketArchivedAssignments, func(v []byte) (bool, error) {
			var a types.JobAssignment
			if err := json.Unmarshal(v, &a); err != nil {
				return false, err
			}
			return a.JobID == jobID, nil
		}); err != nil {
			return err
		}

		if err := moveMatching(tx, bucketResults, bucketArchivedResults, func(v []byte) (bool, error) {
			var r types.JobResult
			if err := json.Unmarshal(v, &r); err != nil {
				return false, err
			}
			return r.JobID == jobID, nil
		}); err != nil {
			return err
		}

		// Metric keys are prefixed with the job id, so a prefix scan finds
		// every worker's row for this job
		metrics := tx.Bucket(bucketMetrics)
		archivedMetrics := tx.Bucket(bucketArchivedMetrics)
		prefix := itob(jobID)
		c := metrics.Cursor()
		var metricKeys [][]byte
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			key := make([]byte, len(k))
			copy(key, k)
			metricKeys = append(metricKeys, key)
			if err := archivedMetrics.Put(key, v); err != nil {
				return err
			}
		}
		for _, key := range metricKeys {
			if err := metrics.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}

// moveMatching copies matching rows from src to dst and deletes them from src
func moveMatching(tx *bolt.Tx, src, dst []byte, match func(v []byte) (bool, error)) error {
	srcBucket := tx.Bucket(src)
	dstBucket := tx.Bucket(dst)

	var keys [][]byte
	err := srcBucket.ForEach(func(k, v []byte) error {
		ok, err := match(v)
		if err != nil {
			return err
		}
		if ok {
			key := make([]byte, len(k))
			copy(key, k)
			keys = append(keys, key)
			return dstBucket.Put(key, v)
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := srcBucket.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

func (s *BoltStore) ListArchivedJobs() ([]*types.Job, error) {
	var jobs []*types.Job
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketArchivedJobs).ForEach(func(k, v []byte) error {
			var job types.Job
			if err := json.Unmarshal(v, &job); err != nil {
				return err
			}
			jobs = append(jobs, &job)
			return nil
		})
	})
	return jobs, err
}
