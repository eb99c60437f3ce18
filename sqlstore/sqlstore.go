// Package sqlstore implements migration.Store on a relational database via
// gorm. sqlite serves single-node deployments & tests, postgres serves
// shared ones. All multi-effect writes run inside a transaction, and status
// changes carry an optimistic status match so concurrent writers lose with
// a conflict instead of silently overwriting each other
package sqlstore

import (
	"context"
	"errors"
	"fmt"

	golog "github.com/ipfs/go-log/v2"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/migrato/migrato/migration"
)

var log = golog.Logger("sqlstore")

// drivers the store knows how to open
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Store is a relational implementation of migration.Store
type Store struct {
	db *gorm.DB
}

// assert Store is a migration.Store at compile time
var _ migration.Store = (*Store)(nil)

// New creates a Store around an existing gorm connection, migrating the
// schema if needed
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&migrationRow{}, &migrationLogRow{}, &jobQueueStatusRow{}); err != nil {
		return nil, fmt.Errorf("migrating schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Open connects to the given driver & dsn and returns a ready Store
func Open(driver, dsn string) (*Store, error) {
	var dial gorm.Dialector
	switch driver {
	case DriverSQLite, "":
		dial = sqlite.Open(dsn)
	case DriverPostgres:
		dial = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unknown store driver: %q", driver)
	}

	db, err := gorm.Open(dial, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s", migration.ErrStoreUnavailable, err)
	}
	if driver != DriverPostgres {
		// sqlite doesn't enforce foreign keys unless asked
		db.Exec("PRAGMA foreign_keys = ON")
	}
	log.Debugf("opened %s store", driver)
	return New(db)
}

// Close releases the underlying database connection
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateJob persists a new job record
func (s *Store) CreateJob(ctx context.Context, job *migration.Job) error {
	if err := job.Validate(); err != nil {
		return err
	}
	err := s.db.WithContext(ctx).Create(toRow(job)).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return migration.ErrConflict
	}
	return err
}

// GetJob fetches a job by id
func (s *Store) GetJob(ctx context.Context, id string) (*migration.Job, error) {
	var row migrationRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, convErr(err)
	}
	return fromRow(&row)
}

// ListJobs lists jobs matching filter in FIFO order by creation time
func (s *Store) ListJobs(ctx context.Context, filter migration.Filter) ([]*migration.Job, error) {
	query := s.db.WithContext(ctx).Model(&migrationRow{}).Order("created_at ASC, id ASC")
	if filter.Status != "" {
		query = query.Where("status = ?", string(filter.Status))
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var rows []migrationRow
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	jobs := make([]*migration.Job, len(rows))
	for i := range rows {
		job, err := fromRow(&rows[i])
		if err != nil {
			return nil, err
		}
		jobs[i] = job
	}
	return jobs, nil
}

// UpdateStatus transitions a job & applies upd as one transaction. The final
// UPDATE matches on the status the transaction read, so a writer that lost a
// race gets migration.ErrConflict & no effects
func (s *Store) UpdateStatus(ctx context.Context, id string, next migration.Status, upd migration.StatusUpdate) (*migration.Job, error) {
	var result *migration.Job
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row migrationRow
		if err := tx.First(&row, "id = ?", id).Error; err != nil {
			return convErr(err)
		}
		current := migration.Status(row.Status)
		if upd.ExpectCurrent != "" && current != upd.ExpectCurrent {
			return migration.ErrConflict
		}
		if err := migration.ValidateTransition(current, next); err != nil {
			return err
		}
		if upd.Revision != "" && !migration.RevisionAdvances(row.LastSyncedRevision, upd.Revision) {
			return migration.ErrRevisionRegress
		}

		now := migration.NowFunc()
		changes := map[string]interface{}{
			"status":     string(next),
			"updated_at": now,
		}
		if upd.Revision != "" {
			changes["last_synced_revision"] = upd.Revision
		}
		if upd.SyncedNow {
			changes["last_synced_at"] = now
		}

		res := tx.Model(&migrationRow{}).
			Where("id = ? AND status = ?", id, row.Status).
			Updates(changes)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// someone else moved the job between our read & write
			return migration.ErrConflict
		}

		if upd.RunID != "" {
			if err := upsertQueueEntry(tx, id, upd.RunID, next, upd.Progress); err != nil {
				return err
			}
		}
		if upd.LogMessage != "" {
			if err := appendLog(tx, id, upd.LogLevel, upd.LogMessage); err != nil {
				return err
			}
		}

		var updated migrationRow
		if err := tx.First(&updated, "id = ?", id).Error; err != nil {
			return convErr(err)
		}
		job, err := fromRow(&updated)
		if err != nil {
			return err
		}
		result = job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// StartRun records a queue entry for a new execution attempt
func (s *Store) StartRun(ctx context.Context, id, runID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row migrationRow
		if err := tx.First(&row, "id = ?", id).Error; err != nil {
			return convErr(err)
		}
		now := migration.NowFunc()
		return tx.Create(&jobQueueStatusRow{
			MigrationID: id,
			JobID:       runID,
			Status:      row.Status,
			Progress:    0,
			CreatedAt:   now,
			UpdatedAt:   now,
		}).Error
	})
}

// FinishRun stamps an attempt's queue entry with a final status & progress
func (s *Store) FinishRun(ctx context.Context, runID string, status migration.Status, progress int) error {
	res := s.db.WithContext(ctx).Model(&jobQueueStatusRow{}).
		Where("job_id = ?", runID).
		Updates(map[string]interface{}{
			"status":     string(status),
			"progress":   progress,
			"updated_at": migration.NowFunc(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return migration.ErrNotFound
	}
	return nil
}

// SetProgress updates an attempt's progress counter
func (s *Store) SetProgress(ctx context.Context, runID string, progress int) error {
	res := s.db.WithContext(ctx).Model(&jobQueueStatusRow{}).
		Where("job_id = ?", runID).
		Updates(map[string]interface{}{
			"progress":   progress,
			"updated_at": migration.NowFunc(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return migration.ErrNotFound
	}
	return nil
}

// AdvanceRevision moves a job's lastSyncedRevision forward at a checkpoint
func (s *Store) AdvanceRevision(ctx context.Context, id, revision string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row migrationRow
		if err := tx.First(&row, "id = ?", id).Error; err != nil {
			return convErr(err)
		}
		if !migration.RevisionAdvances(row.LastSyncedRevision, revision) {
			return migration.ErrRevisionRegress
		}
		return tx.Model(&migrationRow{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{
				"last_synced_revision": revision,
				"updated_at":           migration.NowFunc(),
			}).Error
	})
}

// AppendLog adds an entry to a job's history
func (s *Store) AppendLog(ctx context.Context, id string, level migration.LogLevel, message string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row migrationRow
		if err := tx.First(&row, "id = ?", id).Error; err != nil {
			return convErr(err)
		}
		return appendLog(tx, id, level, message)
	})
}

// Logs lists a job's log entries in append order
func (s *Store) Logs(ctx context.Context, id string, offset, limit int) ([]*migration.LogEntry, error) {
	if _, err := s.GetJob(ctx, id); err != nil {
		return nil, err
	}

	query := s.db.WithContext(ctx).Model(&migrationLogRow{}).
		Where("migration_id = ?", id).
		Order("id ASC")
	if offset > 0 {
		query = query.Offset(offset)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var rows []migrationLogRow
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	entries := make([]*migration.LogEntry, len(rows))
	for i := range rows {
		entries[i] = logFromRow(&rows[i])
	}
	return entries, nil
}

// QueueEntries lists a job's execution attempts, oldest first
func (s *Store) QueueEntries(ctx context.Context, id string) ([]*migration.QueueEntry, error) {
	if _, err := s.GetJob(ctx, id); err != nil {
		return nil, err
	}

	var rows []jobQueueStatusRow
	if err := s.db.WithContext(ctx).
		Where("migration_id = ?", id).
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	entries := make([]*migration.QueueEntry, len(rows))
	for i := range rows {
		entries[i] = entryFromRow(&rows[i])
	}
	return entries, nil
}

// DeleteJob removes a job, cascading to its logs & queue entries. The
// cascade is an explicit part of the delete transaction rather than a
// property we assume of the storage engine
func (s *Store) DeleteJob(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row migrationRow
		if err := tx.First(&row, "id = ?", id).Error; err != nil {
			return convErr(err)
		}
		if err := tx.Where("migration_id = ?", id).Delete(&migrationLogRow{}).Error; err != nil {
			return err
		}
		if err := tx.Where("migration_id = ?", id).Delete(&jobQueueStatusRow{}).Error; err != nil {
			return err
		}
		return tx.Delete(&migrationRow{}, "id = ?", id).Error
	})
}

// upsertQueueEntry mirrors a status change onto the attempt's queue entry,
// creating the entry if the transition is the attempt's first write
func upsertQueueEntry(tx *gorm.DB, id, runID string, status migration.Status, progress *int) error {
	now := migration.NowFunc()
	changes := map[string]interface{}{
		"status":     string(status),
		"updated_at": now,
	}
	if progress != nil {
		changes["progress"] = *progress
	}

	res := tx.Model(&jobQueueStatusRow{}).Where("job_id = ?", runID).Updates(changes)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}

	entry := &jobQueueStatusRow{
		MigrationID: id,
		JobID:       runID,
		Status:      string(status),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if progress != nil {
		entry.Progress = *progress
	}
	return tx.Create(entry).Error
}

func appendLog(tx *gorm.DB, id string, level migration.LogLevel, message string) error {
	if level == "" {
		level = migration.LogLevelInfo
	}
	return tx.Create(&migrationLogRow{
		MigrationID: id,
		Level:       string(level),
		Message:     message,
		Timestamp:   migration.NowFunc(),
	}).Error
}

func convErr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return migration.ErrNotFound
	}
	return err
}
