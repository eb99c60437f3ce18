package sqlstore

import (
	"encoding/json"
	"time"

	"github.com/qri-io/iso8601"
	"gorm.io/datatypes"

	"github.com/migrato/migrato/migration"
)

// migrationRow is the migrations table. one row per migration job
type migrationRow struct {
	ID                 string          `gorm:"column:id;primaryKey"`
	SourceLocator      string          `gorm:"column:source_locator;not null"`
	TargetID           string          `gorm:"column:target_id;not null;index"`
	Status             string          `gorm:"column:status;not null;index"`
	LastSyncedRevision string          `gorm:"column:last_synced_revision"`
	LayoutConfig       datatypes.JSON  `gorm:"column:layout_config"`
	AuthorsMapping     datatypes.JSON  `gorm:"column:authors_mapping"`
	Metadata           datatypes.JSON  `gorm:"column:metadata"`
	SyncInterval       string          `gorm:"column:sync_interval"`
	LastSyncedAt       *time.Time      `gorm:"column:last_synced_at"`
	CreatedAt          time.Time       `gorm:"column:created_at"`
	UpdatedAt          time.Time       `gorm:"column:updated_at"`

	Logs  []migrationLogRow   `gorm:"foreignKey:MigrationID;references:ID;constraint:OnDelete:CASCADE"`
	Queue []jobQueueStatusRow `gorm:"foreignKey:MigrationID;references:ID;constraint:OnDelete:CASCADE"`
}

func (migrationRow) TableName() string { return "migrations" }

// migrationLogRow is the migration_logs table: the append-only history owned
// by a migration
type migrationLogRow struct {
	ID          uint      `gorm:"column:id;primaryKey;autoIncrement"`
	MigrationID string    `gorm:"column:migration_id;not null;index"`
	Level       string    `gorm:"column:level;not null"`
	Message     string    `gorm:"column:message;not null"`
	Timestamp   time.Time `gorm:"column:timestamp;not null"`
}

func (migrationLogRow) TableName() string { return "migration_logs" }

// jobQueueStatusRow is the job_queue_status table: the execution-time view,
// one row per admission / retry attempt
type jobQueueStatusRow struct {
	ID          uint      `gorm:"column:id;primaryKey;autoIncrement"`
	MigrationID string    `gorm:"column:migration_id;not null;index"`
	JobID       string    `gorm:"column:job_id;not null;uniqueIndex"`
	Status      string    `gorm:"column:status;not null"`
	Progress    int       `gorm:"column:progress;not null;default:0"`
	CreatedAt   time.Time `gorm:"column:created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at"`
}

func (jobQueueStatusRow) TableName() string { return "job_queue_status" }

func toRow(job *migration.Job) *migrationRow {
	syncInterval := ""
	if job.SyncsAutomatically() {
		syncInterval = job.SyncInterval.String()
	}
	return &migrationRow{
		ID:                 job.ID,
		SourceLocator:      job.SourceLocator,
		TargetID:           job.TargetID,
		Status:             string(job.Status),
		LastSyncedRevision: job.LastSyncedRevision,
		LayoutConfig:       datatypes.JSON(job.LayoutConfig),
		AuthorsMapping:     datatypes.JSON(job.AuthorMapping),
		Metadata:           datatypes.JSON(job.Metadata),
		SyncInterval:       syncInterval,
		LastSyncedAt:       job.LastSyncedAt,
		CreatedAt:          job.CreatedAt,
		UpdatedAt:          job.UpdatedAt,
	}
}

func fromRow(row *migrationRow) (*migration.Job, error) {
	job := &migration.Job{
		ID:                 row.ID,
		SourceLocator:      row.SourceLocator,
		TargetID:           row.TargetID,
		Status:             migration.Status(row.Status),
		LastSyncedRevision: row.LastSyncedRevision,
		LayoutConfig:       json.RawMessage(row.LayoutConfig),
		AuthorMapping:      json.RawMessage(row.AuthorsMapping),
		Metadata:           json.RawMessage(row.Metadata),
		LastSyncedAt:       row.LastSyncedAt,
		CreatedAt:          row.CreatedAt,
		UpdatedAt:          row.UpdatedAt,
	}
	if row.SyncInterval != "" {
		ri, err := iso8601.ParseRepeatingInterval(row.SyncInterval)
		if err != nil {
			return nil, err
		}
		job.SyncInterval = ri
	}
	return job, nil
}

func logFromRow(row *migrationLogRow) *migration.LogEntry {
	return &migration.LogEntry{
		MigrationID: row.MigrationID,
		Level:       migration.LogLevel(row.Level),
		Message:     row.Message,
		Timestamp:   row.Timestamp,
	}
}

func entryFromRow(row *jobQueueStatusRow) *migration.QueueEntry {
	return &migration.QueueEntry{
		MigrationID: row.MigrationID,
		RunID:       row.JobID,
		Status:      migration.Status(row.Status),
		Progress:    row.Progress,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}
}
