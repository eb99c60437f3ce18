package event

import (
	"github.com/migrato/migrato/migration"
)

const (
	// ETJobCreated signals a new migration job was submitted.
	// payload will be a JobCreatedEvent
	ETJobCreated = Topic("job:created")
	// ETJobStatus signals a job's status changed.
	// payload will be a JobStatusEvent
	ETJobStatus = Topic("job:status")
	// ETJobProgress signals a progress callback from a running execution.
	// progress can fire as often as once per processed unit; subscriptions
	// never block the publisher
	// payload will be a JobProgressEvent
	ETJobProgress = Topic("job:progress")
	// ETJobLog signals a log entry was appended to a job's history.
	// payload will be a JobLogEvent
	ETJobLog = Topic("job:log")
	// ETJobDeleted signals a job & its history were removed.
	// payload will be a JobDeletedEvent
	ETJobDeleted = Topic("job:deleted")
)

// JobCreatedEvent is the expected payload of ETJobCreated
type JobCreatedEvent struct {
	JobID         string `json:"jobID"`
	SourceLocator string `json:"sourceLocator"`
	TargetID      string `json:"targetID"`
}

// JobStatusEvent is the expected payload of ETJobStatus
type JobStatusEvent struct {
	JobID              string           `json:"jobID"`
	Status             migration.Status `json:"status"`
	LastSyncedRevision string           `json:"lastSyncedRevision,omitempty"`
	Error              string           `json:"error,omitempty"`
}

// JobProgressEvent is the expected payload of ETJobProgress
type JobProgressEvent struct {
	JobID     string `json:"jobID"`
	RunID     string `json:"runID"`
	Done      int    `json:"done"`
	Total     int    `json:"total"`
	Percent   int    `json:"percent"`
	Estimated bool   `json:"estimated"`
}

// JobLogEvent is the expected payload of ETJobLog
type JobLogEvent struct {
	JobID   string             `json:"jobID"`
	Level   migration.LogLevel `json:"level"`
	Message string             `json:"message"`
}

// JobDeletedEvent is the expected payload of ETJobDeleted
type JobDeletedEvent struct {
	JobID string `json:"jobID"`
}
