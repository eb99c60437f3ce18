package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"

	"github.com/migrato/migrato/migration"
)

var noColor = false

func setNoColor(nc bool) {
	color.NoColor = nc
}

func printSuccess(w io.Writer, msg string, params ...interface{}) {
	fmt.Fprintln(w, color.New(color.FgGreen).Sprintf(msg, params...))
}

func printInfo(w io.Writer, msg string, params ...interface{}) {
	fmt.Fprintln(w, color.New(color.FgWhite).Sprintf(msg, params...))
}

func printWarning(w io.Writer, msg string, params ...interface{}) {
	fmt.Fprintln(w, color.New(color.FgYellow).Sprintf(msg, params...))
}

func printErr(w io.Writer, err error) {
	fmt.Fprintln(w, color.New(color.FgRed).Sprint(err.Error()))
}

func statusColor(s migration.Status) *color.Color {
	switch s {
	case migration.StatusCompleted:
		return color.New(color.FgGreen)
	case migration.StatusFailed:
		return color.New(color.FgRed)
	case migration.StatusCancelled:
		return color.New(color.FgYellow)
	case migration.StatusRunning, migration.StatusSyncing:
		return color.New(color.FgCyan)
	default:
		return color.New(color.FgWhite)
	}
}

func printJobInfo(w io.Writer, i int, job *migration.Job) {
	status := statusColor(job.Status).Sprint(job.Status)
	fmt.Fprintf(w, "%d. %s  %s\n   %s -> %s\n", i, job.ID, status, job.SourceLocator, job.TargetID)
	if job.LastSyncedRevision != "" {
		fmt.Fprintf(w, "   last synced revision: %s\n", job.LastSyncedRevision)
	}
}

func printLogEntry(w io.Writer, entry *migration.LogEntry) {
	level := string(entry.Level)
	switch entry.Level {
	case migration.LogLevelError:
		level = color.New(color.FgRed).Sprint(level)
	case migration.LogLevelWarning:
		level = color.New(color.FgYellow).Sprint(level)
	}
	fmt.Fprintf(w, "%s  %s  %s\n", entry.Timestamp.Format(time.RFC3339), level, entry.Message)
}
