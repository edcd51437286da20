// Package logging builds the process-wide structured logger. Every
// component receives a *log.Logger by constructor injection and passes
// request-scoped fields as key/value pairs on each call; there is no
// package-level global.
package logging

import (
	"os"

	"charm.land/log/v2"
)

// New builds the root logger. Output goes to stderr so stdout stays free
// for any CLI subcommand that writes machine-readable output.
func New(debug bool) *log.Logger {
	l := log.New(os.Stderr)
	l.SetReportTimestamp(true)
	if debug {
		l.SetLevel(log.DebugLevel)
	} else {
		l.SetLevel(log.InfoLevel)
	}
	return l
}

// ForBatch attaches the batch-correlation fields batch_id and chunk_id.
func ForBatch(l *log.Logger, batchID, chunkID string) *log.Logger {
	return l.With("batch_id", batchID, "chunk_id", chunkID)
}

// ForItem attaches item-correlation fields on top of a batch logger.
func ForItem(l *log.Logger, itemID string) *log.Logger {
	return l.With("item_id", itemID)
}
