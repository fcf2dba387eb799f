package dbconn

import "log"

// logExecute logs a debug-mode execute() call (spec §6: "logs it if debug
// is enabled"), matching the teacher's plain stdlib log.Printf style for
// ambient diagnostics (e.g. internal/storage/dolt/store.go's retry
// logging) rather than a structured logger, since jdbx is a library and
// leaves log output format to its embedder.
func logExecute(query string, args []any) {
	log.Printf("jdbx: execute %s args=%v", query, args)
}
