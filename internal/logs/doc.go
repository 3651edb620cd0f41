// Package logs tails the daemon and upload log files for `photoqueue logs`.
//
// It reads the last N lines with bounded memory, optionally keeps following
// appended lines until the caller's context ends, and restarts from the top
// when the file is truncated underneath it.
package logs
