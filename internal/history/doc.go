// Package history keeps a SQLite journal of finished uploads.
//
// Store persists one row per terminal outcome (succeeded, failed, canceled)
// and answers the "what happened to my files" questions the CLI asks:
// recent entries, aggregate stats, and pruning. Recorder feeds the store from
// the queue's event stream. The journal is an audit log only; nothing reads it
// back into the queue.
package history
