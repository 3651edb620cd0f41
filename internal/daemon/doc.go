// Package daemon coordinates the long-running photoqueue process.
//
// It wires configuration, the upload queue, the history journal, the
// notification observer, and the ingest watchers into a single lifecycle with
// flock-based locking to prevent multiple instances. The daemon exposes the
// queue operations the IPC layer serves: adding paths, listing, retrying,
// canceling, and pruning tasks.
//
// Keep orchestration logic here: upload policy lives in the queue package and
// transports in the transport package.
package daemon
