// Package queue owns the background upload queue: the single place where
// selected media files become upload tasks and are driven to completion.
//
// A Manager accepts batches through AddFiles, rejects files that are not
// images or videos or that exceed the size limit, collapses duplicates of
// files that are already queued or uploading, and starts queued tasks in
// enqueue order while keeping at most Concurrency uploads in flight. Uploads
// are delegated to an injected Uploader. Transient failures are retried with
// exponential backoff up to MaxAttempts per run; permanent failures stop at
// once. Cancel and Retry are the only ways callers change a task after it is
// queued.
//
// Every change is published to subscribers as an Event carrying a copy of the
// task and the queue summary. Subscribers run outside the manager lock and may
// be called from several goroutines at once; Event.Seq orders them.
//
// Tasks live in memory for the lifetime of the Manager. Nothing is restored
// after a restart.
package queue
