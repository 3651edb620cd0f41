// Package notifications delivers upload queue milestones via ntfy.
//
// Service publishes enumerated events to the topic configured in
// config.toml and degrades to a no-op when no topic is set. Observer turns
// the queue's event stream into those notifications: one message when a
// batch starts uploading, one when it drains, and one per failed upload or
// rejected selection, each gated by its config toggle.
package notifications
