// Command photoqueue is the user-facing CLI for the photo upload queue.
//
// `photoqueue upload` runs a queue in the foreground and draws a progress
// bar; the remaining commands talk to a running photoqueued over its control
// socket to add files, inspect and manage tasks, and read upload history.
package main
