// Package ingest turns files on disk into queue.FileRef values and feeds
// them to the upload queue.
//
// Collect expands command-line arguments (files and directories) and sniffs
// content types. DropFolder watches a directory and enqueues files once their
// size settles. CardMonitor listens for removable partitions over udev
// netlink and imports the media tree of each newly mounted card.
package ingest
