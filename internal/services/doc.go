// Package services defines shared utilities consumed by the upload queue,
// its transports and the ingestion adapters.
//
// Key responsibilities:
//   - Context helpers that stamp task IDs, component names, and correlation
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper that let transports tag
//     failures so the queue can classify them as transient or permanent.
//
// Use these helpers when writing a new transport or adapter so failure
// classification and observability stay uniform across the pipeline.
package services
