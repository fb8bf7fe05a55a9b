// Package history keeps a bounded, append-only ring of compact rows, one per
// accepted ingestion. When the ring is full the oldest row is evicted, so
// memory use is fixed by the configured capacity (2000 rows by default).
//
// Rows are copied in and out; nothing outside the ring can alias them.
// WriteCSV renders an exported slice in the column layout used by the
// wgc_history.csv download.
package history
