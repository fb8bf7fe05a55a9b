// Package sink mirrors history rows into InfluxDB.
//
// The mirror is best effort. Enqueue never blocks the ingestion path: rows
// wait in a bounded queue and the oldest is dropped when it is full. Run
// drains the queue and writes one point per row with the blocking write
// API; failed writes are logged and counted, never retried. Nothing is read
// back from InfluxDB.
package sink
