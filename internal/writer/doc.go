// Package writer persists delivery partner location broadcasts to
// PostgreSQL in batches.
//
// Updates arrive on the realtime connection, are queued in a bounded
// in-memory Queue and flushed with COPY either when a full batch is
// pending or on the flush interval. When the queue is full new updates
// are dropped and counted; the realtime dispatch path never blocks on
// the database.
package writer
