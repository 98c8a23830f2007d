package writer

import "time"

// WriterConfig controls batching.
type WriterConfig struct {
	BatchSize     int           // rows per COPY
	FlushInterval time.Duration // max time a row waits before being flushed
	BufferSize    int           // max queued rows before dropping
}

// DefaultWriterConfig returns the defaults used when no config is given.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		BatchSize:     500,
		FlushInterval: time.Second,
		BufferSize:    10000,
	}
}

func (c WriterConfig) normalized() WriterConfig {
	d := DefaultWriterConfig()
	if c.BatchSize < 1 {
		c.BatchSize = d.BatchSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = d.FlushInterval
	}
	if c.BufferSize < 1 {
		c.BufferSize = d.BufferSize
	}
	return c
}
