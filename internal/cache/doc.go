// Package cache implements a partitioned read-through cache kept coherent by
// push events.
//
// Each partition key (a vendor id, for example) maps to the full sequence of
// records returned by one fetch. Reads that miss call the Fetcher and store the
// result; push events then upsert, delete or mutate records in place. There is
// no eviction: partitions live until Clear.
package cache
