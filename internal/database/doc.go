// Package database manages the optional PostgreSQL pool used to persist
// delivery partner locations.
//
// The pool is only opened when database.postgres.host is configured; the
// sync client runs without it.
package database
