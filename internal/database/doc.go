// Package database provides the PostgreSQL connection pool backing the
// event journal.
//
// The relay keeps a single pool. Sizing comes from config; the pool is
// pinged once at startup so a bad DSN fails fast instead of surfacing as
// the first dropped batch.
package database
