// Package store defines the persistence contract for crawl run audit data.
// Implementations live in subpackages; this package must not import database
// drivers.
package store
