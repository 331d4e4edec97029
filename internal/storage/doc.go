// Package storage turns fetched pages into stored files. Blob backends live
// in the local, memory, and gcs subpackages.
package storage
