// Package urlgen expands declarative URL descriptors into ordered target
// lists. Expansion is deterministic and side-effect free: the same descriptor
// always yields the same URLs in the same order.
package urlgen
