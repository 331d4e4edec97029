// Package crawler defines the types, interfaces, and error taxonomy shared by
// URL generation, the status ledger, fetchers, and the orchestrator.
package crawler
