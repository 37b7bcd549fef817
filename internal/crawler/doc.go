// Package crawler defines the social graph data model, the sentinel errors
// shared by the ingest pipeline, and the narrow collaborator interfaces
// (store, fetcher, clock) the workers are written against.
package crawler
