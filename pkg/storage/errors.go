package storage

import "errors"

// Transaction-level errors. A transaction that observes any of the
// conflict errors below must abort; they are fatal to the transaction,
// not to the engine.
var (
	ErrWriteReadConflict        = errors.New("storage: write-read conflict")
	ErrReadWriteConflict        = errors.New("storage: read-write conflict")
	ErrWriteWriteConflict       = errors.New("storage: write-write conflict")
	ErrVersionNotVisible        = errors.New("storage: version not visible to this snapshot")
	ErrTransactionNotFound      = errors.New("storage: transaction not found")
	ErrTransactionAlreadyFinal  = errors.New("storage: transaction already committed or aborted")
	ErrTransactionNotActive     = errors.New("storage: transaction is not active")
	ErrManagerClosed            = errors.New("storage: transaction manager is closed")
)

// Missing / tombstoned entities.
var (
	ErrVertexNotFound  = errors.New("storage: vertex not found")
	ErrVertexTombstone = errors.New("storage: vertex is a tombstone")
	ErrEdgeNotFound    = errors.New("storage: edge not found")
	ErrEdgeTombstone   = errors.New("storage: edge is a tombstone")
)

// Schema errors, reserved for catalog-adjacent callers.
var (
	ErrVertexSchemaAlreadyExists = errors.New("storage: vertex schema already exists")
	ErrEdgeSchemaAlreadyExists   = errors.New("storage: edge schema already exists")
	ErrVertexSchemaMissing       = errors.New("storage: vertex schema missing")
	ErrEdgeSchemaMissing         = errors.New("storage: edge schema missing")
)

// Timestamp domain errors.
var (
	ErrWrongDomainCommit = errors.New("storage: timestamp is not in the commit-ts domain")
	ErrWrongDomainTxnID  = errors.New("storage: timestamp is not in the txn-id domain")
	ErrCommitTsOverflow  = errors.New("storage: commit-ts generator overflowed")
	ErrTxnIDOverflow     = errors.New("storage: txn-id generator overflowed")
)
