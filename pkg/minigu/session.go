package minigu

import "github.com/minigu-db/minigu/pkg/storage"

// Session is a thread-affine handle onto a Database: it begins
// transactions and hands back *storage.Transaction, which implements
// the graph read/write operations of §4.E directly.
type Session struct {
	db *Database
}

// Begin starts a new transaction at the given isolation level.
func (s *Session) Begin(isolation storage.IsolationLevel) (*storage.Transaction, error) {
	return s.db.manager.Begin(isolation)
}

// BeginDefault starts a new transaction at the database's default
// isolation level (Snapshot).
func (s *Session) BeginDefault() (*storage.Transaction, error) {
	return s.db.manager.BeginDefault()
}

// Database returns the session's owning database.
func (s *Session) Database() *Database { return s.db }
