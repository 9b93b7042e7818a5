package database

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store is the persistence gateway. Plain reads go through DB; every
// multi-step mutation goes through Atomic so partial state is never visible
// to other readers.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB returns a context-bound handle for single-statement work.
func (s *Store) DB(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

// Atomic runs fn inside a transaction: rollback on error, commit on nil.
func (s *Store) Atomic(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return s.db.WithContext(ctx).Transaction(fn)
}

// Upsert inserts value and, when the unique key named by conflictCols already
// exists, updates updateCols on the existing row instead. Shared by the
// membership and vote paths, which both rely on "one row per pair" semantics.
func Upsert(tx *gorm.DB, value interface{}, conflictCols []string, updateCols []string) error {
	columns := make([]clause.Column, len(conflictCols))
	for i, c := range conflictCols {
		columns[i] = clause.Column{Name: c}
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   columns,
		DoUpdates: clause.AssignmentColumns(updateCols),
	}).Create(value).Error
}

// LockForUpdate adds a SELECT ... FOR UPDATE clause. Used where a
// read-then-conditionally-write sequence must be serialized across
// processes, which an application-level mutex cannot do.
func LockForUpdate(tx *gorm.DB) *gorm.DB {
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}
