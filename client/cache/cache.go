// Package cache is the durable on-device copy of what the server knows
// about a guardian's or a staff member's children, plus the queue of
// mutations not yet acknowledged by the server.
//
// Every shadow entity carries LastSyncedAt: nil means the row only exists
// (or was only changed) locally. Rows created offline get a provisional id,
// see NewProvisionalId.
package cache

import (
	"strings"

	"github.com/google/uuid"
	"github.com/jinzhu/gorm"
	_ "github.com/jinzhu/gorm/dialects/sqlite"
	"github.com/pkg/errors"
)

const provisionalPrefix = "local-"

var (
	ErrNotFound = errors.New("not found in cache")
)

type Cache struct {
	Db *gorm.DB
}

// Open opens (and creates when needed) the cache database at path.
// ":memory:" gives a throwaway cache.
func Open(path string, logger ...interface {
	Print(v ...interface{})
}) (*Cache, error) {
	db, err := gorm.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open cache %s", path)
	}
	// single writer, and the only way to share a :memory: database
	db.DB().SetMaxOpenConns(1)
	if len(logger) > 0 {
		db.LogMode(true)
		db.SetLogger(logger[0])
	}
	if err := db.AutoMigrate(&Child{}, &Service{}, &Request{}, &Record{}, &PendingOperation{}).Error; err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to migrate cache")
	}
	return &Cache{Db: db}, nil
}

func (c *Cache) Close() error {
	return c.Db.Close()
}

func (c *Cache) Tx() *gorm.DB {
	return c.Db.Begin()
}

func (c *Cache) dbOrTx(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return c.Db
}

// InTx runs fn in a transaction, committed when fn returns nil.
func (c *Cache) InTx(fn func(tx *gorm.DB) error) error {
	tx := c.Tx()
	if tx.Error != nil {
		return tx.Error
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit().Error
}

func NewProvisionalId() string {
	return provisionalPrefix + uuid.New().String()
}

func IsProvisional(id string) bool {
	return strings.HasPrefix(id, provisionalPrefix)
}

func first(db *gorm.DB, into interface{}, where string, args ...interface{}) error {
	res := db.Where(where, args...).First(into)
	if res.RecordNotFound() {
		return ErrNotFound
	}
	return res.Error
}
