// Package testdb opens throwaway databases carrying the server schema.
//
// Tests run on in-memory SQLite. SQLite serializes writers on its single
// connection, so the concurrency tests only prove the row locks under real
// parallelism when CHECKIN_TEST_POSTGRES holds a postgres connect string.
package testdb

import (
	"os"

	"github.com/Vinubaba/kids-checkin/common/store"

	"github.com/jinzhu/gorm"
	_ "github.com/jinzhu/gorm/dialects/postgres"
	_ "github.com/jinzhu/gorm/dialects/sqlite"
)

const PostgresEnv = "CHECKIN_TEST_POSTGRES"

// New returns an empty database, postgres when PostgresEnv is set and
// in-memory SQLite otherwise.
func New(logger ...interface {
	Print(v ...interface{})
}) *gorm.DB {
	db := open()
	if len(logger) > 0 {
		db.LogMode(true)
		db.SetLogger(logger[0])
	}
	if err := store.AutoMigrate(db); err != nil {
		panic(err)
	}
	if db.Dialect().GetName() == "postgres" {
		truncate(db)
	}
	return db
}

func open() *gorm.DB {
	if connectString := os.Getenv(PostgresEnv); connectString != "" {
		db, err := gorm.Open("postgres", connectString)
		if err != nil {
			panic(err)
		}
		return db
	}

	db, err := gorm.Open("sqlite3", ":memory:")
	if err != nil {
		panic(err)
	}
	// the schema lives in that connection
	db.DB().SetMaxOpenConns(1)
	return db
}

func truncate(db *gorm.DB) {
	for _, model := range []interface{}{&store.CheckInRecord{}, &store.CheckInRequest{}, &store.Service{}, &store.Child{}} {
		table := db.NewScope(model).TableName()
		if err := db.Exec("TRUNCATE TABLE " + table + " CASCADE").Error; err != nil {
			panic(err)
		}
	}
}
