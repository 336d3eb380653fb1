package store

import (
	"database/sql"

	"github.com/jinzhu/gorm"
)

type Store struct {
	Db              *gorm.DB `inject:""`
	StringGenerator interface {
		GenerateUuid() string
	} `inject:""`
}

func (s *Store) Tx() *gorm.DB {
	return s.Db.Begin()
}

func (s *Store) dbOrTx(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return s.Db
}

func (s *Store) newId() string {
	return s.StringGenerator.GenerateUuid()
}

func DbNullString(value string) sql.NullString {
	if value != "" {
		return sql.NullString{
			String: value,
			Valid:  true,
		}
	}
	return sql.NullString{
		String: "",
		Valid:  false,
	}
}

type SearchOptions struct {
	ResponsibleId string
	ServiceId     string
}

// AutoMigrate creates the schema from the models. Production databases are
// migrated from the sql/ directory instead; this is used by tests and
// single-node setups.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&Child{}, &Service{}, &CheckInRequest{}, &CheckInRecord{}).Error; err != nil {
		return err
	}
	for _, statement := range partialIndexes {
		if err := db.Exec(statement).Error; err != nil {
			return err
		}
	}
	return nil
}

var partialIndexes = []string{
	"CREATE UNIQUE INDEX IF NOT EXISTS idx_one_pending_request_per_child ON check_in_requests (child_id) WHERE status = 'PENDING'",
	"CREATE UNIQUE INDEX IF NOT EXISTS idx_one_active_record_per_child ON check_in_records (child_id) WHERE status = 'CHECKED_IN'",
}
