package cache

import (
	"github.com/Vinubaba/kids-checkin/common/checkin"

	"github.com/jinzhu/gorm"
)

func (c *Cache) SaveRecord(tx *gorm.DB, record Record) error {
	return c.dbOrTx(tx).Save(&record).Error
}

func (c *Cache) GetRecord(tx *gorm.DB, recordId string) (Record, error) {
	record := Record{}
	if err := first(c.dbOrTx(tx), &record, "record_id = ?", recordId); err != nil {
		return Record{}, err
	}
	return record, nil
}

func (c *Cache) DeleteRecord(tx *gorm.DB, recordId string) error {
	return c.dbOrTx(tx).Where("record_id = ?", recordId).Delete(&Record{}).Error
}

func (c *Cache) ActiveRecordOfChild(tx *gorm.DB, childId string) (Record, error) {
	record := Record{}
	err := first(c.dbOrTx(tx), &record, "child_id = ? AND status = ?", childId, checkin.ChildCheckedIn)
	if err != nil {
		return Record{}, err
	}
	return record, nil
}

func (c *Cache) ReplaceRecord(tx *gorm.DB, oldId string, record Record) error {
	if oldId != record.RecordId {
		if err := c.DeleteRecord(tx, oldId); err != nil {
			return err
		}
	}
	return c.SaveRecord(tx, record)
}
