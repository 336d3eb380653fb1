package cache

import (
	"github.com/jinzhu/gorm"
)

func (c *Cache) SaveChild(tx *gorm.DB, child Child) error {
	return c.dbOrTx(tx).Save(&child).Error
}

func (c *Cache) GetChild(tx *gorm.DB, childId string) (Child, error) {
	child := Child{}
	if err := first(c.dbOrTx(tx), &child, "child_id = ?", childId); err != nil {
		return Child{}, err
	}
	return child, nil
}

func (c *Cache) ListChildren(tx *gorm.DB) ([]Child, error) {
	children := []Child{}
	if err := c.dbOrTx(tx).Order("last_name, first_name").Find(&children).Error; err != nil {
		return nil, err
	}
	return children, nil
}
