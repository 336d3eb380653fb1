package cache

import (
	"github.com/Vinubaba/kids-checkin/common/checkin"

	"github.com/jinzhu/gorm"
)

func (c *Cache) SaveRequest(tx *gorm.DB, request Request) error {
	return c.dbOrTx(tx).Save(&request).Error
}

func (c *Cache) GetRequest(tx *gorm.DB, requestId string) (Request, error) {
	request := Request{}
	if err := first(c.dbOrTx(tx), &request, "request_id = ?", requestId); err != nil {
		return Request{}, err
	}
	return request, nil
}

func (c *Cache) DeleteRequest(tx *gorm.DB, requestId string) error {
	return c.dbOrTx(tx).Where("request_id = ?", requestId).Delete(&Request{}).Error
}

// PendingRequestOfChild returns the PENDING request of a child as cached,
// expiry is left to the caller.
func (c *Cache) PendingRequestOfChild(tx *gorm.DB, childId string) (Request, error) {
	request := Request{}
	err := first(c.dbOrTx(tx), &request, "child_id = ? AND status = ?", childId, checkin.StatusPending)
	if err != nil {
		return Request{}, err
	}
	return request, nil
}

// ReplaceRequest swaps the row stored under oldId for request, typically a
// provisional request for its server copy.
func (c *Cache) ReplaceRequest(tx *gorm.DB, oldId string, request Request) error {
	if oldId != request.RequestId {
		if err := c.DeleteRequest(tx, oldId); err != nil {
			return err
		}
	}
	return c.SaveRequest(tx, request)
}
