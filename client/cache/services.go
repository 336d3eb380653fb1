package cache

import (
	"github.com/jinzhu/gorm"
)

func (c *Cache) SaveService(tx *gorm.DB, service Service) error {
	return c.dbOrTx(tx).Save(&service).Error
}

func (c *Cache) GetService(tx *gorm.DB, serviceId string) (Service, error) {
	service := Service{}
	if err := first(c.dbOrTx(tx), &service, "service_id = ?", serviceId); err != nil {
		return Service{}, err
	}
	return service, nil
}

func (c *Cache) ListServices(tx *gorm.DB) ([]Service, error) {
	services := []Service{}
	if err := c.dbOrTx(tx).Order("starts_at").Find(&services).Error; err != nil {
		return nil, err
	}
	return services, nil
}
