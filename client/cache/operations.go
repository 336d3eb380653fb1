package cache

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jinzhu/gorm"
	"github.com/pkg/errors"
)

// Operation types.
const (
	OpCheckIn        = "CHECK_IN"
	OpCheckOut       = "CHECK_OUT"
	OpRequestCheckIn = "REQUEST_CHECK_IN"
	OpCancelRequest  = "CANCEL_REQUEST"
)

// PendingOperation is a mutation applied optimistically to the cache and not
// yet acknowledged by the server. Operations of one child are replayed in
// Seq order.
type PendingOperation struct {
	OperationId string `gorm:"primary_key"`
	Seq         int64  `gorm:"unique_index"`
	Type        string
	ChildId     string `gorm:"index"`
	Payload     string
	Description string
	CreatedAt   time.Time
	Attempts    int
	LastError   string
}

func (PendingOperation) TableName() string {
	return "pending_operations"
}

func NewOperation(opType, childId, description string, payload interface{}) (PendingOperation, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return PendingOperation{}, errors.Wrap(err, "failed to encode operation payload")
	}
	return PendingOperation{
		OperationId: uuid.New().String(),
		Type:        opType,
		ChildId:     childId,
		Payload:     string(data),
		Description: description,
	}, nil
}

func (op PendingOperation) Decode(into interface{}) error {
	if err := json.Unmarshal([]byte(op.Payload), into); err != nil {
		return errors.Wrapf(err, "failed to decode payload of operation %s", op.OperationId)
	}
	return nil
}

// Enqueue appends op at the end of the queue.
func (c *Cache) Enqueue(tx *gorm.DB, op PendingOperation) (PendingOperation, error) {
	db := c.dbOrTx(tx)

	if op.OperationId == "" {
		op.OperationId = uuid.New().String()
	}
	var last int64
	if err := db.Model(&PendingOperation{}).Select("COALESCE(MAX(seq), 0)").Row().Scan(&last); err != nil {
		return PendingOperation{}, errors.Wrap(err, "failed to read queue tail")
	}
	op.Seq = last + 1
	if op.CreatedAt.IsZero() {
		op.CreatedAt = time.Now()
	}
	if err := db.Create(&op).Error; err != nil {
		return PendingOperation{}, err
	}
	return op, nil
}

func (c *Cache) GetOperation(tx *gorm.DB, operationId string) (PendingOperation, error) {
	op := PendingOperation{}
	if err := first(c.dbOrTx(tx), &op, "operation_id = ?", operationId); err != nil {
		return PendingOperation{}, err
	}
	return op, nil
}

func (c *Cache) PendingOperations(tx *gorm.DB) ([]PendingOperation, error) {
	ops := []PendingOperation{}
	if err := c.dbOrTx(tx).Order("seq").Find(&ops).Error; err != nil {
		return nil, err
	}
	return ops, nil
}

func (c *Cache) PendingOperationsOf(tx *gorm.DB, childId string) ([]PendingOperation, error) {
	ops := []PendingOperation{}
	if err := c.dbOrTx(tx).Where("child_id = ?", childId).Order("seq").Find(&ops).Error; err != nil {
		return nil, err
	}
	return ops, nil
}

// NextOperationOf returns the oldest operation of a child.
func (c *Cache) NextOperationOf(tx *gorm.DB, childId string) (PendingOperation, error) {
	op := PendingOperation{}
	res := c.dbOrTx(tx).Where("child_id = ?", childId).Order("seq").First(&op)
	if res.RecordNotFound() {
		return PendingOperation{}, ErrNotFound
	}
	if res.Error != nil {
		return PendingOperation{}, res.Error
	}
	return op, nil
}

// ChildrenWithPendingOperations lists children having queued operations,
// the child owning the oldest operation first.
func (c *Cache) ChildrenWithPendingOperations(tx *gorm.DB) ([]string, error) {
	rows, err := c.dbOrTx(tx).Raw("SELECT child_id FROM pending_operations GROUP BY child_id ORDER BY MIN(seq)").Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (c *Cache) RemoveOperation(tx *gorm.DB, operationId string) error {
	return c.dbOrTx(tx).Where("operation_id = ?", operationId).Delete(&PendingOperation{}).Error
}

// RecordAttempt counts a failed delivery of an operation that stays queued.
func (c *Cache) RecordAttempt(tx *gorm.DB, operationId string, cause error) error {
	lastError := ""
	if cause != nil {
		lastError = cause.Error()
	}
	return c.dbOrTx(tx).Model(&PendingOperation{}).
		Where("operation_id = ?", operationId).
		Updates(map[string]interface{}{
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": lastError,
		}).Error
}

// RewriteOperations replaces every occurrence of oldId in the payloads of the
// operations of a child, once a provisional id is known to the server.
func (c *Cache) RewriteOperations(tx *gorm.DB, childId, oldId, newId string) error {
	return c.dbOrTx(tx).Exec(
		"UPDATE pending_operations SET payload = REPLACE(payload, ?, ?) WHERE child_id = ?",
		oldId, newId, childId,
	).Error
}

func (c *Cache) CountOperations(tx *gorm.DB) (int, error) {
	count := 0
	if err := c.dbOrTx(tx).Model(&PendingOperation{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
