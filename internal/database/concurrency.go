package database

import (
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/trentd187/puckdrop/internal/apperr"
)

// BumpVersion increments the version column of the row identified by id, but only
// if it still holds the version the caller read. Services call it inside the same
// transaction as the change it guards; if someone else committed first no row
// matches and the caller gets apperr.ErrConcurrentModification, which rolls back
// the transaction.
//
// model is a pointer to the GORM model (e.g. &models.Event{}) so GORM knows the table.
func BumpVersion(tx *gorm.DB, model any, id uuid.UUID, version int) error {
	res := tx.Model(model).
		Where("id = ? AND version = ?", id, version).
		Update("version", gorm.Expr("version + 1"))
	if res.Error != nil {
		return fmt.Errorf("bump version: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: the record was changed by someone else, please retry", apperr.ErrConcurrentModification)
	}
	return nil
}
