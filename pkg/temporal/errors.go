package temporal

import (
	"errors"

	"gorm.io/gorm"
)

var (
	// registration
	ErrInvalidConfig    = errors.New("invalid history configuration")
	ErrNoPrimaryKey     = errors.New("model has no primary key")
	ErrNameConflict     = errors.New("history name conflicts with a registered model")
	ErrColumnConflict   = errors.New("history column conflicts with a model column")
	ErrAlreadyTracked   = errors.New("model already has a history attached")
	ErrPluginNotFound   = errors.New("temporal plugin is not installed on this database")
	ErrUnsupportedModel = errors.New("model cannot be tracked")

	// history records
	ErrHistoryReadOnly  = errors.New("validation error: history records are read-only")
	ErrNotSoftDeletable = errors.New("model has no deletion marker")
	ErrRecordNotFound   = errors.New("history record not found")
)

func ErrorFromGormError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrRecordNotFound
	default:
		return err
	}
}
