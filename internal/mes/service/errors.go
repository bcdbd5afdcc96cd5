package service

import (
	"errors"
	"fmt"

	"github.com/bitfantasy/nimo-mes/internal/mes/repository"
	"gorm.io/gorm"
)

var (
	ErrNotFound          = repository.ErrNotFound
	ErrRequiredField     = errors.New("required field missing")
	ErrInvalidCode       = errors.New("code must be 1-5 characters without '/'")
	ErrInvalidDate       = errors.New("invalid date, expected YYYY-MM-DD")
	ErrDuplicateCode     = errors.New("code already in use")
	ErrDuplicateSession  = errors.New("session already exists for this shift, workline and date")
	ErrDuplicateLine     = errors.New("production order already attached to session")
	ErrInvalidTransition = errors.New("invalid session state transition")
	ErrSessionClosed     = errors.New("session is closed")
	ErrInvalidQuantity   = errors.New("quantity must be greater than zero")
	ErrInUse             = errors.New("record is still referenced")
	ErrArchiveDisabled   = errors.New("report archive storage is not configured")
)

func requiredField(name string) error {
	return fmt.Errorf("%w: %s", ErrRequiredField, name)
}

func notFound(what string, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return err
}

// mapDuplicate 将唯一约束冲突转换为业务错误
func mapDuplicate(err error, target error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %v", target, err)
	}
	return err
}
