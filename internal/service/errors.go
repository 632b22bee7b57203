package service

import (
	"errors"
	"fmt"
)

// ValidationError некорректный ввод или нарушенное бизнес-предусловие (422, без повторов)
type ValidationError struct {
	Message string
	Reason  string
}

func (e *ValidationError) Error() string {
	if e.Reason == "" {
		return e.Message
	}
	return e.Message + ": " + e.Reason
}

// NotFoundError заказ или транзакция не найдены
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

// PersistenceError сбой хранилища; частичных записей не бывает
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure (%s): %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// IsPermanent сообщает, что повтор операции даст тот же результат
func IsPermanent(err error) bool {
	var (
		validationErr *ValidationError
		notFoundErr   *NotFoundError
	)
	return errors.As(err, &validationErr) || errors.As(err, &notFoundErr)
}

func orderNotPending(status fmt.Stringer) *ValidationError {
	return &ValidationError{
		Message: "Order cannot be processed",
		Reason:  "Current status: " + status.String(),
	}
}
