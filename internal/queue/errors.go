package queue

import "errors"

// Ошибки очереди.
var (
	// ErrNotFound — task не найден.
	ErrNotFound = errors.New("task not found")

	// ErrInvalidState — переход статусов не разрешён таблицей переходов.
	ErrInvalidState = errors.New("invalid state transition")

	// ErrValidation — входные данные enqueue не прошли валидацию.
	ErrValidation = errors.New("validation failed")
)
