package storage

import "errors"

var (
	ErrSheetNotFound      = errors.New("storage: sheet not found")
	ErrTemplateNotFound   = errors.New("storage: template not found")
	ErrEventNotFound      = errors.New("storage: event not found")
	ErrNoColumns          = errors.New("storage: sheet has no columns")
	ErrInvalidPosition    = errors.New("storage: column positions must be contiguous from 0")
	ErrInvalidDependency  = errors.New("storage: column dependency must reference an earlier position")
	ErrEventNotRetryable  = errors.New("storage: only failed or cancelled events can be retried")
	ErrInvalidCellAddress = errors.New("storage: row and column index must be non-negative")
)
