package pipeline

import "errors"

var (
	// ErrIngestion means a source file is missing or unreadable.
	ErrIngestion = errors.New("ingestion failure")
	// ErrSchemaMismatch means two column layouts that must agree do not.
	ErrSchemaMismatch = errors.New("schema mismatch")
	// ErrDependency means an upstream relation is absent or empty.
	ErrDependency = errors.New("dependency failure")
	// ErrSchemaContract means a column a stage relies on is absent from its input.
	ErrSchemaContract = errors.New("schema contract violation")
	// ErrInsufficientData means there are too few rows to train on.
	ErrInsufficientData = errors.New("insufficient data")
)
