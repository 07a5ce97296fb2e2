package memory

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyContent is returned when Store is called without content.
	ErrEmptyContent = errors.New("content must not be empty")

	// ErrCollectionNotFound is returned by CollectionInfo for unknown collections.
	ErrCollectionNotFound = errors.New("collection not found")
)

// ConfigurationError reports missing or mutually exclusive settings.
// It is fatal at startup: no Connector is constructed.
type ConfigurationError struct {
	cause error
}

// NewConfigurationError wraps cause as a ConfigurationError.
func NewConfigurationError(cause error) *ConfigurationError {
	return &ConfigurationError{cause: cause}
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %v", e.cause)
}

func (e *ConfigurationError) Unwrap() error { return e.cause }

// EmbeddingError reports a failed embedding computation.
type EmbeddingError struct {
	Model string
	cause error
}

// NewEmbeddingError wraps cause as an EmbeddingError for model.
func NewEmbeddingError(model string, cause error) *EmbeddingError {
	return &EmbeddingError{Model: model, cause: cause}
}

func (e *EmbeddingError) Error() string {
	if e.Model == "" {
		return fmt.Sprintf("embedding failed: %v", e.cause)
	}
	return fmt.Sprintf("embedding with %s failed: %v", e.Model, e.cause)
}

func (e *EmbeddingError) Unwrap() error { return e.cause }

// StoreUnavailableError reports that the vector database is unreachable or
// rejected an operation.
type StoreUnavailableError struct {
	Op    string
	cause error
}

// NewStoreUnavailableError wraps cause as a StoreUnavailableError for op.
func NewStoreUnavailableError(op string, cause error) *StoreUnavailableError {
	return &StoreUnavailableError{Op: op, cause: cause}
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("vector store %s: %v", e.Op, e.cause)
}

func (e *StoreUnavailableError) Unwrap() error { return e.cause }

// DimensionMismatchError indicates that an existing collection's vector
// settings differ from the active embedder's.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type DimensionMismatchError struct {
	Collection string
	Expected   CollectionParams
	Actual     CollectionParams
	cause      error
}

// NewDimensionMismatchError builds a DimensionMismatchError. expected holds
// the collection's settings, actual the settings that were offered.
func NewDimensionMismatchError(collection string, expected, actual CollectionParams, cause error) *DimensionMismatchError {
	return &DimensionMismatchError{
		Collection: collection,
		Expected:   expected,
		Actual:     actual,
		cause:      cause,
	}
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("collection %q dimension mismatch: expected %s, got %s",
		e.Collection, e.Expected, e.Actual)
}

func (e *DimensionMismatchError) Unwrap() error { return e.cause }
