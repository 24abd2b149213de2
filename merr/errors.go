// Package merr defines the error taxonomy shared by the public API and the
// internal engine packages.
package merr

import (
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// ValidationError represents an invalid argument shape detected before any
// mutation: non-document filters, empty updates, updates mixing operators
// with plain fields, replacement documents containing $ fields, non-string
// document keys.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Validationf builds a ValidationError from a format string.
func Validationf(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// DuplicateKeyError represents a unique-index violation, including an _id
// collision on insert.
type DuplicateKeyError struct {
	Code    int
	Message string
}

func (e *DuplicateKeyError) Error() string {
	return e.Message
}

// NewDuplicateKeyError returns the standard E11000 error.
func NewDuplicateKeyError() *DuplicateKeyError {
	return &DuplicateKeyError{Code: 11000, Message: "E11000 duplicate key error"}
}

// WriteError represents a write rejected at evaluation time, such as
// conflicting dotted paths in an upserted filter.
type WriteError struct {
	Code    int
	Message string
}

func (e *WriteError) Error() string {
	return e.Message
}

// OperationFailure represents semantic misuse detected while evaluating an
// otherwise well-formed operation: bad $bucket boundaries, non-string
// $lookup arguments, unknown operators, positional projection.
type OperationFailure struct {
	Code    int
	Message string
}

func (e *OperationFailure) Error() string {
	return e.Message
}

// OperationFailuref builds an OperationFailure from a format string.
func OperationFailuref(format string, args ...any) *OperationFailure {
	return &OperationFailure{Message: fmt.Sprintf(format, args...)}
}

// NotImplementedError represents a feature that is valid MongoDB but is not
// supported by this engine: $slice within $push, dotted $rename, the
// timestamp type of $currentDate, map-reduce, certain pipeline stages.
// Callers can discriminate it from an
// unknown-operator OperationFailure and skip.
type NotImplementedError struct {
	Feature string
}

func (e *NotImplementedError) Error() string {
	return fmt.Sprintf("%s is valid MongoDB but is not implemented by this engine", e.Feature)
}

// NotImplemented builds a NotImplementedError for the named feature.
func NotImplemented(feature string) *NotImplementedError {
	return &NotImplementedError{Feature: feature}
}

// ConfigurationError represents misuse of a call that forbids the given
// argument. No call of this engine returns it.
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string {
	return e.Message
}

// InvalidOperation represents reuse of a consumed object, such as executing
// an empty or already-executed bulk.
type InvalidOperation struct {
	Message string
}

func (e *InvalidOperation) Error() string {
	return e.Message
}

// BulkWriteError carries the aggregated counters and per-operation write
// errors accumulated before an ordered bulk aborted.
type BulkWriteError struct {
	Details bson.M
}

func (e *BulkWriteError) Error() string {
	return fmt.Sprintf("bulk write error: %v", e.Details["writeErrors"])
}

// CollectionInvalid represents a collection lifecycle conflict, such as
// creating or renaming onto a collection that already exists.
type CollectionInvalid struct {
	Message string
}

func (e *CollectionInvalid) Error() string {
	return e.Message
}
