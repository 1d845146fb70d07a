package durable

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies a storage failure by cause.
type ErrorKind string

const (
	// ErrorKindQuota means capacity is exhausted. Recoverable via cleanup.
	ErrorKindQuota ErrorKind = "quota"
	// ErrorKindCorruption means stored data could not be read back.
	ErrorKindCorruption ErrorKind = "corruption"
	// ErrorKindGeneric is everything else. Retryable.
	ErrorKindGeneric ErrorKind = "generic"
)

// Sentinel errors for the operations that report failures as errors rather
// than typed results.
var (
	ErrInvalidProject    = errors.New("invalid project")
	ErrProjectNotFound   = errors.New("project not found")
	ErrSnapshotFailed    = errors.New("snapshot creation failed")
	ErrSnapshotNotFound  = errors.New("snapshot not found")
	ErrShadowCopyMissing = errors.New("no shadow copy available")
	ErrShadowCopyTooOld  = errors.New("shadow copy too old")
	ErrNotAuthenticated  = errors.New("not authenticated with remote sync")
	ErrInvalidBackup     = errors.New("invalid backup file")
)

// StorageError is the typed failure returned by the Store. It never escapes as
// a panic; callers inspect Kind to decide what to do next.
type StorageError struct {
	Kind             ErrorKind
	Message          string
	CanRecover       bool
	SuggestedActions []string
	cause            error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *StorageError) Unwrap() error { return e.cause }

// quotaSignatures are matched case-insensitively against the error message and
// the error's type name. They cover the browser exception names as well as
// the wording Go backends use.
var quotaSignatures = []string{
	"quota",
	"exceeded",
	"quotaexceedederror",
	"ns_error_dom_quota_reached",
	"database or disk is full",
}

// IsQuotaError reports whether err looks like capacity exhaustion.
func IsQuotaError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrQuotaExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	name := strings.ToLower(fmt.Sprintf("%T", err))
	for _, sig := range quotaSignatures {
		if strings.Contains(msg, sig) || strings.Contains(name, sig) {
			return true
		}
	}
	return false
}

// classifyWriteError maps a failed write to quota or generic.
func classifyWriteError(err error) *StorageError {
	if IsQuotaError(err) {
		return &StorageError{
			Kind:       ErrorKindQuota,
			Message:    err.Error(),
			CanRecover: true,
			SuggestedActions: []string{
				"Delete old snapshots",
				"Export and remove unused projects",
				"Clear temporary data",
			},
			cause: err,
		}
	}
	return &StorageError{
		Kind:             ErrorKindGeneric,
		Message:          err.Error(),
		CanRecover:       true,
		SuggestedActions: []string{"Retry the operation"},
		cause:            err,
	}
}

// classifyReadError maps any failed read to corruption.
func classifyReadError(err error) *StorageError {
	return &StorageError{
		Kind:       ErrorKindCorruption,
		Message:    err.Error(),
		CanRecover: false,
		SuggestedActions: []string{
			"Restore from a snapshot",
			"Run recovery from a backup",
		},
		cause: err,
	}
}

// newCorruptionError reports data that was read but could not be decoded.
func newCorruptionError(key string, err error) *StorageError {
	return classifyReadError(fmt.Errorf("decoding %q: %w", key, err))
}
