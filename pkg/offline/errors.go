package offline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// Error categories. They are stable and used as metric labels and in HTTP
// error bodies.
const (
	ErrorFetchFailed      = "fetch_failed"
	ErrorInstallFailed    = "install_failed"
	ErrorSyncFailed       = "sync_failed"
	ErrorStorage          = "storage_error"
	ErrorUnknownTag       = "unknown_tag"
	ErrorInvalidPayload   = "invalid_payload"
	ErrorPathNotFound     = "path_not_found"
	ErrorPermissionDenied = "permission_denied"
	ErrorTimeout          = "timeout"
	ErrorIO               = "io_error"
)

// Error is a categorized agent failure.
type Error struct {
	Category string
	Detail   string
	Err      error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Detail == "" {
		return e.Category
	}

	return fmt.Sprintf("%s: %s", e.Category, e.Detail)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewError creates a categorized agent error.
func NewError(category string, detail string) error {
	return &Error{Category: category, Detail: detail}
}

// WrapError categorizes err, keeping it reachable through errors.Is/As.
func WrapError(category string, detail string, err error) error {
	if err == nil {
		return nil
	}
	if detail != "" {
		detail += ": "
	}
	return &Error{Category: category, Detail: detail + err.Error(), Err: err}
}

// osCategories classifies uncategorized errors. Detail replaces the raw
// message so paths stay out of user-visible text.
var osCategories = []struct {
	target   error
	category string
	detail   string
}{
	{target: fs.ErrNotExist, category: ErrorPathNotFound, detail: "path does not exist"},
	{target: fs.ErrPermission, category: ErrorPermissionDenied, detail: "operation not permitted"},
	{target: os.ErrDeadlineExceeded, category: ErrorTimeout, detail: "deadline exceeded"},
	{target: context.DeadlineExceeded, category: ErrorTimeout, detail: "deadline exceeded"},
}

// CategoryFromError returns the category of err. Errors that were never
// categorized fall back to their OS-level class, then io_error.
func CategoryFromError(err error) string {
	if err == nil {
		return ""
	}

	var categorized *Error
	if errors.As(err, &categorized) {
		return categorized.Category
	}
	for _, known := range osCategories {
		if errors.Is(err, known.target) {
			return known.category
		}
	}

	return ErrorIO
}

// NormalizeIOError converts an OS-level error into a categorized one.
func NormalizeIOError(err error, detail string) error {
	if err == nil {
		return nil
	}

	for _, known := range osCategories {
		if errors.Is(err, known.target) {
			return &Error{Category: known.category, Detail: known.detail, Err: err}
		}
	}

	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		detail = pathErr.Err.Error()
	} else if detail == "" {
		detail = err.Error()
	}

	return &Error{Category: CategoryFromError(err), Detail: detail, Err: err}
}
