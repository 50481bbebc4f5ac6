package faults

import (
	"context"
	"database/sql"
	"errors"
	"io/fs"
	"net"
	"os"
	"strings"
	"syscall"
)

// Classify assigns a category to err. Explicit tags from Categorize win;
// otherwise classification walks the precedence chain
// SECURITY → NETWORK → DATABASE → APPLICATION → FILE_SYSTEM → RESOURCE,
// matching on error types first and message substrings second.
// A nil error classifies as UNKNOWN.
func Classify(err error) Category {
	if err == nil {
		return CategoryUnknown
	}
	if cat, ok := explicitCategory(err); ok {
		return cat
	}

	msg := strings.ToLower(err.Error())

	switch {
	case isSecurity(err, msg):
		return CategorySecurity
	case isNetwork(err, msg):
		return CategoryNetwork
	case isDatabase(err, msg):
		return CategoryDatabase
	case isApplication(msg):
		return CategoryApplication
	case isFileSystem(err, msg):
		return CategoryFileSystem
	case isResource(msg):
		return CategoryResource
	default:
		return CategoryUnknown
	}
}

func isSecurity(err error, msg string) bool {
	if errors.Is(err, os.ErrPermission) {
		// Plain permission failures on the filesystem are FILE_SYSTEM;
		// only authentication/authorization wording escalates.
		return strings.Contains(msg, "unauthorized") || strings.Contains(msg, "forbidden")
	}
	return strings.Contains(msg, "security") ||
		strings.Contains(msg, "unauthorized") ||
		strings.Contains(msg, "forbidden") ||
		strings.Contains(msg, "authentication failed")
}

func isNetwork(err error, msg string) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	return strings.Contains(msg, "network") ||
		strings.Contains(msg, "socket") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset")
}

func isDatabase(err error, msg string) bool {
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, sql.ErrTxDone) {
		return true
	}
	return strings.Contains(msg, "database") ||
		strings.Contains(msg, "sql") ||
		strings.Contains(msg, "connection failed") ||
		strings.Contains(msg, "temporary failure") ||
		strings.Contains(msg, "timeout") ||
		errors.Is(err, context.DeadlineExceeded)
}

func isApplication(msg string) bool {
	return strings.Contains(msg, "validation") ||
		strings.Contains(msg, "invalid") ||
		strings.Contains(msg, "unsupported") ||
		strings.Contains(msg, "parse error") ||
		strings.Contains(msg, "unbalanced")
}

func isFileSystem(err error, msg string) bool {
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return true
	}
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrExist) ||
		errors.Is(err, fs.ErrPermission) || errors.Is(err, fs.ErrClosed) {
		return true
	}
	if strings.Contains(msg, "too many open files") {
		// Descriptor exhaustion is left to the RESOURCE check.
		return false
	}
	return strings.Contains(msg, "file") ||
		strings.Contains(msg, "directory") ||
		strings.Contains(msg, "permission") ||
		strings.Contains(msg, "access denied")
}

func isResource(msg string) bool {
	return strings.Contains(msg, "out of memory") ||
		strings.Contains(msg, "too many open files") ||
		strings.Contains(msg, "resource") ||
		strings.Contains(msg, "no space left")
}
