// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package serial

import (
	"errors"
	"io"
	"io/fs"
	"os"

	"golang.org/x/sys/unix"
)

// FailureKind is the coarse reason a serial operation failed. The
// string values appear in logs and the status file.
type FailureKind string

const (
	FailurePermissionDenied FailureKind = "permission_denied"
	FailureDeviceMissing    FailureKind = "device_missing"
	FailureDisconnected     FailureKind = "disconnected"
	FailureTimeout          FailureKind = "timeout"
	FailureFraming          FailureKind = "framing"
	FailureBusy             FailureKind = "busy"
	FailureConfig           FailureKind = "config"
	FailureUnknown          FailureKind = "unknown"
)

// Classify maps an error returned by Open, ReadLine or SendLine to a
// FailureKind.
func Classify(err error) FailureKind {
	switch {
	case err == nil:
		return FailureUnknown
	case errors.Is(err, ErrInvalidOptions), errors.Is(err, errors.ErrUnsupported):
		return FailureConfig
	case errors.Is(err, ErrLineTooLong):
		return FailureFraming
	case errors.Is(err, unix.EBUSY):
		return FailureBusy
	case errors.Is(err, fs.ErrPermission), errors.Is(err, unix.EACCES), errors.Is(err, unix.EPERM):
		return FailurePermissionDenied
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, unix.ENODEV), errors.Is(err, unix.ENXIO):
		return FailureDeviceMissing
	case errors.Is(err, os.ErrDeadlineExceeded), errors.Is(err, unix.ETIMEDOUT), errors.Is(err, unix.EAGAIN):
		return FailureTimeout
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, ErrClosed),
		errors.Is(err, unix.EIO), errors.Is(err, unix.EPIPE), errors.Is(err, unix.ECONNRESET),
		errors.Is(err, unix.ECONNABORTED), errors.Is(err, fs.ErrClosed):
		return FailureDisconnected
	default:
		return FailureUnknown
	}
}
