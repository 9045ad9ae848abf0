package vfs

import (
	"errors"
	"io/fs"

	"github.com/ajaxzhan/sandbox-sftp/pkg/types"
)

// Classify maps an OS error onto exactly one protocol status code.
func Classify(err error) types.StatusCode {
	switch {
	case err == nil:
		return types.StatusOK
	case errors.Is(err, fs.ErrNotExist):
		return types.StatusNoSuchFile
	case errors.Is(err, fs.ErrPermission):
		return types.StatusPermissionDenied
	default:
		return types.StatusFailure
	}
}

// StatusError wraps an OS error from op into a StatusError. An error that
// already carries a status code is passed through unchanged.
func StatusError(op, virtualPath string, err error) error {
	var se *types.StatusError
	if errors.As(err, &se) {
		return err
	}
	return types.NewStatusError(op, Classify(err), err).WithPath(virtualPath)
}
