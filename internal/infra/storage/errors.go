package storage

import "errors"

var (
	// ErrPathEscape indicates a relative path resolved outside the sandbox
	// root. Raised before any filesystem access.
	ErrPathEscape = errors.New("path escapes sandbox root")

	// ErrNotFound indicates the path does not exist under the root.
	ErrNotFound = errors.New("file not found in sandbox")

	// ErrAlreadyExists indicates an exclusive create hit an existing file.
	// Guards stages against double-processing the same output.
	ErrAlreadyExists = errors.New("file already exists in sandbox")
)
