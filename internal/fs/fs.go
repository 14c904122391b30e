// Package fs reports free disk space for the archive root so the pipeline
// can refuse a download that would fill the volume.
package fs

import "errors"

// ErrUnsupportedOS is returned when the operating system is not supported.
var ErrUnsupportedOS = errors.New("unsupported operating system for disk space check")
