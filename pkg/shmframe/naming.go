package shmframe

import (
	"path/filepath"
	"strings"
)

// SegmentPrefix is prepended to block names to form segment file names.
const SegmentPrefix = "framebuf-"

const maxNameLength = 200

// ValidateName checks that name can be mapped to a segment file.
// Names are 1-200 printable ASCII bytes without '/'.
func ValidateName(name string) error {
	if name == "" {
		return newError(CodeInvalidName, name, "name is empty", nil)
	}
	if len(name) > maxNameLength {
		return newError(CodeInvalidName, name, "name is longer than 200 bytes", nil)
	}
	if name == "." || name == ".." {
		return newError(CodeInvalidName, name, "name is a path element", nil)
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c < 0x21 || c > 0x7e {
			return newError(CodeInvalidName, name, "name must be printable ASCII without spaces", nil)
		}
		if c == '/' {
			return newError(CodeInvalidName, name, "name contains '/'", nil)
		}
	}
	return nil
}

// SegmentPath returns the backing file path for name under dir.
func SegmentPath(dir, name string) string {
	return filepath.Join(dir, SegmentPrefix+name)
}

// NameFromPath returns the block name for a segment path, or false when the
// file is not a segment.
func NameFromPath(path string) (string, bool) {
	base := filepath.Base(path)
	name, ok := strings.CutPrefix(base, SegmentPrefix)
	if !ok || ValidateName(name) != nil {
		return "", false
	}
	return name, true
}
