package bacpac

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Extension is the file extension used for exported archives.
const Extension = ".bacpac"

var (
	// ErrOutputPathRequired is returned when no export destination is given.
	ErrOutputPathRequired = errors.New("backup output path is required")
	// ErrNoFileName is returned when the export destination has no file component.
	ErrNoFileName = errors.New("backup output path must include a file name")
	// ErrSourcePathRequired is returned when no bacpac is named for an import.
	ErrSourcePathRequired = errors.New("bacpac file path is required")
	// ErrSourceNotFound is returned when the bacpac to import does not exist.
	ErrSourceNotFound = errors.New("bacpac file was not found")
)

// SanitizeFileName replaces characters that are not portable in file names
// with underscores.
func SanitizeFileName(name string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 || strings.ContainsRune(`<>:"/\|?*`, r) {
			return '_'
		}
		return r
	}, name)
}

// DefaultFileName returns "{database}-{yyyyMMdd-HHmm}.bacpac" for now.
func DefaultFileName(database string, now time.Time) string {
	if strings.TrimSpace(database) == "" {
		database = "database"
	}
	return SanitizeFileName(database) + "-" + now.Format("20060102-1504") + Extension
}

// ResolveExportPath turns a user supplied destination into an absolute file
// path. An existing directory, or a path ending in a separator, receives a
// default file name; a path without an extension gets ".bacpac". The parent
// directory is created.
func ResolveExportPath(output, database string, now time.Time) (string, error) {
	trimmed := strings.TrimSpace(output)
	if trimmed == "" {
		return "", ErrOutputPathRequired
	}
	if isDir(trimmed) || hasTrailingSeparator(trimmed) {
		trimmed = filepath.Join(trimmed, DefaultFileName(database, now))
	} else if filepath.Ext(trimmed) == "" {
		trimmed += Extension
	}

	full, err := filepath.Abs(trimmed)
	if err != nil {
		return "", fmt.Errorf("resolve output path: %w", err)
	}
	base := filepath.Base(full)
	if base == "" || base == "." || base == string(filepath.Separator) {
		return "", ErrNoFileName
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}
	return full, nil
}

// ResolveImportPath returns the absolute path of an existing bacpac file.
func ResolveImportPath(source string) (string, error) {
	trimmed := strings.TrimSpace(source)
	if trimmed == "" {
		return "", ErrSourcePathRequired
	}
	full, err := filepath.Abs(trimmed)
	if err != nil {
		return "", fmt.Errorf("resolve bacpac path: %w", err)
	}
	info, err := os.Stat(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrSourceNotFound, full)
		}
		return "", fmt.Errorf("stat bacpac: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: %s is a directory", ErrSourceNotFound, full)
	}
	return full, nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func hasTrailingSeparator(path string) bool {
	return strings.HasSuffix(path, "/") || strings.HasSuffix(path, `\`)
}
