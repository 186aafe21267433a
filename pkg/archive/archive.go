// Package archive streams zip entries to a writer without buffering the
// whole archive in memory.
package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"strings"
)

// Writer wraps a zip.Writer around any io.Writer, typically the HTTP
// response writer, so entries stream out as they are added.
type Writer struct {
	zw *zip.Writer
}

// NewWriter starts an archive on w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{zw: zip.NewWriter(w)}
}

// Add writes one entry. Entry names are sanitized so a hostile artifact
// name cannot escape the extraction directory.
func (w *Writer) Add(name string, data []byte) error {
	entry, err := w.zw.Create(SanitizeName(name))
	if err != nil {
		return fmt.Errorf("archive: create entry %s: %w", name, err)
	}
	if _, err := entry.Write(data); err != nil {
		return fmt.Errorf("archive: write entry %s: %w", name, err)
	}
	return nil
}

// Close flushes the central directory. The archive is unreadable until
// Close succeeds.
func (w *Writer) Close() error {
	return w.zw.Close()
}

// SanitizeName normalizes an entry name to forward slashes and strips path
// traversal segments.
func SanitizeName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	parts := strings.Split(name, "/")
	kept := parts[:0]
	for _, part := range parts {
		if part == "" || part == "." || part == ".." {
			continue
		}
		kept = append(kept, part)
	}
	if len(kept) == 0 {
		return "unnamed"
	}
	return strings.Join(kept, "/")
}
