// Package storage keeps person record fixtures as files on disk.
package storage

import (
	"path"
	"slices"
	"strings"

	"github.com/starford/arvore/internal/models"
)

// Provider reads and writes record fixture files. Paths are relative and
// slash-separated.
type Provider interface {
	List(dir string) ([]models.RecordFile, error)
	Read(path string) ([]byte, error)
	Write(path string, content []byte) error
}

var recordExtensions = []string{".json", ".yaml", ".yml"}

// IsRecordFile reports whether name looks like a fixture: a non-empty stem
// with a JSON or YAML extension.
func IsRecordFile(name string) bool {
	ext := strings.ToLower(path.Ext(name))
	return len(name) > len(ext) && slices.Contains(recordExtensions, ext)
}
