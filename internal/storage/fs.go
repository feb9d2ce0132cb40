package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/starford/arvore/internal/checksum"
	"github.com/starford/arvore/internal/models"
)

const tempPrefix = ".arvore-tmp-"

// Dir is a Provider confined to one directory through os.Root, so symlinks
// and ".." cannot reach files outside it.
type Dir struct {
	path string
	root *os.Root
}

// OpenDir opens an existing directory of record fixtures.
func OpenDir(dir string) (*Dir, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve %s: %w", dir, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: stat %s: %w", abs, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: %s is not a directory", abs)
	}
	root, err := os.OpenRoot(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", abs, err)
	}
	return &Dir{path: abs, root: root}, nil
}

// Path returns the absolute directory path.
func (d *Dir) Path() string {
	return d.path
}

// Close releases the directory handle.
func (d *Dir) Close() error {
	return d.root.Close()
}

var errInvalidPath = errors.New("storage: invalid path")

// clean turns a caller path into a slash-separated fs.FS name.
func clean(p string) (string, error) {
	if p == "" {
		return ".", nil
	}
	name := path.Clean(filepath.ToSlash(p))
	if !fs.ValidPath(name) {
		return "", fmt.Errorf("%w: %q", errInvalidPath, p)
	}
	return name, nil
}

// List returns every record file below dir with its checksum. Hidden files,
// including half-written temp files, are skipped.
func (d *Dir) List(dir string) ([]models.RecordFile, error) {
	start, err := clean(dir)
	if err != nil {
		return nil, err
	}
	fsys := d.root.FS()

	var out []models.RecordFile
	walk := func(name string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if entry.IsDir() {
			if name != start && entry.Name()[0] == '.' {
				return fs.SkipDir
			}
			return nil
		}
		if entry.Name()[0] == '.' || !IsRecordFile(entry.Name()) {
			return nil
		}
		info, err := entry.Info()
		if err != nil {
			return err
		}
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return err
		}
		out = append(out, models.RecordFile{
			Path:      name,
			Checksum:  checksum.Sum(data),
			UpdatedAt: info.ModTime(),
		})
		return nil
	}
	if err := fs.WalkDir(fsys, start, walk); err != nil {
		return nil, fmt.Errorf("storage: list %s: %w", start, err)
	}
	return out, nil
}

// Read returns the contents of a record file.
func (d *Dir) Read(p string) ([]byte, error) {
	name, err := clean(p)
	if err != nil {
		return nil, err
	}
	data, err := d.root.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", name, err)
	}
	return data, nil
}

// Write replaces a record file atomically. Content goes to a hidden temp file
// in the same directory which is synced and then renamed over the target.
func (d *Dir) Write(p string, content []byte) error {
	name, err := clean(p)
	if err != nil {
		return err
	}
	if name == "." {
		return fmt.Errorf("%w: %q", errInvalidPath, p)
	}
	parent := path.Dir(name)
	if err := d.root.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("storage: mkdir %s: %w", parent, err)
	}

	tmp := path.Join(parent, tempPrefix+uuid.NewString())
	f, err := d.root.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("storage: create temp: %w", err)
	}

	if err := writeSync(f, content); err != nil {
		_ = d.root.Remove(tmp)
		return fmt.Errorf("storage: write %s: %w", name, err)
	}
	if err := d.root.Rename(tmp, name); err != nil {
		_ = d.root.Remove(tmp)
		return fmt.Errorf("storage: rename %s: %w", name, err)
	}
	return nil
}

func writeSync(f *os.File, content []byte) error {
	_, err := f.Write(content)
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}
