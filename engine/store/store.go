package store

import (
	"archive/zip"
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spaghettifunk/posebridge/engine/core"
)

const (
	ExtArray  = ".npy"
	ExtBundle = ".npz"
)

// Store loads and saves arrays and bundles. A Store holds no buffers between
// calls, but each worker should still build its own.
type Store struct {
	compress bool
}

type Option func(*Store)

// WithCompression deflates archive members when saving bundles.
func WithCompression(enabled bool) Option {
	return func(s *Store) {
		s.compress = enabled
	}
}

func New(options ...Option) *Store {
	s := &Store{}
	for _, o := range options {
		o(s)
	}
	return s
}

func extension(path string) string {
	return strings.ToLower(filepath.Ext(path))
}

// IsSupported reports whether path has an extension the store can read.
func IsSupported(path string) bool {
	ext := extension(path)
	return ext == ExtArray || ext == ExtBundle
}

// Load reads a .npy file as *Array or a .npz file as Bundle. A .npy file
// holding a wrapped bundle is returned as the Bundle itself.
func (s *Store) Load(path string) (interface{}, error) {
	ext := extension(path)
	if ext != ExtArray && ext != ExtBundle {
		return nil, fmt.Errorf("store: load %s: unknown extension %q: %w", path, ext, core.ErrFormatMismatch)
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("store: load %s: %w", path, core.ErrNotFound)
		}
		return nil, fmt.Errorf("store: load %s: %w", path, err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("store: load %s: %w", path, err)
	}
	if st.IsDir() {
		return nil, fmt.Errorf("store: load %s: is a directory: %w", path, core.ErrFormatMismatch)
	}

	br := bufio.NewReader(f)
	magic, _ := br.Peek(len(npyMagic))
	isArchive := bytes.HasPrefix(magic, []byte(zipMagic))
	isArray := bytes.Equal(magic, []byte(npyMagic))

	switch {
	case ext == ExtArray && isArchive:
		return nil, fmt.Errorf("store: load %s: file holds a bundle archive: %w", path, core.ErrFormatMismatch)
	case ext == ExtBundle && isArray:
		return nil, fmt.Errorf("store: load %s: file holds a single array: %w", path, core.ErrFormatMismatch)
	}

	if ext == ExtArray {
		a, err := decodeNPY(br, st.Size())
		if err != nil {
			return nil, fmt.Errorf("store: load %s: %w", path, err)
		}
		if a.IsObject() {
			core.LogInfo("loaded %s: wrapped bundle with keys %v", path, a.Bundle.Keys())
			return a.Bundle, nil
		}
		core.LogInfo("loaded %s: %s", path, a.Describe())
		return a, nil
	}

	zr, err := zip.NewReader(f, st.Size())
	if err != nil {
		return nil, fmt.Errorf("store: load %s: %v: %w", path, err, core.ErrCorrupt)
	}
	b, err := decodeBundle(zr)
	if err != nil {
		return nil, fmt.Errorf("store: load %s: %w", path, err)
	}
	core.LogInfo("loaded %s: keys %v", path, b.Keys())
	return b, nil
}

// LoadBundle loads path and requires the content to be a bundle.
func (s *Store) LoadBundle(path string) (Bundle, error) {
	data, err := s.Load(path)
	if err != nil {
		return nil, err
	}
	b, err := Unwrap(data)
	if err != nil {
		return nil, fmt.Errorf("store: load %s: %w", path, err)
	}
	return b, nil
}

// Unwrap returns the mapping form of data: a Bundle as is, or the bundle
// carried by an object array.
func Unwrap(data interface{}) (Bundle, error) {
	switch v := data.(type) {
	case Bundle:
		return v, nil
	case map[string]*Array:
		return Bundle(v), nil
	case *Array:
		if v != nil && v.IsObject() && v.Bundle != nil {
			return v.Bundle, nil
		}
		if v == nil {
			return nil, fmt.Errorf("nil array: %w", core.ErrTypeMismatch)
		}
		return nil, fmt.Errorf("expected a bundle, got array %s: %w", v.Describe(), core.ErrTypeMismatch)
	default:
		return nil, fmt.Errorf("expected a bundle, got %T: %w", data, core.ErrTypeMismatch)
	}
}

// BundlePath is where a bundle addressed by path is written: the .npz
// sibling of a .npy path, path itself otherwise.
func BundlePath(path string) string {
	if extension(path) != ExtArray {
		return path
	}
	return strings.TrimSuffix(path, filepath.Ext(path)) + ExtBundle
}

// Save writes data, a *Array or a Bundle, to path. A bundle addressed with a
// .npy path is written to BundlePath(path), since only an archive keeps it
// readable by numpy without pickling; saving an array to a .npz path stores
// it as "arr_0". The payload is encoded in memory before the file is touched.
func (s *Store) Save(path string, data interface{}, allowOverwrite bool) error {
	var (
		array  *Array
		bundle Bundle
	)
	switch v := data.(type) {
	case *Array:
		if v == nil {
			return fmt.Errorf("store: save %s: nil array: %w", path, core.ErrTypeMismatch)
		}
		if v.IsObject() {
			bundle = v.Bundle
			break
		}
		array = v
	case Bundle:
		bundle = v
	case map[string]*Array:
		bundle = Bundle(v)
	default:
		return fmt.Errorf("store: save %s: expected array or bundle, got %T: %w", path, data, core.ErrTypeMismatch)
	}

	ext := extension(path)
	if ext != ExtArray && ext != ExtBundle {
		return fmt.Errorf("store: save %s: unknown extension %q: %w", path, ext, core.ErrFormatMismatch)
	}
	if array == nil && bundle == nil {
		return fmt.Errorf("store: save %s: object array without a bundle: %w", path, core.ErrTypeMismatch)
	}
	if array == nil && ext == ExtArray {
		core.LogWarn("bundle for %s is saved as %s", path, BundlePath(path))
		path, ext = BundlePath(path), ExtBundle
	}

	if _, err := os.Stat(path); err == nil && !allowOverwrite {
		return fmt.Errorf("store: save %s: %w (overwrite not allowed)", path, core.ErrAlreadyExists)
	}

	var buf bytes.Buffer
	var err error
	switch {
	case ext == ExtArray:
		err = encodeNPY(&buf, array)
	case array != nil:
		err = encodeBundle(&buf, Bundle{"arr_0": array}, s.compress)
	default:
		err = encodeBundle(&buf, bundle, s.compress)
	}
	if err != nil {
		return fmt.Errorf("store: save %s: %w", path, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("store: save %s: %w", path, err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("store: save %s: %w", path, err)
	}

	if array != nil {
		core.LogInfo("saved %s: %s", path, array.Describe())
	} else {
		core.LogInfo("saved %s: keys %v", path, bundle.Keys())
	}
	return nil
}
