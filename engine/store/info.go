package store

import (
	"archive/zip"
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/spaghettifunk/posebridge/engine/core"
)

// ArrayInfo describes one array without its payload.
type ArrayInfo struct {
	Shape    []int
	DType    string
	Elements int
}

// Info describes a file on disk. Array is set for plain .npy files, Members
// for bundles (including wrapped ones).
type Info struct {
	Path      string
	SizeBytes int64
	Extension string
	Array     *ArrayInfo
	Members   map[string]ArrayInfo
	Keys      []string
}

func newArrayInfo(d DType, shape []int) ArrayInfo {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return ArrayInfo{Shape: shape, DType: d.String(), Elements: n}
}

// Info reads only headers where possible: archive members are never decoded,
// and a .npy payload is read only when it wraps a bundle.
func (s *Store) Info(path string) (*Info, error) {
	st, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("store: info %s: %w", path, core.ErrNotFound)
		}
		return nil, fmt.Errorf("store: info %s: %w", path, err)
	}
	info := &Info{Path: path, SizeBytes: st.Size(), Extension: extension(path)}

	switch info.Extension {
	case ExtArray:
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("store: info %s: %w", path, err)
		}
		defer f.Close()
		h, err := readHeader(bufio.NewReader(f))
		if err != nil {
			return nil, fmt.Errorf("store: info %s: %w", path, err)
		}
		if h.DType.Kind != 'O' {
			ai := newArrayInfo(h.DType, h.Shape)
			info.Array = &ai
			return info, nil
		}
		b, err := s.LoadBundle(path)
		if err != nil {
			return nil, err
		}
		info.Keys = b.Keys()
		info.Members = make(map[string]ArrayInfo, len(b))
		for k, a := range b {
			info.Members[k] = newArrayInfo(effectiveDType(a), a.Shape)
		}
		return info, nil

	case ExtBundle:
		zr, err := zip.OpenReader(path)
		if err != nil {
			return nil, fmt.Errorf("store: info %s: %v: %w", path, err, core.ErrCorrupt)
		}
		defer zr.Close()
		info.Members = make(map[string]ArrayInfo, len(zr.File))
		for _, f := range zr.File {
			key := strings.TrimSuffix(f.Name, memberSuffix)
			h, err := memberHeader(f)
			if err != nil {
				return nil, fmt.Errorf("store: info %s: member %q: %w", path, key, err)
			}
			info.Members[key] = newArrayInfo(h.DType, h.Shape)
			info.Keys = append(info.Keys, key)
		}
		return info, nil

	default:
		return nil, fmt.Errorf("store: info %s: unknown extension %q: %w", path, info.Extension, core.ErrFormatMismatch)
	}
}
