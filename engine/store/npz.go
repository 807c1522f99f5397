package store

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	m "math"
	"strings"

	"github.com/spaghettifunk/posebridge/engine/core"
)

const memberSuffix = ".npy"

// encodeBundle writes every member as "<key>.npy" inside a zip archive, in
// sorted key order.
func encodeBundle(w io.Writer, b Bundle, compress bool) error {
	method := zip.Store
	if compress {
		method = zip.Deflate
	}

	zw := zip.NewWriter(w)
	for _, key := range b.Keys() {
		a := b[key]
		if a == nil {
			return fmt.Errorf("npz: member %q is nil: %w", key, core.ErrTypeMismatch)
		}
		fw, err := zw.CreateHeader(&zip.FileHeader{Name: key + memberSuffix, Method: method})
		if err != nil {
			return fmt.Errorf("npz: create member %q: %w", key, err)
		}
		if err := encodeNPY(fw, a); err != nil {
			return fmt.Errorf("npz: member %q: %w", key, err)
		}
	}
	return zw.Close()
}

func decodeBundleBytes(payload []byte) (Bundle, error) {
	zr, err := zip.NewReader(bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		return nil, fmt.Errorf("npz: open archive: %v: %w", err, core.ErrCorrupt)
	}
	return decodeBundle(zr)
}

func decodeBundle(zr *zip.Reader) (Bundle, error) {
	b := make(Bundle, len(zr.File))
	for _, f := range zr.File {
		key := strings.TrimSuffix(f.Name, memberSuffix)
		a, err := decodeMember(f)
		if err != nil {
			return nil, fmt.Errorf("npz: member %q: %w", key, err)
		}
		b[key] = a
	}
	return b, nil
}

func decodeMember(f *zip.File) (*Array, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, core.ErrCorrupt)
	}
	defer rc.Close()
	size := int64(-1)
	if f.UncompressedSize64 <= m.MaxInt64 {
		size = int64(f.UncompressedSize64)
	}
	return decodeNPY(rc, size)
}

// memberHeader reads only the NPY header of an archive member.
func memberHeader(f *zip.File) (header, error) {
	rc, err := f.Open()
	if err != nil {
		return header{}, fmt.Errorf("%v: %w", err, core.ErrCorrupt)
	}
	defer rc.Close()
	return readHeader(rc)
}
