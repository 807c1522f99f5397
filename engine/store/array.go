package store

import (
	"fmt"
	"sort"
	"strconv"
	"unicode/utf8"

	"gonum.org/v1/gonum/mat"

	"github.com/spaghettifunk/posebridge/engine/core"
)

// DType describes the element type of an array the way the NPY header does:
// byte order, kind and element size.
type DType struct {
	/** @brief '<' little endian, '>' big endian, '|' not applicable. */
	Order byte
	/** @brief One of f, i, u, b, U, S, O. */
	Kind byte
	/** @brief Bytes per element, or characters for U and S. */
	Size int
}

var (
	Float64 = DType{Order: '<', Kind: 'f', Size: 8}
	Float32 = DType{Order: '<', Kind: 'f', Size: 4}
	Int64   = DType{Order: '<', Kind: 'i', Size: 8}
	Int32   = DType{Order: '<', Kind: 'i', Size: 4}
	Bool    = DType{Order: '|', Kind: 'b', Size: 1}
	Object  = DType{Order: '|', Kind: 'O', Size: 8}
)

/** @brief Longest fixed-width string accepted in a dtype, in characters. */
const maxTextWidth = 1 << 24

// ParseDType parses an NPY descr string such as "<f8" or "<U7".
func ParseDType(descr string) (DType, error) {
	if len(descr) < 2 {
		return DType{}, fmt.Errorf("dtype %q: %w", descr, core.ErrCorrupt)
	}
	d := DType{Order: '|'}
	s := descr
	switch s[0] {
	case '<', '>', '|', '=':
		d.Order = s[0]
		if d.Order == '=' {
			d.Order = '<'
		}
		s = s[1:]
	}
	if len(s) < 1 {
		return DType{}, fmt.Errorf("dtype %q: %w", descr, core.ErrCorrupt)
	}
	d.Kind = s[0]
	switch d.Kind {
	case 'f', 'i', 'u', 'b', 'U', 'S', 'O':
	default:
		return DType{}, fmt.Errorf("dtype %q: unsupported kind: %w", descr, core.ErrCorrupt)
	}
	size := 0
	if len(s) > 1 {
		n, err := strconv.Atoi(s[1:])
		if err != nil || n < 0 {
			return DType{}, fmt.Errorf("dtype %q: %w", descr, core.ErrCorrupt)
		}
		size = n
	}
	switch d.Kind {
	case 'f':
		if size != 4 && size != 8 {
			return DType{}, fmt.Errorf("dtype %q: unsupported float width: %w", descr, core.ErrCorrupt)
		}
	case 'i', 'u':
		if size != 1 && size != 2 && size != 4 && size != 8 {
			return DType{}, fmt.Errorf("dtype %q: unsupported integer width: %w", descr, core.ErrCorrupt)
		}
	case 'U', 'S':
		if size > maxTextWidth {
			return DType{}, fmt.Errorf("dtype %q: text width too large: %w", descr, core.ErrCorrupt)
		}
	case 'b':
		size = 1
	case 'O':
		size = 8
	}
	d.Size = size
	return d, nil
}

func (d DType) String() string {
	switch d.Kind {
	case 'b':
		return "|b1"
	case 'O':
		return "|O"
	}
	return fmt.Sprintf("%c%c%d", d.Order, d.Kind, d.Size)
}

// ItemSize is the number of bytes one element occupies on disk.
func (d DType) ItemSize() int {
	if d.Kind == 'U' {
		return 4 * d.Size
	}
	return d.Size
}

func (d DType) IsNumeric() bool {
	switch d.Kind {
	case 'f', 'i', 'u', 'b':
		return true
	}
	return false
}

// Array is an n-dimensional array in C order. Numeric kinds keep their
// values widened to float64 in Data, text kinds in Text. An object array is
// only used to carry a wrapped bundle.
type Array struct {
	DType  DType
	Shape  []int
	Data   []float64
	Text   []string
	Bundle Bundle
}

// Bundle is a named collection of arrays persisted together.
type Bundle map[string]*Array

func NewArray(dtype DType, shape []int, data []float64) *Array {
	return &Array{DType: dtype, Shape: append([]int(nil), shape...), Data: data}
}

func NewFloat64(shape []int, data []float64) *Array {
	return NewArray(Float64, shape, data)
}

func NewFloat64Scalar(v float64) *Array {
	return NewArray(Float64, nil, []float64{v})
}

func NewInt64Scalar(v int64) *Array {
	return NewArray(Int64, nil, []float64{float64(v)})
}

// NewString creates a 0-d unicode array, like numpy.array("neutral").
func NewString(s string) *Array {
	return NewStrings(nil, []string{s})
}

func NewStrings(shape []int, values []string) *Array {
	width := 1
	for _, v := range values {
		width = max(width, utf8.RuneCountInString(v))
	}
	return &Array{
		DType: DType{Order: '<', Kind: 'U', Size: width},
		Shape: append([]int(nil), shape...),
		Text:  append([]string(nil), values...),
	}
}

// WrapBundle stores a whole bundle inside a single 0-d object array, the
// in-memory form of the legacy np.save(path, dict) layout.
func WrapBundle(b Bundle) *Array {
	return &Array{DType: Object, Bundle: b}
}

// FromMatrix copies a dense matrix into a 2-D array of the given dtype.
func FromMatrix(m mat.Matrix, dtype DType) *Array {
	r, c := m.Dims()
	data := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			data = append(data, m.At(i, j))
		}
	}
	return NewArray(dtype, []int{r, c}, data)
}

func (a *Array) NDim() int {
	return len(a.Shape)
}

// Size is the number of elements; a 0-d array holds one.
func (a *Array) Size() int {
	n := 1
	for _, d := range a.Shape {
		n *= d
	}
	return n
}

func (a *Array) IsNumeric() bool { return a.DType.IsNumeric() }
func (a *Array) IsFloat() bool   { return a.DType.Kind == 'f' }
func (a *Array) IsText() bool    { return a.DType.Kind == 'U' || a.DType.Kind == 'S' }
func (a *Array) IsObject() bool  { return a.DType.Kind == 'O' }

// Scalar returns the value of a single element numeric array.
func (a *Array) Scalar() (float64, bool) {
	if !a.IsNumeric() || a.Size() != 1 || len(a.Data) != 1 {
		return 0, false
	}
	return a.Data[0], true
}

// StringValue returns the value of a single element text array.
func (a *Array) StringValue() (string, bool) {
	if !a.IsText() || len(a.Text) != 1 {
		return "", false
	}
	return a.Text[0], true
}

// Describe is a short human readable summary used in logs.
func (a *Array) Describe() string {
	if a.IsObject() {
		return fmt.Sprintf("object(%d keys)", len(a.Bundle))
	}
	return fmt.Sprintf("shape=%v dtype=%s", a.Shape, a.DType)
}

// Clone returns a deep copy.
func (a *Array) Clone() *Array {
	if a == nil {
		return nil
	}
	out := &Array{DType: a.DType, Shape: append([]int(nil), a.Shape...)}
	if a.Data != nil {
		out.Data = append([]float64(nil), a.Data...)
	}
	if a.Text != nil {
		out.Text = append([]string(nil), a.Text...)
	}
	if a.Bundle != nil {
		out.Bundle = a.Bundle.Clone()
	}
	return out
}

// Reshape returns a copy with a new shape holding the same number of
// elements.
func (a *Array) Reshape(shape ...int) (*Array, error) {
	n := 1
	for _, d := range shape {
		n *= d
	}
	if n != a.Size() {
		return nil, fmt.Errorf("store: reshape %v to %v: %w", a.Shape, shape, core.ErrInvalidShape)
	}
	out := a.Clone()
	out.Shape = append([]int(nil), shape...)
	return out, nil
}

// Matrix copies a 2-D numeric array with at least one element into a dense
// matrix. The array itself is left untouched.
func (a *Array) Matrix() (*mat.Dense, error) {
	if !a.IsNumeric() || a.NDim() != 2 {
		return nil, fmt.Errorf("store: matrix from %s: %w", a.Describe(), core.ErrInvalidShape)
	}
	if a.Size() == 0 {
		return nil, fmt.Errorf("store: matrix from %s: %w", a.Describe(), core.ErrEmptySequence)
	}
	return mat.NewDense(a.Shape[0], a.Shape[1], append([]float64(nil), a.Data...)), nil
}

// check verifies that the payload agrees with the shape and dtype.
func (a *Array) check() error {
	switch {
	case a.IsObject():
		if a.Size() != 1 || a.Bundle == nil {
			return fmt.Errorf("store: object arrays must wrap exactly one bundle: %w", core.ErrTypeMismatch)
		}
	case a.IsText():
		if len(a.Text) != a.Size() {
			return fmt.Errorf("store: %s holds %d strings: %w", a.Describe(), len(a.Text), core.ErrInvalidShape)
		}
	default:
		if len(a.Data) != a.Size() {
			return fmt.Errorf("store: %s holds %d values: %w", a.Describe(), len(a.Data), core.ErrInvalidShape)
		}
	}
	for _, d := range a.Shape {
		if d < 0 {
			return fmt.Errorf("store: negative dimension in %v: %w", a.Shape, core.ErrInvalidShape)
		}
	}
	return nil
}

// Keys returns the bundle keys in sorted order.
func (b Bundle) Keys() []string {
	keys := make([]string, 0, len(b))
	for k := range b {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (b Bundle) Has(key string) bool {
	_, ok := b[key]
	return ok
}

// Clone returns a deep copy.
func (b Bundle) Clone() Bundle {
	out := make(Bundle, len(b))
	for k, v := range b {
		out[k] = v.Clone()
	}
	return out
}
