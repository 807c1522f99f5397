package store

import (
	"bytes"
	"fmt"
	m "math"
	"math/big"

	"github.com/nlpodyssey/gopickle/pickle"
	"github.com/nlpodyssey/gopickle/types"

	"github.com/spaghettifunk/posebridge/engine/core"
)

/** @brief First opcode of every pickle stream of protocol 2 or later. */
const pickleProto = 0x80

// pickledDType is a numpy.dtype rebuilt from a pickle stream.
type pickledDType struct {
	descr string
	order byte
}

func (d *pickledDType) PySetState(state interface{}) error {
	t, ok := tupleItems(state)
	if !ok || len(t) < 2 {
		return fmt.Errorf("dtype state %T", state)
	}
	if s, ok := t[1].(string); ok && len(s) == 1 {
		d.order = s[0]
	}
	return nil
}

func (d *pickledDType) dtype() (DType, error) {
	order := d.order
	if order == 0 {
		order = '|'
	}
	return ParseDType(string(order) + d.descr)
}

// pickledArray is a numpy.ndarray or numpy scalar rebuilt from a pickle
// stream. Object arrays keep their elements in objects.
type pickledArray struct {
	shape   []int
	dtype   *pickledDType
	fortran bool
	raw     []byte
	objects []interface{}
}

func (a *pickledArray) PySetState(state interface{}) error {
	t, ok := tupleItems(state)
	if !ok {
		return fmt.Errorf("ndarray state %T", state)
	}
	// (version, shape, dtype, fortran, data); old streams omit the version
	if len(t) == 5 {
		t = t[1:]
	}
	if len(t) != 4 {
		return fmt.Errorf("ndarray state with %d items", len(t))
	}

	dims, ok := tupleItems(t[0])
	if !ok {
		return fmt.Errorf("ndarray shape %T", t[0])
	}
	a.shape = make([]int, len(dims))
	for i, d := range dims {
		n, ok := pickledInt(d)
		if !ok || n < 0 {
			return fmt.Errorf("ndarray dimension %v", d)
		}
		a.shape[i] = n
	}
	if a.dtype, ok = t[1].(*pickledDType); !ok {
		return fmt.Errorf("ndarray dtype %T", t[1])
	}
	a.fortran, _ = t[2].(bool)

	switch data := t[3].(type) {
	case []byte:
		a.raw = data
	case string:
		// python 2 streams carry the buffer as a byte string
		a.raw = []byte(data)
	default:
		items, ok := listItems(data)
		if !ok {
			return fmt.Errorf("ndarray data %T", data)
		}
		a.objects = items
	}
	return nil
}

func (a *pickledArray) array() (*Array, error) {
	if a.objects != nil || a.dtype == nil {
		return nil, fmt.Errorf("pickle: nested object arrays are not supported: %w", core.ErrCorrupt)
	}
	d, err := a.dtype.dtype()
	if err != nil {
		return nil, err
	}
	if d.Kind == 'O' {
		return nil, fmt.Errorf("pickle: nested object arrays are not supported: %w", core.ErrCorrupt)
	}
	h := header{DType: d, Fortran: a.fortran, Shape: a.shape}
	want, err := h.dataSize()
	if err != nil {
		return nil, err
	}
	if len(a.raw) != want {
		return nil, fmt.Errorf("pickle: array %v of %s holds %d bytes, want %d: %w", a.shape, d, len(a.raw), want, core.ErrCorrupt)
	}
	return decodeData(h, a.raw), nil
}

type callable func(args ...interface{}) (interface{}, error)

func (c callable) Call(args ...interface{}) (interface{}, error) {
	return c(args...)
}

// numpy.core.multiarray._reconstruct(ndarray, (0,), b'b')
func reconstruct(args ...interface{}) (interface{}, error) {
	return &pickledArray{}, nil
}

// numpy.core.multiarray.scalar(dtype, raw)
func scalar(args ...interface{}) (interface{}, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("scalar with %d arguments", len(args))
	}
	d, ok := args[0].(*pickledDType)
	if !ok {
		return nil, fmt.Errorf("scalar dtype %T", args[0])
	}
	a := &pickledArray{dtype: d}
	switch raw := args[1].(type) {
	case []byte:
		a.raw = raw
	case string:
		a.raw = []byte(raw)
	default:
		return nil, fmt.Errorf("scalar payload %T", args[1])
	}
	return a, nil
}

// numpy.dtype('f8', False, True)
func newDType(args ...interface{}) (interface{}, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("dtype without arguments")
	}
	descr, ok := args[0].(string)
	if !ok {
		return nil, fmt.Errorf("dtype descr %T", args[0])
	}
	return &pickledDType{descr: descr}, nil
}

// _codecs.encode(text, 'latin1'), how python 3 pickles python 2 buffers
func latin1(args ...interface{}) (interface{}, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("encode without arguments")
	}
	text, ok := args[0].(string)
	if !ok {
		return nil, fmt.Errorf("encode %T", args[0])
	}
	out := make([]byte, 0, len(text))
	for _, r := range text {
		if r > 0xff {
			return nil, fmt.Errorf("encode: rune %U is not latin1", r)
		}
		out = append(out, byte(r))
	}
	return out, nil
}

func findClass(module, name string) (interface{}, error) {
	switch module + "." + name {
	case "numpy.core.multiarray._reconstruct", "numpy._core.multiarray._reconstruct":
		return callable(reconstruct), nil
	case "numpy.core.multiarray.scalar", "numpy._core.multiarray.scalar":
		return callable(scalar), nil
	case "numpy.dtype":
		return callable(newDType), nil
	case "numpy.ndarray":
		return callable(reconstruct), nil
	case "_codecs.encode":
		return callable(latin1), nil
	}
	return nil, fmt.Errorf("class %s.%s is not allowed", module, name)
}

// unpickleBundle decodes the pickled payload of np.save(path, dict). Only the
// numpy classes needed to rebuild plain arrays are resolved; anything else
// fails the load.
func unpickleBundle(payload []byte) (Bundle, error) {
	u := pickle.NewUnpickler(bytes.NewReader(payload))
	u.FindClass = findClass
	v, err := u.Load()
	if err != nil {
		return nil, fmt.Errorf("pickle: %v: %w", err, core.ErrCorrupt)
	}

	// np.save pickles the 0-d object array holding the dict
	if a, ok := v.(*pickledArray); ok {
		if len(a.objects) != 1 {
			return nil, fmt.Errorf("pickle: object array with %d elements, want 1: %w", len(a.objects), core.ErrCorrupt)
		}
		v = a.objects[0]
	}
	d, ok := v.(*types.Dict)
	if !ok {
		return nil, fmt.Errorf("pickle: payload is %T, want a dict: %w", v, core.ErrCorrupt)
	}

	b := make(Bundle, len(*d))
	for _, e := range *d {
		key, ok := e.Key.(string)
		if !ok {
			return nil, fmt.Errorf("pickle: dict key %T, want a string: %w", e.Key, core.ErrCorrupt)
		}
		a, err := pickledValue(e.Value)
		if err != nil {
			return nil, fmt.Errorf("pickle: key %q: %w", key, err)
		}
		b[key] = a
	}
	return b, nil
}

// pickledValue turns one dict value into an array. Plain python scalars
// become 0-d arrays.
func pickledValue(v interface{}) (*Array, error) {
	switch x := v.(type) {
	case *pickledArray:
		return x.array()
	case float64:
		return NewFloat64Scalar(x), nil
	case bool:
		if x {
			return NewArray(Bool, nil, []float64{1}), nil
		}
		return NewArray(Bool, nil, []float64{0}), nil
	case string:
		return NewString(x), nil
	}
	if n, ok := pickledInt(v); ok {
		return NewInt64Scalar(int64(n)), nil
	}
	return nil, fmt.Errorf("value of type %T: %w", v, core.ErrTypeMismatch)
}

func pickledInt(v interface{}) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case *big.Int:
		if x.IsInt64() && x.Int64() <= m.MaxInt && x.Int64() >= m.MinInt {
			return int(x.Int64()), true
		}
	}
	return 0, false
}

func tupleItems(v interface{}) ([]interface{}, bool) {
	switch t := v.(type) {
	case *types.Tuple:
		return *t, true
	case types.Tuple:
		return t, true
	}
	return nil, false
}

func listItems(v interface{}) ([]interface{}, bool) {
	switch l := v.(type) {
	case *types.List:
		return *l, true
	case types.List:
		return l, true
	}
	return nil, false
}
