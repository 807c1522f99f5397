package store

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	m "math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/spaghettifunk/posebridge/engine/core"
)

/** @brief Magic prefix of every NPY stream. */
const npyMagic = "\x93NUMPY"

/** @brief Local file header signature of a zip archive (an NPZ bundle). */
const zipMagic = "PK\x03\x04"

/** @brief NPY headers are padded so that the data starts on this boundary. */
const npyAlignment = 64

// header is the decoded NPY header dictionary.
type header struct {
	DType   DType
	Fortran bool
	Shape   []int
	// Offset is the number of bytes before the data.
	Offset int64
}

// count is the number of elements, false when the product overflows.
func (h header) count() (int, bool) {
	for _, d := range h.Shape {
		if d == 0 {
			return 0, true
		}
	}
	n := 1
	for _, d := range h.Shape {
		if n > m.MaxInt/d {
			return 0, false
		}
		n *= d
	}
	return n, true
}

// dataSize is the number of payload bytes the header announces.
func (h header) dataSize() (int, error) {
	n, ok := h.count()
	size := h.DType.ItemSize()
	if !ok || (size > 0 && n > m.MaxInt/size) {
		return 0, fmt.Errorf("npy: shape %v of %s does not fit in memory: %w", h.Shape, h.DType, core.ErrCorrupt)
	}
	return n * size, nil
}

func byteOrder(d DType) binary.ByteOrder {
	if d.Order == '>' {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// readHeader consumes the magic, version and header dictionary.
func readHeader(r io.Reader) (header, error) {
	prefix := make([]byte, len(npyMagic)+2)
	if _, err := io.ReadFull(r, prefix); err != nil {
		return header{}, fmt.Errorf("npy: read magic: %w", core.ErrCorrupt)
	}
	if string(prefix[:len(npyMagic)]) != npyMagic {
		return header{}, fmt.Errorf("npy: bad magic %q: %w", prefix[:len(npyMagic)], core.ErrCorrupt)
	}

	var hlen int64
	offset := int64(len(prefix))
	switch major := prefix[len(npyMagic)]; major {
	case 1:
		var n uint16
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return header{}, fmt.Errorf("npy: read header length: %w", core.ErrCorrupt)
		}
		hlen, offset = int64(n), offset+2
	case 2, 3:
		var n uint32
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return header{}, fmt.Errorf("npy: read header length: %w", core.ErrCorrupt)
		}
		hlen, offset = int64(n), offset+4
	default:
		return header{}, fmt.Errorf("npy: unsupported format version %d: %w", major, core.ErrCorrupt)
	}

	raw, err := io.ReadAll(io.LimitReader(r, hlen))
	if err != nil || int64(len(raw)) != hlen {
		return header{}, fmt.Errorf("npy: truncated header: %w", core.ErrCorrupt)
	}
	h, err := parseHeader(string(raw))
	if err != nil {
		return header{}, err
	}
	h.Offset = offset + hlen
	return h, nil
}

func parseHeader(s string) (header, error) {
	p := &literalParser{src: strings.TrimSpace(s)}
	v, err := p.value()
	if err != nil {
		return header{}, fmt.Errorf("npy: header %q: %v: %w", s, err, core.ErrCorrupt)
	}
	dict, ok := v.(map[string]interface{})
	if !ok {
		return header{}, fmt.Errorf("npy: header is not a dictionary: %w", core.ErrCorrupt)
	}

	var h header
	descr, ok := dict["descr"].(string)
	if !ok {
		return header{}, fmt.Errorf("npy: header without descr (structured dtypes are not supported): %w", core.ErrCorrupt)
	}
	if h.DType, err = ParseDType(descr); err != nil {
		return header{}, err
	}
	if h.Fortran, ok = dict["fortran_order"].(bool); !ok {
		return header{}, fmt.Errorf("npy: header without fortran_order: %w", core.ErrCorrupt)
	}
	shape, ok := dict["shape"].([]int)
	if !ok {
		return header{}, fmt.Errorf("npy: header without shape: %w", core.ErrCorrupt)
	}
	for _, d := range shape {
		if d < 0 {
			return header{}, fmt.Errorf("npy: negative dimension in %v: %w", shape, core.ErrCorrupt)
		}
	}
	h.Shape = shape
	return h, nil
}

// literalParser understands the subset of Python literals NPY headers use:
// dicts, tuples, strings, booleans and integers.
type literalParser struct {
	src string
	pos int
}

func (p *literalParser) skipSpace() {
	for p.pos < len(p.src) && strings.IndexByte(" \t\r\n", p.src[p.pos]) >= 0 {
		p.pos++
	}
}

func (p *literalParser) peek() byte {
	p.skipSpace()
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

func (p *literalParser) expect(c byte) error {
	if p.peek() != c {
		return fmt.Errorf("expected %q at offset %d", c, p.pos)
	}
	p.pos++
	return nil
}

func (p *literalParser) value() (interface{}, error) {
	switch c := p.peek(); {
	case c == '{':
		return p.dict()
	case c == '(':
		return p.tuple()
	case c == '\'' || c == '"':
		return p.str()
	case c == '-' || (c >= '0' && c <= '9'):
		return p.integer()
	case strings.HasPrefix(p.src[p.pos:], "True"):
		p.pos += 4
		return true, nil
	case strings.HasPrefix(p.src[p.pos:], "False"):
		p.pos += 5
		return false, nil
	default:
		return nil, fmt.Errorf("unexpected %q at offset %d", c, p.pos)
	}
}

func (p *literalParser) dict() (interface{}, error) {
	if err := p.expect('{'); err != nil {
		return nil, err
	}
	out := map[string]interface{}{}
	for p.peek() != '}' {
		k, err := p.str()
		if err != nil {
			return nil, err
		}
		if err := p.expect(':'); err != nil {
			return nil, err
		}
		v, err := p.value()
		if err != nil {
			return nil, err
		}
		out[k] = v
		if p.peek() == ',' {
			p.pos++
		} else if p.peek() != '}' {
			return nil, fmt.Errorf("expected ',' or '}' at offset %d", p.pos)
		}
	}
	p.pos++
	return out, nil
}

func (p *literalParser) tuple() (interface{}, error) {
	if err := p.expect('('); err != nil {
		return nil, err
	}
	out := []int{}
	for p.peek() != ')' {
		v, err := p.integer()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
		if p.peek() == ',' {
			p.pos++
		} else if p.peek() != ')' {
			return nil, fmt.Errorf("expected ',' or ')' at offset %d", p.pos)
		}
	}
	p.pos++
	return out, nil
}

func (p *literalParser) str() (string, error) {
	q := p.peek()
	if q != '\'' && q != '"' {
		return "", fmt.Errorf("expected string at offset %d", p.pos)
	}
	end := strings.IndexByte(p.src[p.pos+1:], q)
	if end < 0 {
		return "", fmt.Errorf("unterminated string at offset %d", p.pos)
	}
	s := p.src[p.pos+1 : p.pos+1+end]
	p.pos += end + 2
	return s, nil
}

func (p *literalParser) integer() (int, error) {
	p.skipSpace()
	start := p.pos
	if p.pos < len(p.src) && p.src[p.pos] == '-' {
		p.pos++
	}
	for p.pos < len(p.src) && p.src[p.pos] >= '0' && p.src[p.pos] <= '9' {
		p.pos++
	}
	n, err := strconv.Atoi(p.src[start:p.pos])
	if err != nil {
		return 0, fmt.Errorf("bad integer at offset %d", start)
	}
	// python 2 long suffix
	if p.pos < len(p.src) && p.src[p.pos] == 'L' {
		p.pos++
	}
	return n, nil
}

// decodeNPY reads one complete NPY stream of streamSize bytes. A negative
// streamSize means the size is unknown. The announced payload is checked
// against what is actually there before anything is allocated for it.
func decodeNPY(r io.Reader, streamSize int64) (*Array, error) {
	h, err := readHeader(r)
	if err != nil {
		return nil, err
	}

	if h.DType.Kind == 'O' {
		if n, ok := h.count(); !ok || n != 1 {
			return nil, fmt.Errorf("npy: object array of shape %v, want a single wrapped bundle: %w", h.Shape, core.ErrCorrupt)
		}
		payload, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("npy: read object payload: %w", core.ErrCorrupt)
		}
		b, err := decodeObjectPayload(payload)
		if err != nil {
			return nil, err
		}
		return &Array{DType: h.DType, Shape: h.Shape, Bundle: b}, nil
	}

	want, err := h.dataSize()
	if err != nil {
		return nil, err
	}
	if streamSize >= 0 && int64(want) > streamSize-h.Offset {
		return nil, fmt.Errorf("npy: shape %v needs %d data bytes, stream has %d: %w", h.Shape, want, streamSize-h.Offset, core.ErrCorrupt)
	}
	raw, err := io.ReadAll(io.LimitReader(r, int64(want)))
	if err != nil || len(raw) != want {
		return nil, fmt.Errorf("npy: expected %d data bytes for shape %v: %w", want, h.Shape, core.ErrCorrupt)
	}
	return decodeData(h, raw), nil
}

// decodeObjectPayload unwraps the bundle held by a 0-d object array: an
// embedded zip archive, or the pickled dict numpy writes for np.save(path, dict).
func decodeObjectPayload(payload []byte) (Bundle, error) {
	switch {
	case bytes.HasPrefix(payload, []byte(zipMagic)):
		return decodeBundleBytes(payload)
	case len(payload) > 0 && payload[0] == pickleProto:
		return unpickleBundle(payload)
	}
	return nil, fmt.Errorf("npy: object payload is neither an archive nor a pickle: %w", core.ErrCorrupt)
}

// decodeData converts raw, which holds exactly h.dataSize() bytes, into an
// array in C order.
func decodeData(h header, raw []byte) *Array {
	a := &Array{DType: h.DType, Shape: h.Shape}
	order := byteOrder(h.DType)
	size := h.DType.ItemSize()
	n := 0
	if size > 0 {
		n = len(raw) / size
	}
	switch h.DType.Kind {
	case 'U':
		a.Text = make([]string, n)
		for i := range a.Text {
			chunk := raw[i*size : (i+1)*size]
			runes := make([]rune, 0, h.DType.Size)
			for j := 0; j+4 <= len(chunk); j += 4 {
				c := order.Uint32(chunk[j:])
				if c == 0 {
					break
				}
				runes = append(runes, rune(c))
			}
			a.Text[i] = string(runes)
		}
	case 'S':
		a.Text = make([]string, n)
		for i := range a.Text {
			a.Text[i] = string(bytes.TrimRight(raw[i*size:(i+1)*size], "\x00"))
		}
	default:
		a.Data = make([]float64, n)
		for i := range a.Data {
			a.Data[i] = decodeElement(h.DType, order, raw[i*size:(i+1)*size])
		}
	}

	if h.Fortran && len(h.Shape) > 1 {
		if a.Data != nil {
			a.Data = fortranToC(a.Data, h.Shape)
		}
		if a.Text != nil {
			a.Text = fortranToC(a.Text, h.Shape)
		}
	}
	return a
}

func decodeElement(d DType, order binary.ByteOrder, b []byte) float64 {
	switch d.Kind {
	case 'f':
		if d.Size == 4 {
			return float64(m.Float32frombits(order.Uint32(b)))
		}
		return m.Float64frombits(order.Uint64(b))
	case 'b':
		if b[0] != 0 {
			return 1
		}
		return 0
	case 'i':
		switch d.Size {
		case 1:
			return float64(int8(b[0]))
		case 2:
			return float64(int16(order.Uint16(b)))
		case 4:
			return float64(int32(order.Uint32(b)))
		default:
			return float64(int64(order.Uint64(b)))
		}
	default:
		switch d.Size {
		case 1:
			return float64(b[0])
		case 2:
			return float64(order.Uint16(b))
		case 4:
			return float64(order.Uint32(b))
		default:
			return float64(order.Uint64(b))
		}
	}
}

func encodeElement(d DType, order binary.ByteOrder, b []byte, v float64) {
	switch d.Kind {
	case 'f':
		if d.Size == 4 {
			order.PutUint32(b, m.Float32bits(float32(v)))
			return
		}
		order.PutUint64(b, m.Float64bits(v))
	case 'b':
		if v != 0 {
			b[0] = 1
		} else {
			b[0] = 0
		}
	case 'i':
		switch d.Size {
		case 1:
			b[0] = byte(int8(v))
		case 2:
			order.PutUint16(b, uint16(int16(v)))
		case 4:
			order.PutUint32(b, uint32(int32(v)))
		default:
			order.PutUint64(b, uint64(int64(v)))
		}
	default:
		switch d.Size {
		case 1:
			b[0] = byte(v)
		case 2:
			order.PutUint16(b, uint16(v))
		case 4:
			order.PutUint32(b, uint32(v))
		default:
			order.PutUint64(b, uint64(v))
		}
	}
}

// fortranToC reorders column-major data into row-major order.
func fortranToC[T any](src []T, shape []int) []T {
	dst := make([]T, len(src))
	idx := make([]int, len(shape))
	for c := range dst {
		// multi-index of c in row-major order
		rem := c
		for k := len(shape) - 1; k >= 0; k-- {
			idx[k] = rem % shape[k]
			rem /= shape[k]
		}
		f, stride := 0, 1
		for k := 0; k < len(shape); k++ {
			f += idx[k] * stride
			stride *= shape[k]
		}
		dst[c] = src[f]
	}
	return dst
}

func formatShape(shape []int) string {
	switch len(shape) {
	case 0:
		return "()"
	case 1:
		return fmt.Sprintf("(%d,)", shape[0])
	}
	parts := make([]string, len(shape))
	for i, d := range shape {
		parts[i] = strconv.Itoa(d)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// effectiveDType widens text dtypes so that every value fits.
func effectiveDType(a *Array) DType {
	d := a.DType
	switch d.Kind {
	case 'U':
		for _, s := range a.Text {
			d.Size = max(d.Size, utf8.RuneCountInString(s))
		}
		d.Size = max(d.Size, 1)
	case 'S':
		for _, s := range a.Text {
			d.Size = max(d.Size, len(s))
		}
		d.Size = max(d.Size, 1)
	}
	return d
}

func writeHeader(w io.Writer, d DType, shape []int) error {
	dict := fmt.Sprintf("{'descr': '%s', 'fortran_order': False, 'shape': %s, }", d, formatShape(shape))

	// magic + version + length field + dict + '\n' must be aligned
	prefixLen := len(npyMagic) + 2 + 2
	major := byte(1)
	if len(dict)+1+prefixLen > 65535 {
		major = 2
		prefixLen = len(npyMagic) + 2 + 4
	}
	total := prefixLen + len(dict) + 1
	if rem := total % npyAlignment; rem != 0 {
		dict += strings.Repeat(" ", npyAlignment-rem)
	}
	dict += "\n"

	var buf bytes.Buffer
	buf.WriteString(npyMagic)
	buf.WriteByte(major)
	buf.WriteByte(0)
	if major == 1 {
		_ = binary.Write(&buf, binary.LittleEndian, uint16(len(dict)))
	} else {
		_ = binary.Write(&buf, binary.LittleEndian, uint32(len(dict)))
	}
	buf.WriteString(dict)
	_, err := w.Write(buf.Bytes())
	return err
}

// encodeNPY writes a as a complete NPY stream in C order. Object arrays are
// never written; bundles go to archives instead.
func encodeNPY(w io.Writer, a *Array) error {
	if err := a.check(); err != nil {
		return err
	}
	if a.IsObject() {
		return fmt.Errorf("npy: object arrays are written as archives: %w", core.ErrTypeMismatch)
	}
	d := effectiveDType(a)
	if err := writeHeader(w, d, a.Shape); err != nil {
		return err
	}

	order := byteOrder(d)
	size := d.ItemSize()
	raw := make([]byte, a.Size()*size)
	switch d.Kind {
	case 'U':
		for i, s := range a.Text {
			j := i * size
			for _, r := range s {
				order.PutUint32(raw[j:], uint32(r))
				j += 4
			}
		}
	case 'S':
		for i, s := range a.Text {
			copy(raw[i*size:(i+1)*size], s)
		}
	default:
		for i, v := range a.Data {
			encodeElement(d, order, raw[i*size:(i+1)*size], v)
		}
	}
	_, err := w.Write(raw)
	return err
}
