package motion

import (
	"errors"
	"io"
	m "math"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/spaghettifunk/posebridge/engine/core"
	"github.com/spaghettifunk/posebridge/engine/store"
)

func TestMain(mm *testing.M) {
	core.SetLogOutput(io.Discard)
	os.Exit(mm.Run())
}

// ramp returns n values 0, 1, 2...
func ramp(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(i)
	}
	return out
}

func rawSequence(frames, width int, rate *store.Array) store.Bundle {
	b := store.Bundle{
		KeyPoses: store.NewFloat64([]int{frames, width}, ramp(frames*width)),
		KeyTrans: store.NewFloat64([]int{frames, 3}, ramp(frames*3)),
	}
	if rate != nil {
		b[KeyFrameRate] = rate
	}
	return b
}

func mustSave(t *testing.T, s *store.Store, path string, data interface{}) {
	t.Helper()
	if err := s.Save(path, data, true); err != nil {
		t.Fatalf("save %s: %v", path, err)
	}
}

func TestNormalizeFlattensLegacyLayout(t *testing.T) {
	for _, f := range []int{1, 2, 7} {
		data := ramp(f * 72)
		in := store.Bundle{
			KeyPoses: store.NewFloat64([]int{f, 24, 3}, data),
			KeyTrans: store.NewFloat64([]int{f, 3}, ramp(f*3)),
		}
		res, err := NewNormalizer(store.New()).NormalizeBundle(in)
		if err != nil {
			t.Fatalf("F=%d: %v", f, err)
		}
		poses := res.Bundle[KeyPoses]
		if !reflect.DeepEqual(poses.Shape, []int{f, 72}) || !reflect.DeepEqual(poses.Data, data) {
			t.Fatalf("F=%d: unexpected poses %v", f, poses.Shape)
		}
		if !reflect.DeepEqual(in[KeyPoses].Shape, []int{f, 24, 3}) {
			t.Fatal("input bundle was modified")
		}
	}
}

func TestNormalizeStride(t *testing.T) {
	cases := []struct {
		rate   *store.Array
		frames int
		want   int
		warns  bool
	}{
		{nil, 10, 10, false},
		{store.NewFloat64Scalar(120), 10, 3, false},
		{store.NewInt64Scalar(60), 9, 5, false},
		{store.NewFloat64Scalar(59.94), 4, 4, false},
		{store.NewFloat64Scalar(0), 6, 6, true},
		{store.NewFloat64Scalar(-120), 6, 6, true},
		{store.NewFloat64Scalar(m.NaN()), 6, 6, true},
		{store.NewString("fast"), 6, 6, true},
	}
	for _, tc := range cases {
		res, err := NewNormalizer(store.New()).NormalizeBundle(rawSequence(tc.frames, 72, tc.rate))
		if err != nil {
			t.Fatalf("rate %v: %v", tc.rate, err)
		}
		if got := res.Bundle[KeyPoses].Shape[0]; got != tc.want {
			t.Fatalf("rate %v: want %d frames, got %d", tc.rate, tc.want, got)
		}
		if got := res.Bundle[KeyTrans].Shape[0]; got != tc.want {
			t.Fatalf("rate %v: trans has %d frames, want %d", tc.rate, got, tc.want)
		}
		if (len(res.Warnings) > 0) != tc.warns {
			t.Fatalf("rate %v: warnings %v", tc.rate, res.Warnings)
		}
		if fps, _ := res.Bundle[KeyFPS].Scalar(); fps != 30 {
			t.Fatalf("fps: want 30, got %v", fps)
		}
	}

	// the legacy rate key is honored as well
	b := rawSequence(8, 72, nil)
	b[KeyFrameRateLegacy] = store.NewFloat64Scalar(120)
	res, err := NewNormalizer(store.New()).NormalizeBundle(b)
	if err != nil {
		t.Fatal(err)
	}
	trans := res.Bundle[KeyTrans]
	if trans.Shape[0] != 2 || trans.Data[3] != 12 {
		t.Fatalf("expected frames 0 and 4, got %v", trans.Data)
	}
}

func TestNormalizeJointSubset(t *testing.T) {
	res, err := NewNormalizer(store.New()).NormalizeBundle(rawSequence(2, 165, nil))
	if err != nil {
		t.Fatal(err)
	}
	poses := res.Bundle[KeyPoses]
	if !reflect.DeepEqual(poses.Shape, []int{2, 72}) {
		t.Fatalf("unexpected shape %v", poses.Shape)
	}
	cols := subsetColumns(JointSubset)
	for r := 0; r < 2; r++ {
		for j, c := range cols {
			if want := float64(r*165 + c); poses.Data[r*72+j] != want {
				t.Fatalf("row %d column %d: want %v, got %v", r, j, want, poses.Data[r*72+j])
			}
		}
	}
	// the last two joints come from the hands
	if cols[66] != 75 || cols[69] != 120 {
		t.Fatalf("unexpected hand columns %v", cols[66:])
	}
}

func TestGatherColumnsChecksBounds(t *testing.T) {
	src, _ := store.NewFloat64([]int{1, 4}, ramp(4)).Matrix()
	_, err := gatherColumns(src, []int{0, 3, 4})
	var be *core.BoundsError
	if !errors.As(err, &be) || be.Index != 4 || be.Width != 4 {
		t.Fatalf("expected a bounds error for index 4, got %v", err)
	}
	if !errors.Is(err, core.ErrBounds) {
		t.Fatal("bounds errors should match ErrBounds")
	}
}

func TestNormalizeOddWidthPassesThrough(t *testing.T) {
	res, err := NewNormalizer(store.New()).NormalizeBundle(rawSequence(3, 99, nil))
	if err != nil {
		t.Fatal(err)
	}
	if res.Bundle[KeyPoses].Shape[1] != 99 || len(res.Warnings) != 1 {
		t.Fatalf("expected a warning and an untouched width, got %v %v", res.Bundle[KeyPoses].Shape, res.Warnings)
	}
}

func TestNormalizeUnexpectedPoseShapePassesThrough(t *testing.T) {
	in := store.Bundle{
		KeyPoses:     store.NewFloat64([]int{4, 52, 3}, ramp(4*52*3)),
		KeyTrans:     store.NewFloat64([]int{4, 3}, ramp(12)),
		KeyFrameRate: store.NewFloat64Scalar(60),
	}
	res, err := NewNormalizer(store.New()).NormalizeBundle(in)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	poses := res.Bundle[KeyPoses]
	if !reflect.DeepEqual(poses.Shape, []int{2, 52, 3}) {
		t.Fatalf("poses shape %v, want [2 52 3]", poses.Shape)
	}
	if poses.Data[0] != 0 || poses.Data[52*3] != 2*52*3 {
		t.Fatalf("expected frames 0 and 2, got %v and %v", poses.Data[0], poses.Data[52*3])
	}
	if len(res.Warnings) != 1 || !strings.Contains(res.Warnings[0], "[2 52 3]") {
		t.Fatalf("expected one shape warning, got %v", res.Warnings)
	}
}

func TestNormalizeWarnsOnFrameMismatch(t *testing.T) {
	in := rawSequence(6, 72, store.NewFloat64Scalar(30))
	in[KeyTrans] = store.NewFloat64([]int{4, 3}, ramp(12))
	res, err := NewNormalizer(store.New()).NormalizeBundle(in)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	var found bool
	for _, w := range res.Warnings {
		if strings.Contains(w, "6 frames") && strings.Contains(w, "has 4") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a frame count warning, got %v", res.Warnings)
	}
	if res.Bundle[KeyPoses].Shape[0] != 6 || res.Bundle[KeyTrans].Shape[0] != 4 {
		t.Fatal("both arrays are kept as they are")
	}
}

func TestNormalizeFailures(t *testing.T) {
	n := NewNormalizer(store.New())

	_, err := n.NormalizeBundle(store.Bundle{KeyPoses: store.NewFloat64([]int{1, 72}, ramp(72)), KeyBetas: store.NewFloat64([]int{10}, ramp(10))})
	var mf *core.MissingFieldError
	if !errors.As(err, &mf) || mf.Key != KeyTrans || !reflect.DeepEqual(mf.Available, []string{KeyBetas, KeyPoses}) {
		t.Fatalf("expected missing trans with available keys, got %v", err)
	}

	_, err = n.NormalizeBundle(rawSequence(0, 72, nil))
	if !errors.Is(err, core.ErrEmptySequence) {
		t.Fatalf("expected ErrEmptySequence, got %v", err)
	}
}

func TestNormalizeFiles(t *testing.T) {
	s := store.New()
	dir := t.TempDir()
	n := NewNormalizer(s)

	in := filepath.Join(dir, "raw.npz")
	out := filepath.Join(dir, "out", "seq.npy")
	mustSave(t, s, in, rawSequence(12, 156, store.NewFloat64Scalar(0)))
	if !n.Normalize(in, out) {
		t.Fatal("normalize failed")
	}
	b, err := s.LoadBundle(store.BundlePath(out))
	if err != nil {
		t.Fatal(err)
	}
	if !s.Validate(b, KeyPoses, KeyTrans, KeyFPS) || b[KeyPoses].Shape[0] != 12 {
		t.Fatalf("unexpected output %v", b[KeyPoses].Shape)
	}

	empty := filepath.Join(dir, "empty.npz")
	emptyOut := filepath.Join(dir, "empty_out.npy")
	mustSave(t, s, empty, rawSequence(0, 72, nil))
	if n.Normalize(empty, emptyOut) {
		t.Fatal("normalize should fail on an empty sequence")
	}
	if _, err := os.Stat(store.BundlePath(emptyOut)); !os.IsNotExist(err) {
		t.Fatal("no output should be written for a failed conversion")
	}

	if n.Normalize(filepath.Join(dir, "missing.npz"), emptyOut) {
		t.Fatal("normalize should fail on a missing file")
	}
}

func smplBundle(frames, width int) store.Bundle {
	return store.Bundle{
		KeyPoses: store.NewFloat64([]int{frames, width}, ramp(frames*width)),
		KeyTrans: store.NewFloat64([]int{frames, 3}, ramp(frames*3)),
		KeyBetas: store.NewFloat64([]int{10}, ramp(10)),
	}
}

func TestRemapBetasWidths(t *testing.T) {
	r := NewRemapper(store.New())
	for w := 1; w <= 20; w++ {
		for _, shape := range [][]int{{w}, {2, w}} {
			b := smplBundle(1, 72)
			b[KeyBetas] = store.NewFloat64(shape, ramp(shape[0]*shape[len(shape)-1]))
			res, err := r.RemapBundle(b, "male")
			if err != nil {
				t.Fatalf("betas %v: %v", shape, err)
			}
			betas := res.Bundle[KeyBetas]
			if betas.Shape[len(betas.Shape)-1] != 16 || len(betas.Shape) != len(shape) {
				t.Fatalf("betas %v: got shape %v", shape, betas.Shape)
			}
			rows := 1
			if len(shape) == 2 {
				rows = 2
			}
			for i := 0; i < rows; i++ {
				for j := 0; j < 16; j++ {
					want := 0.0
					if j < w {
						want = float64(i*w + j)
					}
					if got := betas.Data[i*16+j]; got != want {
						t.Fatalf("betas %v: [%d,%d] want %v, got %v", shape, i, j, want, got)
					}
				}
			}
		}
	}

	b := smplBundle(1, 72)
	b[KeyBetas] = store.NewFloat64([]int{1, 1, 10}, ramp(10))
	if _, err := r.RemapBundle(b, "male"); !errors.Is(err, core.ErrInvalidShape) {
		t.Fatalf("expected ErrInvalidShape for 3-D betas, got %v", err)
	}
}

func TestRemapPartition(t *testing.T) {
	in := smplBundle(4, 72)
	res, err := NewRemapper(store.New()).RemapBundle(in, "female")
	if err != nil {
		t.Fatal(err)
	}
	out := res.Bundle
	if out.Has(KeyPoses) {
		t.Fatal("poses should be removed")
	}
	if !in.Has(KeyPoses) {
		t.Fatal("input bundle was modified")
	}
	root, body := out[KeyRootOrient], out[KeyPoseBody]
	if !reflect.DeepEqual(root.Shape, []int{4, 3}) || !reflect.DeepEqual(body.Shape, []int{4, 63}) {
		t.Fatalf("unexpected shapes %v %v", root.Shape, body.Shape)
	}
	for f := 0; f < 4; f++ {
		for c := 0; c < 3; c++ {
			if root.Data[f*3+c] != float64(f*72+c) {
				t.Fatalf("root_orient[%d,%d] = %v", f, c, root.Data[f*3+c])
			}
		}
		for c := 0; c < 63; c++ {
			if body.Data[f*63+c] != float64(f*72+3+c) {
				t.Fatalf("pose_body[%d,%d] = %v", f, c, body.Data[f*63+c])
			}
		}
	}
	if g, _ := out[KeyGender].StringValue(); g != "female" {
		t.Fatalf("gender: want female, got %q", g)
	}
	if len(res.Warnings) != 0 {
		t.Fatalf("unexpected warnings %v", res.Warnings)
	}
}

func TestRemapWidthCoercion(t *testing.T) {
	r := NewRemapper(store.New())

	res, err := r.RemapBundle(smplBundle(2, 156), "")
	if err != nil {
		t.Fatal(err)
	}
	if res.Bundle[KeyPoseBody].Data[62] != 65 {
		t.Fatalf("truncated pose should keep leading columns, got %v", res.Bundle[KeyPoseBody].Data[62])
	}
	if g, _ := res.Bundle[KeyGender].StringValue(); g != DefaultGender {
		t.Fatalf("gender: want %s, got %q", DefaultGender, g)
	}

	res, err = r.RemapBundle(smplBundle(2, 30), "male")
	if err != nil {
		t.Fatal(err)
	}
	body := res.Bundle[KeyPoseBody]
	if body.Shape[1] != 63 || body.Data[26] != 29 || body.Data[27] != 0 {
		t.Fatalf("short poses should be zero padded, got %v", body.Data[:30])
	}
	if len(res.Warnings) != 1 || !strings.Contains(res.Warnings[0], "30 columns") {
		t.Fatalf("expected a width warning, got %v", res.Warnings)
	}
}

func TestRemapSingleFrame(t *testing.T) {
	b := smplBundle(1, 72)
	b[KeyPoses] = store.NewFloat64([]int{72}, ramp(72))
	res, err := NewRemapper(store.New()).RemapBundle(b, "male")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(res.Bundle[KeyRootOrient].Shape, []int{3}) || !reflect.DeepEqual(res.Bundle[KeyPoseBody].Shape, []int{63}) {
		t.Fatalf("unexpected shapes %v %v", res.Bundle[KeyRootOrient].Shape, res.Bundle[KeyPoseBody].Shape)
	}
}

func TestRemapOddInnerShape(t *testing.T) {
	b := smplBundle(2, 72)
	b[KeyPoses] = store.NewFloat64([]int{2, 22, 3}, ramp(2*66))
	res, err := NewRemapper(store.New()).RemapBundle(b, "male")
	if err != nil {
		t.Fatalf("non (24, 3) poses should still convert: %v", err)
	}
	if res.Bundle[KeyPoseBody].Shape[0] != 2 || len(res.Warnings) == 0 {
		t.Fatalf("expected a converted body pose and a warning, got %v", res.Warnings)
	}
}

func TestRemapMetadata(t *testing.T) {
	b := smplBundle(2, 72)
	b[KeyFrameRateLegacy] = store.NewFloat64Scalar(120)
	b[KeyGender] = store.NewString("female")
	b[KeyTrans] = store.NewFloat64([]int{2, 3}, []float64{0, 0, m.Inf(1), 0, 0, 0})
	poses := ramp(2 * 72)
	poses[0], poses[1], poses[2] = m.NaN(), m.NaN(), m.Inf(-1)
	b[KeyPoses] = store.NewFloat64([]int{2, 72}, poses)

	res, err := NewRemapper(store.New()).RemapBundle(b, "male")
	if err != nil {
		t.Fatal(err)
	}
	out := res.Bundle
	if out.Has(KeyFrameRateLegacy) || !out.Has(KeyFrameRate) {
		t.Fatalf("frame rate key not renamed: %v", out.Keys())
	}
	if g, _ := out[KeyGender].StringValue(); g != "female" {
		t.Fatalf("existing gender should be kept, got %q", g)
	}
	joined := strings.Join(res.Warnings, "\n")
	if !strings.Contains(joined, "2 NaN and 1 Inf") || !strings.Contains(joined, "trans contains") {
		t.Fatalf("missing finiteness warnings: %v", res.Warnings)
	}
}

func TestRemapFailures(t *testing.T) {
	r := NewRemapper(store.New())

	b := smplBundle(1, 72)
	delete(b, KeyPoses)
	var mf *core.MissingFieldError
	if _, err := r.RemapBundle(b, "male"); !errors.As(err, &mf) || !reflect.DeepEqual(mf.Available, []string{KeyBetas, KeyTrans}) {
		t.Fatalf("expected missing poses with available keys, got %v", err)
	}

	b = smplBundle(0, 72)
	if _, err := r.RemapBundle(b, "male"); !errors.Is(err, core.ErrEmptySequence) {
		t.Fatalf("expected ErrEmptySequence, got %v", err)
	}

	b = smplBundle(1, 72)
	b[KeyPoses] = store.NewFloat64([]int{1, 1, 1, 72}, ramp(72))
	if _, err := r.RemapBundle(b, "male"); !errors.Is(err, core.ErrInvalidShape) {
		t.Fatalf("expected ErrInvalidShape, got %v", err)
	}
}

func TestRemapFiles(t *testing.T) {
	s := store.New()
	dir := t.TempDir()
	r := NewRemapper(s)

	// a bundle addressed as .npy is written to its .npz sibling
	in := filepath.Join(dir, "smpl.npz")
	out := filepath.Join(dir, "smplx", "smpl.npy")
	mustSave(t, s, in, smplBundle(3, 72))
	if !r.Remap(in, out, "neutral") {
		t.Fatal("remap failed")
	}
	b, err := s.LoadBundle(store.BundlePath(out))
	if err != nil {
		t.Fatal(err)
	}
	if !s.Validate(b, KeyRootOrient, KeyPoseBody, KeyBetas, KeyGender) || b.Has(KeyPoses) {
		t.Fatalf("unexpected output keys %v", b.Keys())
	}

	empty := filepath.Join(dir, "empty.npz")
	emptyOut := filepath.Join(dir, "empty_out.npy")
	mustSave(t, s, empty, smplBundle(0, 72))
	if r.Remap(empty, emptyOut, "neutral") {
		t.Fatal("remap should fail on empty poses")
	}
	if _, err := os.Stat(store.BundlePath(emptyOut)); !os.IsNotExist(err) {
		t.Fatal("no output should be written for a failed conversion")
	}

	plain := filepath.Join(dir, "plain.npy")
	mustSave(t, s, plain, store.NewFloat64([]int{2}, []float64{1, 2}))
	if r.Remap(plain, emptyOut, "neutral") {
		t.Fatal("remap should fail on a plain array")
	}
}
