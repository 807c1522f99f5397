package motion

import (
	"fmt"
	m "math"

	"gonum.org/v1/gonum/mat"

	"github.com/spaghettifunk/posebridge/engine/core"
	"github.com/spaghettifunk/posebridge/engine/store"
)

// JointSubset picks the 24 body model joints out of a 55 joint pose: the 22
// body joints plus the first joint of each hand.
var JointSubset = []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20, 21, 25, 40}

// subsetColumns expands joint indices into their 3 rotation columns.
func subsetColumns(joints []int) []int {
	cols := make([]int, 0, 3*len(joints))
	for _, j := range joints {
		cols = append(cols, 3*j, 3*j+1, 3*j+2)
	}
	return cols
}

// gatherColumns copies the given columns of src in order. Every index is
// checked against the width before any data is touched.
func gatherColumns(src *mat.Dense, cols []int) (*mat.Dense, error) {
	rows, width := src.Dims()
	for _, c := range cols {
		if c < 0 || c >= width {
			return nil, &core.BoundsError{Index: c, Width: width}
		}
	}
	out := mat.NewDense(rows, len(cols), nil)
	col := make([]float64, rows)
	for j, c := range cols {
		out.SetCol(j, mat.Col(col, c, src))
	}
	return out, nil
}

// Normalizer turns raw capture files into fixed rate, fixed joint set
// sequences.
type Normalizer struct {
	store     *store.Store
	targetFPS float64
}

type NormalizerOption func(*Normalizer)

// WithTargetFPS changes the output frame rate. Non positive values are
// ignored.
func WithTargetFPS(fps float64) NormalizerOption {
	return func(n *Normalizer) {
		if fps > 0 {
			n.targetFPS = fps
		}
	}
}

func NewNormalizer(s *store.Store, options ...NormalizerOption) *Normalizer {
	n := &Normalizer{store: s, targetFPS: DefaultFrameRate}
	for _, o := range options {
		o(n)
	}
	return n
}

// sourceRate reads the declared capture rate. Missing, non numeric or non
// positive rates fall back to DefaultFrameRate.
func sourceRate(b store.Bundle, res *Result) float64 {
	a, ok := b[KeyFrameRate]
	if !ok {
		a, ok = b[KeyFrameRateLegacy]
	}
	if !ok || a == nil {
		return DefaultFrameRate
	}
	v, isScalar := a.Scalar()
	if !isScalar || !(v > 0) || m.IsInf(v, 0) {
		res.warn("invalid source frame rate %s, using default %v", describeRate(a), DefaultFrameRate)
		return DefaultFrameRate
	}
	return v
}

func describeRate(a *store.Array) string {
	if v, ok := a.Scalar(); ok {
		return fmt.Sprint(v)
	}
	if s, ok := a.StringValue(); ok {
		return fmt.Sprintf("%q", s)
	}
	return a.Describe()
}

func (n *Normalizer) fpsArray() *store.Array {
	if n.targetFPS == m.Trunc(n.targetFPS) {
		return store.NewInt64Scalar(int64(n.targetFPS))
	}
	return store.NewFloat64Scalar(n.targetFPS)
}

// NormalizeBundle resamples poses and trans to the target rate and reduces
// wide poses to the 24 joint subset. The input bundle is left untouched.
func (n *Normalizer) NormalizeBundle(in store.Bundle) (*Result, error) {
	res := &Result{}
	poses, err := require(in, KeyPoses)
	if err != nil {
		return nil, err
	}
	trans, err := require(in, KeyTrans)
	if err != nil {
		return nil, err
	}

	if poses.NDim() == 3 && poses.Shape[1] == 24 && poses.Shape[2] == 3 {
		res.warn("poses with shape %v, reshaping to (%d, %d)", poses.Shape, poses.Shape[0], PoseWidth)
		poses = flatten(poses)
	}
	if !poses.IsNumeric() || poses.NDim() < 2 {
		return nil, fmt.Errorf("motion: poses %s, want at least 2-D: %w", poses.Describe(), core.ErrInvalidShape)
	}
	if !trans.IsNumeric() || trans.NDim() == 0 {
		return nil, fmt.Errorf("motion: trans %s: %w", trans.Describe(), core.ErrInvalidShape)
	}

	rate := sourceRate(in, res)
	stride := int(m.Max(1, m.Floor(rate/n.targetFPS)))

	if frames(poses) == 0 || frames(trans) == 0 {
		return nil, fmt.Errorf("motion: %d pose frames, %d trans frames: %w", frames(poses), frames(trans), core.ErrEmptySequence)
	}
	if frames(poses) != frames(trans) {
		res.warn("poses have %d frames but trans has %d", frames(poses), frames(trans))
	}
	poses = everyNth(poses, stride)
	trans = everyNth(trans, stride)

	switch width := poses.Shape[1]; {
	case poses.NDim() > 2:
		res.warn("unexpected pose shape %v, keeping as is", poses.Shape)
	case width >= FullBodyWidth:
		src, err := poses.Matrix()
		if err != nil {
			return nil, err
		}
		sub, err := gatherColumns(src, subsetColumns(JointSubset))
		if err != nil {
			return nil, fmt.Errorf("motion: joint subset for poses %v: %w", poses.Shape, err)
		}
		poses = store.FromMatrix(sub, poses.DType)
	case width == PoseWidth:
	default:
		res.warn("unexpected pose width %d, keeping as is", width)
	}

	res.Bundle = store.Bundle{
		KeyPoses: poses,
		KeyTrans: trans,
		KeyFPS:   n.fpsArray(),
	}
	core.LogDebug("normalized %d frames at stride %d from %v fps", frames(poses), stride, rate)
	return res, nil
}

// Convert normalizes one file and saves the result, overwriting output.
func (n *Normalizer) Convert(inputPath, outputPath string) error {
	b, err := n.store.LoadBundle(inputPath)
	if err != nil {
		return err
	}
	res, err := n.NormalizeBundle(b)
	if err != nil {
		return fmt.Errorf("motion: normalize %s: %w", inputPath, err)
	}
	return n.store.Save(outputPath, res.Bundle, true)
}

// Normalize is the reporting form of Convert: failures are logged with the
// offending path and returned as false.
func (n *Normalizer) Normalize(inputPath, outputPath string) bool {
	if err := n.Convert(inputPath, outputPath); err != nil {
		core.LogError("error processing %s: %v", inputPath, err)
		return false
	}
	return true
}
