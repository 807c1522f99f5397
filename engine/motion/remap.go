package motion

import (
	"fmt"
	m "math"

	"gonum.org/v1/gonum/floats"

	"github.com/spaghettifunk/posebridge/engine/core"
	"github.com/spaghettifunk/posebridge/engine/store"
)

// DefaultGender is used when neither the file nor the caller provides one.
const DefaultGender = "neutral"

// Remapper converts 24 joint pose bundles into the root orientation plus
// body pose layout with 16 shape parameters.
type Remapper struct {
	store *store.Store
}

func NewRemapper(s *store.Store) *Remapper {
	return &Remapper{store: s}
}

// fitBetas pads or truncates the trailing axis of betas to BetasWidth.
func fitBetas(betas *store.Array, res *Result) (*store.Array, error) {
	if !betas.IsNumeric() {
		res.warn("unexpected dtype for betas: %s, expected a numeric type", betas.DType)
	}
	if betas.NDim() != 1 && betas.NDim() != 2 {
		return nil, fmt.Errorf("motion: betas must be 1-D or 2-D, got shape %v: %w", betas.Shape, core.ErrInvalidShape)
	}
	oneD := betas.NDim() == 1
	width := betas.Shape[betas.NDim()-1]
	rows := 1
	if !oneD {
		rows = betas.Shape[0]
	}

	switch {
	case width == BetasWidth:
		return betas, nil
	case width == 10:
		core.LogInfo("padding betas from %v to %d columns", betas.Shape, BetasWidth)
	case width < BetasWidth:
		res.warn("unexpected betas shape %v, padding to %d columns", betas.Shape, BetasWidth)
	default:
		res.warn("unexpected betas shape %v, truncating to %d columns", betas.Shape, BetasWidth)
	}

	if rows == 0 || width == 0 || !betas.IsNumeric() {
		shape := []int{rows, BetasWidth}
		if oneD {
			shape = []int{BetasWidth}
		}
		return store.NewArray(betas.DType, shape, make([]float64, rows*BetasWidth)), nil
	}
	src, err := asMatrix(betas)
	if err != nil {
		return nil, err
	}
	return fromMatrix(fitColumns(src, BetasWidth), betas.DType, oneD), nil
}

// checkPoses flattens, validates and counts non finite values. The returned
// array is always 1-D or 2-D with at least one element.
func checkPoses(poses *store.Array, res *Result) (*store.Array, error) {
	if poses.NDim() == 3 {
		if poses.Shape[1] != 24 || poses.Shape[2] != 3 {
			res.warn("poses with unexpected inner shape %v, flattening anyway", poses.Shape[1:])
		}
		poses = flatten(poses)
	}
	if !poses.IsNumeric() || (poses.NDim() != 1 && poses.NDim() != 2) {
		return nil, fmt.Errorf("motion: unexpected poses %s, want 1-D or 2-D: %w", poses.Describe(), core.ErrInvalidShape)
	}
	if poses.Size() == 0 {
		return nil, fmt.Errorf("motion: poses %v are empty: %w", poses.Shape, core.ErrEmptySequence)
	}

	nan := floats.Count(m.IsNaN, poses.Data)
	inf := floats.Count(func(v float64) bool { return m.IsInf(v, 0) }, poses.Data)
	if nan > 0 || inf > 0 {
		res.warn("poses contain %d NaN and %d Inf values", nan, inf)
	}
	return poses, nil
}

// splitPoses partitions a (F, 72) pose into root orientation and body pose.
func splitPoses(poses *store.Array, res *Result) (root, body *store.Array, err error) {
	oneD := poses.NDim() == 1
	src, err := asMatrix(poses)
	if err != nil {
		return nil, nil, err
	}
	rows, width := src.Dims()
	switch {
	case width > PoseWidth:
		core.LogInfo("truncating poses from %d to %d columns", width, PoseWidth)
	case width < BodyWidth:
		res.warn("poses have only %d columns, expected at least %d for a body pose", width, BodyWidth)
	}
	if width != PoseWidth {
		src = fitColumns(src, PoseWidth)
	}

	root = fromMatrix(src.Slice(0, rows, 0, 3), poses.DType, oneD)
	body = fromMatrix(src.Slice(0, rows, 3, BodyWidth), poses.DType, oneD)
	return root, body, nil
}

func checkTrans(trans *store.Array, res *Result) {
	if trans.NDim() != 1 && trans.NDim() != 2 {
		res.warn("unexpected trans dimensionality %d, expected 1-D or 2-D", trans.NDim())
	}
	if trans.IsFloat() && trans.Size() > 0 && floats.Count(func(v float64) bool { return !finite(v) }, trans.Data) > 0 {
		res.warn("trans contains NaN or Inf values")
	}
}

// RemapBundle converts in without modifying it. gender is stored only when
// the bundle carries none.
func (r *Remapper) RemapBundle(in store.Bundle, gender string) (*Result, error) {
	res := &Result{}
	out := make(store.Bundle, len(in)+2)
	for k, v := range in {
		out[k] = v
	}

	if betas, ok := out[KeyBetas]; ok && betas != nil {
		fitted, err := fitBetas(betas, res)
		if err != nil {
			return nil, err
		}
		out[KeyBetas] = fitted
	}

	if rate, ok := out[KeyFrameRateLegacy]; ok {
		out[KeyFrameRate] = rate
		delete(out, KeyFrameRateLegacy)
		core.LogInfo("renamed %s to %s", KeyFrameRateLegacy, KeyFrameRate)
	}

	poses, err := require(out, KeyPoses)
	if err != nil {
		return nil, err
	}
	if poses, err = checkPoses(poses, res); err != nil {
		return nil, err
	}
	root, body, err := splitPoses(poses, res)
	if err != nil {
		return nil, err
	}
	out[KeyRootOrient] = root
	out[KeyPoseBody] = body

	if trans, ok := out[KeyTrans]; ok && trans != nil {
		checkTrans(trans, res)
	}

	if _, ok := out[KeyGender]; !ok {
		if gender == "" {
			gender = DefaultGender
		}
		out[KeyGender] = store.NewString(gender)
		core.LogInfo("set gender to %q", gender)
	}

	delete(out, KeyPoses)
	res.Bundle = out
	return res, nil
}

// Convert remaps one file and saves the result, overwriting output.
func (r *Remapper) Convert(inputPath, outputPath, gender string) error {
	b, err := r.store.LoadBundle(inputPath)
	if err != nil {
		return err
	}
	res, err := r.RemapBundle(b, gender)
	if err != nil {
		return fmt.Errorf("motion: remap %s: %w", inputPath, err)
	}
	return r.store.Save(outputPath, res.Bundle, true)
}

// Remap is the reporting form of Convert: any failure is logged and
// returned as false.
func (r *Remapper) Remap(inputPath, outputPath, gender string) bool {
	if err := r.Convert(inputPath, outputPath, gender); err != nil {
		core.LogError("failed to convert %s: %v", inputPath, err)
		return false
	}
	core.LogInfo("converted %s to %s", inputPath, outputPath)
	return true
}
