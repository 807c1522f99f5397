package motion

import (
	"fmt"
	m "math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/spaghettifunk/posebridge/engine/core"
	"github.com/spaghettifunk/posebridge/engine/math"
	"github.com/spaghettifunk/posebridge/engine/skeleton"
	"github.com/spaghettifunk/posebridge/engine/store"
)

// GroundMode selects how the lowest joint is brought to z = 0.
type GroundMode string

const (
	/** @brief Average of the per frame minimum joint height. */
	GroundMean GroundMode = "mean"
	/** @brief Lowest joint over the whole motion, for stairs and climbing. */
	GroundMin GroundMode = "min"
	GroundNone GroundMode = "none"
)

func ParseGroundMode(s string) (GroundMode, error) {
	switch g := GroundMode(s); g {
	case GroundMean, GroundMin, GroundNone:
		return g, nil
	case "":
		return GroundMean, nil
	}
	return "", fmt.Errorf("motion: unknown ground mode %q: %w", s, core.ErrConfiguration)
}

// Exporter converts skeleton motions into axis-angle parameter bundles.
type Exporter struct {
	store  *store.Store
	tree   *skeleton.Tree
	ground GroundMode
}

func NewExporter(s *store.Store, tree *skeleton.Tree, ground GroundMode) *Exporter {
	return &Exporter{store: s, tree: tree, ground: ground}
}

// groundOffset is the height that has to be removed from the root so the
// motion touches the ground.
func (e *Exporter) groundOffset(mo *skeleton.Motion) float64 {
	if e.ground == GroundNone {
		return 0
	}
	world := mo.GlobalTranslation(mo.Tree)
	lowest := make([]float64, len(world))
	heights := make([]float64, 0, mo.Tree.NumJoints())
	for f, frame := range world {
		heights = heights[:0]
		for _, p := range frame {
			heights = append(heights, p[2])
		}
		lowest[f] = floats.Min(heights)
	}
	if e.ground == GroundMin {
		return floats.Min(lowest)
	}
	return stat.Mean(lowest, nil)
}

// ExportMotion builds {poses, trans, fps}. Rotations leave the motion in the
// vector first layout and are reordered scalar first before the axis-angle
// conversion. mo is not modified.
func (e *Exporter) ExportMotion(mo *skeleton.Motion) (*Result, error) {
	if mo.Frames() == 0 {
		return nil, fmt.Errorf("motion: export: %w", core.ErrEmptySequence)
	}
	res := &Result{}
	nf, nj := mo.Frames(), mo.Tree.NumJoints()

	poses := make([]float64, 0, nf*nj*3)
	for _, frame := range mo.LocalRotation {
		for _, q := range frame {
			v := math.NewXYZW(q).ToWXYZ().RotationVector()
			poses = append(poses, v[0], v[1], v[2])
		}
	}
	if n := floats.Count(m.IsNaN, poses); n > 0 {
		res.warn("exported poses contain %d NaN values", n)
	}

	offset := e.groundOffset(mo)
	trans := make([]float64, 0, nf*3)
	for _, p := range mo.RootTranslation {
		trans = append(trans, p[0], p[1], p[2]-offset)
	}
	core.LogDebug("export: %d frames, ground mode %s, offset %.4f", nf, e.ground, offset)

	res.Bundle = store.Bundle{
		KeyPoses: store.NewFloat64([]int{nf, nj * 3}, poses),
		KeyTrans: store.NewFloat64([]int{nf, 3}, trans),
		KeyFPS:   store.NewFloat64Scalar(mo.FPS),
	}
	return res, nil
}

// Convert loads a motion saved for the exporter's skeleton and writes its
// parameter bundle.
func (e *Exporter) Convert(inputPath, outputPath string) error {
	mo, err := skeleton.LoadMotion(e.store, e.tree, inputPath)
	if err != nil {
		return err
	}
	res, err := e.ExportMotion(mo)
	if err != nil {
		return fmt.Errorf("motion: export %s: %w", inputPath, err)
	}
	return e.store.Save(outputPath, res.Bundle, true)
}
