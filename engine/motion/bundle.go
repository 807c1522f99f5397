package motion

import (
	"fmt"
	m "math"

	"gonum.org/v1/gonum/mat"

	"github.com/spaghettifunk/posebridge/engine/core"
	"github.com/spaghettifunk/posebridge/engine/store"
)

// Canonical keys of a motion parameter bundle.
const (
	KeyPoses           = "poses"
	KeyTrans           = "trans"
	KeyFPS             = "fps"
	KeyFrameRate       = "mocap_frame_rate"
	KeyFrameRateLegacy = "mocap_framerate"
	KeyBetas           = "betas"
	KeyGender          = "gender"
	KeyRootOrient      = "root_orient"
	KeyPoseBody        = "pose_body"
)

const (
	/** @brief Frame rate every normalized sequence is resampled to. */
	DefaultFrameRate float64 = 30
	/** @brief 24 joints, 3 rotation components each. */
	PoseWidth = 72
	/** @brief Columns needed for the 22 body joints of a pose. */
	BodyWidth = 66
	/** @brief 55 joints, 3 rotation components each. */
	FullBodyWidth = 156
	BetasWidth    = 16
)

// Result is the outcome of a pure bundle transform. Warnings hold every
// non fatal anomaly that was logged while producing it.
type Result struct {
	Bundle   store.Bundle
	Warnings []string
}

func (r *Result) warn(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	r.Warnings = append(r.Warnings, msg)
	core.LogWarn("%s", msg)
}

func require(b store.Bundle, key string) (*store.Array, error) {
	a, ok := b[key]
	if !ok || a == nil {
		return nil, &core.MissingFieldError{Key: key, Available: b.Keys()}
	}
	return a, nil
}

// frames is the length of the leading axis, zero for 0-d arrays.
func frames(a *store.Array) int {
	if a.NDim() == 0 {
		return 0
	}
	return a.Shape[0]
}

// flatten merges every axis after the first. The element count is
// unchanged, so the reshape cannot fail.
func flatten(a *store.Array) *store.Array {
	rows := frames(a)
	cols := 0
	if rows > 0 {
		cols = a.Size() / rows
	} else if a.NDim() > 1 {
		cols = 1
		for _, d := range a.Shape[1:] {
			cols *= d
		}
	}
	out := a.Clone()
	out.Shape = []int{rows, cols}
	return out
}

// everyNth keeps rows 0, stride, 2*stride... along the leading axis.
func everyNth(a *store.Array, stride int) *store.Array {
	rows := frames(a)
	if stride <= 1 || rows == 0 {
		return a.Clone()
	}
	width := a.Size() / rows
	kept := (rows + stride - 1) / stride
	out := &store.Array{DType: a.DType, Shape: append([]int{kept}, a.Shape[1:]...)}
	out.Data = make([]float64, 0, kept*width)
	for r := 0; r < rows; r += stride {
		out.Data = append(out.Data, a.Data[r*width:(r+1)*width]...)
	}
	return out
}

// fitColumns returns a rows x width matrix holding the leading columns of
// src, zero padded when src is narrower.
func fitColumns(src *mat.Dense, width int) *mat.Dense {
	rows, _ := src.Dims()
	out := mat.NewDense(rows, width, nil)
	out.Copy(src)
	return out
}

func asMatrix(a *store.Array) (*mat.Dense, error) {
	if a.NDim() == 1 {
		row, err := a.Reshape(1, a.Size())
		if err != nil {
			return nil, err
		}
		return row.Matrix()
	}
	return a.Matrix()
}

// fromMatrix converts back, keeping a single row 1-D when oneD is set.
func fromMatrix(src mat.Matrix, dtype store.DType, oneD bool) *store.Array {
	a := store.FromMatrix(src, dtype)
	if oneD {
		a.Shape = []int{a.Shape[1]}
	}
	return a
}

func finite(v float64) bool {
	return !m.IsNaN(v) && !m.IsInf(v, 0)
}
