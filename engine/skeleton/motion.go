package skeleton

import (
	"fmt"
	m "math"

	"github.com/spaghettifunk/posebridge/engine/core"
	"github.com/spaghettifunk/posebridge/engine/math"
	"github.com/spaghettifunk/posebridge/engine/store"
)

// Keys of a persisted motion bundle.
const (
	KeyLocalRotation   = "local_rotation"
	KeyRootTranslation = "root_translation"
	KeyFPS             = "fps"
	KeyRotationLayout  = "rotation_layout"
	KeyJointNames      = "joint_names"
)

// Motion is a sequence of skeleton poses: local joint rotations plus the root
// translation of every frame.
type Motion struct {
	Tree *Tree
	/** @brief Local rotations indexed by [frame][joint]. */
	LocalRotation [][]math.Quat
	/** @brief Root joint position of every frame. */
	RootTranslation []math.Vec3
	FPS             float64
}

// NewMotion checks that every frame carries one rotation per joint.
func NewMotion(tree *Tree, local [][]math.Quat, root []math.Vec3, fps float64) (*Motion, error) {
	if len(local) == 0 {
		return nil, fmt.Errorf("skeleton: motion without frames: %w", core.ErrEmptySequence)
	}
	if len(root) != len(local) {
		return nil, fmt.Errorf("skeleton: %d rotation frames but %d root frames: %w", len(local), len(root), core.ErrInvalidShape)
	}
	for f, frame := range local {
		if len(frame) != tree.NumJoints() {
			return nil, fmt.Errorf("skeleton: frame %d has %d joints, tree has %d: %w", f, len(frame), tree.NumJoints(), core.ErrInvalidShape)
		}
	}
	return &Motion{Tree: tree, LocalRotation: local, RootTranslation: root, FPS: fps}, nil
}

func (mo *Motion) Frames() int {
	return len(mo.LocalRotation)
}

// Clone returns a deep copy sharing only the immutable tree.
func (mo *Motion) Clone() *Motion {
	local := make([][]math.Quat, len(mo.LocalRotation))
	for f, frame := range mo.LocalRotation {
		local[f] = append([]math.Quat(nil), frame...)
	}
	return &Motion{
		Tree:            mo.Tree,
		LocalRotation:   local,
		RootTranslation: append([]math.Vec3(nil), mo.RootTranslation...),
		FPS:             mo.FPS,
	}
}

// GlobalTranslation returns the world position of every joint, per frame.
func (mo *Motion) GlobalTranslation(kin Kinematics) [][]math.Vec3 {
	out := make([][]math.Vec3, mo.Frames())
	for f := range out {
		out[f] = kin.WorldPositions(mo.LocalRotation[f], mo.RootTranslation[f])
	}
	return out
}

// Bundle converts the motion into its persisted form, rotations stored in
// the given layout.
func (mo *Motion) Bundle(layout math.Layout) store.Bundle {
	frames, joints := mo.Frames(), mo.Tree.NumJoints()
	rot := make([]float64, frames*joints*4)
	for f, frame := range mo.LocalRotation {
		for j, q := range frame {
			math.PutComponents(rot[(f*joints+j)*4:], q, layout)
		}
	}
	root := make([]float64, 0, frames*3)
	for _, p := range mo.RootTranslation {
		root = append(root, p[0], p[1], p[2])
	}
	return store.Bundle{
		KeyLocalRotation:   store.NewFloat64([]int{frames, joints, 4}, rot),
		KeyRootTranslation: store.NewFloat64([]int{frames, 3}, root),
		KeyFPS:             store.NewFloat64Scalar(mo.FPS),
		KeyRotationLayout:  store.NewString(layout.String()),
		KeyJointNames:      store.NewStrings([]int{joints}, mo.Tree.Names()),
	}
}

func parseLayout(b store.Bundle) (math.Layout, error) {
	a, ok := b[KeyRotationLayout]
	if !ok {
		return math.LayoutXYZW, nil
	}
	v, _ := a.StringValue()
	switch v {
	case math.LayoutXYZW.String():
		return math.LayoutXYZW, nil
	case math.LayoutWXYZ.String():
		return math.LayoutWXYZ, nil
	}
	return 0, fmt.Errorf("skeleton: unknown rotation layout %q: %w", v, core.ErrInvalidShape)
}

func required(b store.Bundle, key string) (*store.Array, error) {
	a, ok := b[key]
	if !ok {
		return nil, &core.MissingFieldError{Key: key, Available: b.Keys()}
	}
	return a, nil
}

// MotionFromBundle rebuilds a motion for tree. Stored joint names, when
// present, must match the tree exactly.
func MotionFromBundle(tree *Tree, b store.Bundle) (*Motion, error) {
	rot, err := required(b, KeyLocalRotation)
	if err != nil {
		return nil, err
	}
	root, err := required(b, KeyRootTranslation)
	if err != nil {
		return nil, err
	}
	if names, ok := b[KeyJointNames]; ok && !tree.SameJoints(names.Text) {
		return nil, fmt.Errorf("skeleton: motion joints %v do not match the skeleton %v: %w", names.Text, tree.Names(), core.ErrConfiguration)
	}
	layout, err := parseLayout(b)
	if err != nil {
		return nil, err
	}

	joints := tree.NumJoints()
	if !rot.IsNumeric() || rot.NDim() != 3 || rot.Shape[1] != joints || rot.Shape[2] != 4 {
		return nil, fmt.Errorf("skeleton: %s %s, want (F, %d, 4): %w", KeyLocalRotation, rot.Describe(), joints, core.ErrInvalidShape)
	}
	frames := rot.Shape[0]
	if !root.IsNumeric() || root.NDim() != 2 || root.Shape[0] != frames || root.Shape[1] != 3 {
		return nil, fmt.Errorf("skeleton: %s %s, want (%d, 3): %w", KeyRootTranslation, root.Describe(), frames, core.ErrInvalidShape)
	}

	fps := 30.0
	if a, ok := b[KeyFPS]; ok {
		if v, ok := a.Scalar(); ok && v > 0 && !m.IsInf(v, 0) {
			fps = v
		}
	}

	local := make([][]math.Quat, frames)
	rootPos := make([]math.Vec3, frames)
	for f := 0; f < frames; f++ {
		local[f] = make([]math.Quat, joints)
		for j := 0; j < joints; j++ {
			at := (f*joints + j) * 4
			local[f][j] = math.QuatFromComponents(rot.Data[at:at+4], layout)
		}
		rootPos[f] = math.Vec3{root.Data[f*3], root.Data[f*3+1], root.Data[f*3+2]}
	}
	return NewMotion(tree, local, rootPos, fps)
}

// LoadMotion reads a motion bundle written by SaveMotion.
func LoadMotion(s *store.Store, tree *Tree, path string) (*Motion, error) {
	b, err := s.LoadBundle(path)
	if err != nil {
		return nil, err
	}
	mo, err := MotionFromBundle(tree, b)
	if err != nil {
		return nil, fmt.Errorf("skeleton: load motion %s: %w", path, err)
	}
	return mo, nil
}

// SaveMotion persists mo with rotations in the vector-first layout.
func SaveMotion(s *store.Store, path string, mo *Motion, allowOverwrite bool) error {
	return s.Save(path, mo.Bundle(math.LayoutXYZW), allowOverwrite)
}
