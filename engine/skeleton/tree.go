package skeleton

import (
	"fmt"

	"github.com/spaghettifunk/posebridge/engine/core"
	"github.com/spaghettifunk/posebridge/engine/math"
)

// Kinematics is the narrow forward kinematics service the reprojector relies
// on. *Tree is the reference implementation.
type Kinematics interface {
	JointIndex(name string) (int, error)
	LocalOffset(joint int) math.Vec3
	NumJoints() int
	// WorldPositions returns the world space position of every joint for one
	// frame of local rotations.
	WorldPositions(local []math.Quat, root math.Vec3) []math.Vec3
}

// JointIndex maps joint names to their position in a tree. Built once per
// tree and never modified afterwards.
type JointIndex map[string]int

// Lookup fails with ErrConfiguration for unknown names.
func (ji JointIndex) Lookup(name string) (int, error) {
	i, ok := ji[name]
	if !ok {
		return -1, fmt.Errorf("skeleton: unknown joint %q: %w", name, core.ErrConfiguration)
	}
	return i, nil
}

// Tree is an ordered list of named joints. Parents always precede their
// children. A Tree is immutable once built.
type Tree struct {
	names   []string
	parents []int
	offsets []math.Vec3
	index   JointIndex
}

// NewTree validates and copies the joint description.
func NewTree(names []string, parents []int, offsets []math.Vec3) (*Tree, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("skeleton: tree without joints: %w", core.ErrConfiguration)
	}
	if len(parents) != len(names) || len(offsets) != len(names) {
		return nil, fmt.Errorf("skeleton: %d names, %d parents, %d offsets: %w",
			len(names), len(parents), len(offsets), core.ErrConfiguration)
	}

	t := &Tree{
		names:   append([]string(nil), names...),
		parents: append([]int(nil), parents...),
		offsets: append([]math.Vec3(nil), offsets...),
		index:   make(JointIndex, len(names)),
	}
	for i, name := range names {
		if name == "" {
			return nil, fmt.Errorf("skeleton: joint %d has no name: %w", i, core.ErrConfiguration)
		}
		if _, dup := t.index[name]; dup {
			return nil, fmt.Errorf("skeleton: duplicate joint %q: %w", name, core.ErrConfiguration)
		}
		t.index[name] = i

		p := parents[i]
		switch {
		case i == 0 && p != -1:
			return nil, fmt.Errorf("skeleton: root joint %q must not have a parent: %w", name, core.ErrConfiguration)
		case i > 0 && (p < 0 || p >= i):
			return nil, fmt.Errorf("skeleton: joint %q has parent %d, want 0..%d: %w", name, p, i-1, core.ErrConfiguration)
		}
	}
	return t, nil
}

func (t *Tree) NumJoints() int {
	return len(t.names)
}

// Names returns a copy of the joint names in tree order.
func (t *Tree) Names() []string {
	return append([]string(nil), t.names...)
}

func (t *Tree) Name(joint int) string {
	return t.names[joint]
}

func (t *Tree) Parent(joint int) int {
	return t.parents[joint]
}

func (t *Tree) LocalOffset(joint int) math.Vec3 {
	return t.offsets[joint]
}

func (t *Tree) Index() JointIndex {
	return t.index
}

func (t *Tree) JointIndex(name string) (int, error) {
	return t.index.Lookup(name)
}

// WorldTransforms composes every joint with its ancestors. The root is placed
// at root, its rest offset is ignored.
func (t *Tree) WorldTransforms(local []math.Quat, root math.Vec3) []*math.Transform {
	world := make([]*math.Transform, len(t.names))
	for i := range t.names {
		if i == 0 {
			world[0] = math.TransformFromPositionRotation(root, local[0])
			continue
		}
		joint := math.TransformFromPositionRotation(t.offsets[i], local[i])
		world[i] = world[t.parents[i]].Compose(joint)
	}
	return world
}

func (t *Tree) WorldPositions(local []math.Quat, root math.Vec3) []math.Vec3 {
	world := t.WorldTransforms(local, root)
	out := make([]math.Vec3, len(world))
	for i, w := range world {
		out[i] = w.Position
	}
	return out
}

// SameJoints reports whether names lists the joints of t in tree order.
func (t *Tree) SameJoints(names []string) bool {
	if len(names) != len(t.names) {
		return false
	}
	for i, n := range names {
		if t.names[i] != n {
			return false
		}
	}
	return true
}
