package reproject

import (
	"errors"
	m "math"
	"testing"

	"github.com/spaghettifunk/posebridge/engine/core"
	"github.com/spaghettifunk/posebridge/engine/math"
	"github.com/spaghettifunk/posebridge/engine/skeleton"
)

func sameRotation(a, b math.Quat) bool {
	return m.Abs(a.Dot(b)) > 1-1e-9
}

func TestElbowBend(t *testing.T) {
	cases := []struct {
		name               string
		upper, elbow, hand math.Vec3
		want               float64
	}{
		{"right angle", math.Vec3{0, 0, 1}, math.Vec3{}, math.Vec3{1, 0, 0}, m.Pi / 2},
		{"straight", math.Vec3{0, 0, 2}, math.Vec3{0, 0, 1}, math.Vec3{0, 0, -3}, 0},
		{"folded", math.Vec3{1, 0, 0}, math.Vec3{}, math.Vec3{2, 0, 0}, m.Pi},
		{"right angle off origin", math.Vec3{3, 1, 1}, math.Vec3{3, 1, 0}, math.Vec3{3, 4, 0}, m.Pi / 2},
	}
	for _, tc := range cases {
		if got := ElbowBend(tc.upper, tc.elbow, tc.hand); m.Abs(got-tc.want) > 1e-9 {
			t.Errorf("%s: want %v, got %v", tc.name, tc.want, got)
		}
	}
}

func bentMotion(t *testing.T, tree *skeleton.Tree, bend float64) *skeleton.Motion {
	t.Helper()
	frame := make([]math.Quat, tree.NumJoints())
	for i := range frame {
		frame[i] = math.NewQuatIdentity()
	}
	for _, side := range Sides {
		e, _ := tree.JointIndex(side + lowerArm)
		h, _ := tree.JointIndex(side + hand)
		frame[e] = math.NewQuatFromAxisAngle(math.UnitY, -bend)
		frame[h] = math.NewQuatFromAxisAngle(math.UnitX, 0.4)
	}
	local := [][]math.Quat{frame, append([]math.Quat(nil), frame...)}
	mo, err := skeleton.NewMotion(tree, local, []math.Vec3{{0, 0, 1}, {0.1, 0, 1}}, 30)
	if err != nil {
		t.Fatal(err)
	}
	return mo
}

func TestArmsKeepsPureBend(t *testing.T) {
	tree, err := skeleton.DefaultTree()
	if err != nil {
		t.Fatal(err)
	}
	mo := bentMotion(t, tree, 0.7)
	before := mo.Clone()

	out, err := Arms(tree, mo)
	if err != nil {
		t.Fatalf("reproject: %v", err)
	}
	if out.FPS != mo.FPS || out.RootTranslation[1] != mo.RootTranslation[1] {
		t.Fatal("root translation and frame rate must be preserved")
	}

	for f := range mo.LocalRotation {
		for j := range mo.LocalRotation[f] {
			if mo.LocalRotation[f][j] != before.LocalRotation[f][j] {
				t.Fatalf("input motion modified at frame %d joint %d", f, j)
			}
		}
		for _, side := range Sides {
			s, _ := tree.JointIndex(side + upperArm)
			e, _ := tree.JointIndex(side + lowerArm)
			h, _ := tree.JointIndex(side + hand)
			if !sameRotation(out.LocalRotation[f][e], mo.LocalRotation[f][e]) {
				t.Fatalf("%s elbow should keep an existing pure bend", side)
			}
			if !sameRotation(out.LocalRotation[f][s], mo.LocalRotation[f][s]) {
				t.Fatalf("%s shoulder should not be twisted", side)
			}
			if out.LocalRotation[f][h] != math.NewQuatIdentity() {
				t.Fatalf("%s hand should be reset", side)
			}
		}
		head, _ := tree.JointIndex("head")
		if out.LocalRotation[f][head] != mo.LocalRotation[f][head] {
			t.Fatal("joints outside the arms must not change")
		}
	}
}

func TestArmsPreservesMeasuredBend(t *testing.T) {
	tree, _ := skeleton.DefaultTree()
	mo := bentMotion(t, tree, 0.7)
	// twist the elbow off its hinge axis
	for _, side := range Sides {
		e, _ := tree.JointIndex(side + lowerArm)
		for f := range mo.LocalRotation {
			mo.LocalRotation[f][e] = math.NewQuatFromAxisAngle(math.Vec3{1, 1, 0}, 0.9)
		}
	}

	out, err := Arms(tree, mo)
	if err != nil {
		t.Fatal(err)
	}
	for _, side := range Sides {
		s, _ := tree.JointIndex(side + upperArm)
		e, _ := tree.JointIndex(side + lowerArm)
		h, _ := tree.JointIndex(side + hand)
		for f := range mo.LocalRotation {
			in := tree.WorldPositions(mo.LocalRotation[f], mo.RootTranslation[f])
			got := tree.WorldPositions(out.LocalRotation[f], out.RootTranslation[f])
			want := ElbowBend(in[s], in[e], in[h])
			if bend := ElbowBend(got[s], got[e], got[h]); m.Abs(bend-want) > 1e-9 {
				t.Fatalf("%s frame %d: bend %v, want %v", side, f, bend, want)
			}
			// the new elbow is a rotation about +y only
			q := out.LocalRotation[f][e]
			if m.Abs(q.V[0]) > 1e-12 || m.Abs(q.V[2]) > 1e-12 || q.V[1] > 1e-12 {
				t.Fatalf("%s elbow %v is not a negative rotation about y", side, q)
			}
		}
	}
}

func TestArmsShoulderTwist(t *testing.T) {
	tree, _ := skeleton.DefaultTree()
	shoulderRot := math.NewQuatFromAxisAngle(math.UnitZ, 0.3)
	handDir := math.Vec3{0, 0, -1}

	cases := []struct {
		name  string
		angle float64
		sign  float64
	}{
		// Rx(a) moves the hand to (0, sin a, -cos a)
		{"hand above the hinge plane", 0.6, -1},
		{"hand below the hinge plane", -0.6, 1},
	}
	var twisted []math.Quat
	for _, tc := range cases {
		mo := bentMotion(t, tree, 0)
		for _, side := range Sides {
			s, _ := tree.JointIndex(side + upperArm)
			e, _ := tree.JointIndex(side + lowerArm)
			for f := range mo.LocalRotation {
				mo.LocalRotation[f][s] = shoulderRot
				mo.LocalRotation[f][e] = math.NewQuatFromAxisAngle(math.UnitX, tc.angle)
			}
		}

		out, err := Arms(tree, mo)
		if err != nil {
			t.Fatal(err)
		}

		// the pure bend puts the hand at (sin|a|, 0, -cos|a|)
		phi := m.Acos(m.Cos(tc.angle) * m.Cos(tc.angle))
		want := shoulderRot.Mul(math.NewQuatFromAxisAngle(handDir, tc.sign*phi))
		for _, side := range Sides {
			s, _ := tree.JointIndex(side + upperArm)
			e, _ := tree.JointIndex(side + lowerArm)
			for f := range out.LocalRotation {
				if got := out.LocalRotation[f][s]; !sameRotation(got, want) {
					t.Fatalf("%s: %s shoulder %v, want %v", tc.name, side, got, want)
				}
				wantBend := math.NewQuatFromAxisAngle(math.UnitY, -m.Abs(tc.angle))
				if got := out.LocalRotation[f][e]; !sameRotation(got, wantBend) {
					t.Fatalf("%s: %s elbow %v, want %v", tc.name, side, got, wantBend)
				}
			}
		}
		s, _ := tree.JointIndex(Sides[0] + upperArm)
		twisted = append(twisted, out.LocalRotation[0][s])
	}
	if sameRotation(twisted[0], twisted[1]) {
		t.Fatal("twists on opposite sides of the hinge plane must differ")
	}
}

func TestArmsMissingJoint(t *testing.T) {
	tree, err := skeleton.NewTree(
		[]string{"pelvis", "right_upper_arm", "right_lower_arm", "right_hand"},
		[]int{-1, 0, 1, 2},
		[]math.Vec3{{}, {0, -0.2, 0.4}, {0, 0, -0.3}, {0, 0, -0.3}},
	)
	if err != nil {
		t.Fatal(err)
	}
	frame := []math.Quat{math.NewQuatIdentity(), math.NewQuatIdentity(), math.NewQuatIdentity(), math.NewQuatIdentity()}
	mo, err := skeleton.NewMotion(tree, [][]math.Quat{frame}, []math.Vec3{{}}, 30)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Arms(tree, mo); !errors.Is(err, core.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}
