// Package reproject recomputes arm rotations from joint positions for
// skeletons whose elbows only bend about a single axis.
package reproject

import (
	m "math"

	"github.com/spaghettifunk/posebridge/engine/math"
	"github.com/spaghettifunk/posebridge/engine/skeleton"
)

/** @brief Joint name prefixes of the two arms. */
var Sides = []string{"right_", "left_"}

const (
	upperArm = "upper_arm"
	lowerArm = "lower_arm"
	hand     = "hand"
)

type arm struct {
	shoulder, elbow, hand int
}

func resolveArms(kin skeleton.Kinematics) ([]arm, error) {
	arms := make([]arm, 0, len(Sides))
	for _, side := range Sides {
		var a arm
		var err error
		if a.shoulder, err = kin.JointIndex(side + upperArm); err != nil {
			return nil, err
		}
		if a.elbow, err = kin.JointIndex(side + lowerArm); err != nil {
			return nil, err
		}
		if a.hand, err = kin.JointIndex(side + hand); err != nil {
			return nil, err
		}
		arms = append(arms, a)
	}
	return arms, nil
}

/**
 * @brief Angle between the upper arm and the forearm, 0 for a straight arm.
 * @param upper World position of the shoulder joint.
 * @param elbow World position of the elbow joint.
 * @param hand World position of the wrist joint.
 */
func ElbowBend(upper, elbow, hand math.Vec3) float64 {
	d0 := math.Normalized(upper.Sub(elbow))
	d1 := math.Normalized(hand.Sub(elbow))
	return math.ClampedAngle(d0.Mul(-1), d1)
}

// reprojectArm returns the new shoulder and elbow rotations of one arm.
func reprojectArm(world []math.Vec3, shoulderRot, elbowRot math.Quat, handDir math.Vec3, a arm) (math.Quat, math.Quat) {
	theta := ElbowBend(world[a.shoulder], world[a.elbow], world[a.hand])
	bend := math.NewQuatFromAxisAngle(math.UnitY, -m.Abs(theta))

	// where the hand points in the elbow frame, before and after
	before := elbowRot.Rotate(handDir)
	after := bend.Rotate(handDir)
	phi := math.ClampedAngle(before, after)
	if before[1] > 0 {
		phi = -phi
	}
	twist := math.NewQuatFromAxisAngle(handDir, phi)
	return shoulderRot.Mul(twist), bend
}

// Arms replaces the shoulder and elbow rotations of both arms with ones
// derived from joint positions, and resets the hands. The returned motion is
// a new value; mo is not modified. Missing arm joints fail before any frame
// is processed.
func Arms(kin skeleton.Kinematics, mo *skeleton.Motion) (*skeleton.Motion, error) {
	arms, err := resolveArms(kin)
	if err != nil {
		return nil, err
	}
	dirs := make([]math.Vec3, len(arms))
	for i, a := range arms {
		dirs[i] = math.Normalized(kin.LocalOffset(a.hand))
	}

	out := mo.Clone()
	for f, frame := range mo.LocalRotation {
		world := kin.WorldPositions(frame, mo.RootTranslation[f])
		for i, a := range arms {
			shoulder, elbow := reprojectArm(world, frame[a.shoulder], frame[a.elbow], dirs[i], a)
			out.LocalRotation[f][a.shoulder] = shoulder
			out.LocalRotation[f][a.elbow] = elbow
			out.LocalRotation[f][a.hand] = math.NewQuatIdentity()
		}
	}
	return out, nil
}
