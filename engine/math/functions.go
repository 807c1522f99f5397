package math

import (
	m "math"

	"github.com/go-gl/mathgl/mgl64"
)

const (
	/** @brief Below this norm a rotation vector is treated as the identity. */
	K_ROTATION_EPSILON float64 = 1e-8
)

var (
	UnitX = Vec3{1, 0, 0}
	UnitY = Vec3{0, 1, 0}
	UnitZ = Vec3{0, 0, 1}
)

/**
 * @brief Creates an identity quaternion.
 */
func NewQuatIdentity() Quat {
	return mgl64.QuatIdent()
}

/**
 * @brief Creates a quaternion rotating by angle radians about axis.
 * The axis is normalized first.
 */
func NewQuatFromAxisAngle(axis Vec3, angle float64) Quat {
	return mgl64.QuatRotate(angle, Normalized(axis))
}

// Normalized returns v scaled to unit length, or the zero vector when v has
// no length.
func Normalized(v Vec3) Vec3 {
	l := v.Len()
	if l == 0 {
		return Vec3{}
	}
	return v.Mul(1 / l)
}

// ClampedAngle returns the angle between two unit vectors, with the dot
// product clamped to [-1, 1] before the inverse cosine.
func ClampedAngle(a, b Vec3) float64 {
	return m.Acos(Clamp(a.Dot(b), -1.0, 1.0))
}

// Quat converts stored [x, y, z, w] components to a working quaternion.
func (q XYZW) Quat() Quat {
	return Quat{W: q[3], V: Vec3{q[0], q[1], q[2]}}
}

// Quat converts stored [w, x, y, z] components to a working quaternion.
func (q WXYZ) Quat() Quat {
	return Quat{W: q[0], V: Vec3{q[1], q[2], q[3]}}
}

// ToWXYZ reorders the components, scalar moving to the front.
func (q XYZW) ToWXYZ() WXYZ {
	return WXYZ{q[3], q[0], q[1], q[2]}
}

// ToXYZW reorders the components, scalar moving to the back.
func (q WXYZ) ToXYZW() XYZW {
	return XYZW{q[1], q[2], q[3], q[0]}
}

func NewXYZW(q Quat) XYZW {
	return XYZW{q.V[0], q.V[1], q.V[2], q.W}
}

func NewWXYZ(q Quat) WXYZ {
	return WXYZ{q.W, q.V[0], q.V[1], q.V[2]}
}

// QuatFromComponents reads four stored components in the given layout.
func QuatFromComponents(c []float64, layout Layout) Quat {
	if layout == LayoutWXYZ {
		return WXYZ{c[0], c[1], c[2], c[3]}.Quat()
	}
	return XYZW{c[0], c[1], c[2], c[3]}.Quat()
}

// PutComponents writes q into dst (len >= 4) using the given layout.
func PutComponents(dst []float64, q Quat, layout Layout) {
	if layout == LayoutWXYZ {
		c := NewWXYZ(q)
		copy(dst, c[:])
		return
	}
	c := NewXYZW(q)
	copy(dst, c[:])
}

/**
 * @brief Converts a rotation vector (axis scaled by angle) to a quaternion.
 */
func QuatFromRotationVector(v Vec3) Quat {
	angle := v.Len()
	if angle < K_ROTATION_EPSILON {
		return NewQuatIdentity()
	}
	return mgl64.QuatRotate(angle, v.Mul(1/angle))
}

/**
 * @brief Converts a scalar-first quaternion to a rotation vector.
 *
 * The rotation angle is taken on the short arc, so q and -q give the same
 * result. Near the identity the vector part is scaled by 2.
 */
func (q WXYZ) RotationVector() Vec3 {
	w, x, y, z := q[0], q[1], q[2], q[3]
	sinSquared := x*x + y*y + z*z
	k := 2.0
	if sinSquared > 0 {
		sinTheta := m.Sqrt(sinSquared)
		var twoTheta float64
		if w < 0 {
			twoTheta = 2 * m.Atan2(-sinTheta, -w)
		} else {
			twoTheta = 2 * m.Atan2(sinTheta, w)
		}
		k = twoTheta / sinTheta
	}
	return Vec3{x * k, y * k, z * k}
}
