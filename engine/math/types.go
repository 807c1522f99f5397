package math

import "github.com/go-gl/mathgl/mgl64"

// Vec3 is a 3D vector in skeleton space.
type Vec3 = mgl64.Vec3

// Quat is the working representation for rotation arithmetic. It never
// crosses a file or array boundary directly: use XYZW or WXYZ for that.
type Quat = mgl64.Quat

/** @brief Component ordering of a quaternion stored in a flat array. */
type Layout uint8

const (
	/** @brief Vector part first, scalar last. Used by skeleton motions. */
	LayoutXYZW Layout = iota
	/** @brief Scalar first, vector last. Used by the axis-angle conversion. */
	LayoutWXYZ
)

func (l Layout) String() string {
	switch l {
	case LayoutXYZW:
		return "xyzw"
	case LayoutWXYZ:
		return "wxyz"
	default:
		return "unknown"
	}
}

/** @brief A quaternion stored as [x, y, z, w]. */
type XYZW [4]float64

/** @brief A quaternion stored as [w, x, y, z]. */
type WXYZ [4]float64

/**
 * @brief Represents a rigid transform of a joint: translation then rotation.
 * World transforms are obtained by composing a joint with its ancestors.
 */
type Transform struct {
	/** @brief The translation relative to the parent. */
	Position Vec3
	/** @brief The rotation relative to the parent. */
	Rotation Quat
}
