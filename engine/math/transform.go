package math

func TransformCreate() *Transform {
	return &Transform{
		Position: Vec3{},
		Rotation: NewQuatIdentity(),
	}
}

func TransformFromPositionRotation(position Vec3, rotation Quat) *Transform {
	return &Transform{
		Position: position,
		Rotation: rotation,
	}
}

// Apply maps a point expressed in this transform's frame to the parent frame.
func (t *Transform) Apply(p Vec3) Vec3 {
	return t.Rotation.Rotate(p).Add(t.Position)
}

// Compose returns the transform equivalent to applying local inside t.
func (t *Transform) Compose(local *Transform) *Transform {
	return &Transform{
		Position: t.Apply(local.Position),
		Rotation: t.Rotation.Mul(local.Rotation),
	}
}
