package skeleton

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/spaghettifunk/posebridge/engine/core"
	"github.com/spaghettifunk/posebridge/engine/math"
)

//go:embed assets/phys_humanoid.toml
var physHumanoidAsset []byte

// DefaultAsset names the built-in skeleton.
const DefaultAsset = "phys_humanoid"

type assetJoint struct {
	Name   string     `toml:"name"`
	Parent string     `toml:"parent"`
	Offset [3]float64 `toml:"offset"`
}

type assetFile struct {
	Name   string       `toml:"name"`
	Joints []assetJoint `toml:"joints"`
}

/**
 * @brief Decodes a skeleton asset. Joints are listed parents first; the root
 * has an empty parent. Unknown fields are rejected.
 */
func DecodeAsset(r io.Reader) (*Tree, error) {
	var asset assetFile
	if err := toml.NewDecoder(r).DisallowUnknownFields().Decode(&asset); err != nil {
		return nil, fmt.Errorf("skeleton: decode asset: %v: %w", err, core.ErrConfiguration)
	}

	names := make([]string, len(asset.Joints))
	parents := make([]int, len(asset.Joints))
	offsets := make([]math.Vec3, len(asset.Joints))
	seen := make(map[string]int, len(asset.Joints))
	for i, j := range asset.Joints {
		names[i] = j.Name
		offsets[i] = math.Vec3(j.Offset)
		parents[i] = -1
		if j.Parent != "" {
			p, ok := seen[j.Parent]
			if !ok {
				return nil, fmt.Errorf("skeleton: asset %s: joint %q references unknown or later parent %q: %w",
					asset.Name, j.Name, j.Parent, core.ErrConfiguration)
			}
			parents[i] = p
		}
		seen[j.Name] = i
	}

	t, err := NewTree(names, parents, offsets)
	if err != nil {
		return nil, fmt.Errorf("skeleton: asset %s: %w", asset.Name, err)
	}
	core.LogDebug("skeleton %s: %d joints", asset.Name, t.NumJoints())
	return t, nil
}

// LoadAsset reads a skeleton asset. The name DefaultAsset, or an empty path,
// selects the built-in humanoid.
func LoadAsset(path string) (*Tree, error) {
	if path == "" || path == DefaultAsset {
		return DefaultTree()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("skeleton: open asset %s: %v: %w", path, err, core.ErrConfiguration)
	}
	defer f.Close()
	return DecodeAsset(f)
}

// DefaultTree builds the built-in 15 joint humanoid (z up, x forward).
func DefaultTree() (*Tree, error) {
	return DecodeAsset(bytes.NewReader(physHumanoidAsset))
}
