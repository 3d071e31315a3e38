package stage

import (
	"capstan/internal/hashes"
	"capstan/internal/services"
)

// ParseHashManifest decodes the hash manifest stored on a queue item.
// On failure it returns a services.ErrValidation suitable for stage Execute methods.
func ParseHashManifest(raw string) (*hashes.Manifest, error) {
	m, err := hashes.Decode(raw)
	if err != nil {
		return nil, services.Wrap(
			services.ErrValidation, "stage", "parse hash manifest",
			"Hash manifest missing or invalid; rerun the build", err)
	}
	return m, nil
}
