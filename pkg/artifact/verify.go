package artifact

import (
	"fmt"
	"os"
)

// Verify checks that ref still points at the sealed content it describes.
// When deep is set the digest is recomputed.
func Verify(ref Ref, deep bool) error {
	info, err := os.Stat(ref.Path)
	if err != nil {
		return &ResourceUnavailableError{Reference: ref.ModelReference, Reason: "sealed file missing", Cause: err}
	}
	if info.Size() != ref.Size {
		return &ResourceUnavailableError{
			Reference: ref.ModelReference,
			Reason:    fmt.Sprintf("size mismatch: have %d, want %d", info.Size(), ref.Size),
		}
	}

	placement, err := ReadPlacement(ref)
	if err != nil {
		return &ResourceUnavailableError{Reference: ref.ModelReference, Reason: "placement record missing", Cause: err}
	}
	if placement.Digest != ref.Digest || placement.Device != ref.Device || placement.Precision != ref.Precision {
		return &ResourceUnavailableError{Reference: ref.ModelReference, Reason: "placement record does not match reference"}
	}

	if !deep {
		return nil
	}
	digest, _, err := digestFile(ref.Path)
	if err != nil {
		return &ResourceUnavailableError{Reference: ref.ModelReference, Reason: "cannot read sealed file", Cause: err}
	}
	if digest != ref.Digest {
		return &ResourceUnavailableError{Reference: ref.ModelReference, Reason: "digest mismatch"}
	}
	return nil
}
