package dataset

import (
	"fmt"

	"github.com/google/uuid"
)

// DefaultDigits are the digits converted when no filter is given. Their
// position in the list plus one is the class index written to label masks.
var DefaultDigits = []int{3, 5}

// recordNamespace scopes record ids derived from source paths.
var recordNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/openfluke/capseg/records"))

// Record is one framed digit with its per-pixel label mask.
type Record struct {
	ID     uuid.UUID
	Digit  int
	Height int
	Width  int
	Image  []uint8
	Label  []uint8
	Source string
}

// RecordID derives a stable id from the path of the source image relative to
// the archive root, so repeated conversions do not duplicate records.
func RecordID(source string) uuid.UUID {
	return uuid.NewSHA1(recordNamespace, []byte(source))
}

// ClassOf returns the label class of digit under the digits filter.
func ClassOf(digits []int, digit int) (uint8, bool) {
	for i, d := range digits {
		if d == digit {
			return uint8(i + 1), true
		}
	}
	return 0, false
}

func (r Record) validate() error {
	n := r.Height * r.Width
	if r.Height <= 0 || r.Width <= 0 || len(r.Image) != n || len(r.Label) != n {
		return fmt.Errorf("record %s: %dx%d with %d pixels and %d labels", r.ID, r.Height, r.Width, len(r.Image), len(r.Label))
	}
	return nil
}
