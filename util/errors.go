package util

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrMissingPrerequisite is matched by every MissingPrerequisiteError.
var ErrMissingPrerequisite = errors.New("missing prerequisite file")

// MissingPrerequisiteError reports an input file that an upstream step
// should have produced before training was started.
type MissingPrerequisiteError struct {
	Path     string
	Producer string
}

func (e *MissingPrerequisiteError) Error() string {
	return fmt.Sprintf("missing file: %s. Run %s first to generate it", e.Path, e.Producer)
}

func (e *MissingPrerequisiteError) Is(target error) bool {
	return target == ErrMissingPrerequisite
}

// MissingPrerequisite builds the error for path, naming the step that
// produces it.
func MissingPrerequisite(path, producer string) error {
	return &MissingPrerequisiteError{Path: path, Producer: producer}
}
