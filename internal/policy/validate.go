package policy

import (
	"errors"
	"fmt"
	"regexp"
)

var ErrInvalidIdentifier = errors.New("invalid identifier")

const maxIdentifierLen = 128

var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9_.:@\-]+$`)

// ValidateID rejects identifiers that are empty, too long or carry
// characters outside a conservative set. kind names the field in the error.
func ValidateID(kind, id string) error {
	switch {
	case id == "":
		return fmt.Errorf("%s is required: %w", kind, ErrInvalidIdentifier)
	case len(id) > maxIdentifierLen:
		return fmt.Errorf("%s exceeds %d characters: %w", kind, maxIdentifierLen, ErrInvalidIdentifier)
	case !identifierPattern.MatchString(id):
		return fmt.Errorf("%s %q has invalid characters: %w", kind, id, ErrInvalidIdentifier)
	}
	return nil
}
