package term

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks an [Entry] for required fields and valid values.
//
// Rules:
//   - Canonical must be non-empty.
//   - Category must be a recognised [Category].
//   - Confidence must lie in [0, 1].
//   - Variants must not be blank.
func Validate(e Entry) error {
	var errs []error

	if strings.TrimSpace(e.Canonical) == "" {
		errs = append(errs, errors.New("canonical must not be empty"))
	}

	if !e.Category.IsValid() {
		errs = append(errs, fmt.Errorf("category %q is not a recognised term category", e.Category))
	}

	if e.Confidence < 0 || e.Confidence > 1 {
		errs = append(errs, fmt.Errorf("confidence %.2f is outside [0, 1]", e.Confidence))
	}

	for i, v := range e.Variants {
		if strings.TrimSpace(v) == "" {
			errs = append(errs, fmt.Errorf("variants[%d]: must not be blank", i))
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}
