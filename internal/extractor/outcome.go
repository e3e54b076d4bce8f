package extractor

import (
	"errors"
	"fmt"
	"strings"
)

// Terminal errors. Extract wraps one of these once its attempts run out.
var (
	ErrParse      = errors.New("failed to extract valid JSON")
	ErrValidation = errors.New("extraction failed validation")
)

// Outcome is the result of parsing and validating one model response. It is
// one of Ok, ParseFailure or ValidationFailure.
type Outcome interface {
	// Kind names the variant for logs and metrics
	Kind() string
	isOutcome()
}

// Ok carries a validated result
type Ok struct {
	Result *Result
}

// ParseFailure means no JSON could be recovered from the response
type ParseFailure struct {
	Raw string
}

// ValidationFailure means the JSON did not satisfy the wrapper or the target schema
type ValidationFailure struct {
	Err *ValidationError
}

func (Ok) Kind() string                { return "ok" }
func (ParseFailure) Kind() string      { return "parse_failure" }
func (ValidationFailure) Kind() string { return "validation_failure" }

func (Ok) isOutcome()                {}
func (ParseFailure) isOutcome()      {}
func (ValidationFailure) isOutcome() {}

// ValidationError lists every problem found in a payload
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%d validation error(s): %s", len(e.Problems), strings.Join(e.Problems, "; "))
}

// Is lets callers match ErrValidation
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// problems accumulates validation messages under a field path
type problems struct {
	list []string
}

func (p *problems) addf(field, format string, args ...any) {
	p.list = append(p.list, field+": "+fmt.Sprintf(format, args...))
}

func (p *problems) err() *ValidationError {
	if len(p.list) == 0 {
		return nil
	}
	return &ValidationError{Problems: p.list}
}
