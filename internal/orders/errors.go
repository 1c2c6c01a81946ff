package orders

import (
	"fmt"
	"strings"
)

// ValidationError reports bad or missing input. Fields lists every offending
// field, not just the first one found.
type ValidationError struct {
	Msg    string
	Fields []string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) > 0 {
		return fmt.Sprintf("%s: %s", e.Msg, strings.Join(e.Fields, ", "))
	}
	return e.Msg
}

type NotFoundError struct {
	Kind string // "product" | "order"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// ConflictError reports a stock reservation that would drive stock negative.
type ConflictError struct {
	ProductID string
	Requested int
	Available int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}
