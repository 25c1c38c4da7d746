package catalog

import "fmt"

// NotFoundError means the id is in neither the API nor the snapshot.
type NotFoundError struct {
	Kind Kind
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}
