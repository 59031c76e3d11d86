package core

import (
	"errors"
	"fmt"
)

// ErrNotFound is wrapped by every store lookup that misses.
var ErrNotFound = errors.New("not found")

// NotFound returns an error reading "<thing> with id <id> not found".
func NotFound(thing, id string) error {
	return fmt.Errorf("%s with id %s %w", thing, id, ErrNotFound)
}
