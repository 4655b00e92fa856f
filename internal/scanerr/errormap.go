package scanerr

import (
	"maps"
	"slices"
	"strings"
	"sync"
)

// Map collects per-path errors from concurrent workers. The zero value is
// ready to use.
type Map struct {
	Title string

	mu     sync.Mutex
	errors map[string]error
}

func (e *Map) Error() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.errors) == 0 {
		return ""
	}

	builder := strings.Builder{}
	if e.Title != "" {
		builder.WriteString(e.Title + ":\n")
	} else {
		builder.WriteString("Errors:\n")
	}
	for _, path := range slices.Sorted(maps.Keys(e.errors)) {
		builder.WriteString(path)
		builder.WriteString(": ")
		builder.WriteString(e.errors[path].Error())
		builder.WriteString("\n")
	}
	return builder.String()
}

// Add records err for path. A later error for the same path replaces the
// earlier one.
func (e *Map) Add(path string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.errors == nil {
		e.errors = make(map[string]error)
	}
	e.errors[path] = err
}

func (e *Map) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.errors)
}

func (e *Map) HasErrors() bool {
	return e.Len() > 0
}

// Kinds returns the classified kind of every recorded error keyed by path.
func (e *Map) Kinds() map[string]Kind {
	e.mu.Lock()
	defer e.mu.Unlock()
	kinds := make(map[string]Kind, len(e.errors))
	for path, err := range e.errors {
		kinds[path] = Classify(err)
	}
	return kinds
}

// Unwrap exposes the recorded errors in path order to errors.Is and errors.As.
func (e *Map) Unwrap() []error {
	e.mu.Lock()
	defer e.mu.Unlock()
	errs := make([]error, 0, len(e.errors))
	for _, path := range slices.Sorted(maps.Keys(e.errors)) {
		errs = append(errs, e.errors[path])
	}
	return errs
}
