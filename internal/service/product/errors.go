package product

import (
	"fmt"
	"sort"
	"strings"
)

// PartialResolutionError collects the ids that could not be resolved in one batch.
// The resolver logs it; callers only see the successful subset.
type PartialResolutionError struct {
	Failed map[string]error
}

func (e *PartialResolutionError) Error() string {
	ids := make([]string, 0, len(e.Failed))
	for id := range e.Failed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return fmt.Sprintf("%d referenced products could not be resolved: %s", len(ids), strings.Join(ids, ", "))
}
