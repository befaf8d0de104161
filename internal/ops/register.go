package ops

import (
	"fmt"

	"github.com/roach88/lowerkit/internal/mapper"
)

// mappers returns the rule table of every supported source operator.
func mappers() []*mapper.Mapper {
	var out []*mapper.Mapper
	out = append(out, selectionMappers()...)
	out = append(out, rankingMappers()...)
	return out
}

// Register adds every supported source operator to r.
//
// Register only populates r; it does not seal it. Calling it twice on the
// same registry fails with DUPLICATE_REGISTRATION.
func Register(r *mapper.Registry) error {
	for _, m := range mappers() {
		if err := r.Register(m); err != nil {
			return fmt.Errorf("register %s: %w", m.OpType(), err)
		}
	}
	return nil
}

// NewRegistry returns a sealed registry holding every supported source operator.
func NewRegistry() *mapper.Registry {
	r := mapper.NewRegistry()
	if err := Register(r); err != nil {
		// The table is static; a failure here is a programming error.
		panic(err)
	}
	r.Seal()
	return r
}
