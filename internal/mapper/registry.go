package mapper

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/roach88/lowerkit/internal/ir"
)

// Registry maps source op types to their mappers.
//
// Thread-safety model:
//   - Register and Seal serialize on mu
//   - After Seal the table is never written again, so Lookup, OpTypes and
//     Len read it without locking
type Registry struct {
	mu      sync.Mutex
	sealed  atomic.Bool
	mappers map[string]*Mapper
}

// NewRegistry returns an empty, unsealed registry.
func NewRegistry() *Registry {
	return &Registry{mappers: make(map[string]*Mapper)}
}

// Register adds m. Each op type may be registered once.
func (r *Registry) Register(m *Mapper) error {
	if m == nil {
		return fmt.Errorf("register: nil mapper")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed.Load() {
		return &ir.LoweringError{
			Code:    ir.ErrCodeRegistrySealed,
			Message: "registry is sealed",
			OpType:  m.opType,
		}
	}
	if _, ok := r.mappers[m.opType]; ok {
		return &ir.LoweringError{
			Code:    ir.ErrCodeDuplicateRegistration,
			Message: "op type already registered",
			OpType:  m.opType,
		}
	}
	r.mappers[m.opType] = m
	return nil
}

// Seal freezes the registry. Further Register calls fail. Idempotent.
func (r *Registry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed.Store(true)
}

// Sealed reports whether Seal has been called.
func (r *Registry) Sealed() bool {
	return r.sealed.Load()
}

// Lookup returns the mapper for opType.
func (r *Registry) Lookup(opType string) (*Mapper, error) {
	var (
		m  *Mapper
		ok bool
	)
	if r.sealed.Load() {
		m, ok = r.mappers[opType]
	} else {
		r.mu.Lock()
		m, ok = r.mappers[opType]
		r.mu.Unlock()
	}
	if !ok {
		return nil, &ir.LoweringError{
			Code:    ir.ErrCodeUnsupportedOperator,
			Message: "no mapper registered",
			OpType:  opType,
		}
	}
	return m, nil
}

// OpTypes returns the registered op types in sorted order.
func (r *Registry) OpTypes() []string {
	if !r.sealed.Load() {
		r.mu.Lock()
		defer r.mu.Unlock()
	}
	out := make([]string, 0, len(r.mappers))
	for op := range r.mappers {
		out = append(out, op)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of registered op types.
func (r *Registry) Len() int {
	if !r.sealed.Load() {
		r.mu.Lock()
		defer r.mu.Unlock()
	}
	return len(r.mappers)
}
