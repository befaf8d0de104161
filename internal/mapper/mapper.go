package mapper

import (
	"fmt"
	"slices"

	"github.com/roach88/lowerkit/internal/ir"
	"github.com/roach88/lowerkit/internal/source"
	"github.com/roach88/lowerkit/internal/target"
)

// Unbounded marks an open-ended VersionRange.
const Unbounded = 0

// Rule lowers one source node into staged target nodes.
// A rule reads only n and writes only through b.
type Rule func(b target.Builder, n *source.Node) error

// VersionRange is the closed interval of target versions an operator supports.
// Max == Unbounded means no upper limit.
type VersionRange struct {
	Min int
	Max int
}

// Contains reports whether version lies in the range.
func (r VersionRange) Contains(version int) bool {
	if version < r.Min {
		return false
	}
	return r.Max == Unbounded || version <= r.Max
}

func (r VersionRange) String() string {
	if r.Max == Unbounded {
		return fmt.Sprintf("[%d, +inf)", r.Min)
	}
	return fmt.Sprintf("[%d, %d]", r.Min, r.Max)
}

// Entry is a rule authored against target version Since.
type Entry struct {
	Since int
	Rule  Rule
}

// Mapper associates a source op type with its versioned rules.
// Immutable after New.
type Mapper struct {
	opType  string
	rng     VersionRange
	entries []Entry // ascending by Since
}

// New builds a mapper. Entries are sorted by Since.
//
// Fails if the range is empty, an entry has no rule, two entries share a
// Since, or no entry is reachable inside the range.
func New(opType string, rng VersionRange, entries ...Entry) (*Mapper, error) {
	if opType == "" {
		return nil, fmt.Errorf("mapper: empty op type")
	}
	if rng.Min < ir.MinOpset || (rng.Max != Unbounded && rng.Max < rng.Min) {
		return nil, fmt.Errorf("mapper %s: invalid version range %s", opType, rng)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("mapper %s: no rules", opType)
	}

	sorted := slices.Clone(entries)
	slices.SortFunc(sorted, func(a, b Entry) int { return a.Since - b.Since })
	for i, e := range sorted {
		if e.Rule == nil {
			return nil, fmt.Errorf("mapper %s: nil rule for version %d", opType, e.Since)
		}
		if i > 0 && sorted[i-1].Since == e.Since {
			return nil, fmt.Errorf("mapper %s: duplicate rule for version %d", opType, e.Since)
		}
	}
	if !rng.Contains(max(sorted[0].Since, rng.Min)) {
		return nil, fmt.Errorf("mapper %s: no rule reachable in %s", opType, rng)
	}

	return &Mapper{opType: opType, rng: rng, entries: sorted}, nil
}

// MustNew is like New but panics on error. Use for static rule tables.
func MustNew(opType string, rng VersionRange, entries ...Entry) *Mapper {
	m, err := New(opType, rng, entries...)
	if err != nil {
		panic(err)
	}
	return m
}

// OpType returns the source op type handled by m.
func (m *Mapper) OpType() string { return m.opType }

// Range returns the supported target version range.
func (m *Mapper) Range() VersionRange { return m.rng }

// Versions returns the Since of every entry, ascending.
func (m *Mapper) Versions() []int {
	out := make([]int, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.Since
	}
	return out
}

// SelectRule returns the entry with the greatest Since <= version.
//
// A version outside the range fails with UNSUPPORTED_TARGET_VERSION even if a
// rule would otherwise apply; a version below every Since fails with
// NO_APPLICABLE_RULE.
func SelectRule(m *Mapper, version int) (Entry, error) {
	if !m.rng.Contains(version) {
		return Entry{}, &ir.LoweringError{
			Code:    ir.ErrCodeUnsupportedTargetVersion,
			Message: fmt.Sprintf("target version %d outside supported range %s", version, m.rng),
			OpType:  m.opType,
			Version: version,
		}
	}

	// entries are ascending: the last one with Since <= version wins.
	i, found := slices.BinarySearchFunc(m.entries, version, func(e Entry, v int) int { return e.Since - v })
	if !found {
		i--
	}
	if i < 0 {
		return Entry{}, &ir.LoweringError{
			Code:    ir.ErrCodeNoApplicableRule,
			Message: fmt.Sprintf("no rule authored for target version %d or earlier", version),
			OpType:  m.opType,
			Version: version,
		}
	}
	return m.entries[i], nil
}
