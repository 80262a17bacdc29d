package optimize

import (
	"fmt"

	"backtest-lab/internal/domain"
)

// Enumerator yields parameter sets in a fixed order. Callers do not need
// to know which strategy produced it. Not safe for concurrent use.
type Enumerator interface {
	// NextBatch returns up to n sets after the current position and advances it.
	// An empty result means the space is exhausted.
	NextBatch(n int) []domain.ParameterSet
	// Position is the number of sets consumed so far.
	Position() int64
	// Total is the number of sets this enumerator visits.
	Total() int64
	// ComprehensiveTotal is the size of the full cartesian product.
	ComprehensiveTotal() int64
	// Comprehensive reports whether every combination is visited.
	Comprehensive() bool
	// Resume continues after the first position sets.
	Resume(position int64) error
	// Reset restarts from the beginning.
	Reset()
}

// grid is a lazy cartesian product. The first range varies slowest.
type grid struct {
	names   []string
	values  [][]float64
	total   int64
	pos     int64
	compTot int64
	comp    bool
}

func newGrid(names []string, values [][]float64, compTotal int64, comp bool) *grid {
	counts := make([]int, len(values))
	for i, v := range values {
		counts[i] = len(v)
	}
	return &grid{
		names:   names,
		values:  values,
		total:   product(counts),
		compTot: compTotal,
		comp:    comp,
	}
}

func (g *grid) at(pos int64) domain.ParameterSet {
	set := make(domain.ParameterSet, len(g.names))
	for i := len(g.values) - 1; i >= 0; i-- {
		n := int64(len(g.values[i]))
		set[g.names[i]] = g.values[i][pos%n]
		pos /= n
	}
	return set
}

func (g *grid) NextBatch(n int) []domain.ParameterSet {
	if n <= 0 || g.pos >= g.total {
		return nil
	}
	left := g.total - g.pos
	if int64(n) > left {
		n = int(left)
	}
	batch := make([]domain.ParameterSet, n)
	for i := range batch {
		batch[i] = g.at(g.pos)
		g.pos++
	}
	return batch
}

func (g *grid) Position() int64           { return g.pos }
func (g *grid) Total() int64              { return g.total }
func (g *grid) ComprehensiveTotal() int64 { return g.compTot }
func (g *grid) Comprehensive() bool       { return g.comp }
func (g *grid) Reset()                    { g.pos = 0 }

func (g *grid) Resume(position int64) error {
	if position < 0 || position > g.total {
		return fmt.Errorf("resume position %d outside [0,%d]", position, g.total)
	}
	g.pos = position
	return nil
}

// NewComprehensive enumerates the full cartesian product of ranges.
func NewComprehensive(ranges []domain.ParameterRange, granularity float64) (Enumerator, error) {
	names, values, err := expand(ranges, granularity, nil)
	if err != nil {
		return nil, err
	}
	g := newGrid(names, values, 0, true)
	g.compTot = g.total
	return g, nil
}

// NewNonComprehensive coarsens ranges until the product fits ceiling.
// Each round doubles the step multiplier of the range with the most values.
func NewNonComprehensive(ranges []domain.ParameterRange, granularity float64, ceiling int64) (Enumerator, error) {
	names, full, err := expand(ranges, granularity, nil)
	if err != nil {
		return nil, err
	}
	compTotal := newGrid(names, full, 0, false).total

	mult := make([]float64, len(ranges))
	for i := range mult {
		mult[i] = 1
	}
	values := full
	for {
		counts := make([]int, len(values))
		widest := -1
		for i, v := range values {
			counts[i] = len(v)
			if len(v) > 1 && (widest < 0 || len(v) > len(values[widest])) {
				widest = i
			}
		}
		if ceiling <= 0 || product(counts) <= ceiling || widest < 0 {
			break
		}
		mult[widest] *= 2
		if _, values, err = expand(ranges, granularity, mult); err != nil {
			return nil, err
		}
	}
	return newGrid(names, values, compTotal, false), nil
}

// New picks Comprehensive when the full product fits ceiling (or ceiling
// is not positive), NonComprehensive otherwise.
func New(ranges []domain.ParameterRange, granularity float64, ceiling int64) (Enumerator, error) {
	comp, err := NewComprehensive(ranges, granularity)
	if err != nil {
		return nil, err
	}
	if ceiling <= 0 || comp.Total() <= ceiling {
		return comp, nil
	}
	return NewNonComprehensive(ranges, granularity, ceiling)
}

func expand(ranges []domain.ParameterRange, granularity float64, mult []float64) ([]string, [][]float64, error) {
	if granularity < 1 {
		granularity = 1
	}
	names := make([]string, len(ranges))
	values := make([][]float64, len(ranges))
	seen := make(map[string]bool, len(ranges))
	for i, r := range ranges {
		if seen[r.Name] {
			return nil, nil, fmt.Errorf("%w: duplicate name %s", ErrInvalidRange, r.Name)
		}
		seen[r.Name] = true
		g := granularity
		if mult != nil {
			g *= mult[i]
		}
		v, err := Values(r, g)
		if err != nil {
			return nil, nil, err
		}
		names[i] = r.Name
		values[i] = v
	}
	return names, values, nil
}
