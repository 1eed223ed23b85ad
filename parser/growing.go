package parser

// GrowingSlice is a slice that extends itself when indexed past its end.
// New slots are filled by the factory.
type GrowingSlice[T any] struct {
	items   []T
	factory func() T
}

// NewGrowingSlice returns an empty GrowingSlice. A nil factory yields zero values.
func NewGrowingSlice[T any](factory func() T) *GrowingSlice[T] {
	if factory == nil {
		factory = func() T {
			var zero T
			return zero
		}
	}
	return &GrowingSlice[T]{factory: factory}
}

// Get returns the element at i, growing the slice first if needed.
func (g *GrowingSlice[T]) Get(i int) T {
	g.grow(i)
	return g.items[i]
}

// Set stores v at i, growing the slice first if needed.
func (g *GrowingSlice[T]) Set(i int, v T) {
	g.grow(i)
	g.items[i] = v
}

// Len returns the current length.
func (g *GrowingSlice[T]) Len() int {
	return len(g.items)
}

// Slice returns a copy of the elements.
func (g *GrowingSlice[T]) Slice() []T {
	out := make([]T, len(g.items))
	copy(out, g.items)
	return out
}

func (g *GrowingSlice[T]) grow(i int) {
	for len(g.items) <= i {
		g.items = append(g.items, g.factory())
	}
}
