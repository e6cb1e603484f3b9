package context_network

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSemiContextStore_GetOrCreateDeduplicates(t *testing.T) {
	s := NewSemiContextStore(RightSide)

	id1, created := s.GetOrCreate([]Fact{3, 1, 2})
	require.True(t, created)

	// same set, other order and a duplicate fact
	id2, created := s.GetOrCreate([]Fact{2, 3, 1, 1})
	require.False(t, created)
	require.Equal(t, id1, id2)
	require.Equal(t, 1, s.Len())

	sc := s.Get(id1)
	require.Equal(t, []Fact{1, 2, 3}, sc.Facts)
	require.Equal(t, 3, sc.InitSize)

	id3, created := s.GetOrCreate([]Fact{1, 2})
	require.True(t, created)
	require.NotEqual(t, id1, id3)
	require.Equal(t, 2, s.Len())

	found, ok := s.Lookup([]Fact{2, 1})
	require.True(t, ok)
	require.Equal(t, id3, found)

	_, ok = s.Lookup([]Fact{9})
	require.False(t, ok)
}

func TestSemiContextStore_IDsAreStable(t *testing.T) {
	s := NewSemiContextStore(LeftSide)
	ids := make([]SemiContextID, 0, 10)
	for i := 0; i < 10; i++ {
		id, _ := s.GetOrCreate([]Fact{Fact(i), Fact(i + 100)})
		ids = append(ids, id)
	}
	for i := 0; i < 10; i++ {
		id, created := s.GetOrCreate([]Fact{Fact(i + 100), Fact(i)})
		require.False(t, created)
		require.Equal(t, ids[i], id)
		require.Equal(t, i, id)
	}
}

func TestSemiContextStore_BeginCrossing(t *testing.T) {
	s := NewSemiContextStore(RightSide)
	a, _ := s.GetOrCreate([]Fact{1, 2})
	b, _ := s.GetOrCreate([]Fact{2, 3, 4})
	c, _ := s.GetOrCreate([]Fact{7})

	s.BeginCrossing([]Fact{2, 1, 4})

	require.Equal(t, []SemiContextID{a, b}, s.Crossed())
	require.True(t, s.Get(a).FullyMatched())
	require.Equal(t, []Fact{1, 2}, s.Get(a).Matched)
	require.False(t, s.Get(b).FullyMatched())
	require.Equal(t, []Fact{2, 4}, s.Get(b).Matched)
	require.Empty(t, s.Get(c).Matched)

	// next crossing must not keep stale scratch
	s.BeginCrossing([]Fact{7})
	require.Equal(t, []SemiContextID{c}, s.Crossed())
	require.Empty(t, s.Get(a).Matched)
	require.Empty(t, s.Get(b).Matched)
	require.True(t, s.Get(c).FullyMatched())
}

func TestSemiContextStore_EmptyCrossing(t *testing.T) {
	s := NewSemiContextStore(LeftSide)
	_, _ = s.GetOrCreate([]Fact{1})

	s.BeginCrossing([]Fact{1})
	require.Len(t, s.Crossed(), 1)

	require.NotPanics(t, func() { s.BeginCrossing(nil) })
	require.Empty(t, s.Crossed())

	empty := NewSemiContextStore(RightSide)
	require.NotPanics(t, func() { empty.BeginCrossing([]Fact{1, 2, 3}) })
	require.Empty(t, empty.Crossed())
}

func TestSemiContextStore_CrossedIsAscending(t *testing.T) {
	s := NewSemiContextStore(RightSide)
	high, _ := s.GetOrCreate([]Fact{9})
	_, _ = s.GetOrCreate([]Fact{5})
	low, _ := s.GetOrCreate([]Fact{1, 9})
	require.Less(t, high, low)

	// fact 1 is visited before fact 9, so low is touched first
	s.BeginCrossing([]Fact{1, 9})
	require.Equal(t, []SemiContextID{high, low}, s.Crossed())
}

func TestHashFacts_OrderIndependent(t *testing.T) {
	require.Equal(t, HashFacts([]Fact{1, 2, 3}), HashFacts([]Fact{3, 2, 1, 2}))
	require.NotEqual(t, HashFacts([]Fact{1, 2}), HashFacts([]Fact{1, 2, 3}))
	require.NotEqual(t, HashFacts(nil), HashFacts([]Fact{0}))
}

func TestUnionFacts(t *testing.T) {
	require.Equal(t, []Fact{1, 2, 3, NeuronFact(4)}, UnionFacts([]Fact{3, 1}, []Fact{NeuronFact(4), 2, 1}))
	require.True(t, IsNeuronFact(NeuronFact(0)))
	require.False(t, IsNeuronFact(InputFactOffset+15))
}
