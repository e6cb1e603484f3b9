package context_network

import "slices"

// Side selects one of the two semi-context pools.
type Side uint8

const (
	LeftSide Side = iota
	RightSide
)

func (s Side) String() string {
	if s == LeftSide {
		return "left"
	}
	return "right"
}

// contextLink connects a left semi-context to a context through its right half.
type contextLink struct {
	Right   SemiContextID
	Context ContextID
}

// SemiContext is one deduplicated side of a transition.
//
// Facts and InitSize never change after creation. Matched is per-step scratch:
// it is rebuilt by every BeginCrossing and carries no identity.
type SemiContext struct {
	ID       SemiContextID
	Facts    []Fact
	InitSize int

	// Matched holds the current-step facts that belong to this semi-context,
	// in crossing input order.
	Matched []Fact

	// links is only populated on the left side, ordered by insertion so that
	// every pass over a left semi-context's contexts is deterministic.
	links     []contextLink
	linkIndex map[SemiContextID]int
}

// FullyMatched reports whether every fact of the semi-context was seen this step.
func (sc *SemiContext) FullyMatched() bool {
	return sc.InitSize > 0 && len(sc.Matched) == sc.InitSize
}

func (sc *SemiContext) contextFor(right SemiContextID) (ContextID, bool) {
	i, ok := sc.linkIndex[right]
	if !ok {
		return noContext, false
	}
	return sc.links[i].Context, true
}

func (sc *SemiContext) addLink(right SemiContextID, ctx ContextID) {
	if sc.linkIndex == nil {
		sc.linkIndex = make(map[SemiContextID]int)
	}
	sc.linkIndex[right] = len(sc.links)
	sc.links = append(sc.links, contextLink{Right: right, Context: ctx})
}

// SemiContextStore is an arena of semi-contexts for one side of the graph.
type SemiContextStore struct {
	side Side

	items []*SemiContext

	// byHash buckets ids by the hash of their sorted fact tuple.
	byHash map[uint64][]SemiContextID

	// factIndex lists, per fact, every semi-context containing it (creation order).
	factIndex map[Fact][]SemiContextID

	// crossed is the subset with non-empty scratch after the last BeginCrossing,
	// ascending by id.
	crossed []SemiContextID
}

func NewSemiContextStore(side Side) *SemiContextStore {
	return &SemiContextStore{
		side:      side,
		byHash:    make(map[uint64][]SemiContextID),
		factIndex: make(map[Fact][]SemiContextID),
	}
}

func (s *SemiContextStore) Side() Side {
	return s.side
}

// Len returns the number of semi-contexts ever created.
func (s *SemiContextStore) Len() int {
	return len(s.items)
}

// Get returns the semi-context with the given id. It panics on unknown ids,
// ids are only ever handed out by this store.
func (s *SemiContextStore) Get(id SemiContextID) *SemiContext {
	return s.items[id]
}

// Lookup resolves a fact set without creating it.
func (s *SemiContextStore) Lookup(facts []Fact) (SemiContextID, bool) {
	sorted := normalizeFacts(facts)
	return s.lookupSorted(sorted, hashSortedFacts(sorted))
}

func (s *SemiContextStore) lookupSorted(sorted []Fact, h uint64) (SemiContextID, bool) {
	for _, id := range s.byHash[h] {
		if equalFacts(s.items[id].Facts, sorted) {
			return id, true
		}
	}
	return 0, false
}

// GetOrCreate returns the id registered for facts, creating the semi-context
// the first time the set is requested.
func (s *SemiContextStore) GetOrCreate(facts []Fact) (SemiContextID, bool) {
	sorted := normalizeFacts(facts)
	h := hashSortedFacts(sorted)
	if id, ok := s.lookupSorted(sorted, h); ok {
		return id, false
	}

	id := SemiContextID(len(s.items))
	sc := &SemiContext{
		ID:       id,
		Facts:    sorted,
		InitSize: len(sorted),
	}
	s.items = append(s.items, sc)
	s.byHash[h] = append(s.byHash[h], id)
	for _, f := range sorted {
		s.factIndex[f] = append(s.factIndex[f], id)
	}
	return id, true
}

// BeginCrossing matches the current facts against every stored semi-context.
//
// Scratch from the previous crossing is reset first, so no semi-context keeps a
// stale match. Work is bounded by len(facts) times the fact index fan-out.
func (s *SemiContextStore) BeginCrossing(facts []Fact) {
	facts = normalizeFacts(facts)
	for _, id := range s.crossed {
		sc := s.items[id]
		sc.Matched = sc.Matched[:0]
	}

	touched := s.crossed[:0]
	for _, f := range facts {
		for _, id := range s.factIndex[f] {
			sc := s.items[id]
			if len(sc.Matched) == 0 {
				touched = append(touched, id)
			}
			sc.Matched = append(sc.Matched, f)
		}
	}
	slices.Sort(touched)
	s.crossed = touched
}

// Crossed returns the ids matched by the last crossing, ascending.
// The slice is owned by the store and valid until the next BeginCrossing.
func (s *SemiContextStore) Crossed() []SemiContextID {
	return s.crossed
}
