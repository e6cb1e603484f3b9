package context_network

// Context is a registered left -> right transition with its running statistics.
//
// Shape (Left, Right, RightFacts) is fixed at creation; only the counters and
// the ZeroLevel flag change afterwards.
type Context struct {
	ID    ContextID
	Left  SemiContextID
	Right SemiContextID

	// C0 accumulates the size of the right semi-context each time the left side
	// was fully present; C1 accumulates how many of those right facts actually
	// matched. C1 <= C0 always holds.
	C0 int
	C1 int

	// Activations counts steps in which the right side matched completely.
	Activations int

	RightFacts []Fact

	// ZeroLevel marks a transition observed literally between two consecutive
	// steps. It can be promoted to true, never demoted.
	ZeroLevel bool
}

// PredictionWeight is C1/C0, or 0 before the context was ever evaluated.
func (c *Context) PredictionWeight() float64 {
	if c.C0 == 0 {
		return 0
	}
	return float64(c.C1) / float64(c.C0)
}

type AdmitKind uint8

const (
	// NewTransition: the single zero-level pair did not exist and was created.
	NewTransition AdmitKind = iota + 1
	// ExistingTransition: the single zero-level pair was already known.
	ExistingTransition
	// AdmittedCount: batch admission, Count holds the number of new contexts.
	AdmittedCount
)

// AdmitResult is the tagged outcome of an admission call.
type AdmitResult struct {
	Kind  AdmitKind
	Count int
}

func (r AdmitResult) IsNew() bool {
	return r.Kind == NewTransition
}

// Graph owns both semi-context stores and the context arena.
type Graph struct {
	left  *SemiContextStore
	right *SemiContextStore

	contexts []*Context

	// newContextID is the zero-level context created by the current step.
	// It lives for exactly one right-side pass.
	newContextID ContextID

	zeroLevel int
}

func NewGraph() *Graph {
	return &Graph{
		left:         NewSemiContextStore(LeftSide),
		right:        NewSemiContextStore(RightSide),
		newContextID: noContext,
	}
}

func (g *Graph) Left() *SemiContextStore  { return g.left }
func (g *Graph) Right() *SemiContextStore { return g.right }

// Len returns the number of contexts ever created.
func (g *Graph) Len() int {
	return len(g.contexts)
}

// ZeroLevelLen returns how many contexts are zero-level.
func (g *Graph) ZeroLevelLen() int {
	return g.zeroLevel
}

func (g *Graph) Context(id ContextID) *Context {
	return g.contexts[id]
}

// NewContextID returns the context created by the pending zero-level admission.
func (g *Graph) NewContextID() (ContextID, bool) {
	return g.newContextID, g.newContextID != noContext
}

// ClearNewContextMarker ends the lifetime of the new-context marker.
func (g *Graph) ClearNewContextMarker() {
	g.newContextID = noContext
}

// Find resolves a (left, right) fact pair to its context without creating anything.
func (g *Graph) Find(left, right []Fact) (ContextID, bool) {
	lid, ok := g.left.Lookup(left)
	if !ok {
		return noContext, false
	}
	rid, ok := g.right.Lookup(right)
	if !ok {
		return noContext, false
	}
	return g.left.Get(lid).contextFor(rid)
}

// AdmitTransition registers the literal transition seen between two consecutive
// steps. An existing context is promoted to zero-level.
func (g *Graph) AdmitTransition(left, right []Fact) AdmitResult {
	id, created := g.admit(left, right, true)
	if created {
		g.newContextID = id
		return AdmitResult{Kind: NewTransition, Count: 1}
	}
	return AdmitResult{Kind: ExistingTransition}
}

// AdmitCandidates registers pairs discovered while crossing and reports how many
// of them were genuinely new. Duplicates inside pairs count once.
func (g *Graph) AdmitCandidates(pairs []FactPair) AdmitResult {
	added := 0
	for _, p := range pairs {
		if _, created := g.admit(p.Left, p.Right, false); created {
			added++
		}
	}
	return AdmitResult{Kind: AdmittedCount, Count: added}
}

func (g *Graph) admit(leftFacts, rightFacts []Fact, zeroLevel bool) (ContextID, bool) {
	lid, _ := g.left.GetOrCreate(leftFacts)
	rid, _ := g.right.GetOrCreate(rightFacts)

	lsc := g.left.Get(lid)
	if id, ok := lsc.contextFor(rid); ok {
		if zeroLevel && !g.contexts[id].ZeroLevel {
			g.contexts[id].ZeroLevel = true
			g.zeroLevel++
		}
		return id, false
	}

	id := ContextID(len(g.contexts))
	g.contexts = append(g.contexts, &Context{
		ID:         id,
		Left:       lid,
		Right:      rid,
		RightFacts: g.right.Get(rid).Facts,
		ZeroLevel:  zeroLevel,
	})
	lsc.addLink(rid, id)
	if zeroLevel {
		g.zeroLevel++
	}
	return id, true
}
