package context_network

import "slices"

// ActiveContext is a context whose right side fully matched the current step.
type ActiveContext struct {
	ID          ContextID
	Activations int
}

// StepResult is everything one Operator.Step derives from the current facts.
type StepResult struct {
	// Predicted is the sorted union of right facts of the best-weighted contexts
	// reachable from the new left facts group.
	Predicted []Fact

	// PctActive = len(Active) / NumSelected, 0 when nothing was selected.
	PctActive float64
	// PctNew = NewContexts / UniquePotential, only when a new zero-level
	// transition was admitted this step.
	PctNew float64

	Active        []ActiveContext
	NumSelected   int
	NeuronFacts   []Fact
	NewTransition bool

	NewContexts     int
	UniquePotential int
}

// Stats is a point-in-time view of the graph size.
type Stats struct {
	Contexts          int
	ZeroLevelContexts int
	LeftSemiContexts  int
	RightSemiContexts int
}

// Operator runs the two-phase (right, then left) crossing once per step.
//
// It is single-threaded: one Operator belongs to one stream.
type Operator struct {
	graph *Graph

	maxLeftSemiContextLength int
	maxActiveNeurons         int

	// leftFactsGroup is the previous step's input facts plus the neuron facts
	// derived from them.
	leftFactsGroup []Fact
}

func NewOperator(maxLeftSemiContextLength, maxActiveNeurons int) *Operator {
	return &Operator{
		graph:                    NewGraph(),
		maxLeftSemiContextLength: maxLeftSemiContextLength,
		maxActiveNeurons:         maxActiveNeurons,
	}
}

func (o *Operator) Graph() *Graph {
	return o.graph
}

// LeftFactsGroup returns a copy of the group carried into the next step.
func (o *Operator) LeftFactsGroup() []Fact {
	return append([]Fact(nil), o.leftFactsGroup...)
}

func (o *Operator) Stats() Stats {
	return Stats{
		Contexts:          o.graph.Len(),
		ZeroLevelContexts: o.graph.ZeroLevelLen(),
		LeftSemiContexts:  o.graph.left.Len(),
		RightSemiContexts: o.graph.right.Len(),
	}
}

// Step crosses the current input facts against the graph, learns from them and
// returns the prediction for the next step.
func (o *Operator) Step(input []Fact) StepResult {
	facts := normalizeFacts(input)

	// 1. zero-level transition from the previous group to the current facts
	var zeroPair *FactPair
	newTransition := false
	if len(o.leftFactsGroup) > 0 && len(facts) > 0 {
		zeroPair = &FactPair{Left: o.leftFactsGroup, Right: facts}
		newTransition = o.graph.AdmitTransition(zeroPair.Left, zeroPair.Right).IsNew()
	}

	// 2. right crossing, then update contexts reachable from last step's left crossing
	o.graph.right.BeginCrossing(facts)
	active, numSelected, potential := o.updateContextsAndGetActive(newTransition)

	uniquePotential := countUniquePairs(potential, zeroPair)

	pctActive := 0.0
	if numSelected > 0 {
		pctActive = float64(len(active)) / float64(numSelected)
	}

	// 3. the most reinforced active contexts become neuron facts
	neurons := o.selectNeuronFacts(active)

	// 4. next left group
	o.leftFactsGroup = UnionFacts(facts, neurons)

	// 5. admit discovered candidates, then cross the left side and predict
	newContexts := 0
	if len(potential) > 0 {
		newContexts = o.graph.AdmitCandidates(potential).Count
	}
	o.graph.left.BeginCrossing(o.leftFactsGroup)
	predicted := o.predict()

	if newTransition {
		newContexts++
	}

	// 6. novelty ratio
	pctNew := 0.0
	if newTransition && uniquePotential > 0 {
		pctNew = float64(newContexts) / float64(uniquePotential)
	}

	return StepResult{
		Predicted:       predicted,
		PctActive:       pctActive,
		PctNew:          pctNew,
		Active:          active,
		NumSelected:     numSelected,
		NeuronFacts:     neurons,
		NewTransition:   newTransition,
		NewContexts:     newContexts,
		UniquePotential: uniquePotential,
	}
}

// updateContextsAndGetActive walks every context reachable from the left
// semi-contexts crossed at the previous step, accumulates prediction statistics,
// collects activations and, when a new zero-level transition appeared, the
// partial-match pairs that may become new contexts.
func (o *Operator) updateContextsAndGetActive(newTransition bool) ([]ActiveContext, int, []FactPair) {
	defer o.graph.ClearNewContextMarker()

	var (
		active      []ActiveContext
		potential   []FactPair
		numSelected int
	)
	skip, _ := o.graph.NewContextID()

	for _, lid := range o.graph.left.Crossed() {
		lsc := o.graph.left.Get(lid)
		leftFull := lsc.FullyMatched()
		leftMatched := len(lsc.Matched)
		withinBound := leftMatched <= o.maxLeftSemiContextLength

		for _, link := range lsc.links {
			if link.Context == skip {
				continue
			}
			ctx := o.graph.contexts[link.Context]
			rsc := o.graph.right.Get(link.Right)
			rightMatched := len(rsc.Matched)

			candidate := ctx.ZeroLevel && newTransition && rightMatched > 0 && withinBound

			if leftFull {
				numSelected++
				ctx.C0 += rsc.InitSize
				if rightMatched == 0 {
					continue
				}
				ctx.C1 += rightMatched
				if rightMatched == rsc.InitSize {
					ctx.Activations++
					active = append(active, ActiveContext{ID: ctx.ID, Activations: ctx.Activations})
					continue
				}
			}
			if candidate {
				potential = append(potential, FactPair{
					Left:  append([]Fact(nil), lsc.Matched...),
					Right: append([]Fact(nil), rsc.Matched...),
				})
			}
		}
	}
	return active, numSelected, potential
}

// selectNeuronFacts keeps the maxActiveNeurons contexts with the highest
// activation counts; ties go to the lower (older) context id.
func (o *Operator) selectNeuronFacts(active []ActiveContext) []Fact {
	if len(active) == 0 || o.maxActiveNeurons <= 0 {
		return nil
	}
	ranked := append([]ActiveContext(nil), active...)
	slices.SortFunc(ranked, func(a, b ActiveContext) int {
		if a.Activations != b.Activations {
			return b.Activations - a.Activations
		}
		return a.ID - b.ID
	})
	if len(ranked) > o.maxActiveNeurons {
		ranked = ranked[:o.maxActiveNeurons]
	}
	neurons := make([]Fact, 0, len(ranked))
	for _, a := range ranked {
		neurons = append(neurons, NeuronFact(a.ID))
	}
	sortFacts(neurons)
	return neurons
}

// predict unions the right facts of every context that shares the maximal
// prediction weight among fully matched left semi-contexts.
func (o *Operator) predict() []Fact {
	maxWeight := 0.0
	var best []ContextID

	for _, lid := range o.graph.left.Crossed() {
		lsc := o.graph.left.Get(lid)
		if !lsc.FullyMatched() {
			continue
		}
		for _, link := range lsc.links {
			w := o.graph.contexts[link.Context].PredictionWeight()
			switch {
			case w > maxWeight:
				maxWeight = w
				best = append(best[:0], link.Context)
			case w == maxWeight:
				best = append(best, link.Context)
			}
		}
	}

	var predicted []Fact
	for _, id := range best {
		predicted = append(predicted, o.graph.contexts[id].RightFacts...)
	}
	return normalizeFacts(predicted)
}

func countUniquePairs(potential []FactPair, zeroPair *FactPair) int {
	seen := make(map[pairKey]struct{}, len(potential)+1)
	for _, p := range potential {
		seen[keyOfPair(p)] = struct{}{}
	}
	if zeroPair != nil {
		seen[keyOfPair(*zeroPair)] = struct{}{}
	}
	return len(seen)
}
