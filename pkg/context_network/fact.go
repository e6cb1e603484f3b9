package context_network

// Fact is an opaque token crossed against the context graph.
// Namespaces keep the two fact families disjoint:
//   - input facts:  InputFactOffset + bitIndex*2 + bitValue
//   - neuron facts: NeuronFactOffset + contextID
type Fact = uint64

type SemiContextID = int
type ContextID = int

const (
	InputFactOffset  Fact = 1 << 16
	NeuronFactOffset Fact = 1 << 31

	noContext ContextID = -1
)

// NeuronFact maps an active context to the fact fed back into the next left group.
func NeuronFact(id ContextID) Fact {
	return NeuronFactOffset + Fact(id)
}

// IsNeuronFact reports whether f lives in the neuron namespace.
func IsNeuronFact(f Fact) bool {
	return f >= NeuronFactOffset
}

// FactPair is a (left facts, right facts) candidate transition.
type FactPair struct {
	Left  []Fact
	Right []Fact
}

// normalizeFacts returns a sorted copy of facts without duplicates.
func normalizeFacts(facts []Fact) []Fact {
	out := append([]Fact(nil), facts...)
	sortFacts(out)
	if len(out) < 2 {
		return out
	}
	w := 1
	for i := 1; i < len(out); i++ {
		if out[i] != out[w-1] {
			out[w] = out[i]
			w++
		}
	}
	return out[:w]
}

// UnionFacts merges two fact sets into one sorted, duplicate-free slice.
func UnionFacts(a, b []Fact) []Fact {
	merged := make([]Fact, 0, len(a)+len(b))
	merged = append(merged, a...)
	merged = append(merged, b...)
	return normalizeFacts(merged)
}

func equalFacts(a, b []Fact) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
