package context_network

import (
	"encoding/binary"
	"slices"

	"github.com/cespare/xxhash/v2"
)

// Semi-contexts are deduplicated by the xxhash of their sorted fact tuple, so
// the key does not depend on input order. Hash equality alone never decides
// identity; the store compares the tuples too.

// HashFacts builds the dedup key of a fact set.
func HashFacts(facts []Fact) uint64 {
	return hashSortedFacts(normalizeFacts(facts))
}

func hashSortedFacts(sorted []Fact) uint64 {
	d := xxhash.New()
	writeUint64(d, uint64(len(sorted)))
	for _, f := range sorted {
		writeUint64(d, f)
	}
	return d.Sum64()
}

// pairKey identifies a candidate (left, right) pair when counting unique
// candidates. It holds the encoded sorted tuples themselves, not their hashes.
type pairKey struct {
	Left  string
	Right string
}

func keyOfPair(p FactPair) pairKey {
	return pairKey{Left: tupleKey(p.Left), Right: tupleKey(p.Right)}
}

// tupleKey encodes the sorted, duplicate-free tuple as 8 bytes per fact.
func tupleKey(facts []Fact) string {
	sorted := normalizeFacts(facts)
	buf := make([]byte, 0, 8*len(sorted))
	for _, f := range sorted {
		buf = binary.LittleEndian.AppendUint64(buf, f)
	}
	return string(buf)
}

// ---------- helpers ----------

func writeUint64(d *xxhash.Digest, v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	_, _ = d.Write(buf[:])
}

func sortFacts(facts []Fact) {
	slices.Sort(facts)
}
