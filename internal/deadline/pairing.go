package deadline

import (
	"crypto/rand"
	"encoding/binary"
	mathrand "math/rand"

	"github.com/underground-software/singularity/internal/store"
)

// shuffleFunc randomizes the order of a string slice in place.
type shuffleFunc func([]string)

// defaultShuffle uses a math/rand source seeded from the CSPRNG, since
// pairing order needs to be unpredictable but not cryptographically
// secure — the same trade-off the teacher's search index shuffle helpers
// make for non-security-sensitive randomization.
func defaultShuffle(users []string) {
	var seed [8]byte
	if _, err := rand.Read(seed[:]); err != nil {
		mathrand.Shuffle(len(users), func(i, j int) { users[i], users[j] = users[j], users[i] })
		return
	}
	r := mathrand.New(mathrand.NewSource(int64(binary.LittleEndian.Uint64(seed[:])))) //nolint:gosec // non-security shuffle
	r.Shuffle(len(users), func(i, j int) { users[i], users[j] = users[j], users[i] })
}

// formPairings builds the 2-regular random-cycle peer-review assignment
// described in spec §4.6: shuffle the non-null users uniformly at random,
// then pair index i with the next two indices (i+1, i+2) mod n. When n is
// too small for a distinct pairing (n < 3), a wrapped index that lands back
// on i itself becomes a null reviewee rather than a self-review.
func formPairings(assignment string, users []string, shuffle shuffleFunc) []store.PeerReviewAssignment {
	n := len(users)
	if n == 0 {
		return nil
	}
	ordered := append([]string(nil), users...)
	shuffle(ordered)

	pairings := make([]store.PeerReviewAssignment, n)
	for i, reviewer := range ordered {
		idx1 := (i + 1) % n
		idx2 := (i + 2) % n

		var reviewee1, reviewee2 *string
		if idx1 != i {
			v := ordered[idx1]
			reviewee1 = &v
		}
		if idx2 != i {
			v := ordered[idx2]
			reviewee2 = &v
		}
		pairings[i] = store.PeerReviewAssignment{
			Assignment: assignment,
			Reviewer:   reviewer,
			Reviewee1:  reviewee1,
			Reviewee2:  reviewee2,
		}
	}
	return pairings
}
