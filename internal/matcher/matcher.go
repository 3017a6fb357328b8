// Package matcher compares face descriptors against a gallery of known ones.
package matcher

import "math"

// Candidate is a known descriptor keyed by the owner's id.
type Candidate struct {
	ID         string
	Descriptor []float32
}

// Match is the accepted candidate and its confidence.
type Match struct {
	ID         string
	Confidence float64
}

// EuclideanDistance returns the L2 distance between a and b.
// Vectors of different length have no defined distance; +Inf is returned.
func EuclideanDistance(a, b []float32) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Confidence converts a distance into a similarity score, 1 - distance.
// It is not clamped and goes negative once the distance exceeds 1.
func Confidence(a, b []float32) float64 {
	return 1 - EuclideanDistance(a, b)
}

// FindBestMatch returns the candidate with the highest confidence strictly
// above threshold. Equal confidences resolve to the lowest id, so the
// result does not depend on candidate order. Candidates whose descriptor
// length differs from target are ignored.
func FindBestMatch(target []float32, candidates []Candidate, threshold float64) (Match, bool) {
	if len(target) == 0 {
		return Match{}, false
	}

	var best Match
	found := false
	for _, c := range candidates {
		if len(c.Descriptor) != len(target) {
			continue
		}
		conf := Confidence(target, c.Descriptor)
		if !(conf > threshold) {
			continue
		}
		if !found || conf > best.Confidence || (conf == best.Confidence && c.ID < best.ID) {
			best = Match{ID: c.ID, Confidence: conf}
			found = true
		}
	}
	return best, found
}
