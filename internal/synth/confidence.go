package synth

const (
	// uncitedConfidence applies to a model answer that cites nothing.
	uncitedConfidence = 0.2
	citedBase         = 0.4
	citedSpan         = 0.5
	// coverageWeight scales the share of the evidence that was cited.
	coverageWeight = 0.1

	degradedFactor = 0.6
	fallbackFactor = 0.5
)

// Confidence scores an answer from the number of distinct evidence items it
// cites out of total. It never decreases as cited grows and never increases
// when degraded is set.
func Confidence(cited, total int, degraded bool) float64 {
	if total <= 0 {
		return 0
	}
	if cited > total {
		cited = total
	}

	c := uncitedConfidence
	if cited > 0 {
		// Each additional citation closes half the remaining gap.
		gap := 1.0
		for i := 0; i < cited; i++ {
			gap /= 2
		}
		c = citedBase + citedSpan*(1-gap) + coverageWeight*float64(cited)/float64(total)
	}
	if degraded {
		c *= degradedFactor
	}
	return clamp01(c)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
