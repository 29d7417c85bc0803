package engine

import "sort"

// BatchesPerTier is the fixed size of a FIFO depth tier.
const BatchesPerTier = 10

// SequencedBatch is a batch with its FIFO rank and suggested slot.
type SequencedBatch struct {
	Batch      Batch `json:"batch"`
	Rank       int   `json:"rank"`
	Tier       Row   `json:"tier"`
	SuggestedX int   `json:"suggested_x"`
}

// SequenceBatches orders batches oldest expiry first and deals them into depth
// tiers: the first ten to the front row, the next ten to the middle, the rest
// to the back, cycling the column 1..10 within each tier. The sort is stable.
func SequenceBatches(batches []Batch) []SequencedBatch {
	ordered := make([]Batch, len(batches))
	copy(ordered, batches)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].ExpiryDate.Before(ordered[j].ExpiryDate)
	})

	out := make([]SequencedBatch, len(ordered))
	for i, b := range ordered {
		out[i] = SequencedBatch{
			Batch:      b,
			Rank:       i,
			Tier:       tierFor(i),
			SuggestedX: i%GridColumns + 1,
		}
	}
	return out
}

func tierFor(rank int) Row {
	switch {
	case rank < BatchesPerTier:
		return RowFront
	case rank < 2*BatchesPerTier:
		return RowMiddle
	default:
		return RowBack
	}
}
