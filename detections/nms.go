package detections

import (
	"math"
	"sort"

	"github.com/divyadrishti/detection-engine/models"
)

type candidate struct {
	box        models.Box
	confidence float32
	classID    int
}

func calculateIOU(box1, box2 models.Box) float64 {
	x1 := math.Max(box1.X1, box2.X1)
	y1 := math.Max(box1.Y1, box2.Y1)
	x2 := math.Min(box1.X2, box2.X2)
	y2 := math.Min(box1.Y2, box2.Y2)

	if x2 <= x1 || y2 <= y1 {
		return 0.0
	}

	intersection := (x2 - x1) * (y2 - y1)
	union := box1.Area() + box2.Area() - intersection
	if union <= 0 {
		return 0.0
	}
	return intersection / union
}

func sortByConfidence(cands []candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].confidence > cands[j].confidence
	})
}

// nonMaxSuppression keeps, per class, the highest-confidence box of every
// group overlapping above iouThreshold. The result is confidence-descending
// and holds at most maxDetections entries.
func nonMaxSuppression(cands []candidate, iouThreshold float64, maxDetections int) []candidate {
	if len(cands) == 0 {
		return nil
	}
	sortByConfidence(cands)

	kept := make([]candidate, 0, min(len(cands), 128))
	suppressed := make([]bool, len(cands))
	for i := range cands {
		if suppressed[i] {
			continue
		}
		kept = append(kept, cands[i])
		if maxDetections > 0 && len(kept) >= maxDetections {
			break
		}
		for j := i + 1; j < len(cands); j++ {
			if suppressed[j] || cands[j].classID != cands[i].classID {
				continue
			}
			if calculateIOU(cands[i].box, cands[j].box) > iouThreshold {
				suppressed[j] = true
			}
		}
	}
	return kept
}
