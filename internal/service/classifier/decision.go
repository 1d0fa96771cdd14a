package classifier

import "fmt"

// Classification is the decided label for one set of model scores.
type Classification struct {
	Label      string
	Confidence float32
	ClassIndex int
	Scores     []float32
}

// Decide turns raw model scores into a label using meta.Activation.
//
// Sigmoid: the single score is the probability of the positive class (index 1).
// Above the threshold the image is positive, otherwise negative; the confidence
// is the raw score either way. Softmax: argmax over one score per class.
func Decide(scores []float32, meta Metadata) (Classification, error) {
	if len(scores) == 0 {
		return Classification{}, fmt.Errorf("%w: got none", ErrScoreCount)
	}

	switch meta.Activation {
	case ActivationSigmoid:
		return decideSigmoid(scores, meta)
	case ActivationSoftmax:
		return decideSoftmax(scores, meta)
	default:
		return Classification{}, fmt.Errorf("%w: unknown activation %q", ErrInvalidMetadata, meta.Activation)
	}
}

func decideSigmoid(scores []float32, meta Metadata) (Classification, error) {
	if len(scores) != 1 {
		return Classification{}, fmt.Errorf("%w: sigmoid expects one score, got %d", ErrScoreCount, len(scores))
	}
	if len(meta.Classes) != 2 {
		return Classification{}, fmt.Errorf("%w: one score needs two classes", ErrScoreCount)
	}

	p := scores[0]
	idx := 0
	if p > meta.Threshold {
		idx = 1
	}
	return Classification{Label: meta.Classes[idx], Confidence: p, ClassIndex: idx, Scores: scores}, nil
}

func decideSoftmax(scores []float32, meta Metadata) (Classification, error) {
	if len(scores) != len(meta.Classes) {
		return Classification{}, fmt.Errorf("%w: %d scores for %d classes", ErrScoreCount, len(scores), len(meta.Classes))
	}

	maxIdx := 0
	for i, v := range scores {
		if v > scores[maxIdx] {
			maxIdx = i
		}
	}

	return Classification{
		Label:      meta.Classes[maxIdx],
		Confidence: scores[maxIdx],
		ClassIndex: maxIdx,
		Scores:     scores,
	}, nil
}
