package classifier

import (
	"context"
	"fmt"
	"sort"
)

// Prediction is one ranked label produced by a model.
type Prediction struct {
	Label       string  `json:"label"`
	Probability float64 `json:"probability"`
}

// Image is the payload handed to a model.
type Image struct {
	Data        []byte
	ContentType string
}

// Model classifies images. Implementations must be safe for concurrent use.
type Model interface {
	Classify(ctx context.Context, img Image) ([]Prediction, error)
}

// Loader produces a ready model.
type Loader interface {
	Load(ctx context.Context) (Model, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(ctx context.Context) (Model, error)

// Load calls f.
func (f LoaderFunc) Load(ctx context.Context) (Model, error) {
	return f(ctx)
}

// Format renders a prediction the way it is displayed, e.g.
// "golden retriever: 87.34%".
func Format(p Prediction) string {
	return fmt.Sprintf("%s: %.2f%%", p.Label, p.Probability*100)
}

// TopK sorts predictions by descending probability and keeps at most k.
// A non-positive k keeps everything.
func TopK(predictions []Prediction, k int) []Prediction {
	ranked := make([]Prediction, len(predictions))
	copy(ranked, predictions)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Probability > ranked[j].Probability
	})
	if k > 0 && len(ranked) > k {
		ranked = ranked[:k]
	}
	return ranked
}
