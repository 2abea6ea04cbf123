package onnx

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"

	"github.com/nfnt/resize"
	_ "golang.org/x/image/webp"

	"github.com/example/breed-identifier/internal/classifier"
)

// Preprocess decodes data and converts it to a CHW float32 tensor of
// size x size pixels with channels scaled to [0, 1].
func Preprocess(data []byte, size int) ([]float32, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	resized := resize.Resize(uint(size), uint(size), img, resize.Lanczos3)
	bounds := resized.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	plane := width * height

	input := make([]float32, 3*plane)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b, _ := resized.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			i := y*width + x
			input[i] = float32(r) / 65535.0
			input[plane+i] = float32(g) / 65535.0
			input[2*plane+i] = float32(b) / 65535.0
		}
	}
	return input, nil
}

// Rank maps raw model output onto class labels and returns the top k by
// descending probability. Outputs that are not already a distribution are
// passed through softmax.
func Rank(output []float32, classes []string, k int) []classifier.Prediction {
	n := len(output)
	if len(classes) < n {
		n = len(classes)
	}
	probs := make([]float64, n)
	for i := 0; i < n; i++ {
		probs[i] = float64(output[i])
	}
	if !isDistribution(probs) {
		probs = softmax(probs)
	}

	predictions := make([]classifier.Prediction, n)
	for i := range probs {
		predictions[i] = classifier.Prediction{Label: classes[i], Probability: probs[i]}
	}
	return classifier.TopK(predictions, k)
}

func isDistribution(values []float64) bool {
	sum := 0.0
	for _, v := range values {
		if v < 0 || v > 1 {
			return false
		}
		sum += v
	}
	return math.Abs(sum-1) < 1e-3
}

func softmax(values []float64) []float64 {
	if len(values) == 0 {
		return values
	}
	maxVal := values[0]
	for _, v := range values[1:] {
		if v > maxVal {
			maxVal = v
		}
	}
	out := make([]float64, len(values))
	sum := 0.0
	for i, v := range values {
		out[i] = math.Exp(v - maxVal)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}
