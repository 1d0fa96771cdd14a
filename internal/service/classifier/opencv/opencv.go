// Package opencv runs the classifier through the OpenCV DNN module.
package opencv

import (
	"fmt"
	"os"

	"gocv.io/x/gocv"

	"cropscan/internal/service/classifier"
)

// Backend wraps one OpenCV DNN network. A Net must not be shared between goroutines.
type Backend struct {
	net   gocv.Net
	shape []int
}

// NewBackend reads an ONNX model (or any format OpenCV understands) from modelPath.
func NewBackend(modelPath string, meta classifier.Metadata) (*Backend, error) {
	if _, err := os.Stat(modelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("model file not found: %s", modelPath)
	}

	net := gocv.ReadNet(modelPath, "")
	if net.Empty() {
		return nil, fmt.Errorf("failed to load network from %s", modelPath)
	}

	errBackend := net.SetPreferableBackend(gocv.NetBackendDefault)
	errTarget := net.SetPreferableTarget(gocv.NetTargetCPU)
	if errBackend != nil || errTarget != nil {
		net.Close()
		return nil, fmt.Errorf("failed to set preferable backend or target")
	}

	shape := make([]int, len(meta.InputShape))
	for i, dim := range meta.InputShape {
		shape[i] = int(dim)
	}

	return &Backend{net: net, shape: shape}, nil
}

func (b *Backend) Name() string {
	return "opencv"
}

// Scores feeds the preprocessed tensor as an N-d blob and returns a copy of the first output.
func (b *Backend) Scores(input []float32) ([]float32, error) {
	blob := gocv.NewMatWithSizes(b.shape, gocv.MatTypeCV32F)
	defer blob.Close()

	data, err := blob.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("failed to access input blob: %w", err)
	}
	if len(data) != len(input) {
		return nil, fmt.Errorf("expected %d input values, got %d", len(data), len(input))
	}
	copy(data, input)

	b.net.SetInput(blob, "")
	output := b.net.Forward("")
	defer output.Close()

	if output.Empty() {
		return nil, fmt.Errorf("network produced no output")
	}

	out, err := output.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("failed to read output: %w", err)
	}
	scores := make([]float32, len(out))
	copy(scores, out)
	return scores, nil
}

func (b *Backend) Close() error {
	return b.net.Close()
}
