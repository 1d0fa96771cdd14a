// Package onnx runs the classifier through ONNX Runtime.
package onnx

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"cropscan/internal/service/classifier"
)

var (
	envMu    sync.Mutex
	envUsers int
)

// acquireEnvironment initializes the process-wide ONNX environment on first use.
func acquireEnvironment(libraryPath string) error {
	envMu.Lock()
	defer envMu.Unlock()

	if envUsers == 0 {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("failed to initialize ONNX environment: %w", err)
		}
	}
	envUsers++
	return nil
}

// releaseEnvironment tears the environment down once the last session is closed.
func releaseEnvironment() {
	envMu.Lock()
	defer envMu.Unlock()

	envUsers--
	if envUsers == 0 {
		ort.DestroyEnvironment()
	}
}

// Backend owns one ONNX session with input/output tensors bound to it.
type Backend struct {
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

// NewBackend loads modelPath with tensor shapes and names taken from meta.
func NewBackend(modelPath, libraryPath string, meta classifier.Metadata) (*Backend, error) {
	if err := acquireEnvironment(libraryPath); err != nil {
		return nil, err
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(meta.InputShape...))
	if err != nil {
		releaseEnvironment()
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(meta.OutputShape...))
	if err != nil {
		inputTensor.Destroy()
		releaseEnvironment()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{meta.InputName}, []string{meta.OutputName},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		releaseEnvironment()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &Backend{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

func (b *Backend) Name() string {
	return "onnx"
}

// Scores copies input into the bound tensor, runs the session and returns a copy of the output.
func (b *Backend) Scores(input []float32) ([]float32, error) {
	data := b.inputTensor.GetData()
	if len(input) != len(data) {
		return nil, fmt.Errorf("expected %d input values, got %d", len(data), len(input))
	}
	copy(data, input)

	if err := b.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	out := b.outputTensor.GetData()
	scores := make([]float32, len(out))
	copy(scores, out)
	return scores, nil
}

func (b *Backend) Close() error {
	if b.session == nil {
		return nil
	}
	err := b.session.Destroy()
	b.inputTensor.Destroy()
	b.outputTensor.Destroy()
	b.session, b.inputTensor, b.outputTensor = nil, nil, nil
	releaseEnvironment()
	return err
}
