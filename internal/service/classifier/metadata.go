package classifier

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Tensor layouts accepted by Preprocess.
const (
	LayoutNHWC = "nhwc"
	LayoutNCHW = "nchw"
)

// Output activations understood by Decide.
const (
	ActivationSigmoid = "sigmoid"
	ActivationSoftmax = "softmax"
)

// Metadata describes the exported model: tensor shapes, class names and decision rule.
type Metadata struct {
	InputShape  []int64  `json:"input_shape"`
	OutputShape []int64  `json:"output_shape"`
	Classes     []string `json:"classes"`
	ImageSize   int      `json:"image_size"`
	Layout      string   `json:"layout"`
	Activation  string   `json:"activation"`
	Threshold   float32  `json:"threshold"`
	InputName   string   `json:"input_name"`
	OutputName  string   `json:"output_name"`
}

// DefaultMetadata matches the binary plant-health model: 150x150 RGB in, one sigmoid score out.
func DefaultMetadata() Metadata {
	return Metadata{
		InputShape:  []int64{1, 150, 150, 3},
		OutputShape: []int64{1, 1},
		Classes:     []string{"Healthy", "Diseased"},
		ImageSize:   150,
		Layout:      LayoutNHWC,
		Activation:  ActivationSigmoid,
		Threshold:   0.5,
		InputName:   "input",
		OutputName:  "output",
	}
}

// LoadMetadata reads metadata JSON from path and fills unset fields with defaults.
func LoadMetadata(path string) (Metadata, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to read metadata: %w", err)
	}
	return ParseMetadata(raw)
}

// ParseMetadata decodes metadata JSON and validates it.
func ParseMetadata(raw []byte) (Metadata, error) {
	meta := Metadata{}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return Metadata{}, fmt.Errorf("failed to parse metadata: %w", err)
	}
	meta.applyDefaults()
	if err := meta.Validate(); err != nil {
		return Metadata{}, err
	}
	return meta, nil
}

func (m *Metadata) applyDefaults() {
	def := DefaultMetadata()

	m.Layout = strings.ToLower(m.Layout)
	m.Activation = strings.ToLower(m.Activation)
	if m.Layout == "" {
		m.Layout = def.Layout
	}
	if m.ImageSize <= 0 {
		m.ImageSize = def.ImageSize
	}
	if len(m.Classes) == 0 {
		m.Classes = def.Classes
	}
	if len(m.InputShape) == 0 {
		if m.Layout == LayoutNCHW {
			m.InputShape = []int64{1, 3, int64(m.ImageSize), int64(m.ImageSize)}
		} else {
			m.InputShape = []int64{1, int64(m.ImageSize), int64(m.ImageSize), 3}
		}
	}
	if len(m.OutputShape) == 0 {
		if len(m.Classes) == 2 && (m.Activation == "" || m.Activation == ActivationSigmoid) {
			m.OutputShape = []int64{1, 1}
		} else {
			m.OutputShape = []int64{1, int64(len(m.Classes))}
		}
	}
	if m.Activation == "" {
		if m.OutputSize() == 1 {
			m.Activation = ActivationSigmoid
		} else {
			m.Activation = ActivationSoftmax
		}
	}
	if m.Threshold <= 0 || m.Threshold >= 1 {
		m.Threshold = def.Threshold
	}
	if m.InputName == "" {
		m.InputName = def.InputName
	}
	if m.OutputName == "" {
		m.OutputName = def.OutputName
	}
}

// Validate checks that shapes, layout and classes agree with each other.
func (m Metadata) Validate() error {
	if m.Layout != LayoutNHWC && m.Layout != LayoutNCHW {
		return fmt.Errorf("%w: unknown layout %q", ErrInvalidMetadata, m.Layout)
	}
	if m.Activation != ActivationSigmoid && m.Activation != ActivationSoftmax {
		return fmt.Errorf("%w: unknown activation %q", ErrInvalidMetadata, m.Activation)
	}
	if len(m.InputShape) != 4 {
		return fmt.Errorf("%w: input shape must have 4 dimensions, got %v", ErrInvalidMetadata, m.InputShape)
	}
	if m.InputSize() != 3*m.ImageSize*m.ImageSize {
		return fmt.Errorf("%w: input shape %v does not hold a %dx%d RGB image", ErrInvalidMetadata, m.InputShape, m.ImageSize, m.ImageSize)
	}
	out := m.OutputSize()
	if out < 1 {
		return fmt.Errorf("%w: empty output shape %v", ErrInvalidMetadata, m.OutputShape)
	}
	if m.Activation == ActivationSigmoid && out != 1 {
		return fmt.Errorf("%w: sigmoid needs a single output, got %d", ErrInvalidMetadata, out)
	}
	if m.Activation == ActivationSoftmax && out < 2 {
		return fmt.Errorf("%w: softmax needs one output per class, got %d", ErrInvalidMetadata, out)
	}
	if out == 1 && len(m.Classes) != 2 {
		return fmt.Errorf("%w: a single-score model needs exactly 2 classes, got %d", ErrInvalidMetadata, len(m.Classes))
	}
	if out > 1 && out != len(m.Classes) {
		return fmt.Errorf("%w: %d outputs but %d classes", ErrInvalidMetadata, out, len(m.Classes))
	}
	return nil
}

// InputSize is the number of float32 values the model consumes.
func (m Metadata) InputSize() int {
	return shapeSize(m.InputShape)
}

// OutputSize is the number of float32 values the model produces.
func (m Metadata) OutputSize() int {
	return shapeSize(m.OutputShape)
}

// NegativeLabel is the healthy / not-defective class, always index 0.
func (m Metadata) NegativeLabel() string {
	if len(m.Classes) == 0 {
		return ""
	}
	return m.Classes[0]
}

// IsPositive reports whether label names a diseased/defective class.
func (m Metadata) IsPositive(label string) bool {
	return label != m.NegativeLabel()
}

func shapeSize(shape []int64) int {
	if len(shape) == 0 {
		return 0
	}
	size := 1
	for _, dim := range shape {
		size *= int(dim)
	}
	return size
}
