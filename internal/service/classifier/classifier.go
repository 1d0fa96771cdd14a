package classifier

import (
	"fmt"
	"image"
)

// Backend runs one forward pass. Implementations are not safe for concurrent use.
type Backend interface {
	Name() string
	Scores(input []float32) ([]float32, error)
	Close() error
}

// Classifier couples a backend with the model metadata.
type Classifier struct {
	backend Backend
	meta    Metadata
}

func New(backend Backend, meta Metadata) *Classifier {
	return &Classifier{backend: backend, meta: meta}
}

// Classify preprocesses img, runs the model and decides the label.
func (c *Classifier) Classify(img image.Image) (Classification, error) {
	input := Preprocess(img, c.meta)

	scores, err := c.backend.Scores(input)
	if err != nil {
		return Classification{}, fmt.Errorf("inference failed: %w", err)
	}

	return Decide(scores, c.meta)
}

func (c *Classifier) Metadata() Metadata {
	return c.meta
}

func (c *Classifier) BackendName() string {
	return c.backend.Name()
}

func (c *Classifier) Close() error {
	return c.backend.Close()
}
