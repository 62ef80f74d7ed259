package embedding

import "context"

// Embedder converts free text into numeric vectors.
// Vectors returned for one call are parallel to the input texts.
type Embedder interface {
	Name() string
	Dimension() int
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}
