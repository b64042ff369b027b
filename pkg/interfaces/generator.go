package interfaces

import (
	"context"

	"github.com/m-mizutani/atelier/pkg/model"
)

// ImageGenerator is the hosted generative-image API. Failures are tagged
// model.TagGeneration plus one of the more specific generation tags.
type ImageGenerator interface {
	Generate(ctx context.Context, call *model.GenerationCall) (model.PersistedImage, error)
}
