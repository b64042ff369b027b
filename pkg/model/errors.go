package model

import "github.com/m-mizutani/goerr/v2"

// Error kinds. Check them with goerr.HasTag; the underlying cause stays
// reachable through errors.Is and errors.As.
var (
	// TagValidation marks missing input or an exceeded limit
	TagValidation = goerr.NewTag("validation")

	// TagGeneration marks every failure reported by the image generation API.
	// One of the more specific generation tags is attached alongside it.
	TagGeneration    = goerr.NewTag("generation")
	TagSafetyBlocked = goerr.NewTag("safety_blocked")
	TagEmptyResponse = goerr.NewTag("empty_response")
	TagTransport     = goerr.NewTag("transport")

	TagStorage     = goerr.NewTag("storage")
	TagUnsupported = goerr.NewTag("unsupported")
	TagNotFound    = goerr.NewTag("not_found")

	// TagFormat marks a malformed persisted image
	TagFormat = goerr.NewTag("format")
	// TagRead marks an image whose bytes can not be read
	TagRead = goerr.NewTag("read")
)
