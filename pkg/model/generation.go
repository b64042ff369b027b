package model

// GenerationCall is a single request to the image generation API
type GenerationCall struct {
	// Tag identifies the variant (pose, mode, step) the call belongs to
	Tag    string
	Prompt string
	Images []*CallImage
}

// CallImage is a named image attached to a GenerationCall
type CallImage struct {
	Slot  string
	Image Image
}

// GenerationRequest is one user action: the images and parameters the user
// collected, and the variants (poses, modes) to generate
type GenerationRequest struct {
	Inputs   []*CallImage
	Params   Params
	Variants []string
}

// ImagesOf returns the images of one slot in request order
func (x *GenerationRequest) ImagesOf(slot string) []Image {
	var images []Image
	for _, in := range x.Inputs {
		if in.Slot == slot {
			images = append(images, in.Image)
		}
	}
	return images
}
