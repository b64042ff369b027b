package adapter

import (
	"context"
	"encoding/base64"
	"strings"

	"github.com/m-mizutani/atelier/pkg/codec"
	"github.com/m-mizutani/atelier/pkg/interfaces"
	"github.com/m-mizutani/atelier/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"
)

// Gemini is the subset of the genai client used to generate images
type Gemini interface {
	GenerateContent(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type GeminiClient struct {
	client          *genai.Client
	generativeModel string
}

type GeminiOption func(*GeminiClient)

func WithGenerativeModel(model string) GeminiOption {
	return func(g *GeminiClient) {
		if model != "" {
			g.generativeModel = model
		}
	}
}

const defaultImageModel = "gemini-2.5-flash-image"

// NewGemini creates a client on Vertex AI
func NewGemini(ctx context.Context, projectID, location string, opts ...GeminiOption) (*GeminiClient, error) {
	return newGemini(ctx, &genai.ClientConfig{
		Project:  projectID,
		Location: location,
		Backend:  genai.BackendVertexAI,
	}, opts...)
}

// NewGeminiWithAPIKey creates a client on the Gemini Developer API
func NewGeminiWithAPIKey(ctx context.Context, apiKey string, opts ...GeminiOption) (*GeminiClient, error) {
	return newGemini(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}, opts...)
}

func newGemini(ctx context.Context, cfg *genai.ClientConfig, opts ...GeminiOption) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create genai client")
	}

	g := &GeminiClient{
		client:          client,
		generativeModel: defaultImageModel,
	}

	for _, opt := range opts {
		opt(g)
	}

	return g, nil
}

func (g *GeminiClient) GenerateContent(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.generativeModel, contents, config)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to generate content", goerr.V("model", g.generativeModel))
	}
	return resp, nil
}

// ImageGenerator turns a Gemini model into an interfaces.ImageGenerator
type ImageGenerator struct {
	gemini Gemini
}

var _ interfaces.ImageGenerator = (*ImageGenerator)(nil)

func NewImageGenerator(gemini Gemini) *ImageGenerator {
	return &ImageGenerator{gemini: gemini}
}

func (x *ImageGenerator) Generate(ctx context.Context, call *model.GenerationCall) (model.PersistedImage, error) {
	contents, err := buildContents(call)
	if err != nil {
		return "", err
	}

	config := &genai.GenerateContentConfig{
		ResponseModalities: []string{"TEXT", "IMAGE"},
	}

	resp, err := x.gemini.GenerateContent(ctx, contents, config)
	if err != nil {
		return "", goerr.Wrap(err, "image generation request failed", goerr.T(model.TagGeneration), goerr.T(model.TagTransport),
			goerr.V("tag", call.Tag))
	}

	img, err := ExtractImage(resp)
	if err != nil {
		return "", goerr.Wrap(err, "image generation returned no image", goerr.V("tag", call.Tag))
	}
	return img, nil
}

func buildContents(call *model.GenerationCall) ([]*genai.Content, error) {
	parts := make([]*genai.Part, 0, len(call.Images)+1)
	for _, img := range call.Images {
		data, mimeType, err := codec.Bytes(img.Image)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to read input image", goerr.V("slot", img.Slot), goerr.V("tag", call.Tag))
		}
		parts = append(parts, genai.NewPartFromBytes(data, mimeType))
	}
	parts = append(parts, genai.NewPartFromText(call.Prompt))

	return []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}, nil
}

var safetyFinishReasons = map[genai.FinishReason]bool{
	genai.FinishReasonSafety:                       true,
	genai.FinishReasonBlocklist:                    true,
	genai.FinishReasonProhibitedContent:            true,
	genai.FinishReasonSPII:                         true,
	genai.FinishReason("IMAGE_SAFETY"):             true,
	genai.FinishReason("IMAGE_PROHIBITED_CONTENT"): true,
}

// ExtractImage returns the first inline image of resp. A blocked prompt
// or a safety finish reason is tagged model.TagSafetyBlocked, a response
// without image model.TagEmptyResponse.
func ExtractImage(resp *genai.GenerateContentResponse) (model.PersistedImage, error) {
	if resp == nil {
		return "", goerr.New("response is nil", goerr.T(model.TagGeneration), goerr.T(model.TagEmptyResponse))
	}

	if fb := resp.PromptFeedback; fb != nil && fb.BlockReason != "" {
		return "", goerr.New("prompt was blocked: "+string(fb.BlockReason), goerr.T(model.TagGeneration), goerr.T(model.TagSafetyBlocked),
			goerr.V("reason", string(fb.BlockReason)), goerr.V("message", fb.BlockReasonMessage))
	}

	if len(resp.Candidates) == 0 {
		return "", goerr.New("response has no candidate", goerr.T(model.TagGeneration), goerr.T(model.TagEmptyResponse))
	}

	var text []string
	for _, c := range resp.Candidates {
		if c == nil {
			continue
		}
		if safetyFinishReasons[c.FinishReason] {
			return "", goerr.New("generation stopped by safety filter: "+string(c.FinishReason), goerr.T(model.TagGeneration), goerr.T(model.TagSafetyBlocked),
				goerr.V("reason", string(c.FinishReason)), goerr.V("message", c.FinishMessage))
		}
		if c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			if p == nil {
				continue
			}
			if p.InlineData != nil && len(p.InlineData.Data) > 0 && strings.HasPrefix(p.InlineData.MIMEType, "image/") {
				return model.NewPersistedImage(p.InlineData.MIMEType, base64.StdEncoding.EncodeToString(p.InlineData.Data)), nil
			}
			if p.Text != "" {
				text = append(text, p.Text)
			}
		}
	}

	return "", goerr.New("response has no image part", goerr.T(model.TagGeneration), goerr.T(model.TagEmptyResponse),
		goerr.V("text", strings.Join(text, "\n")))
}
