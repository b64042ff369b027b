package tool

// Builtin returns a registry of the bundled tools
func Builtin() *Registry {
	r, err := New(
		modelShoot(),
		cloneShoot(),
		composer(),
		studio(),
	)
	if err != nil {
		panic("invalid builtin tool: " + err.Error())
	}
	return r
}

func modelShoot() *Definition {
	const prompt = `Photograph the person from the first image as a fashion model in a {{.Tag}} pose.
Keep the face, body shape and outfit identical. Use any additional images as accessories the model wears or holds.
{{with .Style}}Style: {{.}}.{{end}}
{{.Prompt}}`

	return &Definition{
		Name:        "model-shoot",
		Description: "Generate model photos of a person in several poses",
		MaxHistory:  20,
		Mode:        ModeFanOut,
		Slots: []Slot{
			{Name: "person", Required: true},
			{Name: "accessory", Max: 3},
		},
		Variants: []Variant{
			{Tag: "front", Prompt: prompt, Slots: []string{"person", "accessory"}},
			{Tag: "side", Prompt: prompt, Slots: []string{"person", "accessory"}},
			{Tag: "walking", Prompt: prompt, Slots: []string{"person", "accessory"}},
			{Tag: "sitting", Prompt: prompt, Slots: []string{"person", "accessory"}},
		},
		CustomVariants: true,
		MaxVariants:    6,
		MaxImages:      4,
		Parallelism:    3,
	}
}

func cloneShoot() *Definition {
	return &Definition{
		Name:        "clone-shoot",
		Description: "Transfer the pose of a reference photo, then optionally apply a style",
		MaxHistory:  15,
		Mode:        ModeChain,
		Slots: []Slot{
			{Name: "person", Required: true},
			{Name: "pose", Required: true},
			{Name: "style"},
		},
		Variants: []Variant{
			{
				Tag:    "pose",
				Prompt: "Recreate the first image with the person standing exactly in the pose of the second image. Keep identity and clothing.\n{{.Prompt}}",
				Slots:  []string{"person", "pose"},
			},
			{
				Tag:    "style",
				Prompt: "Apply the lighting, color grading and mood of the second image to the first image without changing the person or pose.{{with .Style}} {{.}}{{end}}",
				Slots:  []string{PreviousSlot, "style"},
				When:   "style",
			},
		},
		MaxImages:   3,
		Parallelism: 1,
	}
}

func composer() *Definition {
	return &Definition{
		Name:        "composer",
		Description: "Compose several elements into a base image",
		MaxHistory:  15,
		Mode:        ModeFanOut,
		Slots: []Slot{
			{Name: "base", Required: true},
			{Name: "element", Required: true, Max: 4},
		},
		Variants: []Variant{
			{
				Tag:    "compose",
				Prompt: "Place the elements from the other images naturally into the first image, matching perspective and light.\n{{.Prompt}}",
				Slots:  []string{"base", "element"},
			},
		},
		MaxVariants: 1,
		MaxImages:   5,
		Parallelism: 1,
	}
}

func studio() *Definition {
	return &Definition{
		Name:        "studio",
		Description: "Product photos on generated backgrounds",
		MaxHistory:  20,
		Mode:        ModeFanOut,
		Slots: []Slot{
			{Name: "product", Required: true},
			{Name: "background"},
		},
		Variants: []Variant{
			{
				Tag:    "studio",
				Prompt: "Product photo of the item in the first image on a clean studio background.{{with .Style}} Style: {{.}}.{{end}}\n{{.Prompt}}",
				Slots:  []string{"product", "background"},
			},
			{
				Tag:    "lifestyle",
				Prompt: "Lifestyle photo of the item in the first image in a natural setting that fits it.{{with .Style}} Style: {{.}}.{{end}}\n{{.Prompt}}",
				Slots:  []string{"product", "background"},
			},
		},
		CustomVariants: true,
		MaxVariants:    4,
		MaxImages:      2,
		Parallelism:    2,
	}
}
