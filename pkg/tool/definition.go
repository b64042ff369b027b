package tool

import (
	"bytes"
	"text/template"

	"github.com/m-mizutani/atelier/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

// Mode decides how the variants of a tool are executed
type Mode string

const (
	// ModeFanOut runs every variant independently and concurrently
	ModeFanOut Mode = "fanout"
	// ModeChain runs variants as sequential steps, each consuming the
	// output of the previous one
	ModeChain Mode = "chain"
)

// PreviousSlot is the pseudo slot a chained step uses to receive the
// output of the step before it
const PreviousSlot = "previous"

// Slot is a named image input of a tool
type Slot struct {
	Name     string `yaml:"name"`
	Required bool   `yaml:"required"`
	// Max is the maximum number of images in the slot, 1 when zero
	Max int `yaml:"max"`
}

func (x Slot) limit() int {
	if x.Max <= 0 {
		return 1
	}
	return x.Max
}

// Variant is one API call of a tool: a pose of a fan-out tool or a step of
// a chained tool
type Variant struct {
	Tag string `yaml:"tag"`
	// Prompt is a text/template rendered with PromptData
	Prompt string `yaml:"prompt"`
	// Slots lists the input slots sent with the call. PreviousSlot adds
	// the output of the previous step.
	Slots []string `yaml:"slots"`
	// When names an optional slot; the step is skipped when it is empty
	When string `yaml:"when"`
}

// Definition describes one creative tool
type Definition struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	// Namespace is the history store name, Name when empty
	Namespace  string    `yaml:"namespace"`
	MaxHistory int       `yaml:"max_history"`
	Mode       Mode      `yaml:"mode"`
	Slots      []Slot    `yaml:"slots"`
	Variants   []Variant `yaml:"variants"`
	// CustomVariants accepts variant tags that are not listed in Variants;
	// they use the first variant as template
	CustomVariants bool `yaml:"custom_variants"`
	MaxVariants    int  `yaml:"max_variants"`
	// MaxImages caps the number of images in a single API call
	MaxImages   int `yaml:"max_images"`
	Parallelism int `yaml:"parallelism"`
}

// PromptData is passed to variant prompt templates
type PromptData struct {
	Tag    string
	Prompt string
	Mode   string
	Style  string
	Extra  map[string]string
}

// HistoryNamespace returns the namespace of the tool's history store
func (x *Definition) HistoryNamespace() string {
	if x.Namespace != "" {
		return x.Namespace
	}
	return x.Name
}

// Slot looks up a slot by name
func (x *Definition) Slot(name string) (Slot, bool) {
	for _, s := range x.Slots {
		if s.Name == name {
			return s, true
		}
	}
	return Slot{}, false
}

func (x *Definition) variant(tag string) (Variant, bool) {
	for _, v := range x.Variants {
		if v.Tag == tag {
			return v, true
		}
	}
	return Variant{}, false
}

// Validate checks that the definition is usable
func (x *Definition) Validate() error {
	if x.Name == "" {
		return goerr.New("tool name is empty")
	}
	if x.MaxHistory <= 0 {
		return goerr.New("max_history must be positive", goerr.V("tool", x.Name))
	}
	if x.Mode != ModeFanOut && x.Mode != ModeChain {
		return goerr.New("invalid tool mode", goerr.V("tool", x.Name), goerr.V("mode", x.Mode))
	}
	if len(x.Variants) == 0 {
		return goerr.New("tool has no variant", goerr.V("tool", x.Name))
	}
	if x.MaxVariants < 0 {
		return goerr.New("max_variants must not be negative", goerr.V("tool", x.Name))
	}
	if x.Mode == ModeChain && (x.CustomVariants || x.MaxVariants > 0) {
		return goerr.New("chain tool can not limit or customize variants", goerr.V("tool", x.Name))
	}

	seen := make(map[string]bool)
	for _, s := range x.Slots {
		if s.Name == "" || s.Name == PreviousSlot {
			return goerr.New("invalid slot name", goerr.V("tool", x.Name), goerr.V("slot", s.Name))
		}
		if seen[s.Name] {
			return goerr.New("duplicated slot", goerr.V("tool", x.Name), goerr.V("slot", s.Name))
		}
		seen[s.Name] = true
	}

	for i, v := range x.Variants {
		if v.Tag == "" {
			return goerr.New("variant tag is empty", goerr.V("tool", x.Name))
		}
		if _, err := template.New(v.Tag).Parse(v.Prompt); err != nil {
			return goerr.Wrap(err, "invalid prompt template", goerr.V("tool", x.Name), goerr.V("tag", v.Tag))
		}
		for _, name := range v.Slots {
			if name == PreviousSlot {
				if x.Mode != ModeChain || i == 0 {
					return goerr.New("previous slot is only available to later chain steps",
						goerr.V("tool", x.Name), goerr.V("tag", v.Tag))
				}
				continue
			}
			if !seen[name] {
				return goerr.New("variant refers to unknown slot", goerr.V("tool", x.Name), goerr.V("tag", v.Tag), goerr.V("slot", name))
			}
		}
		if v.When != "" && !seen[v.When] {
			return goerr.New("variant condition refers to unknown slot", goerr.V("tool", x.Name), goerr.V("tag", v.Tag), goerr.V("slot", v.When))
		}
	}

	return nil
}

// Call is a planned API call
type Call struct {
	Tag    string
	Prompt string
	Images []*model.CallImage
	// UsePrevious appends the previous step output to Images at run time
	UsePrevious bool
}

// Plan is the validated execution plan of one request
type Plan struct {
	Tool  *Definition
	Mode  Mode
	Calls []*Call
}

func validationError(msg string, kv ...any) error {
	opts := []goerr.Option{goerr.T(model.TagValidation)}
	for i := 0; i+1 < len(kv); i += 2 {
		opts = append(opts, goerr.V(kv[i].(string), kv[i+1]))
	}
	return goerr.New(msg, opts...)
}

// Plan validates req against the tool limits and resolves the API calls
// to make. Every failure is tagged model.TagValidation.
func (x *Definition) Plan(req *model.GenerationRequest) (*Plan, error) {
	if req == nil {
		return nil, validationError("request is nil")
	}

	counts := make(map[string]int)
	for _, in := range req.Inputs {
		if in == nil || in.Image == nil {
			return nil, validationError("input image is missing", "tool", x.Name)
		}
		if _, ok := x.Slot(in.Slot); !ok {
			return nil, validationError("unknown input slot", "tool", x.Name, "slot", in.Slot)
		}
		counts[in.Slot]++
	}

	for _, s := range x.Slots {
		if s.Required && counts[s.Name] == 0 {
			return nil, validationError("required image is missing", "tool", x.Name, "slot", s.Name)
		}
		if counts[s.Name] > s.limit() {
			return nil, validationError("too many images", "tool", x.Name, "slot", s.Name,
				"count", counts[s.Name], "max", s.limit())
		}
	}

	variants, err := x.selectVariants(req, counts)
	if err != nil {
		return nil, err
	}

	data := PromptData{
		Prompt: req.Params.Prompt,
		Mode:   req.Params.Mode,
		Style:  req.Params.Style,
		Extra:  req.Params.Extra,
	}

	plan := &Plan{Tool: x, Mode: x.Mode}
	for _, v := range variants {
		call := &Call{Tag: v.Tag}

		data.Tag = v.Tag
		call.Prompt, err = render(v, data)
		if err != nil {
			return nil, err
		}

		for _, name := range v.Slots {
			if name == PreviousSlot {
				call.UsePrevious = len(plan.Calls) > 0
				continue
			}
			for _, img := range req.ImagesOf(name) {
				call.Images = append(call.Images, &model.CallImage{Slot: name, Image: img})
			}
		}

		total := len(call.Images)
		if call.UsePrevious {
			total++
		}
		if x.MaxImages > 0 && total > x.MaxImages {
			return nil, validationError("too many images for one generation call", "tool", x.Name,
				"tag", v.Tag, "count", total, "max", x.MaxImages)
		}
		if total == 0 {
			return nil, validationError("generation call has no image", "tool", x.Name, "tag", v.Tag)
		}

		plan.Calls = append(plan.Calls, call)
	}

	return plan, nil
}

func (x *Definition) selectVariants(req *model.GenerationRequest, counts map[string]int) ([]Variant, error) {
	if x.Mode == ModeChain {
		if len(req.Variants) > 0 {
			return nil, validationError("chain tool does not accept variants", "tool", x.Name, "variants", req.Variants)
		}
		// Steps are fixed; conditional steps depend on optional inputs
		var steps []Variant
		for _, v := range x.Variants {
			if v.When != "" && counts[v.When] == 0 {
				continue
			}
			steps = append(steps, v)
		}
		return steps, nil
	}

	if len(req.Variants) == 0 {
		if x.MaxVariants > 0 && len(x.Variants) > x.MaxVariants {
			return nil, validationError("tool has more default variants than allowed, choose variants",
				"tool", x.Name, "count", len(x.Variants), "max", x.MaxVariants)
		}
		return x.Variants, nil
	}

	if x.MaxVariants > 0 && len(req.Variants) > x.MaxVariants {
		return nil, validationError("too many variants", "tool", x.Name, "count", len(req.Variants), "max", x.MaxVariants)
	}

	seen := make(map[string]bool)
	variants := make([]Variant, 0, len(req.Variants))
	for _, tag := range req.Variants {
		if tag == "" {
			return nil, validationError("variant tag is empty", "tool", x.Name)
		}
		if seen[tag] {
			return nil, validationError("duplicated variant", "tool", x.Name, "tag", tag)
		}
		seen[tag] = true

		v, ok := x.variant(tag)
		if !ok {
			if !x.CustomVariants {
				return nil, validationError("unknown variant", "tool", x.Name, "tag", tag)
			}
			v = x.Variants[0]
			v.Tag = tag
		}
		variants = append(variants, v)
	}
	return variants, nil
}

func render(v Variant, data PromptData) (string, error) {
	tmpl, err := template.New(v.Tag).Option("missingkey=zero").Parse(v.Prompt)
	if err != nil {
		return "", goerr.Wrap(err, "invalid prompt template", goerr.V("tag", v.Tag))
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", goerr.Wrap(err, "failed to render prompt", goerr.V("tag", v.Tag))
	}
	return buf.String(), nil
}
