package llmclient

import (
	"bytes"
	"sync"

	"github.com/invopop/jsonschema"
	jsonschemav5 "github.com/santhosh-tekuri/jsonschema/v5"
)

// structuredScene is the JSON shape a response is validated against
// when it is JSON rather than the free-text section format; Analyze
// does not set a response format on the request. The first four fields are the scene description contract; image_name
// is an addition needed to derive an output filename, since the
// documented contract alone provides no candidate for one.
type structuredScene struct {
	Szenenbeschreibung string   `json:"szenenbeschreibung" jsonschema:"description=Brief free-text description of what is happening in the scene"`
	DndstylePrompt     string   `json:"dndstyle_prompt" jsonschema:"description=dndstyle-prefixed detailed image generation prompt in English"`
	WichtigeElemente   []string `json:"wichtige_elemente" jsonschema:"description=Short list of important visual elements present in the scene"`
	Stimmung           string   `json:"stimmung" jsonschema:"description=Mood or atmosphere of the scene"`
	ImageName          string   `json:"image_name,omitempty" jsonschema:"description=Descriptive filename without extension, underscores instead of spaces"`
}

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschemav5.Schema
	schemaErr      error
)

func sceneSchema() (*jsonschemav5.Schema, error) {
	schemaOnce.Do(func() {
		reflector := &jsonschema.Reflector{}
		schema := reflector.Reflect(&structuredScene{})
		raw, err := schema.MarshalJSON()
		if err != nil {
			schemaErr = err
			return
		}
		compiler := jsonschemav5.NewCompiler()
		if err := compiler.AddResource("scene_description.json", bytes.NewReader(raw)); err != nil {
			schemaErr = err
			return
		}
		compiledSchema, schemaErr = compiler.Compile("scene_description.json")
	})
	return compiledSchema, schemaErr
}
