package config

import (
	"fmt"

	"cuelang.org/go/cue"
)

// modelSchema constrains the shape of a model definition before it is decoded. Resources are
// either a struct keyed by resource id or a list of resources carrying their own id.
const modelSchema = `
#Resource: {
	id?:           string & !=""
	attributes?:   null | {...}
	requires?:     null | [...string & !=""]
	undefined?:    bool
	resource_set?: string
}

#Model: {
	version:                int & >=1
	partial?:               bool
	removed_resource_sets?: null | [...string & !=""]
	resources?:             {[string]: #Resource} | [...(#Resource & {id: string})] | null
}
`

// compileModelSchema compiles modelSchema in ctx and returns the #Model definition.
func compileModelSchema(ctx *cue.Context) (cue.Value, error) {
	val := ctx.CompileString(modelSchema, cue.Filename("model-schema.cue"))
	if err := val.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("failed to compile model schema: %w", err)
	}
	def := val.LookupPath(cue.ParsePath("#Model"))
	if err := def.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("model schema has no #Model definition: %w", err)
	}
	return def, nil
}
