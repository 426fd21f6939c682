package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"github.com/go-playground/validator/v10"
	"github.com/openfroyo/orchestrator/pkg/engine"
	"gopkg.in/yaml.v3"
)

// ModelLoader reads model definitions produced by the compiler. CUE files may leave attribute
// values open (e.g. `port: int`); such resources are loaded as undefined.
type ModelLoader struct {
	ctx       *cue.Context
	schema    cue.Value
	validator *validator.Validate
}

// NewModelLoader creates a new model loader.
func NewModelLoader() (*ModelLoader, error) {
	ctx := cuecontext.New()
	schema, err := compileModelSchema(ctx)
	if err != nil {
		return nil, err
	}
	return &ModelLoader{
		ctx:       ctx,
		schema:    schema,
		validator: validator.New(),
	}, nil
}

// FormatOf returns the model format implied by the extension of path.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cue":
		return FormatCUE, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unsupported model file %q: expected .cue, .yaml, .yml or .json", path)
	}
}

// LoadPath loads a model definition from a file, or from the CUE package in a directory.
func (l *ModelLoader) LoadPath(path string) (*engine.ModelDefinition, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return l.loadDirectory(path)
	}

	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return l.Load(path, format, data)
}

// Load decodes a model definition in the given format. name is used in error positions.
func (l *ModelLoader) Load(name string, format Format, data []byte) (*engine.ModelDefinition, error) {
	var (
		def *engine.ModelDefinition
		err error
	)
	switch format {
	case FormatCUE:
		val := l.ctx.CompileBytes(data, cue.Filename(name))
		if err := val.Err(); err != nil {
			return nil, newLoadError(name, convertCUEErrors(err)...)
		}
		def, err = l.fromValue(name, val)
	case FormatYAML:
		def, err = l.fromYAML(name, data)
	case FormatJSON:
		def, err = l.fromJSON(name, data)
	default:
		return nil, fmt.Errorf("unsupported model format %q", format)
	}
	if err != nil {
		return nil, err
	}

	if err := l.validator.Struct(def); err != nil {
		return nil, newLoadError(name, convertValidatorErrors(err)...)
	}
	return def, nil
}

func (l *ModelLoader) loadDirectory(dir string) (*engine.ModelDefinition, error) {
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, fmt.Errorf("no CUE instances found in %s", dir)
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, newLoadError(dir, convertCUEErrors(inst.Err)...)
	}
	val := l.ctx.BuildInstance(inst)
	if err := val.Err(); err != nil {
		return nil, newLoadError(dir, convertCUEErrors(err)...)
	}
	def, err := l.fromValue(dir, val)
	if err != nil {
		return nil, err
	}
	if err := l.validator.Struct(def); err != nil {
		return nil, newLoadError(dir, convertValidatorErrors(err)...)
	}
	return def, nil
}

// fromValue checks val against the model schema and extracts the definition.
func (l *ModelLoader) fromValue(name string, val cue.Value) (*engine.ModelDefinition, error) {
	model := l.schema.Unify(val)
	if err := model.Validate(cue.Concrete(false)); err != nil {
		return nil, newLoadError(name, convertCUEErrors(err)...)
	}

	version, err := model.LookupPath(cue.ParsePath("version")).Int64()
	if err != nil {
		return nil, newLoadError(name, ValidationError{File: name, Path: "version", Message: "version must be a concrete integer"})
	}
	def := &engine.ModelDefinition{Version: int(version)}

	if v := model.LookupPath(cue.ParsePath("partial")); v.Exists() {
		if def.Partial, err = v.Bool(); err != nil {
			return nil, newLoadError(name, convertCUEErrors(err)...)
		}
	}
	if v := model.LookupPath(cue.ParsePath("removed_resource_sets")); v.Exists() && !v.IsNull() {
		if err := v.Decode(&def.RemovedResourceSets); err != nil {
			return nil, newLoadError(name, convertCUEErrors(err)...)
		}
	}

	resources := model.LookupPath(cue.ParsePath("resources"))
	if !resources.Exists() || resources.IsNull() {
		return def, nil
	}

	var problems []ValidationError
	switch resources.IncompleteKind() {
	case cue.StructKind:
		iter, err := resources.Fields()
		if err != nil {
			return nil, newLoadError(name, convertCUEErrors(err)...)
		}
		for iter.Next() {
			id := iter.Selector().Unquoted()
			res, err := extractResource(id, iter.Value())
			if err != nil {
				problems = append(problems, resourceErrors(name, fmt.Sprintf("resources[%q]", id), err)...)
				continue
			}
			def.Resources = append(def.Resources, res)
		}
	case cue.ListKind:
		iter, err := resources.List()
		if err != nil {
			return nil, newLoadError(name, convertCUEErrors(err)...)
		}
		for i := 0; iter.Next(); i++ {
			id, err := iter.Value().LookupPath(cue.ParsePath("id")).String()
			if err != nil {
				problems = append(problems, resourceErrors(name, fmt.Sprintf("resources[%d].id", i), err)...)
				continue
			}
			res, err := extractResource(id, iter.Value())
			if err != nil {
				problems = append(problems, resourceErrors(name, fmt.Sprintf("resources[%d]", i), err)...)
				continue
			}
			def.Resources = append(def.Resources, res)
		}
	default:
		return nil, newLoadError(name, ValidationError{File: name, Path: "resources", Message: "resources must be a struct or a list"})
	}

	if len(problems) > 0 {
		return nil, newLoadError(name, problems...)
	}
	return def, nil
}

// extractResource decodes one resource. Attributes that are not concrete mark the resource
// undefined.
func extractResource(id string, val cue.Value) (engine.ResourceDefinition, error) {
	res := engine.ResourceDefinition{ID: engine.ResourceID(id)}

	if v := val.LookupPath(cue.ParsePath("undefined")); v.Exists() {
		undefined, err := v.Bool()
		if err != nil {
			return res, err
		}
		res.Undefined = undefined
	}

	if v := val.LookupPath(cue.ParsePath("resource_set")); v.Exists() {
		set, err := v.String()
		if err != nil {
			return res, err
		}
		res.ResourceSet = set
	}

	if v := val.LookupPath(cue.ParsePath("requires")); v.Exists() && !v.IsNull() {
		var requires []engine.ResourceID
		if err := v.Decode(&requires); err != nil {
			return res, err
		}
		res.Requires = requires
	}

	if v := val.LookupPath(cue.ParsePath("attributes")); v.Exists() && !v.IsNull() {
		if err := v.Validate(cue.Concrete(true)); err != nil {
			res.Undefined = true
			return res, nil
		}
		if err := v.Decode(&res.Attributes); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (l *ModelLoader) fromYAML(name string, data []byte) (*engine.ModelDefinition, error) {
	var def engine.ModelDefinition
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&def); err != nil && !errors.Is(err, io.EOF) {
		return nil, newLoadError(name, ValidationError{File: name, Message: err.Error()})
	}
	return l.checkSchema(name, &def)
}

func (l *ModelLoader) fromJSON(name string, data []byte) (*engine.ModelDefinition, error) {
	var def engine.ModelDefinition
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&def); err != nil {
		return nil, newLoadError(name, ValidationError{File: name, Message: err.Error()})
	}
	return l.checkSchema(name, &def)
}

// checkSchema runs a decoded definition through the model schema so that every format
// shares the same structural rules.
func (l *ModelLoader) checkSchema(name string, def *engine.ModelDefinition) (*engine.ModelDefinition, error) {
	encoded := l.ctx.Encode(def)
	if err := encoded.Err(); err != nil {
		return nil, newLoadError(name, ValidationError{File: name, Message: fmt.Sprintf("failed to encode model: %v", err)})
	}
	if err := l.schema.Unify(encoded).Validate(cue.Concrete(true)); err != nil {
		return nil, newLoadError(name, convertCUEErrors(err)...)
	}
	return def, nil
}

func resourceErrors(file, path string, err error) []ValidationError {
	errs := convertCUEErrors(err)
	for i := range errs {
		if errs[i].File == "" {
			errs[i].File = file
		}
		errs[i].Path = path
	}
	return errs
}

// convertCUEErrors converts CUE errors to a ValidationError slice.
func convertCUEErrors(err error) []ValidationError {
	var out []ValidationError
	for _, e := range cueerrors.Errors(err) {
		v := ValidationError{Message: strings.TrimSpace(cueerrors.Details(e, nil))}
		if pos := cueerrors.Positions(e); len(pos) > 0 {
			v.File = pos[0].Filename()
			v.Line = pos[0].Line()
			v.Column = pos[0].Column()
		}
		if path := e.Path(); len(path) > 0 {
			v.Path = strings.Join(path, ".")
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		out = append(out, ValidationError{Message: err.Error()})
	}
	return out
}

func convertValidatorErrors(err error) []ValidationError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []ValidationError{{Message: err.Error()}}
	}
	out := make([]ValidationError, 0, len(verrs))
	for _, fe := range verrs {
		msg := fmt.Sprintf("failed on %q", fe.Tag())
		if fe.Param() != "" {
			msg = fmt.Sprintf("failed on %q (%s)", fe.Tag(), fe.Param())
		}
		out = append(out, ValidationError{Path: fe.Namespace(), Message: msg})
	}
	return out
}
