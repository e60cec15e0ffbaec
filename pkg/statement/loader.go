package statement

import (
	"bytes"
	"fmt"
	"io"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/Combine-Capital/cqweb/pkg/resource"
)

// mapperFile is the YAML layout of a statement mapper file:
//
//	namespace: user
//	result_maps:
//	  user:
//	    map_underscore_to_camel_case: true
//	statements:
//	  - id: getUser
//	    sql: SELECT * FROM users WHERE id = :id
//	    params:
//	      - {name: id, type: int, required: true}
//	    result_map: user
//	  - id: rename
//	    sql: "UPDATE users SET user_name = #{name} WHERE id = #{id}"
//
// SQL using #{name} placeholders must be quoted or written as a block
// scalar, since an unquoted " #" starts a YAML comment.
//
// Statements are registered as "namespace.id". When params is omitted every
// placeholder becomes a required parameter of any type. Result mappings
// convert snake_case columns to camelCase unless
// map_underscore_to_camel_case is set to false.
type mapperFile struct {
	Namespace  string                `yaml:"namespace"`
	ResultMaps map[string]ResultSpec `yaml:"result_maps"`
	Statements []mapperStatement     `yaml:"statements"`
}

type mapperStatement struct {
	ID        string      `yaml:"id"`
	Kind      Kind        `yaml:"kind"`
	SQL       string      `yaml:"sql"`
	Params    []ParamSpec `yaml:"params"`
	Result    *ResultSpec `yaml:"result"`
	ResultMap string      `yaml:"result_map"`
}

// Load registers the statements of every mapper file matching locations.
// It returns the number of statements registered. Files are processed in
// path order and the first failure stops loading.
func (r *Registry) Load(fs afero.Fs, locations ...string) (int, error) {
	files, err := resource.ResolveAll(fs, locations...)
	if err != nil {
		return 0, fmt.Errorf("resolve mapper locations: %w", err)
	}

	total := 0
	for _, file := range files {
		n, err := r.loadFile(fs, file)
		total += n
		if err != nil {
			return total, fmt.Errorf("mapper %s: %w", file, err)
		}
	}

	r.logger.Info().
		Int("files", len(files)).
		Int("statements", total).
		Msg("statement mappers loaded")
	return total, nil
}

func (r *Registry) loadFile(fs afero.Fs, file string) (int, error) {
	data, err := afero.ReadFile(fs, file)
	if err != nil {
		return 0, err
	}

	var m mapperFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil && err != io.EOF {
		return 0, fmt.Errorf("%w: %v", ErrMalformedTemplate, err)
	}

	n := 0
	for _, s := range m.Statements {
		if s.ID == "" {
			return n, fmt.Errorf("%w: statement without id", ErrMalformedTemplate)
		}
		name := s.ID
		if m.Namespace != "" {
			name = m.Namespace + "." + s.ID
		}

		result := defaultResultSpec()
		switch {
		case s.Result != nil && s.ResultMap != "":
			return n, fmt.Errorf("%w: %s: both result and result_map set", ErrMalformedTemplate, name)
		case s.Result != nil:
			result = *s.Result
		case s.ResultMap != "":
			rm, ok := m.ResultMaps[s.ResultMap]
			if !ok {
				return n, fmt.Errorf("%w: %s: unknown result_map %q", ErrMalformedTemplate, name, s.ResultMap)
			}
			result = rm
		}

		params := s.Params
		if params == nil {
			params = derivedParams(s.SQL)
		}

		if err := r.RegisterKind(name, s.Kind, s.SQL, params, result); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func defaultResultSpec() ResultSpec {
	return ResultSpec{MapUnderscoreToCamelCase: true}
}

// UnmarshalYAML applies the mapper file defaults before decoding.
func (r *ResultSpec) UnmarshalYAML(node *yaml.Node) error {
	type plain ResultSpec
	p := plain(defaultResultSpec())
	if err := node.Decode(&p); err != nil {
		return err
	}
	*r = ResultSpec(p)
	return nil
}

// derivedParams declares every placeholder of sql as a required parameter
// of any type. Templates that do not compile yield nil so that Register
// reports the real error.
func derivedParams(sql string) []ParamSpec {
	c, err := compileTemplate(sql)
	if err != nil {
		return nil
	}
	params := make([]ParamSpec, 0, len(c.order))
	for _, name := range c.order {
		params = append(params, ParamSpec{Name: name, Type: TypeAny, Required: true})
	}
	return params
}
