package urlgen

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Kind names a descriptor shape.
type Kind string

// Descriptor kinds.
const (
	KindStatic        Kind = "static"
	KindDated         Kind = "dated"
	KindRunner        Kind = "runner"
	KindParameterized Kind = "parameterized"
	KindComplex       Kind = "complex"
	KindTemplated     Kind = "templated"
	KindIncremental   Kind = "incremental"
	KindAuthenticated Kind = "authenticated"
)

// Granularity steps for dated sequences.
const (
	GranularityDay   = "day"
	GranularityWeek  = "week"
	GranularityMonth = "month"
)

// Template variable modes.
const (
	ModeIncrement = "increment"
	ModeOptions   = "options"
	ModeDate      = "date"
)

// Descriptor is one entry of the descriptor file. Which fields apply depends on Kind.
type Descriptor struct {
	Name         string            `yaml:"name"`
	Kind         Kind              `yaml:"type"`
	KindAlias    Kind              `yaml:"kind"`
	URL          string            `yaml:"url"`
	Scraper      string            `yaml:"scraper"`
	Headers      map[string]string `yaml:"headers"`
	ItemSelector string            `yaml:"item_selector"`

	// dated
	DateParam   string `yaml:"date_param"`
	DateFormat  string `yaml:"date_format"`
	StartDate   string `yaml:"start_date"`
	EndDate     string `yaml:"end_date"`
	Granularity string `yaml:"granularity"`

	// runner and incremental
	Param     string `yaml:"param"`
	Start     *int   `yaml:"start"`
	End       *int   `yaml:"end"`
	Step      *int   `yaml:"step"`
	Prefix    string `yaml:"prefix"`
	Separator string `yaml:"separator"`
	Base      string `yaml:"base"`
	Width     int    `yaml:"width"`
	Suffix    string `yaml:"suffix"`

	Parameters   Parameters    `yaml:"parameters"`
	Date         *DateBlock    `yaml:"date"`
	Runner       *RunnerBlock  `yaml:"runner"`
	Fixed        OrderedParams `yaml:"fixed"`
	TemplateVars TemplateVars  `yaml:"template_vars"`
}

// EffectiveKind returns the declared kind, accepting either the type or kind key.
func (d Descriptor) EffectiveKind() Kind {
	if d.Kind != "" {
		return Kind(strings.ToLower(string(d.Kind)))
	}
	return Kind(strings.ToLower(string(d.KindAlias)))
}

func (d Descriptor) dateBlock() DateBlock {
	return DateBlock{
		Param:       d.DateParam,
		Format:      d.DateFormat,
		Start:       d.StartDate,
		End:         d.EndDate,
		Granularity: d.Granularity,
	}
}

func (d Descriptor) runnerBlock() RunnerBlock {
	return RunnerBlock{
		Param:     d.Param,
		Start:     d.Start,
		End:       d.End,
		Step:      d.Step,
		Prefix:    d.Prefix,
		Separator: d.Separator,
	}
}

// DateBlock describes an inclusive date sequence.
type DateBlock struct {
	Param       string `yaml:"param"`
	Format      string `yaml:"format"`
	Start       string `yaml:"start"`
	End         string `yaml:"end"`
	Granularity string `yaml:"granularity"`
}

// RunnerBlock describes an integer sequence, typically a page number.
type RunnerBlock struct {
	Param     string `yaml:"param"`
	Start     *int   `yaml:"start"`
	End       *int   `yaml:"end"`
	Step      *int   `yaml:"step"`
	Prefix    string `yaml:"prefix"`
	Separator string `yaml:"separator"`
}

// Parameter is one named value list of a parameterized descriptor.
type Parameter struct {
	Name   string
	Values []string
}

// Parameters keeps declaration order, which fixes the cartesian product order.
// It accepts a mapping of name to values, or a sequence of {name, values} or
// single-key mappings.
type Parameters []Parameter

// UnmarshalYAML implements yaml.Unmarshaler.
func (p *Parameters) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			values, err := decodeStrings(node.Content[i+1])
			if err != nil {
				return fmt.Errorf("parameter %q: %w", node.Content[i].Value, err)
			}
			*p = append(*p, Parameter{Name: node.Content[i].Value, Values: values})
		}
		return nil
	case yaml.SequenceNode:
		for _, item := range node.Content {
			param, err := decodeParameter(item)
			if err != nil {
				return err
			}
			*p = append(*p, param)
		}
		return nil
	default:
		return fmt.Errorf("line %d: parameters must be a mapping or a list", node.Line)
	}
}

func decodeParameter(node *yaml.Node) (Parameter, error) {
	if node.Kind != yaml.MappingNode {
		return Parameter{}, fmt.Errorf("line %d: parameter must be a mapping", node.Line)
	}
	if hasKey(node, "name") {
		var named struct {
			Name   string    `yaml:"name"`
			Values yaml.Node `yaml:"values"`
		}
		if err := node.Decode(&named); err != nil {
			return Parameter{}, fmt.Errorf("line %d: decode parameter: %w", node.Line, err)
		}
		values, err := decodeStrings(&named.Values)
		if err != nil {
			return Parameter{}, fmt.Errorf("parameter %q: %w", named.Name, err)
		}
		return Parameter{Name: named.Name, Values: values}, nil
	}
	if len(node.Content) != 2 {
		return Parameter{}, fmt.Errorf("line %d: parameter needs exactly one key", node.Line)
	}
	values, err := decodeStrings(node.Content[1])
	if err != nil {
		return Parameter{}, fmt.Errorf("parameter %q: %w", node.Content[0].Value, err)
	}
	return Parameter{Name: node.Content[0].Value, Values: values}, nil
}

// KeyValue is a single fixed query parameter.
type KeyValue struct {
	Key   string
	Value string
}

// OrderedParams is a mapping decoded in document order.
type OrderedParams []KeyValue

// UnmarshalYAML implements yaml.Unmarshaler.
func (o *OrderedParams) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			*o = append(*o, KeyValue{Key: node.Content[i].Value, Value: node.Content[i+1].Value})
		}
		return nil
	case yaml.SequenceNode:
		for _, item := range node.Content {
			if item.Kind != yaml.MappingNode {
				return fmt.Errorf("line %d: fixed entry must be a mapping", item.Line)
			}
			for i := 0; i+1 < len(item.Content); i += 2 {
				*o = append(*o, KeyValue{Key: item.Content[i].Value, Value: item.Content[i+1].Value})
			}
		}
		return nil
	default:
		return fmt.Errorf("line %d: fixed must be a mapping or a list", node.Line)
	}
}

// TemplateVar declares one $variable of a templated descriptor.
type TemplateVar struct {
	Name   string   `yaml:"name"`
	Mode   string   `yaml:"type"`
	Alias  string   `yaml:"mode"`
	Start  string   `yaml:"start"`
	End    string   `yaml:"end"`
	Step   *int     `yaml:"step"`
	Values []string `yaml:"values"`
	Format string   `yaml:"format"`
}

// EffectiveMode returns the declared mode, defaulting to options.
func (v TemplateVar) EffectiveMode() string {
	switch {
	case v.Mode != "":
		return strings.ToLower(v.Mode)
	case v.Alias != "":
		return strings.ToLower(v.Alias)
	default:
		return ModeOptions
	}
}

// TemplateVars keeps declaration order. It accepts a mapping of name to
// variable, or a sequence of variables carrying a name key.
type TemplateVars []TemplateVar

// UnmarshalYAML implements yaml.Unmarshaler.
func (t *TemplateVars) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			var v TemplateVar
			if err := node.Content[i+1].Decode(&v); err != nil {
				return fmt.Errorf("template var %q: %w", node.Content[i].Value, err)
			}
			v.Name = node.Content[i].Value
			*t = append(*t, v)
		}
		return nil
	case yaml.SequenceNode:
		for _, item := range node.Content {
			var v TemplateVar
			if err := item.Decode(&v); err != nil {
				return fmt.Errorf("line %d: template var: %w", item.Line, err)
			}
			*t = append(*t, v)
		}
		return nil
	default:
		return fmt.Errorf("line %d: template_vars must be a mapping or a list", node.Line)
	}
}

func decodeStrings(node *yaml.Node) ([]string, error) {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Value == "" {
			return nil, nil
		}
		return []string{node.Value}, nil
	case yaml.SequenceNode:
		values := make([]string, 0, len(node.Content))
		for _, item := range node.Content {
			if item.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("line %d: values must be scalars", item.Line)
			}
			values = append(values, item.Value)
		}
		return values, nil
	case 0:
		return nil, nil
	default:
		return nil, fmt.Errorf("line %d: values must be a scalar or a list", node.Line)
	}
}

func hasKey(node *yaml.Node, key string) bool {
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return true
		}
	}
	return false
}
