package policy

import "strings"

type Field string

type Operator string

type Transform string

const (
	FieldRequestPath    Field = "request_path"
	FieldURIFull        Field = "uri_full"
	FieldQueryParameter Field = "query_parameter"
	FieldPostBody       Field = "post_body"
	FieldHeader         Field = "header"
	FieldUserAgent      Field = "user_agent"
	FieldReferer        Field = "referer"
	FieldHost           Field = "host"
	FieldMethod         Field = "method"
	FieldIPAddress      Field = "ip_address"
	FieldCountryCode    Field = "country_code"
	FieldProtocol       Field = "protocol"
)

const (
	OpEquals          Operator = "equals"
	OpNotEquals       Operator = "not_equals"
	OpContains        Operator = "contains"
	OpNotContains     Operator = "not_contains"
	OpStartsWith      Operator = "starts_with"
	OpEndsWith        Operator = "ends_with"
	OpRegex           Operator = "regex"
	OpIn              Operator = "in"
	OpNotIn           Operator = "not_in"
	OpGreater         Operator = "gt"
	OpGreaterOrEqual  Operator = "gte"
	OpLess            Operator = "lt"
	OpLessOrEqual     Operator = "lte"
	OpLibInjectionSQL Operator = "libinjection_sql"
	OpLibInjectionXSS Operator = "libinjection_xss"
)

const (
	TransformLowercase     Transform = "lowercase"
	TransformTrim          Transform = "trim"
	TransformURLDecode     Transform = "url_decode"
	TransformBase64Decode  Transform = "base64_decode"
	TransformPathNormalize Transform = "path_normalize"
)

// Fields lists the closed field vocabulary.
var Fields = []Field{
	FieldRequestPath, FieldURIFull, FieldQueryParameter, FieldPostBody,
	FieldHeader, FieldUserAgent, FieldReferer, FieldHost, FieldMethod,
	FieldIPAddress, FieldCountryCode, FieldProtocol,
}

// Operators lists the closed operator vocabulary.
var Operators = []Operator{
	OpEquals, OpNotEquals, OpContains, OpNotContains, OpStartsWith,
	OpEndsWith, OpRegex, OpIn, OpNotIn, OpGreater, OpGreaterOrEqual,
	OpLess, OpLessOrEqual, OpLibInjectionSQL, OpLibInjectionXSS,
}

var Transforms = []Transform{
	TransformLowercase, TransformTrim, TransformURLDecode,
	TransformBase64Decode, TransformPathNormalize,
}

var fieldAliases = map[string]Field{
	"path": FieldRequestPath,
}

type Condition struct {
	Field      Field       `yaml:"field" json:"field"`
	Operator   Operator    `yaml:"operator" json:"operator"`
	Value      string      `yaml:"value" json:"value"`
	Header     string      `yaml:"header,omitempty" json:"header,omitempty"`
	Transforms []Transform `yaml:"transforms,omitempty" json:"transforms,omitempty"`
}

// Canonical returns the field with aliases resolved and case folded.
func (f Field) Canonical() Field {
	name := strings.ToLower(strings.TrimSpace(string(f)))
	if alias, ok := fieldAliases[name]; ok {
		return alias
	}
	return Field(name)
}

func (f Field) Known() bool {
	c := f.Canonical()
	for _, known := range Fields {
		if c == known {
			return true
		}
	}
	return false
}

func (o Operator) Known() bool {
	for _, known := range Operators {
		if o == known {
			return true
		}
	}
	return false
}

// ML reports whether the operator is an injection classifier that takes no value.
func (o Operator) ML() bool {
	return o == OpLibInjectionSQL || o == OpLibInjectionXSS
}

func (o Operator) Numeric() bool {
	switch o {
	case OpGreater, OpGreaterOrEqual, OpLess, OpLessOrEqual:
		return true
	default:
		return false
	}
}

// List reports whether the operator takes a comma separated value list.
func (o Operator) List() bool {
	return o == OpIn || o == OpNotIn
}

func (t Transform) Known() bool {
	for _, known := range Transforms {
		if t == known {
			return true
		}
	}
	return false
}

// Problem returns why the condition is malformed, or "" when it is usable.
func (c Condition) Problem() string {
	switch {
	case strings.TrimSpace(string(c.Field)) == "":
		return "field is required"
	case strings.TrimSpace(string(c.Operator)) == "":
		return "operator is required"
	case !c.Field.Known():
		return "unknown field " + string(c.Field)
	case !c.Operator.Known():
		return "unknown operator " + string(c.Operator)
	case c.Value == "" && !c.Operator.ML():
		return "value is required for operator " + string(c.Operator)
	case c.Field.Canonical() == FieldHeader && strings.TrimSpace(c.Header) == "":
		return "header name is required for field header"
	}
	for _, t := range c.Transforms {
		if !t.Known() {
			return "unknown transform " + string(t)
		}
	}
	return ""
}

// SplitList splits a comma separated value into trimmed, non-empty items.
func SplitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
