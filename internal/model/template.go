package model

// Metadata is the template manifest parsed from meta.yaml. Description
// and Preview hold repository-relative file paths, not inline content.
type Metadata struct {
	Title       string         `yaml:"title" json:"title"`
	Description string         `yaml:"description,omitempty" json:"description,omitempty"`
	Preview     string         `yaml:"preview,omitempty" json:"preview,omitempty"`
	Tags        []string       `yaml:"tags,omitempty" json:"tags,omitempty"`
	Attributes  map[string]any `yaml:"attributes,omitempty" json:"attributes,omitempty"`
}

// VariableType classifies a template variable. Unknown values parse as
// TypeAutoDetect.
type VariableType string

const (
	TypeAutoDetect       VariableType = "auto-detect"
	TypeInt              VariableType = "int"
	TypeFloat            VariableType = "float"
	TypeBool             VariableType = "bool"
	TypeString           VariableType = "string"
	TypeInputFilePath    VariableType = "input-file-path"
	TypeOutputFilePath   VariableType = "output-file-path"
	TypeInputFolderPath  VariableType = "input-folder-path"
	TypeOutputFolderPath VariableType = "output-folder-path"
)

// Valid reports whether t is one of the supported variable types.
func (t VariableType) Valid() bool {
	switch t {
	case TypeAutoDetect, TypeInt, TypeFloat, TypeBool, TypeString,
		TypeInputFilePath, TypeOutputFilePath, TypeInputFolderPath, TypeOutputFolderPath:
		return true
	}
	return false
}

// Variable is a user-settable template parameter declared in
// variables.yaml.
type Variable struct {
	Name        string       `yaml:"name" json:"name"`
	Description string       `yaml:"description,omitempty" json:"description,omitempty"`
	Type        VariableType `yaml:"type,omitempty" json:"type,omitempty"`
	Value       any          `yaml:"value,omitempty" json:"value,omitempty"`
	Default     any          `yaml:"default" json:"default"`
}

// EffectiveValue returns Value when set, otherwise Default.
func (v Variable) EffectiveValue() any {
	if v.Value != nil {
		return v.Value
	}
	return v.Default
}

// Variables is an ordered list of template parameters.
type Variables []Variable

// Update sets the current value of every variable named in newValues.
// Names with no matching variable are ignored.
func (vs Variables) Update(newValues map[string]any) {
	for i := range vs {
		if val, ok := newValues[vs[i].Name]; ok {
			vs[i].Value = val
		}
	}
}

// Normalize replaces invalid or empty variable types with
// TypeAutoDetect.
func (vs Variables) Normalize() {
	for i := range vs {
		if !vs[i].Type.Valid() {
			vs[i].Type = TypeAutoDetect
		}
	}
}
