package skills

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/hashicorp/go-multierror"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Field limits for the manifest header.
const (
	MaxNameLength          = 64
	MaxDescriptionLength   = 1024
	MaxCompatibilityLength = 500
)

const allowedToolsKey = "allowed-tools"

var (
	namePattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,62}[a-z0-9])?$`)

	recognizedKeys = map[string]bool{
		"name":          true,
		"description":   true,
		"license":       true,
		"compatibility": true,
		"metadata":      true,
		allowedToolsKey: true,
	}
)

// Manifest is the validated header of a skill package.
type Manifest struct {
	Name          string            `yaml:"name" json:"name" mapstructure:"name" jsonschema:"required,minLength=1,maxLength=64,description=Unique lowercase hyphenated identifier matching the package directory"`
	Description   string            `yaml:"description" json:"description" mapstructure:"description" jsonschema:"required,minLength=1,maxLength=1024,description=What the skill does and when to use it"`
	License       string            `yaml:"license,omitempty" json:"license,omitempty" mapstructure:"license" jsonschema:"description=License name or reference to a bundled license file"`
	Compatibility string            `yaml:"compatibility,omitempty" json:"compatibility,omitempty" mapstructure:"compatibility" jsonschema:"maxLength=500,description=Environment requirements"`
	Metadata      map[string]string `yaml:"metadata,omitempty" json:"metadata,omitempty" mapstructure:"metadata" jsonschema:"description=Arbitrary string key/value pairs"`
	AllowedTools  *AllowedTools     `yaml:"allowed-tools,omitempty" json:"allowed-tools,omitempty" mapstructure:"-"`
}

// AllowedTools keeps the allowed-tools field in the form it was written:
// either a single delimited string or an explicit list. The field is advisory
// and is never enforced here.
type AllowedTools struct {
	Value  string
	Items  []string
	IsList bool
}

// Tools returns the individual tool names. A single string is split on
// whitespace and commas.
func (a *AllowedTools) Tools() []string {
	if a == nil {
		return nil
	}
	if a.IsList {
		return append([]string(nil), a.Items...)
	}
	return strings.FieldsFunc(a.Value, func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	})
}

// MarshalYAML writes the field back in its original shape.
func (a AllowedTools) MarshalYAML() (any, error) {
	if a.IsList {
		return a.Items, nil
	}
	return a.Value, nil
}

// MarshalJSON writes the field back in its original shape.
func (a AllowedTools) MarshalJSON() ([]byte, error) {
	if a.IsList {
		return marshalJSON(a.Items)
	}
	return marshalJSON(a.Value)
}

func parseAllowedTools(v any) (*AllowedTools, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		return &AllowedTools{Value: t}, nil
	case []any:
		items := make([]string, 0, len(t))
		for i, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, errors.Errorf("%s[%d] must be a string", allowedToolsKey, i)
			}
			items = append(items, s)
		}
		return &AllowedTools{Items: items, IsList: true}, nil
	default:
		return nil, errors.Errorf("%s must be a string or a list of strings", allowedToolsKey)
	}
}

// ValidationErrors aggregates every problem found in a manifest header.
type ValidationErrors struct {
	merr *multierror.Error
}

func (v *ValidationErrors) Error() string {
	return v.merr.Error()
}

// Errors returns the individual validation failures.
func (v *ValidationErrors) Errors() []error {
	return v.merr.WrappedErrors()
}

func (v *ValidationErrors) add(err error) {
	v.merr = multierror.Append(v.merr, err)
}

func (v *ValidationErrors) errorOrNil() error {
	if v.merr == nil || len(v.merr.Errors) == 0 {
		return nil
	}
	v.merr.ErrorFormat = formatValidationErrors
	return v
}

func formatValidationErrors(errs []error) string {
	msgs := make([]string, len(errs))
	for i, err := range errs {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// ValidateName checks a package name against the naming rules. It is used by
// the manifest validator and independently by the plugin installer, since the
// declared name becomes a directory name.
func ValidateName(name string) error {
	switch {
	case name == "":
		return errors.New("name is required")
	case len(name) > MaxNameLength:
		return errors.Errorf("name must be at most %d characters, got %d", MaxNameLength, len(name))
	case strings.ToLower(name) != name:
		return errors.Errorf("name %q must be lowercase", name)
	case strings.HasPrefix(name, "-") || strings.HasSuffix(name, "-"):
		return errors.Errorf("name %q must not start or end with a hyphen", name)
	case strings.Contains(name, "--"):
		return errors.Errorf("name %q must not contain consecutive hyphens", name)
	case !namePattern.MatchString(name):
		return errors.Errorf("name %q may only contain lowercase letters, digits and hyphens", name)
	}
	return nil
}

// NameMatchesDirectory reports a mismatch between the declared name and the
// directory holding the package. It is applied after parsing rather than as
// part of the schema so that installers can rename instead of reject.
func NameMatchesDirectory(manifestName, directoryName string) error {
	if manifestName == directoryName {
		return nil
	}
	return errors.Errorf("skill name %q does not match directory name %q", manifestName, directoryName)
}

// Validate checks a decoded header against the manifest schema. The schema is
// closed: unknown keys produce a single aggregated error naming all of them.
// On failure the returned error is a *ValidationErrors.
func Validate(raw map[string]any) (*Manifest, error) {
	verr := &ValidationErrors{}

	fields := make(map[string]any, len(raw))
	for k, v := range raw {
		if k == allowedToolsKey {
			continue
		}
		fields[k] = v
	}

	var m Manifest
	var md mapstructure.Metadata
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:    &m,
		Metadata:  &md,
		MatchName: func(mapKey, fieldName string) bool { return mapKey == fieldName },
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create manifest decoder")
	}
	if err := decoder.Decode(fields); err != nil {
		var merr *mapstructure.Error
		if errors.As(err, &merr) {
			for _, msg := range merr.Errors {
				verr.add(errors.New(msg))
			}
		} else {
			verr.add(err)
		}
	}

	// An empty metadata mapping is the same as none.
	if len(m.Metadata) == 0 {
		m.Metadata = nil
	}

	if tools, err := parseAllowedTools(raw[allowedToolsKey]); err != nil {
		verr.add(err)
	} else {
		m.AllowedTools = tools
	}

	if err := ValidateName(m.Name); err != nil {
		verr.add(err)
	}

	switch {
	case strings.TrimSpace(m.Description) == "":
		verr.add(errors.New("description is required"))
	case utf8.RuneCountInString(m.Description) > MaxDescriptionLength:
		verr.add(errors.Errorf("description must be at most %d characters, got %d",
			MaxDescriptionLength, utf8.RuneCountInString(m.Description)))
	}

	if n := utf8.RuneCountInString(m.Compatibility); n > MaxCompatibilityLength {
		verr.add(errors.Errorf("compatibility must be at most %d characters, got %d", MaxCompatibilityLength, n))
	}

	var unknown []string
	for _, key := range md.Unused {
		if !recognizedKeys[key] {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		verr.add(errors.Errorf("unrecognized key(s) in header: %s", strings.Join(unknown, ", ")))
	}

	if err := verr.errorOrNil(); err != nil {
		return nil, err
	}
	return &m, nil
}

// MarshalHeader renders the manifest as YAML header content in canonical key
// order. Parsing the output yields an identical Manifest.
func (m *Manifest) MarshalHeader() ([]byte, error) {
	out, err := yaml.Marshal(m)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal manifest")
	}
	return out, nil
}
