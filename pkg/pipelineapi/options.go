package pipelineapi

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// OptionType enumerates the value types an algorithm option may declare.
type OptionType string

const (
	OptionString   OptionType = "string"
	OptionInteger  OptionType = "integer"
	OptionNumber   OptionType = "number"
	OptionBoolean  OptionType = "boolean"
	OptionDuration OptionType = "duration"
)

// FailurePolicyOption is the reserved option every algorithm accepts.
const FailurePolicyOption = "failure_policy"

// OptionSpec declares one algorithm-owned configuration option.
type OptionSpec struct {
	Name        string     `json:"name" toml:"name"`
	Type        OptionType `json:"type" toml:"type"`
	Required    bool       `json:"required,omitempty" toml:"required,omitempty"`
	Description string     `json:"description,omitempty" toml:"description,omitempty"`
	Unit        string     `json:"unit,omitempty" toml:"unit,omitempty"`
	Enum        []string   `json:"enum,omitempty" toml:"enum,omitempty"`
	Default     any        `json:"default,omitempty" toml:"default,omitempty"`
}

// OptionError describes a single invalid or undeclared option.
type OptionError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

func (e OptionError) Error() string {
	return fmt.Sprintf("option %s: %s", e.Name, e.Message)
}

// OptionErrors aggregates option validation failures.
type OptionErrors []OptionError

func (e OptionErrors) Error() string {
	msgs := make([]string, len(e))
	for i, oe := range e {
		msgs[i] = oe.Error()
	}
	return "invalid options: " + strings.Join(msgs, "; ")
}

// PolicySpec describes the reserved failure policy option.
func PolicySpec() OptionSpec {
	return OptionSpec{
		Name:        FailurePolicyOption,
		Type:        OptionString,
		Description: "per-item error handling for batch runs",
		Enum:        []string{string(PolicyAbort), string(PolicyCollect)},
		Default:     string(PolicyAbort),
	}
}

// ValidateSpecs checks declarations in isolation.
func ValidateSpecs(specs []OptionSpec) error {
	seen := make(map[string]struct{}, len(specs))
	for _, spec := range specs {
		name := strings.ToLower(strings.TrimSpace(spec.Name))
		if name == "" {
			return errors.New("pipelineapi: option name required")
		}
		if name == FailurePolicyOption {
			return fmt.Errorf("pipelineapi: option %s is reserved", FailurePolicyOption)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("pipelineapi: option %s declared twice", spec.Name)
		}
		seen[name] = struct{}{}
		switch spec.Type {
		case OptionString, OptionInteger, OptionNumber, OptionBoolean, OptionDuration:
		default:
			return fmt.Errorf("pipelineapi: option %s has unsupported type %q", spec.Name, spec.Type)
		}
		if spec.Default != nil {
			if _, err := coerceOption(spec, spec.Default); err != nil {
				return fmt.Errorf("pipelineapi: option %s default: %w", spec.Name, err)
			}
		}
	}
	return nil
}

// ValidateOptions checks supplied values against the declared specs plus the
// reserved failure policy, applies defaults and coerces values to their
// declared type. Names match case-insensitively; undeclared names are errors.
func ValidateOptions(specs []OptionSpec, supplied map[string]any) (Options, error) {
	all := append(append([]OptionSpec(nil), specs...), PolicySpec())
	cleaned := make(Options, len(all))
	var errs OptionErrors
	provided := make(map[string]string, len(supplied))
	for k := range supplied {
		provided[strings.ToLower(k)] = k
	}
	for _, spec := range all {
		key := strings.ToLower(spec.Name)
		original, ok := provided[key]
		if !ok {
			if spec.Required {
				errs = append(errs, OptionError{Name: spec.Name, Message: "required option missing"})
				continue
			}
			if spec.Default != nil {
				coerced, err := coerceOption(spec, spec.Default)
				if err != nil {
					errs = append(errs, OptionError{Name: spec.Name, Message: "invalid default: " + err.Error()})
					continue
				}
				cleaned[spec.Name] = coerced
			}
			continue
		}
		delete(provided, key)
		coerced, err := coerceOption(spec, supplied[original])
		if err != nil {
			errs = append(errs, OptionError{Name: spec.Name, Message: err.Error()})
			continue
		}
		cleaned[spec.Name] = coerced
	}
	for _, original := range provided {
		errs = append(errs, OptionError{Name: original, Message: "option not declared"})
	}
	if len(errs) > 0 {
		sort.Slice(errs, func(i, j int) bool { return errs[i].Name < errs[j].Name })
		return nil, errs
	}
	return cleaned, nil
}

func coerceOption(spec OptionSpec, raw any) (any, error) {
	if raw == nil {
		return nil, errors.New("value cannot be null")
	}
	switch spec.Type {
	case OptionString:
		var s string
		switch v := raw.(type) {
		case string:
			s = v
		case fmt.Stringer:
			s = v.String()
		default:
			return nil, errors.New("expects string")
		}
		if len(spec.Enum) > 0 && !containsString(spec.Enum, s) {
			return nil, fmt.Errorf("value must be one of: %s", strings.Join(spec.Enum, ", "))
		}
		return s, nil
	case OptionInteger:
		switch v := raw.(type) {
		case int:
			return v, nil
		case int32:
			return int(v), nil
		case int64:
			return int(v), nil
		case float64:
			if v != float64(int(v)) {
				return nil, errors.New("expects integer")
			}
			return int(v), nil
		case string:
			parsed, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return nil, errors.New("expects integer")
			}
			return parsed, nil
		default:
			return nil, errors.New("expects integer")
		}
	case OptionNumber:
		switch v := raw.(type) {
		case float32:
			return float64(v), nil
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		case string:
			parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return nil, errors.New("expects number")
			}
			return parsed, nil
		default:
			return nil, errors.New("expects number")
		}
	case OptionBoolean:
		switch v := raw.(type) {
		case bool:
			return v, nil
		case string:
			parsed, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return nil, errors.New("expects boolean")
			}
			return parsed, nil
		default:
			return nil, errors.New("expects boolean")
		}
	case OptionDuration:
		switch v := raw.(type) {
		case time.Duration:
			return v, nil
		case string:
			parsed, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				return nil, errors.New("expects duration such as 250ms")
			}
			return parsed, nil
		default:
			return nil, errors.New("expects duration")
		}
	default:
		return nil, fmt.Errorf("unsupported option type %q", spec.Type)
	}
}

func containsString(list []string, target string) bool {
	for _, candidate := range list {
		if candidate == target {
			return true
		}
	}
	return false
}

// Options holds validated, type-coerced option values keyed by declared name.
type Options map[string]any

// String returns a string option or fallback.
func (o Options) String(name, fallback string) string {
	if v, ok := o[name].(string); ok {
		return v
	}
	return fallback
}

// Int returns an integer option or fallback.
func (o Options) Int(name string, fallback int) int {
	if v, ok := o[name].(int); ok {
		return v
	}
	return fallback
}

// Float returns a number option or fallback.
func (o Options) Float(name string, fallback float64) float64 {
	if v, ok := o[name].(float64); ok {
		return v
	}
	return fallback
}

// Bool returns a boolean option or fallback.
func (o Options) Bool(name string, fallback bool) bool {
	if v, ok := o[name].(bool); ok {
		return v
	}
	return fallback
}

// Duration returns a duration option or fallback.
func (o Options) Duration(name string, fallback time.Duration) time.Duration {
	if v, ok := o[name].(time.Duration); ok {
		return v
	}
	return fallback
}

// FailurePolicy returns the configured failure policy, PolicyAbort by default.
func (o Options) FailurePolicy() FailurePolicy {
	if FailurePolicy(o.String(FailurePolicyOption, "")) == PolicyCollect {
		return PolicyCollect
	}
	return PolicyAbort
}

var _ PolicyProvider = Options(nil)
