// Package checkdef models stored check definitions as a tagged union:
// one kind tag plus a kind-specific parameter map decoded on demand.
package checkdef

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// Kind discriminates the check variants.
type Kind string

const (
	KindPing       Kind = "PING"
	KindRegistry   Kind = "REGISTRY_CHECK"
	KindFile       Kind = "FILE_CHECK"
	KindService    Kind = "SERVICE_CHECK"
	KindSystemInfo Kind = "SYSTEM_INFO"
	KindUserInfo   Kind = "USER_INFO"
	KindCustom     Kind = "CUSTOM_SCRIPT"
)

// ParseKind validates a kind string.
func ParseKind(raw string) (Kind, error) {
	k := Kind(strings.ToUpper(strings.TrimSpace(raw)))
	switch k {
	case KindPing, KindRegistry, KindFile, KindService, KindSystemInfo, KindUserInfo, KindCustom:
		return k, nil
	}
	return "", fmt.Errorf("unknown check kind %q", raw)
}

// Definition is one stored check.
type Definition struct {
	ID       string
	Kind     Kind
	Name     string
	IsActive bool
	Params   map[string]any
}

// RegistryParams parameterizes a registry check.
type RegistryParams struct {
	Path          string  `mapstructure:"path"`
	ValueName     string  `mapstructure:"valueName"`
	ExpectedValue *string `mapstructure:"expectedValue"`
}

// FileParams parameterizes a file/path check. CheckExists defaults to true
// when absent.
type FileParams struct {
	Path        string `mapstructure:"path"`
	CheckExists *bool  `mapstructure:"checkExists"`
}

// ExpectExists reports whether the check expects the path to be present.
func (p FileParams) ExpectExists() bool {
	return p.CheckExists == nil || *p.CheckExists
}

// ServiceParams parameterizes a service lookup. At least one of the two
// fields should be set.
type ServiceParams struct {
	ServiceName    string `mapstructure:"serviceName"`
	ExecutablePath string `mapstructure:"executablePath"`
}

// UserInfoParams selects which user lookup variant to run.
type UserInfoParams struct {
	Mode UserInfoMode `mapstructure:"mode"`
}

// UserInfoMode enumerates the user lookup variants.
type UserInfoMode string

const (
	UserInfoCurrentAndLast UserInfoMode = "CURRENT_AND_LAST"
	UserInfoCurrentOnly    UserInfoMode = "CURRENT_ONLY"
	UserInfoLastOnly       UserInfoMode = "LAST_ONLY"
)

// Normalized returns the mode with the default applied.
func (p UserInfoParams) Normalized() UserInfoMode {
	switch UserInfoMode(strings.ToUpper(strings.TrimSpace(string(p.Mode)))) {
	case UserInfoCurrentOnly:
		return UserInfoCurrentOnly
	case UserInfoLastOnly:
		return UserInfoLastOnly
	default:
		return UserInfoCurrentAndLast
	}
}

// CustomParams parameterizes a custom script check: an operator-supplied
// script whose JSON output is checked against assertions.
type CustomParams struct {
	Script     string      `mapstructure:"script"`
	Assertions []Assertion `mapstructure:"assertions"`
}

// Assertion expresses an expectation over the parsed probe payload.
// Kind "jsonpath" uses Path/Op/Value; kind "expr" evaluates Expr over the
// payload's top-level fields.
type Assertion struct {
	Kind  string `mapstructure:"kind"`
	Op    string `mapstructure:"op"`
	Path  string `mapstructure:"path"`
	Value any    `mapstructure:"value"`
	Expr  string `mapstructure:"expr"`
}

// Registry decodes the registry parameter set.
func (d Definition) Registry() (RegistryParams, error) {
	var p RegistryParams
	return p, decode(d, &p)
}

// File decodes the file parameter set.
func (d Definition) File() (FileParams, error) {
	var p FileParams
	return p, decode(d, &p)
}

// Service decodes the service parameter set.
func (d Definition) Service() (ServiceParams, error) {
	var p ServiceParams
	return p, decode(d, &p)
}

// UserInfo decodes the user-info parameter set.
func (d Definition) UserInfo() (UserInfoParams, error) {
	var p UserInfoParams
	return p, decode(d, &p)
}

// Custom decodes the custom script parameter set.
func (d Definition) Custom() (CustomParams, error) {
	var p CustomParams
	return p, decode(d, &p)
}

func decode(d Definition, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("build decoder: %w", err)
	}
	if err := dec.Decode(d.Params); err != nil {
		return fmt.Errorf("decode %s params for check %q: %w", d.Kind, d.Name, err)
	}
	return nil
}
