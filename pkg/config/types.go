// Package config defines backend definitions and their on-disk representation.
package config

import "strings"

// Transport selects how the gateway talks to a backend server.
type Transport string

const (
	TransportHTTP  Transport = "http"
	TransportStdio Transport = "stdio"
)

// Spec describes how to reach a backend server. Exactly one connection style
// applies: URL for HTTP backends, Command for stdio process backends.
type Spec struct {
	Transport Transport         `yaml:"transport,omitempty" json:"transport,omitempty"`
	URL       string            `yaml:"url,omitempty" json:"url,omitempty"`
	Command   []string          `yaml:"command,omitempty" json:"command,omitempty"`
	WorkDir   string            `yaml:"workDir,omitempty" json:"workDir,omitempty"`
	Env       map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
}

// Backend is a single backend server definition. Name is the immutable
// identity; everything else may change over the definition's lifetime.
type Backend struct {
	Name     string            `yaml:"name" json:"name"`
	Prefix   string            `yaml:"prefix,omitempty" json:"prefix,omitempty"`
	Enabled  bool              `yaml:"enabled" json:"enabled"`
	Spec     Spec              `yaml:"spec" json:"spec"`
	Notes    string            `yaml:"notes,omitempty" json:"notes,omitempty"`
	Metadata map[string]string `yaml:"metadata,omitempty" json:"metadata,omitempty"`
	// Origin tags definitions introduced by a kit. Empty means the operator
	// created the definition directly.
	Origin string `yaml:"origin,omitempty" json:"origin,omitempty"`
}

// IsStdio reports whether the backend is reached by spawning a process.
func (s *Spec) IsStdio() bool {
	return s.Transport == TransportStdio || (s.Transport == "" && len(s.Command) > 0)
}

// SetDefaults fills in the transport when it can be inferred from the
// connection fields.
func (b *Backend) SetDefaults() {
	if b.Spec.Transport == "" {
		if len(b.Spec.Command) > 0 {
			b.Spec.Transport = TransportStdio
		} else if b.Spec.URL != "" {
			b.Spec.Transport = TransportHTTP
		}
	}
}

// Clone returns a deep copy of the definition.
func (b Backend) Clone() Backend {
	out := b
	if b.Spec.Command != nil {
		out.Spec.Command = append([]string(nil), b.Spec.Command...)
	}
	if b.Spec.Env != nil {
		out.Spec.Env = make(map[string]string, len(b.Spec.Env))
		for k, v := range b.Spec.Env {
			out.Spec.Env[k] = v
		}
	}
	if b.Metadata != nil {
		out.Metadata = make(map[string]string, len(b.Metadata))
		for k, v := range b.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// Equal reports whether two definitions are equivalent field by field.
func Equal(a, b Backend) bool {
	return a.Name == b.Name &&
		a.Prefix == b.Prefix &&
		a.Enabled == b.Enabled &&
		a.Notes == b.Notes &&
		a.Origin == b.Origin &&
		SpecEqual(a.Spec, b.Spec) &&
		stringMapEqual(a.Metadata, b.Metadata)
}

// SpecEqual reports whether two connection specs are equivalent. A spec
// change forces the pool to tear down and redial the backend.
func SpecEqual(a, b Spec) bool {
	return a.Transport == b.Transport &&
		a.URL == b.URL &&
		a.WorkDir == b.WorkDir &&
		stringSliceEqual(a.Command, b.Command) &&
		stringMapEqual(a.Env, b.Env)
}

func stringSliceEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func stringMapEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

// Normalize applies defaults to every definition in place: transport
// inference and prefix derivation. Definitions compare equal across the
// store boundary only after normalization.
func Normalize(backends []Backend) {
	for i := range backends {
		backends[i].SetDefaults()
		if backends[i].Prefix == "" {
			backends[i].Prefix = DerivePrefix(backends[i].Name)
		}
	}
}

// DerivePrefix generates a namespace prefix from a backend name: lowercase
// alphanumerics only, never starting with a digit. Used when a definition is
// created without an explicit prefix.
func DerivePrefix(name string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			sb.WriteRune(r)
		}
	}
	prefix := sb.String()
	if prefix == "" {
		return "backend"
	}
	if prefix[0] >= '0' && prefix[0] <= '9' {
		prefix = "srv" + prefix
	}
	if len(prefix) > 30 {
		prefix = prefix[:30]
	}
	return prefix
}
