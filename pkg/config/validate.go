package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var (
	namePattern   = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]*$`)
	prefixPattern = regexp.MustCompile(`^[a-z][a-z0-9]*$`)
)

// Validate checks a single backend definition for structural problems.
func (b *Backend) Validate() error {
	if b.Name == "" {
		return fmt.Errorf("backend name is required")
	}
	if !namePattern.MatchString(b.Name) {
		return fmt.Errorf("invalid backend name %q: must start with a letter and contain only letters, digits, hyphens, and underscores", b.Name)
	}
	if b.Prefix != "" && !prefixPattern.MatchString(b.Prefix) {
		return fmt.Errorf("backend %q: invalid prefix %q: must be lowercase alphanumeric starting with a letter", b.Name, b.Prefix)
	}
	return b.Spec.validate(b.Name)
}

func (s *Spec) validate(name string) error {
	hasURL := s.URL != ""
	hasCmd := len(s.Command) > 0

	switch {
	case hasURL && hasCmd:
		return fmt.Errorf("backend %q: url and command are mutually exclusive", name)
	case !hasURL && !hasCmd:
		return fmt.Errorf("backend %q: one of url or command is required", name)
	}

	switch s.Transport {
	case TransportHTTP, "":
		if hasCmd && s.Transport == TransportHTTP {
			return fmt.Errorf("backend %q: http transport requires url, not command", name)
		}
	case TransportStdio:
		if hasURL {
			return fmt.Errorf("backend %q: stdio transport requires command, not url", name)
		}
	default:
		return fmt.Errorf("backend %q: unknown transport %q", name, s.Transport)
	}

	if hasURL {
		u, err := url.Parse(s.URL)
		if err != nil {
			return fmt.Errorf("backend %q: invalid url: %w", name, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("backend %q: url scheme must be http or https, got %q", name, u.Scheme)
		}
		if u.Host == "" {
			return fmt.Errorf("backend %q: url is missing a host", name)
		}
	}
	if hasCmd && strings.TrimSpace(s.Command[0]) == "" {
		return fmt.Errorf("backend %q: command executable is empty", name)
	}
	return nil
}

// ValidateSet checks a slice of definitions as a whole, catching duplicate
// names and duplicate prefixes among enabled backends on top of per-definition
// validation. Disabled backends may share a prefix.
func ValidateSet(backends []Backend) error {
	seen := make(map[string]struct{}, len(backends))
	prefixes := make(map[string]string, len(backends))
	for i := range backends {
		if err := backends[i].Validate(); err != nil {
			return err
		}
		name := backends[i].Name
		if _, dup := seen[name]; dup {
			return fmt.Errorf("duplicate backend name %q", name)
		}
		seen[name] = struct{}{}

		if backends[i].Enabled && backends[i].Prefix != "" {
			if other, dup := prefixes[backends[i].Prefix]; dup {
				return fmt.Errorf("prefix %q is used by both enabled backends %q and %q", backends[i].Prefix, other, name)
			}
			prefixes[backends[i].Prefix] = name
		}
	}
	return nil
}
