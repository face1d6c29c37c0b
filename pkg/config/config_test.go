package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateBackend(t *testing.T) {
	tests := []struct {
		name    string
		backend Backend
		wantErr string
	}{
		{
			name:    "valid http backend",
			backend: Backend{Name: "calc", Spec: Spec{URL: "http://localhost:9001/mcp"}},
		},
		{
			name:    "valid stdio backend",
			backend: Backend{Name: "files", Spec: Spec{Command: []string{"mcp-files", "--root", "/tmp"}}},
		},
		{
			name:    "missing name",
			backend: Backend{Spec: Spec{URL: "http://localhost:9001"}},
			wantErr: "name is required",
		},
		{
			name:    "bad name",
			backend: Backend{Name: "9calc", Spec: Spec{URL: "http://localhost:9001"}},
			wantErr: "invalid backend name",
		},
		{
			name:    "bad prefix",
			backend: Backend{Name: "calc", Prefix: "Calc.Tools", Spec: Spec{URL: "http://localhost:9001"}},
			wantErr: "invalid prefix",
		},
		{
			name:    "url and command together",
			backend: Backend{Name: "calc", Spec: Spec{URL: "http://localhost:9001", Command: []string{"calc"}}},
			wantErr: "mutually exclusive",
		},
		{
			name:    "neither url nor command",
			backend: Backend{Name: "calc"},
			wantErr: "one of url or command is required",
		},
		{
			name:    "bad scheme",
			backend: Backend{Name: "calc", Spec: Spec{URL: "ftp://localhost:9001"}},
			wantErr: "scheme must be http or https",
		},
		{
			name:    "stdio transport with url",
			backend: Backend{Name: "calc", Spec: Spec{Transport: TransportStdio, URL: "http://localhost:9001"}},
			wantErr: "requires command",
		},
		{
			name:    "unknown transport",
			backend: Backend{Name: "calc", Spec: Spec{Transport: "websocket", URL: "http://localhost:9001"}},
			wantErr: "unknown transport",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.backend.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidateSetDuplicates(t *testing.T) {
	set := []Backend{
		{Name: "calc", Spec: Spec{URL: "http://localhost:9001"}},
		{Name: "calc", Spec: Spec{URL: "http://localhost:9002"}},
	}
	err := ValidateSet(set)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate backend name")
}

func TestValidateSetEnabledPrefixClash(t *testing.T) {
	set := []Backend{
		{Name: "alpha", Prefix: "shared", Enabled: true, Spec: Spec{URL: "http://localhost:9001"}},
		{Name: "beta", Prefix: "shared", Enabled: true, Spec: Spec{URL: "http://localhost:9002"}},
	}
	err := ValidateSet(set)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prefix")

	// Disabled backends may share a prefix.
	set[1].Enabled = false
	assert.NoError(t, ValidateSet(set))
}

func TestSetDefaults(t *testing.T) {
	b := Backend{Name: "files", Spec: Spec{Command: []string{"mcp-files"}}}
	b.SetDefaults()
	assert.Equal(t, TransportStdio, b.Spec.Transport)

	h := Backend{Name: "calc", Spec: Spec{URL: "http://localhost:9001"}}
	h.SetDefaults()
	assert.Equal(t, TransportHTTP, h.Spec.Transport)
}

func TestDerivePrefix(t *testing.T) {
	assert.Equal(t, "calcserver", DerivePrefix("Calc-Server"))
	assert.Equal(t, "srv7zip", DerivePrefix("7zip"))
	assert.Equal(t, "backend", DerivePrefix("---"))
}

func TestCloneIsDeep(t *testing.T) {
	orig := Backend{
		Name:     "calc",
		Spec:     Spec{Command: []string{"calc"}, Env: map[string]string{"A": "1"}},
		Metadata: map[string]string{"team": "infra"},
	}
	cp := orig.Clone()
	cp.Spec.Command[0] = "other"
	cp.Spec.Env["A"] = "2"
	cp.Metadata["team"] = "other"

	assert.Equal(t, "calc", orig.Spec.Command[0])
	assert.Equal(t, "1", orig.Spec.Env["A"])
	assert.Equal(t, "infra", orig.Metadata["team"])
}

func TestEqualDetectsSpecChange(t *testing.T) {
	a := Backend{Name: "calc", Enabled: true, Spec: Spec{URL: "http://localhost:9001"}}
	b := a.Clone()
	assert.True(t, Equal(a, b))

	b.Spec.URL = "http://localhost:9002"
	assert.False(t, Equal(a, b))
	assert.False(t, SpecEqual(a.Spec, b.Spec))
}
