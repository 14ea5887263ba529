package api_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/ashita-ai/agentrelay/api"
)

type document struct {
	OpenAPI string                    `yaml:"openapi"`
	Paths   map[string]map[string]any `yaml:"paths"`
}

func TestOpenAPISpecParses(t *testing.T) {
	require.NotEmpty(t, api.OpenAPISpec)

	var doc document
	require.NoError(t, yaml.Unmarshal(api.OpenAPISpec, &doc))
	assert.Equal(t, "3.1.0", doc.OpenAPI)
}

// Every route the server registers is documented.
func TestOpenAPISpecCoversRoutes(t *testing.T) {
	var doc document
	require.NoError(t, yaml.Unmarshal(api.OpenAPISpec, &doc))

	routes := map[string][]string{
		"/api/health":                        {"get"},
		"/api/openapi.yaml":                  {"get"},
		"/api/agents":                        {"get", "post"},
		"/api/agents/{id}":                   {"get", "put", "delete"},
		"/api/agents/{id}/status":            {"get"},
		"/api/messages":                      {"get", "post"},
		"/api/messages/stream":               {"get"},
		"/api/messages/conversation/{a}/{b}": {"get"},
		"/api/messages/{id}":                 {"get", "delete"},
		"/api/messages/{id}/status":          {"patch"},
		"/api/admin/reindex":                 {"post"},
	}
	for path, methods := range routes {
		item, ok := doc.Paths[path]
		if !assert.Truef(t, ok, "path %s missing", path) {
			continue
		}
		for _, m := range methods {
			assert.Containsf(t, item, m, "%s %s missing", m, path)
		}
	}
	assert.Len(t, doc.Paths, len(routes), "document lists a route the server does not serve")
}
