// Package api embeds the OpenAPI specification served at /api/openapi.yaml.
package api

import _ "embed"

// OpenAPISpec is the raw OpenAPI 3.1 YAML document for the relay API.
//
//go:embed openapi.yaml
var OpenAPISpec []byte
