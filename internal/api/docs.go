package api

import (
	_ "embed"
	"net/http"

	yaml "gopkg.in/yaml.v3"
)

//go:embed openapi.yaml
var openAPISpec []byte

// OpenAPIHandler serves the API description as YAML, or as JSON with
// ?format=json.
func (s *Server) OpenAPIHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("format") != "json" {
		w.Header().Set("Content-Type", "application/yaml")
		_, _ = w.Write(openAPISpec)
		return
	}
	var doc map[string]any
	if err := yaml.Unmarshal(openAPISpec, &doc); err != nil {
		writeProblem(w, http.StatusInternalServerError, "OpenAPI parse failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}
