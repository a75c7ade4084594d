// Package swaggerui serves an OpenAPI document and a Swagger UI page for it.
package swaggerui

import (
	"html/template"
	"net/http"

	"go.uber.org/fx"
)

const (
	defaultRoute = "/swagger"
	specPath     = "/openapi.yaml"
)

type Config struct {
	OpenAPIContent []byte
	// Route is where the UI is served, "/swagger" by default.
	Route string
}

var page = template.Must(template.New("swagger").Parse(`<!DOCTYPE html>
<html>
<head>
  <title>Swagger UI</title>
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    SwaggerUIBundle({ url: '{{.}}', dom_id: '#swagger-ui' });
  </script>
</body>
</html>`))

// NewSwaggerModule registers GET /openapi.yaml and the UI route on the
// server mux.
func NewSwaggerModule(cfg Config) fx.Option {
	return fx.Invoke(func(mux *http.ServeMux) {
		register(mux, cfg)
	})
}

func register(mux *http.ServeMux, cfg Config) {
	route := cfg.Route
	if route == "" {
		route = defaultRoute
	}

	mux.HandleFunc("GET "+specPath, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		_, _ = w.Write(cfg.OpenAPIContent)
	})
	mux.HandleFunc("GET "+route, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_ = page.Execute(w, specPath)
	})
}
