// Package web embeds the session viewer (dist/) and provides an HTTP handler
// that serves it as a single-page application (SPA).
package web

import (
	"embed"
	"io/fs"
	"log/slog"
	"net/http"
	"path"
	"strings"
)

//go:embed all:dist
var distFS embed.FS

// reservedPrefixes never fall back to index.html, so unknown API or stream
// paths answer 404 instead of the viewer page.
var reservedPrefixes = []string{"api/", "ws", "metrics"}

// SPAHandler returns an http.Handler that serves the embedded viewer.
// Static files come from dist/; any other path gets index.html.
func SPAHandler() http.Handler {
	subFS, err := fs.Sub(distFS, "dist")
	if err != nil {
		panic("web: failed to create sub filesystem: " + err.Error())
	}

	fileServer := http.FileServer(http.FS(subFS))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(path.Clean("/"+r.URL.Path), "/")
		for _, prefix := range reservedPrefixes {
			if strings.HasPrefix(name, prefix) {
				http.NotFound(w, r)
				return
			}
		}
		if name == "" {
			name = "index.html"
		}

		if f, err := subFS.Open(name); err == nil {
			if closeErr := f.Close(); closeErr != nil {
				slog.Debug("web: failed to close embedded file", "path", name, "error", closeErr)
			}
			if name == "index.html" {
				w.Header().Set("Cache-Control", "no-cache")
			}
			fileServer.ServeHTTP(w, r)
			return
		}

		w.Header().Set("Cache-Control", "no-cache")
		r.URL.Path = "/"
		fileServer.ServeHTTP(w, r)
	})
}
