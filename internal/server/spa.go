package server

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/femildignizant/tambola/internal/tambola"
)

// handleSPA serves the web client from dir. Paths that are not real files
// get index.html so the client router can resolve /play/{code} and friends.
// Unknown /api paths stay JSON 404s.
func handleSPA(dir string) http.HandlerFunc {
	fileServer := http.FileServer(http.Dir(dir))

	return func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			writeCodeError(w, http.StatusNotFound, tambola.CodeNotFound, "no such endpoint")
			return
		}

		path := filepath.Join(dir, filepath.Clean("/"+r.URL.Path))
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			if strings.HasPrefix(r.URL.Path, "/assets/") {
				w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
			}
			fileServer.ServeHTTP(w, r)
			return
		}

		w.Header().Set("Cache-Control", "no-cache")
		http.ServeFile(w, r, filepath.Join(dir, "index.html"))
	}
}
