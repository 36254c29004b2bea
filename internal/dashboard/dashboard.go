// Package dashboard is the gatecheck status page: the "Status" and
// "Backend Message" lines, the backend URL, and a button that re-runs the
// health-gated fetch.
package dashboard

import (
	"embed"
	"io/fs"
	"net/http"
)

//go:embed assets
var assets embed.FS

// Handler serves the status page. The page reads its state from /api/state
// every two seconds and posts to /api/activate on refresh, so the assets are
// served with no-cache to pick up a new build on reload.
func Handler() http.Handler {
	sub, err := fs.Sub(assets, "assets")
	if err != nil {
		// Unreachable: "assets" is embedded.
		panic(err)
	}
	files := http.FileServer(http.FS(sub))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache")
		files.ServeHTTP(w, r)
	})
}
