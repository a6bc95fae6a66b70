package handlers

import (
	"embed"
	"io/fs"
	"net/http"
)

//go:embed static
var embeddedStatic embed.FS

// frontend serves STATIC_ROOT when configured, the embedded page otherwise
func (h *Handler) frontend() http.Handler {
	if h.staticRoot != "" {
		return http.FileServer(http.Dir(h.staticRoot))
	}
	sub, err := fs.Sub(embeddedStatic, "static")
	if err != nil {
		panic(err)
	}
	return http.FileServer(http.FS(sub))
}
