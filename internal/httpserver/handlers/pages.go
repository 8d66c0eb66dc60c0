package handlers

import (
	"embed"
	"html/template"
	"io/fs"
	"net/http"
	"strings"

	"github.com/MrSnakeDoc/smartmark/internal/httpserver/deps"
	"github.com/MrSnakeDoc/smartmark/internal/httpserver/mw"
	"github.com/MrSnakeDoc/smartmark/internal/logger"
)

const appTitle = "Smart Bookmark"

//go:embed web
var webFS embed.FS

var pages = template.Must(template.ParseFS(webFS, "web/*.html"))

type pageData struct {
	Title         string
	Provider      string
	ProviderLabel string
}

func newPageData(d deps.Deps) pageData {
	p := d.Provider
	if p == "" {
		p = "google"
	}
	return pageData{
		Title:         appTitle,
		Provider:      p,
		ProviderLabel: strings.ToUpper(p[:1]) + p[1:],
	}
}

// Landing shows the sign-in page, or sends a signed-in visitor to the dashboard.
func Landing(d deps.Deps) http.HandlerFunc {
	data := newPageData(d)
	return func(w http.ResponseWriter, r *http.Request) {
		if token := mw.Token(r); token != "" {
			if _, ok := d.Guard.Resolve(r.Context(), d.Backend.ForToken(token)); ok {
				http.Redirect(w, r, "/dashboard", http.StatusFound)
				return
			}
		}
		renderPage(w, "index.html", data, d.Logger)
	}
}

// Dashboard serves the list shell; the list itself arrives over the live socket.
func Dashboard(d deps.Deps) http.HandlerFunc {
	data := newPageData(d)
	return func(w http.ResponseWriter, r *http.Request) {
		renderPage(w, "dashboard.html", data, d.Logger)
	}
}

// Static serves the embedded stylesheet and script.
func Static() http.Handler {
	sub, err := fs.Sub(webFS, "web")
	if err != nil {
		panic(err)
	}
	return http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
}

func renderPage(w http.ResponseWriter, name string, data pageData, log logger.Logger) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := pages.ExecuteTemplate(w, name, data); err != nil {
		log.Error("render page failed", logger.String("page", name), logger.Error(err))
	}
}
