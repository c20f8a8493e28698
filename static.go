package main

import (
	"embed"
	"html/template"
	"io"
	"io/fs"
	"net/http"

	"github.com/labstack/echo/v4"
)

//go:embed static
var staticFiles embed.FS

func getFileSystem() http.FileSystem {
	fsys, err := fs.Sub(staticFiles, "static")
	if err != nil {
		panic(err)
	}

	return http.FS(fsys)
}

func registerStaticHandler(e *echo.Echo) {
	assetHandler := http.FileServer(getFileSystem())
	e.GET("/static/*", echo.WrapHandler(http.StripPrefix("/static/", assetHandler)))
}

// templateRenderer renders the pages embedded under static/.
type templateRenderer struct {
	templates *template.Template
}

func newTemplateRenderer() (*templateRenderer, error) {
	templates, err := template.ParseFS(staticFiles, "static/*.html")
	if err != nil {
		return nil, err
	}
	return &templateRenderer{templates: templates}, nil
}

func (t *templateRenderer) Render(w io.Writer, name string, data interface{}, c echo.Context) error {
	return t.templates.ExecuteTemplate(w, name, data)
}
