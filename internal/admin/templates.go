// Package admin serves the Tailscale-only management portal: collection and
// product administration, API key management, and the one-time setup and
// login flows.
package admin

import (
	"embed"
	"html/template"
	"io"
	"time"

	"github.com/shopspring/decimal"
)

//go:embed templates/*.html static/*
var content embed.FS

// Render renders a template with the given data.
func Render(w io.Writer, name string, data any) error {
	tmpl, err := template.New("base.html").Funcs(template.FuncMap{
		"formatTime": func(t time.Time) string {
			return t.Format(time.RFC3339)
		},
		"money": func(d decimal.Decimal) string {
			return d.StringFixed(2)
		},
	}).ParseFS(content, "templates/base.html", "templates/"+name)
	if err != nil {
		return err
	}
	return tmpl.Execute(w, data)
}
