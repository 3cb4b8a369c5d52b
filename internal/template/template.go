// Package template renders the configured command per host.
package template

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"sshmux/internal/target"
)

// Context is the data available to a command template
type Context struct {
	Index       int
	Host        string
	User        string
	Port        int
	Destination string
	Address     string
}

// NewContext builds the template data for the target at index.
func NewContext(index int, t target.Target) Context {
	return Context{
		Index:       index,
		Host:        t.Host,
		User:        t.User,
		Port:        t.EffectivePort(),
		Destination: t.Destination(),
		Address:     t.Address(),
	}
}

// Renderer holds a parsed command template. It is safe for concurrent use.
type Renderer struct {
	tmpl *template.Template
}

// Parse compiles command once so every task can render it.
func Parse(command string) (*Renderer, error) {
	tmpl, err := template.New("command").Funcs(templateFuncs()).Option("missingkey=error").Parse(command)
	if err != nil {
		return nil, fmt.Errorf("failed to parse command template: %w", err)
	}
	return &Renderer{tmpl: tmpl}, nil
}

// Render executes the template for one host.
func (r *Renderer) Render(index int, t target.Target) (string, error) {
	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, NewContext(index, t)); err != nil {
		return "", fmt.Errorf("failed to render command for %s: %w", t.Host, err)
	}
	return buf.String(), nil
}

// IsTemplate checks if a command string contains template syntax
func IsTemplate(command string) bool {
	return strings.Contains(command, "{{") && strings.Contains(command, "}}")
}

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"upper":     strings.ToUpper,
		"lower":     strings.ToLower,
		"title":     cases.Title(language.English).String,
		"trim":      strings.TrimSpace,
		"replace":   strings.ReplaceAll,
		"hasPrefix": strings.HasPrefix,
		"hasSuffix": strings.HasSuffix,

		"default": func(fallback, value string) string {
			if value == "" {
				return fallback
			}
			return value
		},

		"hostShort": func(host string) string {
			if idx := strings.Index(host, "."); idx != -1 {
				return host[:idx]
			}
			return host
		},

		"hostDomain": func(host string) string {
			if idx := strings.Index(host, "."); idx != -1 {
				return host[idx+1:]
			}
			return ""
		},
	}
}
