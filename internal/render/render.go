package render

import (
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/valyala/bytebufferpool"
)

//go:embed templates/mail/*.html
var embedFS embed.FS

var (
	embedTemplate *template.Template
	templateDir   string
	globalVars    map[string]interface{}
)

// Initialize loads the embedded mail templates. When tmplDir is set, templates
// found there take precedence and are read on every render.
func Initialize(gVars map[string]interface{}, tmplDir string) error {
	globalVars = gVars
	templateDir = ""
	if tmplDir != "" {
		info, err := os.Stat(tmplDir)
		if err != nil {
			return fmt.Errorf("template directory does not exist: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("template path is not a directory: %s", tmplDir)
		}
		templateDir = tmplDir
	}
	return initEmbeddedTemplates()
}

// initEmbeddedTemplates names each template by its path under templates/,
// e.g. "mail/lockout-notice.html".
func initEmbeddedTemplates() error {
	root := template.New("")
	err := fs.WalkDir(embedFS, "templates", func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(d.Name(), ".html") {
			return err
		}
		content, err := embedFS.ReadFile(path)
		if err != nil {
			return err
		}
		_, err = root.New(strings.TrimPrefix(path, "templates/")).Parse(string(content))
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to parse embedded templates: %w", err)
	}
	embedTemplate = root
	return nil
}

func renderFromDir(buf *bytebufferpool.ByteBuffer, templateName string, vars map[string]interface{}) error {
	contents, err := os.ReadFile(filepath.Join(templateDir, templateName))
	if err != nil {
		return err
	}
	tmpl, err := template.New(templateName).Parse(string(contents))
	if err != nil {
		return err
	}
	return tmpl.Execute(buf, vars)
}

func RenderHTML(templateName string, vars map[string]interface{}) (string, error) {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	merged := make(map[string]interface{}, len(globalVars)+len(vars))
	for k, v := range globalVars {
		merged[k] = v
	}
	for k, v := range vars {
		merged[k] = v
	}
	if !strings.HasSuffix(templateName, ".html") {
		templateName += ".html"
	}

	if templateDir != "" {
		err := renderFromDir(buf, templateName, merged)
		if err == nil {
			return buf.String(), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("Render template failed, falling back to embedded", "template", templateName, "error", err)
		}
		buf.Reset()
	}

	if embedTemplate == nil {
		return "", fmt.Errorf("templates not initialized")
	}
	if err := embedTemplate.ExecuteTemplate(buf, templateName, merged); err != nil {
		return "", err
	}
	return buf.String(), nil
}
