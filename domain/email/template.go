package email

import (
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"path"
	"slices"
	"strings"

	"github.com/aymerick/raymond"

	"github.com/emergent-company/pilgrimops/pkg/logger"
)

//go:embed templates
var templateFS embed.FS

// Template names shipped with the binary
const (
	TemplatePaymentReminder   = "payment_reminder"
	TemplateSignatureReminder = "signature_reminder"
	TemplateNotification      = "notification"

	defaultLayout = "base"
)

// TemplateContext is the data passed to templates
type TemplateContext map[string]any

// Rendered contains the rendered email content
type Rendered struct {
	HTML string
	Text string
}

// Templates renders Handlebars email templates.
//
// Layout:
//   - layouts/*.hbs wrap content, receiving it as {{{content}}}
//   - *.hbs are the email bodies
type Templates struct {
	log       *slog.Logger
	templates map[string]*raymond.Template
	layouts   map[string]*raymond.Template
}

// NewTemplates parses the embedded templates
func NewTemplates(log *slog.Logger) (*Templates, error) {
	sub, err := fs.Sub(templateFS, "templates")
	if err != nil {
		return nil, fmt.Errorf("open embedded templates: %w", err)
	}
	return NewTemplatesFS(sub, log)
}

// NewTemplatesFS parses templates from fsys
func NewTemplatesFS(fsys fs.FS, log *slog.Logger) (*Templates, error) {
	t := &Templates{
		log:       log.With(logger.Scope("email.template")),
		templates: make(map[string]*raymond.Template),
		layouts:   make(map[string]*raymond.Template),
	}
	if err := t.load(fsys, ".", t.templates); err != nil {
		return nil, err
	}
	if err := t.load(fsys, "layouts", t.layouts); err != nil {
		return nil, err
	}

	t.log.Debug("loaded email templates",
		slog.Int("templates", len(t.templates)),
		slog.Int("layouts", len(t.layouts)))
	return t, nil
}

func (t *Templates) load(fsys fs.FS, dir string, into map[string]*raymond.Template) error {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return fmt.Errorf("read template dir %s: %w", dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".hbs") {
			continue
		}
		content, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return fmt.Errorf("read template %s: %w", entry.Name(), err)
		}
		tmpl, err := raymond.Parse(string(content))
		if err != nil {
			return fmt.Errorf("parse template %s: %w", entry.Name(), err)
		}
		into[strings.TrimSuffix(entry.Name(), ".hbs")] = tmpl
	}
	return nil
}

// Has reports whether a template exists
func (t *Templates) Has(name string) bool {
	_, ok := t.templates[name]
	return ok
}

// Names returns all template names, sorted
func (t *Templates) Names() []string {
	return slices.Sorted(maps.Keys(t.templates))
}

// Render renders the named template inside the base layout
func (t *Templates) Render(name string, ctx TemplateContext) (*Rendered, error) {
	tmpl, ok := t.templates[name]
	if !ok {
		return nil, fmt.Errorf("email template %q not found", name)
	}

	content, err := tmpl.Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to render template %s: %w", name, err)
	}

	if layout, ok := t.layouts[defaultLayout]; ok {
		layoutCtx := maps.Clone(ctx)
		if layoutCtx == nil {
			layoutCtx = TemplateContext{}
		}
		layoutCtx["content"] = raymond.SafeString(content)
		content, err = layout.Exec(layoutCtx)
		if err != nil {
			return nil, fmt.Errorf("failed to render layout %s: %w", defaultLayout, err)
		}
	}

	return &Rendered{HTML: content, Text: plainText(ctx)}, nil
}

// plainText creates a plain text version from common context fields
func plainText(ctx TemplateContext) string {
	if text, ok := ctx["plainText"].(string); ok && text != "" {
		return text
	}

	var parts []string
	for _, key := range []string{"title", "message"} {
		if v, ok := ctx[key].(string); ok && v != "" {
			parts = append(parts, v, "")
		}
	}
	if cta, ok := ctx["ctaUrl"].(string); ok && cta != "" {
		parts = append(parts, fmt.Sprintf("Link: %s", cta), "")
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}
