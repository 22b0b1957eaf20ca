package web

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"time"

	"github.com/yuin/goldmark"
	"go.uber.org/zap"

	"github.com/ponderer/ponderer/internal/agent"
	"github.com/ponderer/ponderer/internal/errors"
	"github.com/ponderer/ponderer/internal/store"
)

// PageData contains fields shared by every page template.
type PageData struct {
	Title   string
	Version string
	Nav     string
}

// StatusPageData is the template data for the status page.
type StatusPageData struct {
	PageData
	CharacterName string
	Orientation   *store.OrientationSnapshot
	Concerns      []agent.Concern
	JournalCount  int
}

// JournalView pairs an entry with its rendered markdown.
type JournalView struct {
	Entry agent.JournalEntry
	HTML  template.HTML
}

// JournalPageData is the template data for the journal page.
type JournalPageData struct {
	PageData
	Entries []JournalView
}

// ErrorPageData is the template data for the error page.
type ErrorPageData struct {
	PageData
	StatusCode int
	Message    string
}

// Renderer manages template parsing and rendering.
type Renderer struct {
	templates map[string]*template.Template
	version   string
	log       *zap.Logger
}

// NewRenderer parses the page templates from the given FS.
func NewRenderer(templateFS fs.FS, version string, log *zap.Logger) *Renderer {
	funcMap := template.FuncMap{
		"formatTime": formatTime,
	}

	layout := template.Must(template.New("layout").Funcs(funcMap).ParseFS(templateFS, "layout.html"))

	pages := map[string]string{
		"status":  "status.html",
		"journal": "journal.html",
		"error":   "error.html",
	}
	templates := make(map[string]*template.Template, len(pages))
	for name, file := range pages {
		t := template.Must(layout.Clone())
		template.Must(t.ParseFS(templateFS, file))
		templates[name] = t
	}

	return &Renderer{templates: templates, version: version, log: log}
}

func (r *Renderer) renderPage(w http.ResponseWriter, name string, data any) {
	r.renderPageStatus(w, http.StatusOK, name, data)
}

func (r *Renderer) renderPageStatus(w http.ResponseWriter, status int, name string, data any) {
	t, ok := r.templates[name]
	if !ok {
		r.log.Error("template not found", zap.String("name", name))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		r.log.Error("template execution failed", zap.String("name", name), zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

func (r *Renderer) renderError(w http.ResponseWriter, err error) {
	var aErr *errors.AgentError
	if !stderrors.As(err, &aErr) {
		aErr = errors.NewStorage("internal error", err)
	}
	r.renderPageStatus(w, aErr.Status, "error", ErrorPageData{
		PageData: PageData{
			Title:   fmt.Sprintf("Error %d", aErr.Status),
			Version: r.version,
		},
		StatusCode: aErr.Status,
		Message:    aErr.Message,
	})
}

// renderMarkdown converts journal markdown to HTML via goldmark.
func renderMarkdown(md string) template.HTML {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(md))
	}
	return template.HTML(buf.String())
}

func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04")
}
