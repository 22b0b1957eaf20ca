// Package web serves plain HTML status pages for debugging a running
// agent. It reads the store directly and never mutates state.
package web

import (
	"embed"
	"io/fs"
	"net/http"

	"go.uber.org/zap"

	"github.com/ponderer/ponderer/internal/store"
)

//go:embed templates/*.html
var templateFS embed.FS

const journalPageEntries = 50

// Handlers contains the HTTP route handlers for the debug pages.
type Handlers struct {
	store    *store.Store
	renderer *Renderer
}

// NewHandler builds the /ui route handler.
func NewHandler(st *store.Store, version string, log *zap.Logger) http.Handler {
	templateSub, err := fs.Sub(templateFS, "templates")
	if err != nil {
		panic("template sub-FS: " + err.Error())
	}

	h := &Handlers{
		store:    st,
		renderer: NewRenderer(templateSub, version, log),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ui/{$}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/ui/status", http.StatusFound)
	})
	mux.HandleFunc("GET /ui/status", h.HandleStatus)
	mux.HandleFunc("GET /ui/journal", h.HandleJournal)
	return mux
}

// HandleStatus handles GET /ui/status.
func (h *Handlers) HandleStatus(w http.ResponseWriter, _ *http.Request) {
	snap, err := h.store.LatestOrientationSnapshot()
	if err != nil {
		h.renderer.renderError(w, err)
		return
	}
	concerns, err := h.store.ListConcerns()
	if err != nil {
		h.renderer.renderError(w, err)
		return
	}
	count, err := h.store.CountJournalEntries()
	if err != nil {
		h.renderer.renderError(w, err)
		return
	}
	card, err := h.store.GetCharacterCard()
	if err != nil {
		h.renderer.renderError(w, err)
		return
	}

	data := StatusPageData{
		PageData: PageData{
			Title:   "Status",
			Version: h.renderer.version,
			Nav:     "status",
		},
		Orientation:  snap,
		Concerns:     concerns,
		JournalCount: count,
	}
	if card != nil {
		data.CharacterName = card.Name
	}
	h.renderer.renderPage(w, "status", data)
}

// HandleJournal handles GET /ui/journal.
func (h *Handlers) HandleJournal(w http.ResponseWriter, _ *http.Request) {
	entries, err := h.store.RecentJournalEntries(journalPageEntries)
	if err != nil {
		h.renderer.renderError(w, err)
		return
	}

	views := make([]JournalView, 0, len(entries))
	for _, e := range entries {
		views = append(views, JournalView{Entry: e, HTML: renderMarkdown(e.Content)})
	}

	h.renderer.renderPage(w, "journal", JournalPageData{
		PageData: PageData{
			Title:   "Journal",
			Version: h.renderer.version,
			Nav:     "journal",
		},
		Entries: views,
	})
}
