// Package web provides the embedded web UI for browsing view models and
// trying out bindings.
package web

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"sort"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/lemonberrylabs/bindc/pkg/compiler"
	"github.com/lemonberrylabs/bindc/pkg/datacontext"
	"github.com/lemonberrylabs/bindc/pkg/statistics"
	"github.com/lemonberrylabs/bindc/pkg/store"
)

//go:embed templates/*.html
var templateFS embed.FS

// Handler serves the web UI pages.
type Handler struct {
	store    *store.Store
	compiler *compiler.Compiler
	stats    statistics.Provider
	funcMap  template.FuncMap
}

// pageData wraps all page-specific data with common fields.
type pageData struct {
	NavActive string
	Data      interface{}
}

// New creates a new web UI handler. A nil compiler or provider is replaced
// by a plain compiler or a NopProvider.
func New(s *store.Store, c *compiler.Compiler, stats statistics.Provider) *Handler {
	if c == nil {
		c = compiler.New()
	}
	if stats == nil {
		stats = statistics.NopProvider{}
	}
	return &Handler{
		store:    s,
		compiler: c,
		stats:    stats,
		funcMap: template.FuncMap{
			"timeAgo":    timeAgo,
			"formatTime": formatTime,
			"truncate":   truncate,
			"join":       strings.Join,
			"avgMillis":  avgMillis,
			"marker":     marker,
		},
	}
}

func (h *Handler) render(c *fiber.Ctx, page string, navActive string, data interface{}) error {
	// Each page is parsed with the layout on its own so that the "content"
	// blocks of different pages never collide.
	tmpl := template.Must(
		template.New("").Funcs(h.funcMap).ParseFS(templateFS, "templates/layout.html", "templates/"+page),
	)

	pd := pageData{
		NavActive: navActive,
		Data:      data,
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, page, pd); err != nil {
		return c.Status(500).SendString(fmt.Sprintf("template error: %v", err))
	}

	c.Set("Content-Type", "text/html; charset=utf-8")
	return c.Send(buf.Bytes())
}

// Register adds web UI routes to the Fiber app.
func (h *Handler) Register(app *fiber.App) {
	app.Get("/ui", h.dashboard)
	app.Get("/ui/viewmodels/:name", h.viewModelDetail)
	app.Get("/ui/playground", h.playground)
	app.Post("/ui/playground", h.playground)

	// Redirect root to UI
	app.Get("/", func(c *fiber.Ctx) error {
		return c.Redirect("/ui")
	})
}

// --- Page Data Types ---

type dashboardContent struct {
	ViewModels []*store.ViewModel
	Stats      statistics.Snapshot
	Contexts   []contextCount
}

type contextCount struct {
	Stack string
	Count int
}

type viewModelDetailContent struct {
	ViewModel *store.ViewModel
	Fields    []fieldView
}

type fieldView struct {
	Name string
	Type string
	JSON string
}

type playgroundContent struct {
	ViewModels  []*store.ViewModel
	Expression  string
	DataContext string
	Control     string
	Compiled    *compiler.CompiledExpression
	Error       string
	ErrorStart  int
	ErrorLength int
	HasPosition bool
}

type notFoundContent struct {
	Message string
}

// --- Page Handlers ---

func (h *Handler) dashboard(c *fiber.Ctx) error {
	snap := h.stats.Snapshot()
	var contexts []contextCount
	for k, v := range snap.Contexts {
		contexts = append(contexts, contextCount{Stack: k, Count: v})
	}
	sort.Slice(contexts, func(i, j int) bool {
		if contexts[i].Count != contexts[j].Count {
			return contexts[i].Count > contexts[j].Count
		}
		return contexts[i].Stack < contexts[j].Stack
	})
	if len(contexts) > 10 {
		contexts = contexts[:10]
	}

	return h.render(c, "dashboard.html", "dashboard", dashboardContent{
		ViewModels: h.store.List(),
		Stats:      snap,
		Contexts:   contexts,
	})
}

func (h *Handler) viewModelDetail(c *fiber.Ctx) error {
	name := c.Params("name")
	vm, err := h.store.Get(name)
	if err != nil {
		return h.render(c, "not_found.html", "", notFoundContent{
			Message: fmt.Sprintf("View model '%s' not found", name),
		})
	}

	fields := make([]fieldView, vm.Type.NumField())
	for i := range fields {
		f := vm.Type.Field(i)
		fields[i] = fieldView{Name: f.Name, Type: f.Type.String(), JSON: f.Tag.Get("json")}
	}

	return h.render(c, "viewmodel_detail.html", "viewmodels", viewModelDetailContent{
		ViewModel: vm,
		Fields:    fields,
	})
}

func (h *Handler) playground(c *fiber.Ctx) error {
	content := playgroundContent{
		ViewModels:  h.store.List(),
		Expression:  c.FormValue("expression"),
		DataContext: c.FormValue("dataContext"),
		Control:     c.FormValue("control"),
	}
	if c.Method() == fiber.MethodPost {
		h.compile(&content)
	}
	return h.render(c, "playground.html", "playground", content)
}

// compile fills in either the compiled binding or the error of pc.
func (h *Handler) compile(pc *playgroundContent) {
	names := strings.Fields(strings.ReplaceAll(pc.DataContext, ",", " "))
	if len(names) == 0 {
		pc.Error = "Pick at least one view model for the data context."
		return
	}
	types, err := h.store.Types(names)
	if err != nil {
		pc.Error = err.Error()
		return
	}
	var opts []datacontext.Option
	if pc.Control != "" {
		vm, err := h.store.Get(pc.Control)
		if err != nil {
			pc.Error = err.Error()
			return
		}
		opts = append(opts, datacontext.WithRootControl(vm.Type))
	}

	compiled, err := h.compiler.Compile(pc.Expression, datacontext.FromTypes(types, opts...))
	if err != nil {
		pc.Error = err.Error()
		var ce *compiler.CompilationError
		if errors.As(err, &ce) {
			pc.Error = ce.Message
			pc.ErrorStart, pc.ErrorLength, pc.HasPosition = ce.Position()
		}
		return
	}
	pc.Compiled = compiled
}

// --- Template Helpers ---

func timeAgo(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		m := int(d.Minutes())
		if m == 1 {
			return "1 minute ago"
		}
		return fmt.Sprintf("%d minutes ago", m)
	case d < 24*time.Hour:
		h := int(d.Hours())
		if h == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", h)
	default:
		days := int(d.Hours() / 24)
		if days == 1 {
			return "1 day ago"
		}
		return fmt.Sprintf("%d days ago", days)
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02 15:04:05")
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

func avgMillis(s statistics.Snapshot) string {
	if s.Compilations == 0 {
		return "-"
	}
	return fmt.Sprintf("%.2fms", s.TotalMillis/float64(s.Compilations))
}

// marker highlights the span [start, start+length) of expr.
func marker(expr string, start, length int) template.HTML {
	if start < 0 || start > len(expr) {
		return template.HTML(template.HTMLEscapeString(expr))
	}
	end := start + length
	if end > len(expr) {
		end = len(expr)
	}
	if end == start {
		return template.HTML(template.HTMLEscapeString(expr[:start]) +
			`<mark class="empty">&nbsp;</mark>` + template.HTMLEscapeString(expr[start:]))
	}
	return template.HTML(template.HTMLEscapeString(expr[:start]) +
		"<mark>" + template.HTMLEscapeString(expr[start:end]) + "</mark>" +
		template.HTMLEscapeString(expr[end:]))
}
