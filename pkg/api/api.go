// Package api implements the REST API for compiling and evaluating binding
// expressions against registered view models.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"

	"github.com/lemonberrylabs/bindc/pkg/compiler"
	"github.com/lemonberrylabs/bindc/pkg/datacontext"
	"github.com/lemonberrylabs/bindc/pkg/filters"
	"github.com/lemonberrylabs/bindc/pkg/store"
)

// Server is the HTTP API server.
type Server struct {
	app        *fiber.App
	store      *store.Store
	compiler   *compiler.Compiler
	filters    filters.Pipeline
	authScheme string
	accessLog  bool
}

// Option configures a Server.
type Option func(*Server)

// WithCompiler sets the compiler used by the binding endpoints.
func WithCompiler(c *compiler.Compiler) Option {
	return func(s *Server) { s.compiler = c }
}

// WithFilters sets the filters run before a view model is returned and
// before a binding is evaluated.
func WithFilters(p filters.Pipeline) Option {
	return func(s *Server) { s.filters = p }
}

// WithAuthScheme sets the scheme challenged by per-view-model role checks.
func WithAuthScheme(scheme string) Option {
	return func(s *Server) { s.authScheme = scheme }
}

// WithAccessLog enables request logging.
func WithAccessLog() Option {
	return func(s *Server) { s.accessLog = true }
}

// New creates a new API server.
func New(st *store.Store, opts ...Option) *Server {
	srv := &Server{
		store:      st,
		compiler:   compiler.New(),
		authScheme: filters.DefaultAuthScheme,
	}
	for _, opt := range opts {
		opt(srv)
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          30 * time.Second,
	})
	if srv.accessLog {
		app.Use(logger.New())
	}

	app.Get("/v1/viewmodels", srv.listViewModels)
	app.Get("/v1/viewmodels/:name", srv.getViewModel)
	app.Post("/v1/bindings\\:compile", srv.compileBinding)
	app.Post("/v1/bindings\\:evaluate", srv.evaluateBinding)

	srv.app = app
	return srv
}

// Listen starts the HTTP server on the given address.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// App returns the underlying Fiber app (useful for testing).
func (s *Server) App() *fiber.App {
	return s.app
}

// --- View Model Handlers ---

func (s *Server) listViewModels(c *fiber.Ctx) error {
	vms := s.store.List()
	items := make([]fiber.Map, len(vms))
	for i, vm := range vms {
		items[i] = viewModelToJSON(vm)
	}
	return c.JSON(fiber.Map{
		"viewModels": items,
	})
}

func (s *Server) getViewModel(c *fiber.Ctx) error {
	vm, err := s.store.Get(c.Params("name"))
	if err != nil {
		return errorJSON(c, fiber.StatusNotFound, "NOT_FOUND", err.Error())
	}

	rc := newRequestContext(c, vm.New())
	if err := vm.Filters(s.filters, s.authScheme).ViewModelCreated(rc); err != nil {
		return s.filterError(c, err)
	}

	return c.JSON(viewModelToJSON(vm))
}

// filterError finishes a request that a filter rejected. An interrupted
// request already carries its response.
func (s *Server) filterError(c *fiber.Ctx, err error) error {
	if filters.IsInterrupt(err) {
		return nil
	}
	return errorJSON(c, fiber.StatusInternalServerError, "INTERNAL", err.Error())
}

// --- Binding Handlers ---

type compileRequest struct {
	Expression  string   `json:"expression"`
	DataContext []string `json:"dataContext"`
	Control     string   `json:"control"`
}

type evaluateRequest struct {
	compileRequest
	Values       []json.RawMessage `json:"values"`
	ControlValue json.RawMessage   `json:"controlValue"`
}

func (s *Server) compileBinding(c *fiber.Ctx) error {
	var req compileRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "INVALID_ARGUMENT", fmt.Sprintf("invalid request body: %v", err))
	}

	compiled, err := s.compile(c, req)
	if err != nil {
		return err
	}
	return c.JSON(compiledToJSON(compiled))
}

func (s *Server) evaluateBinding(c *fiber.Ctx) error {
	var req evaluateRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "INVALID_ARGUMENT", fmt.Sprintf("invalid request body: %v", err))
	}
	if len(req.Values) != len(req.DataContext) {
		return errorJSON(c, fiber.StatusBadRequest, "INVALID_ARGUMENT",
			fmt.Sprintf("got %d value(s) for %d data context(s)", len(req.Values), len(req.DataContext)))
	}

	compiled, err := s.compile(c, req.compileRequest)
	if err != nil {
		return err
	}

	// Values arrive outermost first; the compiled binding wants innermost first.
	types := compiled.Stack.Types()
	contexts := make([]any, len(types))
	for i, raw := range req.Values {
		depth := len(types) - 1 - i
		v, err := decodeValue(raw, types[depth])
		if err != nil {
			return errorJSON(c, fiber.StatusBadRequest, "INVALID_ARGUMENT",
				fmt.Sprintf("invalid value for %s: %v", req.DataContext[i], err))
		}
		contexts[depth] = v
	}
	var control any
	if ct := compiled.Stack.RootControlType(); ct != nil && len(req.ControlValue) > 0 {
		if control, err = decodeValue(req.ControlValue, ct); err != nil {
			return errorJSON(c, fiber.StatusBadRequest, "INVALID_ARGUMENT", fmt.Sprintf("invalid control value: %v", err))
		}
	}

	inner, _ := s.store.Get(req.DataContext[len(req.DataContext)-1])
	rc := newRequestContext(c, contexts[0])
	action := filters.ActionInfo{Binding: req.Expression, Target: inner.Name}
	if err := inner.Filters(s.filters, s.authScheme).CommandExecuting(rc, action); err != nil {
		return s.filterError(c, err)
	}

	result, err := compiled.Evaluate(contexts, control)
	if err != nil {
		return errorJSON(c, fiber.StatusUnprocessableEntity, "FAILED_PRECONDITION", err.Error())
	}
	return c.JSON(fiber.Map{
		"expression": compiled.Source,
		"resultType": compiled.Type().String(),
		"result":     result,
	})
}

// compile resolves the request's stack and compiles the expression. On
// failure the error response has already been written and the returned
// error is the result of writing it.
func (s *Server) compile(c *fiber.Ctx, req compileRequest) (*compiler.CompiledExpression, error) {
	if req.Expression == "" {
		return nil, errorJSON(c, fiber.StatusBadRequest, "INVALID_ARGUMENT", "expression is required")
	}
	stack, err := s.stackFor(req.DataContext, req.Control)
	if err != nil {
		return nil, errorJSON(c, fiber.StatusBadRequest, "INVALID_ARGUMENT", err.Error())
	}

	compiled, err := s.compiler.Compile(req.Expression, stack)
	if err != nil {
		var ce *compiler.CompilationError
		if errors.As(err, &ce) {
			return nil, compilationErrorJSON(c, ce)
		}
		return nil, errorJSON(c, fiber.StatusInternalServerError, "INTERNAL", err.Error())
	}
	return compiled, nil
}

// stackFor builds a data context stack from view-model names, outermost first.
func (s *Server) stackFor(names []string, control string) (*datacontext.Stack, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("dataContext must name at least one view model")
	}
	types, err := s.store.Types(names)
	if err != nil {
		return nil, err
	}
	var opts []datacontext.Option
	if control != "" {
		ct, err := s.store.Get(control)
		if err != nil {
			return nil, err
		}
		opts = append(opts, datacontext.WithRootControl(ct.Type))
	}
	return datacontext.FromTypes(types, opts...), nil
}

func decodeValue(raw json.RawMessage, t reflect.Type) (any, error) {
	v := reflect.New(t)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, v.Interface()); err != nil {
			return nil, err
		}
	}
	return v.Elem().Interface(), nil
}

// --- Helpers ---

func errorJSON(c *fiber.Ctx, code int, status, message string) error {
	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    code,
			"message": message,
			"status":  status,
		},
	})
}

func compilationErrorJSON(c *fiber.Ctx, ce *compiler.CompilationError) error {
	body := fiber.Map{
		"code":       fiber.StatusBadRequest,
		"message":    ce.Error(),
		"status":     "INVALID_ARGUMENT",
		"expression": ce.Expression,
	}
	if start, length, ok := ce.Position(); ok {
		body["position"] = start
		body["length"] = length
	}
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": body})
}

func viewModelToJSON(vm *store.ViewModel) fiber.Map {
	fields := make([]fiber.Map, vm.Type.NumField())
	for i := range fields {
		f := vm.Type.Field(i)
		fields[i] = fiber.Map{
			"name": f.Name,
			"type": f.Type.String(),
		}
	}
	return fiber.Map{
		"name":           vm.Name,
		"description":    vm.Description,
		"allowAnonymous": vm.AllowAnonymous,
		"roles":          vm.Roles,
		"source":         vm.Source,
		"fields":         fields,
		"createTime":     vm.CreateTime.Format(time.RFC3339),
	}
}

func compiledToJSON(ce *compiler.CompiledExpression) fiber.Map {
	params := make([]fiber.Map, len(ce.Parameters))
	for i, p := range ce.Parameters {
		params[i] = fiber.Map{
			"name":  p.Name,
			"type":  p.Type().String(),
			"depth": p.Depth,
		}
	}
	referenced := []string{}
	for _, p := range ce.Referenced() {
		referenced = append(referenced, p.Name)
	}
	return fiber.Map{
		"expression": ce.Source,
		"resultType": ce.Type().String(),
		"parameters": params,
		"referenced": referenced,
	}
}
