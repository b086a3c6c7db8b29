// Package grpcapi exposes the binding compiler over gRPC. Messages are
// google.protobuf.Struct values so clients need no generated stubs.
package grpcapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"reflect"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/lemonberrylabs/bindc/pkg/compiler"
	"github.com/lemonberrylabs/bindc/pkg/datacontext"
	"github.com/lemonberrylabs/bindc/pkg/filters"
	"github.com/lemonberrylabs/bindc/pkg/store"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "bindc.v1.BindingCompiler"

// BindingCompilerServer is the server API for the BindingCompiler service.
type BindingCompilerServer interface {
	ListViewModels(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Compile(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Evaluate(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// ServiceDesc describes the BindingCompiler service.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*BindingCompilerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListViewModels", Handler: unaryHandler("ListViewModels", BindingCompilerServer.ListViewModels)},
		{MethodName: "Compile", Handler: unaryHandler("Compile", BindingCompilerServer.Compile)},
		{MethodName: "Evaluate", Handler: unaryHandler("Evaluate", BindingCompilerServer.Evaluate)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "bindc/v1/binding_compiler.proto",
}

type method func(BindingCompilerServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(name string, m method) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return m(srv.(BindingCompilerServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
		handler := func(ctx context.Context, req any) (any, error) {
			return m(srv.(BindingCompilerServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// Server implements the BindingCompiler and health services.
type Server struct {
	store      *store.Store
	compiler   *compiler.Compiler
	filters    filters.Pipeline
	authScheme string
	health     *health.Server
	grpc       *grpc.Server
}

// Option configures a Server.
type Option func(*Server)

// WithCompiler sets the compiler used by Compile and Evaluate.
func WithCompiler(c *compiler.Compiler) Option {
	return func(s *Server) { s.compiler = c }
}

// WithFilters sets the filters run before a binding is evaluated.
func WithFilters(p filters.Pipeline) Option {
	return func(s *Server) { s.filters = p }
}

// WithAuthScheme sets the scheme reported by per-view-model role checks.
func WithAuthScheme(scheme string) Option {
	return func(s *Server) { s.authScheme = scheme }
}

// New creates a new gRPC server wrapping the given store.
func New(st *store.Store, opts ...Option) *Server {
	srv := &Server{
		store:      st,
		compiler:   compiler.New(),
		authScheme: filters.DefaultAuthScheme,
		health:     health.NewServer(),
	}
	for _, opt := range opts {
		opt(srv)
	}

	gs := grpc.NewServer()
	gs.RegisterService(&ServiceDesc, srv)
	healthpb.RegisterHealthServer(gs, srv.health)
	srv.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	srv.grpc = gs

	return srv
}

// Serve starts listening on the given address and serves gRPC requests.
func (s *Server) Serve(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	return s.grpc.Serve(lis)
}

// GracefulStop marks the services as not serving and stops the server.
func (s *Server) GracefulStop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}

// --- BindingCompiler Service ---

func (s *Server) ListViewModels(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	var items []any
	for _, vm := range s.store.List() {
		roles := make([]any, len(vm.Roles))
		for i, r := range vm.Roles {
			roles[i] = r
		}
		items = append(items, map[string]any{
			"name":           vm.Name,
			"description":    vm.Description,
			"allowAnonymous": vm.AllowAnonymous,
			"roles":          roles,
		})
	}
	return newStruct(map[string]any{"viewModels": items})
}

func (s *Server) Compile(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	compiled, err := s.compile(req)
	if err != nil {
		return nil, err
	}

	params := make([]any, len(compiled.Parameters))
	for i, p := range compiled.Parameters {
		params[i] = map[string]any{
			"name":  p.Name,
			"type":  p.Type().String(),
			"depth": p.Depth,
		}
	}
	referenced := []any{}
	for _, p := range compiled.Referenced() {
		referenced = append(referenced, p.Name)
	}
	return newStruct(map[string]any{
		"expression": compiled.Source,
		"resultType": compiled.Type().String(),
		"parameters": params,
		"referenced": referenced,
	})
}

func (s *Server) Evaluate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	names := stringList(fields["dataContext"])
	values := fields["values"].GetListValue().GetValues()
	if len(values) != len(names) {
		return nil, status.Errorf(codes.InvalidArgument, "got %d value(s) for %d data context(s)", len(values), len(names))
	}

	compiled, err := s.compile(req)
	if err != nil {
		return nil, err
	}

	types := compiled.Stack.Types()
	contexts := make([]any, len(types))
	for i, v := range values {
		depth := len(types) - 1 - i
		if contexts[depth], err = decodeValue(v, types[depth]); err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "invalid value for %s: %v", names[i], err)
		}
	}
	var control any
	if ct := compiled.Stack.RootControlType(); ct != nil {
		if cv, ok := fields["controlValue"]; ok {
			if control, err = decodeValue(cv, ct); err != nil {
				return nil, status.Errorf(codes.InvalidArgument, "invalid control value: %v", err)
			}
		}
	}

	inner, _ := s.store.Get(names[len(names)-1])
	rc := newCallContext(ctx, contexts[0])
	action := filters.ActionInfo{Binding: compiled.Source, Target: inner.Name}
	if err := inner.Filters(s.filters, s.authScheme).CommandExecuting(rc, action); err != nil {
		return nil, rc.statusError(err)
	}

	result, err := compiled.Evaluate(contexts, control)
	if err != nil {
		return nil, status.Error(codes.FailedPrecondition, err.Error())
	}
	out, err := toValue(result)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode result: %v", err)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"expression": structpb.NewStringValue(compiled.Source),
		"resultType": structpb.NewStringValue(compiled.Type().String()),
		"result":     out,
	}}, nil
}

// --- Internal helpers ---

func (s *Server) compile(req *structpb.Struct) (*compiler.CompiledExpression, error) {
	fields := req.GetFields()
	expression := fields["expression"].GetStringValue()
	if expression == "" {
		return nil, status.Error(codes.InvalidArgument, "expression is required")
	}
	names := stringList(fields["dataContext"])
	if len(names) == 0 {
		return nil, status.Error(codes.InvalidArgument, "dataContext must name at least one view model")
	}
	types, err := s.store.Types(names)
	if err != nil {
		return nil, status.Error(codes.NotFound, err.Error())
	}
	var opts []datacontext.Option
	if name := fields["control"].GetStringValue(); name != "" {
		vm, err := s.store.Get(name)
		if err != nil {
			return nil, status.Error(codes.NotFound, err.Error())
		}
		opts = append(opts, datacontext.WithRootControl(vm.Type))
	}

	compiled, err := s.compiler.Compile(expression, datacontext.FromTypes(types, opts...))
	if err != nil {
		var ce *compiler.CompilationError
		if errors.As(err, &ce) {
			return nil, status.Error(codes.InvalidArgument, ce.Error())
		}
		return nil, status.Error(codes.Internal, err.Error())
	}
	return compiled, nil
}

func stringList(v *structpb.Value) []string {
	var out []string
	for _, item := range v.GetListValue().GetValues() {
		out = append(out, item.GetStringValue())
	}
	return out
}

func newStruct(m map[string]any) (*structpb.Struct, error) {
	st, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode response: %v", err)
	}
	return st, nil
}

// decodeValue converts a Struct value into a Go value of type t by way of
// its JSON form, so field names follow the json tags of t.
func decodeValue(v *structpb.Value, t reflect.Type) (any, error) {
	data, err := v.MarshalJSON()
	if err != nil {
		return nil, err
	}
	ptr := reflect.New(t)
	if err := json.Unmarshal(data, ptr.Interface()); err != nil {
		return nil, err
	}
	return ptr.Elem().Interface(), nil
}

func toValue(result any) (*structpb.Value, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, err
	}
	return structpb.NewValue(generic)
}
