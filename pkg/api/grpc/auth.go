package grpcapi

import (
	"context"
	"net/http"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/lemonberrylabs/bindc/pkg/filters"
)

// Identity metadata keys set by the caller.
const (
	MetadataUser  = "x-user"
	MetadataRoles = "x-roles"
)

// callContext adapts an incoming call to filters.RequestContext. The
// challenge and status code are collected and turned into a gRPC status.
type callContext struct {
	ctx        context.Context
	user       string
	roles      map[string]bool
	viewModel  any
	scheme     string
	statusCode int
}

func newCallContext(ctx context.Context, viewModel any) *callContext {
	cc := &callContext{ctx: ctx, roles: make(map[string]bool), viewModel: viewModel}
	md, _ := metadata.FromIncomingContext(ctx)
	if v := md.Get(MetadataUser); len(v) > 0 {
		cc.user = strings.TrimSpace(v[0])
	}
	for _, list := range md.Get(MetadataRoles) {
		for _, r := range strings.Split(list, ",") {
			if r = strings.TrimSpace(r); r != "" {
				cc.roles[r] = true
			}
		}
	}
	return cc
}

func (c *callContext) IsAuthenticated() bool { return c.user != "" }

func (c *callContext) IsInRole(role string) bool { return c.roles[role] }

func (c *callContext) Challenge(scheme string) {
	c.scheme = scheme
	c.statusCode = http.StatusUnauthorized
	_ = grpc.SetHeader(c.ctx, metadata.Pairs("www-authenticate", scheme))
}

func (c *callContext) SetStatusCode(code int) { c.statusCode = code }

func (c *callContext) ViewModel() any { return c.viewModel }

// statusError maps a filter failure to a gRPC status.
func (c *callContext) statusError(err error) error {
	if !filters.IsInterrupt(err) {
		return status.Error(codes.Internal, err.Error())
	}
	if c.statusCode == http.StatusForbidden {
		return status.Error(codes.PermissionDenied, "permission denied")
	}
	return status.Errorf(codes.Unauthenticated, "authentication required (%s)", c.scheme)
}
