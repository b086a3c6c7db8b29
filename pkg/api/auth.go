package api

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// Identity headers set by the fronting proxy.
const (
	HeaderUser  = "X-User"
	HeaderRoles = "X-Roles"
)

// requestContext adapts a fiber request to filters.RequestContext.
type requestContext struct {
	c         *fiber.Ctx
	user      string
	roles     map[string]bool
	viewModel any
}

func newRequestContext(c *fiber.Ctx, viewModel any) *requestContext {
	rc := &requestContext{
		c:         c,
		user:      strings.TrimSpace(c.Get(HeaderUser)),
		roles:     make(map[string]bool),
		viewModel: viewModel,
	}
	for _, r := range strings.Split(c.Get(HeaderRoles), ",") {
		if r = strings.TrimSpace(r); r != "" {
			rc.roles[r] = true
		}
	}
	return rc
}

func (r *requestContext) IsAuthenticated() bool { return r.user != "" }

func (r *requestContext) IsInRole(role string) bool { return r.roles[role] }

// Challenge answers 401 and names the scheme the client should use.
func (r *requestContext) Challenge(scheme string) {
	r.c.Set(fiber.HeaderWWWAuthenticate, scheme)
	r.c.Status(fiber.StatusUnauthorized)
}

func (r *requestContext) SetStatusCode(code int) { r.c.Status(code) }

func (r *requestContext) ViewModel() any { return r.viewModel }
