// Package filters implements request filters that run around view-model
// creation and command execution, most notably role-based authorization.
package filters

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"sync"
)

// DefaultAuthScheme is the scheme challenged when authorization fails.
const DefaultAuthScheme = "ApplicationCookie"

// ErrInterruptRequest aborts the current request. Filters return it after
// they have already written their response; callers must stop processing
// and must not write anything further.
var ErrInterruptRequest = errors.New("request execution interrupted")

// RequestContext is the per-request state a filter can inspect and act on.
type RequestContext interface {
	IsAuthenticated() bool
	IsInRole(role string) bool
	Challenge(scheme string)
	SetStatusCode(code int)
	ViewModel() any
}

// AnonymousAllowed marks view-model types that skip authorization.
type AnonymousAllowed interface {
	AllowAnonymous()
}

var (
	anonymousType = reflect.TypeOf((*AnonymousAllowed)(nil)).Elem()

	// reflect.Type -> bool
	requiresAuth sync.Map
)

// RequiresAuthorization reports whether view models of type t must pass
// authorization. The answer is computed once per type. Types built at run
// time share identity with every other type of the same shape, so their
// exemption is decided per view model with Pipeline.WithoutAuthorization.
func RequiresAuthorization(t reflect.Type) bool {
	t = baseType(t)
	if v, ok := requiresAuth.Load(t); ok {
		return v.(bool)
	}
	v, _ := requiresAuth.LoadOrStore(t, !isAnonymous(t))
	return v.(bool)
}

// CanBeAuthorized reports whether authorization applies to viewModel. A nil
// view model always requires it.
func CanBeAuthorized(viewModel any) bool {
	if viewModel == nil {
		return true
	}
	return RequiresAuthorization(reflect.TypeOf(viewModel))
}

func isAnonymous(t reflect.Type) bool {
	return t.Implements(anonymousType) || reflect.PointerTo(t).Implements(anonymousType)
}

func baseType(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}

// Authorize lets a request through only when the user is authenticated and,
// if Roles is not empty, in at least one of them.
type Authorize struct {
	Roles  []string
	Scheme string
}

// NewAuthorize creates a filter from a comma-separated role list. Entries
// are trimmed and empty ones dropped.
func NewAuthorize(roles string) *Authorize {
	a := &Authorize{Scheme: DefaultAuthScheme}
	for _, r := range strings.Split(roles, ",") {
		if r = strings.TrimSpace(r); r != "" {
			a.Roles = append(a.Roles, r)
		}
	}
	return a
}

// OnViewModelCreated runs the authorization check.
func (a *Authorize) OnViewModelCreated(ctx RequestContext) error {
	return a.Authorize(ctx)
}

// OnCommandExecuting runs the authorization check.
func (a *Authorize) OnCommandExecuting(ctx RequestContext, _ ActionInfo) error {
	return a.Authorize(ctx)
}

// Authorize returns nil when the request may proceed. Otherwise it issues
// the challenge, sets 403 for authenticated users and returns
// ErrInterruptRequest.
func (a *Authorize) Authorize(ctx RequestContext) error {
	if !CanBeAuthorized(ctx.ViewModel()) {
		return nil
	}
	if ctx.IsAuthenticated() && a.isAuthorized(ctx) {
		return nil
	}
	return a.handleUnauthorized(ctx)
}

func (a *Authorize) isAuthorized(ctx RequestContext) bool {
	if len(a.Roles) == 0 {
		return true
	}
	for _, r := range a.Roles {
		if ctx.IsInRole(r) {
			return true
		}
	}
	return false
}

func (a *Authorize) handleUnauthorized(ctx RequestContext) error {
	scheme := a.Scheme
	if scheme == "" {
		scheme = DefaultAuthScheme
	}
	ctx.Challenge(scheme)
	if ctx.IsAuthenticated() {
		ctx.SetStatusCode(http.StatusForbidden)
	}
	return fmt.Errorf("user unauthorized: %w", ErrInterruptRequest)
}
