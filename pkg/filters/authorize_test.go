package filters

import (
	"errors"
	"net/http"
	"reflect"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type fakeRequest struct {
	authenticated bool
	roles         map[string]bool
	viewModel     any

	challenged []string
	status     int
}

func (r *fakeRequest) IsAuthenticated() bool     { return r.authenticated }
func (r *fakeRequest) IsInRole(role string) bool { return r.roles[role] }
func (r *fakeRequest) Challenge(scheme string)   { r.challenged = append(r.challenged, scheme) }
func (r *fakeRequest) SetStatusCode(code int)    { r.status = code }
func (r *fakeRequest) ViewModel() any            { return r.viewModel }

type securedPage struct{ Title string }

type publicPage struct{ Title string }

func (publicPage) AllowAnonymous() {}

type pointerPublicPage struct{}

func (*pointerPublicPage) AllowAnonymous() {}

func TestNewAuthorizeRoles(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"Admin, Editor", []string{"Admin", "Editor"}},
		{" Admin ,, ,Editor,", []string{"Admin", "Editor"}},
		{"", nil},
		{" , ", nil},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := NewAuthorize(tt.in)
			if diff := cmp.Diff(tt.want, got.Roles); diff != "" {
				t.Errorf("roles mismatch (-want +got):\n%s", diff)
			}
			if got.Scheme != DefaultAuthScheme {
				t.Errorf("got scheme %q", got.Scheme)
			}
		})
	}
}

func TestAuthorizeTruthTable(t *testing.T) {
	tests := []struct {
		name          string
		roles         string
		authenticated bool
		userRoles     []string
		allowed       bool
		wantStatus    int
	}{
		{"anonymous", "Admin, Editor", false, nil, false, 0},
		{"anonymous in role", "Admin, Editor", false, []string{"Admin"}, false, 0},
		{"no matching role", "Admin, Editor", true, []string{"Viewer"}, false, http.StatusForbidden},
		{"admin", "Admin, Editor", true, []string{"Admin"}, true, 0},
		{"editor", "Admin, Editor", true, []string{"Editor"}, true, 0},
		{"no roles required", "", true, nil, true, 0},
		{"no roles required anonymous", "", false, nil, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := &fakeRequest{authenticated: tt.authenticated, roles: map[string]bool{}, viewModel: securedPage{}}
			for _, r := range tt.userRoles {
				req.roles[r] = true
			}

			err := NewAuthorize(tt.roles).Authorize(req)
			if tt.allowed {
				if err != nil {
					t.Fatalf("expected access, got %v", err)
				}
				if len(req.challenged) != 0 {
					t.Error("allowed request must not be challenged")
				}
				return
			}

			if !errors.Is(err, ErrInterruptRequest) {
				t.Fatalf("expected ErrInterruptRequest, got %v", err)
			}
			if diff := cmp.Diff([]string{DefaultAuthScheme}, req.challenged); diff != "" {
				t.Errorf("challenge mismatch (-want +got):\n%s", diff)
			}
			if req.status != tt.wantStatus {
				t.Errorf("got status %d, want %d", req.status, tt.wantStatus)
			}
		})
	}
}

func TestAuthorizeCustomScheme(t *testing.T) {
	a := NewAuthorize("Admin")
	a.Scheme = "Bearer"
	req := &fakeRequest{viewModel: securedPage{}}
	if err := a.Authorize(req); !IsInterrupt(err) {
		t.Fatalf("expected interrupt, got %v", err)
	}
	if len(req.challenged) != 1 || req.challenged[0] != "Bearer" {
		t.Errorf("got challenges %v", req.challenged)
	}
}

func TestAuthorizeSkipsAnonymousViewModels(t *testing.T) {
	for _, vm := range []any{publicPage{}, &publicPage{}, &pointerPublicPage{}} {
		req := &fakeRequest{viewModel: vm}
		if err := NewAuthorize("Admin").Authorize(req); err != nil {
			t.Errorf("%T: expected access, got %v", vm, err)
		}
	}
}

func TestCanBeAuthorizedNil(t *testing.T) {
	if !CanBeAuthorized(nil) {
		t.Error("a nil view model must require authorization")
	}
	req := &fakeRequest{}
	if err := NewAuthorize("").Authorize(req); !IsInterrupt(err) {
		t.Errorf("expected interrupt for nil view model, got %v", err)
	}
}

func TestRuntimeTypesRequireAuthorization(t *testing.T) {
	dynamic := reflect.StructOf([]reflect.StructField{{Name: "Marker", Type: reflect.TypeOf(0)}})
	if !RequiresAuthorization(reflect.PointerTo(dynamic)) {
		t.Error("a type without the marker method must require authorization")
	}
}

type countingFilter struct{ calls int }

func (f *countingFilter) OnViewModelCreated(RequestContext) error {
	f.calls++
	return nil
}

func (f *countingFilter) OnCommandExecuting(RequestContext, ActionInfo) error {
	f.calls++
	return nil
}

func TestPipelineWithoutAuthorization(t *testing.T) {
	counter := &countingFilter{}
	p := Pipeline{NewAuthorize(""), counter, NewAuthorize("Admin")}

	open := p.WithoutAuthorization()
	if len(open) != 1 || open[0] != Filter(counter) {
		t.Fatalf("got %v", open)
	}
	if len(p) != 3 {
		t.Error("the original pipeline was modified")
	}

	req := &fakeRequest{viewModel: &securedPage{}}
	if err := open.ViewModelCreated(req); err != nil {
		t.Errorf("expected access, got %v", err)
	}
	if err := p.ViewModelCreated(req); !IsInterrupt(err) {
		t.Errorf("expected interrupt from the full pipeline, got %v", err)
	}
	if counter.calls != 1 {
		t.Errorf("got %d calls, want 1", counter.calls)
	}
}

func TestRequiresAuthorizationConcurrentFirstCalls(t *testing.T) {
	type freshSecured struct{ A int }
	type freshPublic struct{ publicPage }

	types := []struct {
		t    reflect.Type
		want bool
	}{
		{reflect.TypeOf(freshSecured{}), true},
		{reflect.TypeOf(freshPublic{}), false},
	}

	for _, tt := range types {
		var wg sync.WaitGroup
		results := make([]bool, 64)
		for i := range results {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i] = RequiresAuthorization(tt.t)
			}(i)
		}
		wg.Wait()
		for i, got := range results {
			if got != tt.want {
				t.Fatalf("%v call %d: got %v, want %v", tt.t, i, got, tt.want)
			}
		}
	}
}

type recordingFilter struct {
	name  string
	calls *[]string
	err   error
}

func (f recordingFilter) OnViewModelCreated(RequestContext) error {
	*f.calls = append(*f.calls, f.name+".created")
	return f.err
}

func (f recordingFilter) OnCommandExecuting(_ RequestContext, a ActionInfo) error {
	*f.calls = append(*f.calls, f.name+".executing "+a.Binding)
	return f.err
}

func TestPipelineStopsAtInterrupt(t *testing.T) {
	var calls []string
	p := Pipeline{
		recordingFilter{name: "first", calls: &calls},
		NewAuthorize("Admin"),
		recordingFilter{name: "last", calls: &calls},
	}

	err := p.ViewModelCreated(&fakeRequest{viewModel: securedPage{}})
	if !IsInterrupt(err) {
		t.Fatalf("expected interrupt, got %v", err)
	}
	err = p.CommandExecuting(&fakeRequest{viewModel: securedPage{}}, ActionInfo{Binding: "Save()"})
	if !IsInterrupt(err) {
		t.Fatalf("expected interrupt, got %v", err)
	}
	want := []string{"first.created", "first.executing Save()"}
	if diff := cmp.Diff(want, calls); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}

	calls = nil
	authed := &fakeRequest{authenticated: true, roles: map[string]bool{"Admin": true}, viewModel: securedPage{}}
	if err := p.ViewModelCreated(authed); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"first.created", "last.created"}, calls); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
}
