package store

import (
	"reflect"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/lemonberrylabs/bindc/pkg/compiler"
	"github.com/lemonberrylabs/bindc/pkg/datacontext"
	"github.com/lemonberrylabs/bindc/pkg/filters"
	"github.com/lemonberrylabs/bindc/pkg/schema"
)

type page struct{ Title string }

func TestRegisterAndGet(t *testing.T) {
	s := New()
	if _, err := s.Register(&ViewModel{Name: "Page", Type: reflect.TypeOf(page{})}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := s.Register(&ViewModel{Name: "Page", Type: reflect.TypeOf(page{})}); err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Errorf("expected duplicate error, got %v", err)
	}
	if _, err := s.Register(&ViewModel{Name: "Broken"}); err == nil {
		t.Error("expected an error for a view model without type")
	}
	if _, err := s.Register(&ViewModel{Name: "Scalar", Type: reflect.TypeOf(0)}); err == nil || !strings.Contains(err.Error(), "want a struct") {
		t.Errorf("expected an error for a non-struct type, got %v", err)
	}

	vm, err := s.Get("Page")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if vm.CreateTime.IsZero() {
		t.Error("CreateTime not set")
	}
	if _, ok := vm.New().(*page); !ok {
		t.Errorf("New returned %T", vm.New())
	}

	if err := s.Delete("Page"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get("Page"); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("expected not found, got %v", err)
	}
	if err := s.Delete("Page"); err == nil {
		t.Error("expected an error deleting twice")
	}
}

func TestRegisterDocuments(t *testing.T) {
	docs := []schema.Document{
		{Name: "Public", AllowAnonymous: true, Fields: []schema.Field{{Name: "Title", Type: "string"}}},
		{Name: "Orders", Roles: "Admin, Sales", Fields: []schema.Field{{Name: "Page", Type: "Public"}}},
	}
	s := New()
	if err := s.RegisterDocuments(docs); err != nil {
		t.Fatalf("RegisterDocuments: %v", err)
	}

	var names []string
	for _, vm := range s.List() {
		names = append(names, vm.Name)
	}
	if diff := cmp.Diff([]string{"Orders", "Public"}, names); diff != "" {
		t.Errorf("list mismatch (-want +got):\n%s", diff)
	}

	public, _ := s.Get("Public")
	if !public.AllowAnonymous {
		t.Error("anonymous marker lost")
	}
	orders, _ := s.Get("Orders")
	if diff := cmp.Diff([]string{"Admin", "Sales"}, orders.Roles); diff != "" {
		t.Errorf("roles mismatch (-want +got):\n%s", diff)
	}

	types, err := s.Types([]string{"Orders", "Public"})
	if err != nil {
		t.Fatal(err)
	}
	if types[0] != orders.Type || types[1] != public.Type {
		t.Error("Types returned the wrong order")
	}
	if _, err := s.Types([]string{"Nope"}); err == nil {
		t.Error("expected an error for an unknown view model")
	}
}

func TestBindingCache(t *testing.T) {
	c := NewBindingCache(2)
	stack := datacontext.New(reflect.TypeOf(page{}))

	compile := func(expr string) *compiler.CompiledExpression {
		t.Helper()
		ce, err := compiler.Parse(expr, stack)
		if err != nil {
			t.Fatal(err)
		}
		return ce
	}

	a, b, d := compile("Title"), compile("Title + 'b'"), compile("Title + 'd'")
	c.Put("Title", stack, a)
	c.Put("Title + 'b'", stack, b)

	if got, ok := c.Get("Title", datacontext.New(reflect.TypeOf(page{}))); !ok || got != a {
		t.Fatal("expected hit for an equal stack")
	}
	c.Put("Title + 'd'", stack, d)

	if _, ok := c.Get("Title + 'b'", stack); ok {
		t.Error("least recently used entry was not evicted")
	}
	if _, ok := c.Get("Title", stack); !ok {
		t.Error("recently used entry was evicted")
	}
	if c.Len() != 2 {
		t.Errorf("got %d entries, want 2", c.Len())
	}

	c.Clear()
	if c.Len() != 0 {
		t.Error("Clear left entries behind")
	}
}

func TestBindingCacheSeparatesLookalikeStacks(t *testing.T) {
	a := reflect.StructOf([]reflect.StructField{{Name: "Title", Type: reflect.TypeOf(""), Tag: `json:"a"`}})
	b := reflect.StructOf([]reflect.StructField{{Name: "Title", Type: reflect.TypeOf(""), Tag: `json:"b"`}})
	sa, sb := datacontext.New(a), datacontext.New(b)

	ca, err := compiler.Parse("Title", sa)
	if err != nil {
		t.Fatal(err)
	}
	c := NewBindingCache(0)
	c.Put("Title", sa, ca)
	if _, ok := c.Get("Title", sb); ok {
		t.Error("different stacks must not share an entry")
	}
}

func TestBindingCacheServesCompiler(t *testing.T) {
	c := NewBindingCache(8)
	comp := compiler.New(compiler.WithCache(c))
	stack := datacontext.New(reflect.TypeOf(page{}))

	first, err := comp.Compile("Title", stack)
	if err != nil {
		t.Fatal(err)
	}
	second, err := comp.Compile("Title", stack)
	if err != nil {
		t.Fatal(err)
	}
	if first != second || c.Len() != 1 {
		t.Error("compiler did not reuse the cached binding")
	}
}

func TestViewModelFilters(t *testing.T) {
	base := filters.Pipeline{filters.NewAuthorize("")}

	open := &ViewModel{Name: "Open", Type: reflect.TypeOf(page{})}
	if got := open.Filters(base, "Bearer"); len(got) != 1 {
		t.Errorf("got %d filters, want 1", len(got))
	}

	secured := &ViewModel{Name: "Secured", Type: reflect.TypeOf(page{}), Roles: []string{"Admin"}}
	got := secured.Filters(base, "Bearer")
	if len(got) != 2 || len(base) != 1 {
		t.Fatalf("got %d filters, base has %d", len(got), len(base))
	}
	a, ok := got[1].(*filters.Authorize)
	if !ok {
		t.Fatalf("got %T", got[1])
	}
	if diff := cmp.Diff(filters.Authorize{Roles: []string{"Admin"}, Scheme: "Bearer"}, *a); diff != "" {
		t.Errorf("filter mismatch (-want +got):\n%s", diff)
	}

	public := &ViewModel{Name: "Public", Type: reflect.TypeOf(page{}), AllowAnonymous: true, Roles: []string{"Admin"}}
	if got := public.Filters(base, "Bearer"); len(got) != 0 {
		t.Errorf("anonymous view model kept %d filters", len(got))
	}
	if len(base) != 1 {
		t.Error("base pipeline was modified")
	}
}

func TestSameShapedViewModelsAuthorizeSeparately(t *testing.T) {
	s := New()
	err := s.RegisterDocuments([]schema.Document{
		{Name: "Public", AllowAnonymous: true, Fields: []schema.Field{{Name: "Title", Type: "string"}}},
		{Name: "Secret", Roles: "Admin", Fields: []schema.Field{{Name: "Title", Type: "string"}}},
	})
	if err != nil {
		t.Fatal(err)
	}
	public, _ := s.Get("Public")
	secret, _ := s.Get("Secret")
	base := filters.Pipeline{filters.NewAuthorize("")}

	if got := public.Filters(base, filters.DefaultAuthScheme); len(got) != 0 {
		t.Errorf("Public: got %d filters, want 0", len(got))
	}
	if got := secret.Filters(base, filters.DefaultAuthScheme); len(got) != 2 {
		t.Errorf("Secret: got %d filters, want 2", len(got))
	}
}
