package datacontext

import (
	"reflect"
	"testing"
)

type page struct{ Title string }
type order struct{ ID int }
type line struct{ SKU string }
type grid struct{}

var (
	pageType  = reflect.TypeOf(page{})
	orderType = reflect.TypeOf(order{})
	lineType  = reflect.TypeOf(line{})
	gridType  = reflect.TypeOf(grid{})
)

func TestPushLinksParent(t *testing.T) {
	root := New(pageType)
	child := root.Push(orderType)

	if child.Parent() != root {
		t.Fatal("child does not link to its parent")
	}
	if root.Parent() != nil {
		t.Error("root must have no parent")
	}
	if child.DataContextType() != orderType {
		t.Errorf("got %v, want %v", child.DataContextType(), orderType)
	}
	if child.Depth() != 2 || root.Depth() != 1 {
		t.Errorf("unexpected depths %d, %d", child.Depth(), root.Depth())
	}
	if child.Root() != root {
		t.Error("Root() did not walk to the outermost level")
	}
}

func TestPushDoesNotMutateParent(t *testing.T) {
	root := New(pageType)
	a := root.Push(orderType)
	b := root.Push(lineType)

	if a.Parent() != root || b.Parent() != root {
		t.Fatal("siblings must share the parent")
	}
	if root.Depth() != 1 {
		t.Error("parent depth changed after Push")
	}
}

func TestRootControl(t *testing.T) {
	s := New(pageType, WithRootControl(gridType))
	if s.RootControlType() != gridType {
		t.Errorf("got %v, want %v", s.RootControlType(), gridType)
	}
	if New(pageType).RootControlType() != nil {
		t.Error("expected nil root control by default")
	}
}

func TestFromTypes(t *testing.T) {
	s := FromTypes([]reflect.Type{pageType, orderType, lineType}, WithRootControl(gridType))
	want := []reflect.Type{lineType, orderType, pageType}
	got := s.Types()
	if len(got) != len(want) {
		t.Fatalf("got %d levels, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("level %d: got %v, want %v", i, got[i], want[i])
		}
	}
	if s.RootControlType() != gridType {
		t.Error("control type should apply to the innermost level")
	}
	if s.Parent().RootControlType() != nil {
		t.Error("control type must not apply to outer levels")
	}
	if FromTypes(nil) != nil {
		t.Error("expected nil stack for no types")
	}
}

func TestEqualIsStructural(t *testing.T) {
	a := New(pageType).Push(orderType)
	b := New(pageType).Push(orderType)
	c := New(pageType).Push(lineType)
	d := New(orderType)

	if !a.Equal(b) {
		t.Error("expected structurally identical stacks to be equal")
	}
	if a.Equal(c) {
		t.Error("different inner types must not be equal")
	}
	if a.Equal(d) {
		t.Error("different depths must not be equal")
	}
	if a.Equal(New(pageType).Push(orderType, WithRootControl(gridType))) {
		t.Error("different control types must not be equal")
	}
}

func TestString(t *testing.T) {
	s := New(pageType).Push(orderType, WithRootControl(gridType))
	want := "datacontext.page > datacontext.order [control datacontext.grid]"
	if got := s.String(); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
