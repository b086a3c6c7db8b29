package schema

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const orderPage = `
name: OrderPage
roles: "Admin, , Editor"
fields:
  - name: Title
    type: string
  - name: Customer
    type: "*Customer"
  - name: Lines
    type: "[]OrderLine"
  - name: Totals
    type: "map[string]float64"
`

const customer = `
name: Customer
allowAnonymous: true
fields:
  - name: Name
    type: string
  - name: Age
    type: int
    json: years
`

const orderLine = `
name: OrderLine
fields:
  - name: SKU
    type: string
  - name: Quantity
    type: int64
`

func mustParse(t *testing.T, src string) Document {
	t.Helper()
	doc, err := Parse([]byte(src))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return doc
}

func TestParse(t *testing.T) {
	doc := mustParse(t, orderPage)
	if doc.Name != "OrderPage" || len(doc.Fields) != 4 {
		t.Fatalf("unexpected document %+v", doc)
	}
	if diff := cmp.Diff([]string{"Admin", "Editor"}, doc.RoleList()); diff != "" {
		t.Errorf("roles mismatch (-want +got):\n%s", diff)
	}
	if !mustParse(t, customer).AllowAnonymous {
		t.Error("allowAnonymous not decoded")
	}
}

func TestParseRejectsInvalidDocuments(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"lowercase name", "name: page\nfields: []", "invalid view model name"},
		{"bad field", "name: Page\nfields:\n  - name: title\n    type: string", "invalid field name"},
		{"duplicate field", "name: Page\nfields:\n  - name: A\n    type: string\n  - name: A\n    type: int", "duplicate field"},
		{"missing type", "name: Page\nfields:\n  - name: A", "has no type"},
		{"not yaml", "name: [", "parsing view model"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.src))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("got %v, want error containing %q", err, tt.want)
			}
		})
	}
}

func TestBuild(t *testing.T) {
	types, err := Build([]Document{mustParse(t, orderPage), mustParse(t, customer), mustParse(t, orderLine)})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	page := types["OrderPage"]
	if page.Kind() != reflect.Struct || page.NumField() != 4 {
		t.Fatalf("unexpected type %v", page)
	}

	cust, _ := page.FieldByName("Customer")
	if cust.Type != reflect.PointerTo(types["Customer"]) {
		t.Errorf("Customer field has type %v", cust.Type)
	}
	lines, _ := page.FieldByName("Lines")
	if lines.Type != reflect.SliceOf(types["OrderLine"]) {
		t.Errorf("Lines field has type %v", lines.Type)
	}
	totals, _ := page.FieldByName("Totals")
	if totals.Type != reflect.TypeOf(map[string]float64{}) {
		t.Errorf("Totals field has type %v", totals.Type)
	}

	age, _ := types["Customer"].FieldByName("Age")
	if age.Tag.Get("json") != "years" {
		t.Errorf("got json tag %q", age.Tag.Get("json"))
	}
	name, _ := types["Customer"].FieldByName("Name")
	if name.Tag.Get("json") != "name" {
		t.Errorf("got json tag %q", name.Tag.Get("json"))
	}
}

func TestBuildErrors(t *testing.T) {
	tests := []struct {
		name string
		docs []Document
		want string
	}{
		{
			name: "unknown type",
			docs: []Document{{Name: "A", Fields: []Field{{Name: "X", Type: "Missing"}}}},
			want: `unknown type "Missing"`,
		},
		{
			name: "cycle",
			docs: []Document{
				{Name: "A", Fields: []Field{{Name: "B", Type: "*B"}}},
				{Name: "B", Fields: []Field{{Name: "A", Type: "[]A"}}},
			},
			want: "refers to itself",
		},
		{
			name: "duplicate",
			docs: []Document{{Name: "A"}, {Name: "A"}},
			want: "defined twice",
		},
		{
			name: "bad map",
			docs: []Document{{Name: "A", Fields: []Field{{Name: "M", Type: "map[string"}}}},
			want: "malformed map type",
		},
		{
			name: "uncomparable key",
			docs: []Document{{Name: "A", Fields: []Field{{Name: "M", Type: "map[[]string]int"}}}},
			want: "not comparable",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(tt.docs)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("got %v, want error containing %q", err, tt.want)
			}
		})
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"order_page.yaml": orderPage,
		"customer.yml":    customer,
		"broken.yaml":     "name: [",
		"notes.txt":       "ignored",
	}
	for name, src := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(src), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "sub.yaml"), 0o755); err != nil {
		t.Fatal(err)
	}

	docs, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	var got []string
	for _, d := range docs {
		got = append(got, d.Name+"@"+d.Source)
	}
	want := []string{"Customer@customer.yml", "OrderPage@order_page.yaml"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("documents mismatch (-want +got):\n%s", diff)
	}

	if _, err := LoadDir(filepath.Join(dir, "missing")); err == nil {
		t.Error("expected an error for a missing directory")
	}
}
