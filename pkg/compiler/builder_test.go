package compiler

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/lemonberrylabs/bindc/pkg/datacontext"
)

type customer struct {
	Name    string
	Age     int
	Tags    []string
	Scores  map[string]int
	Nick    *string
	Manager *customer
	Format  func(string) string
}

func (c customer) Greeting(prefix string) string {
	return prefix + ", " + c.Name
}

func (c *customer) Rename(name string) string {
	c.Name = name
	return c.Name
}

var errLookup = errors.New("lookup failed")

func (c customer) Fail() (string, error) {
	return "", errLookup
}

func (c customer) Join(sep string, parts ...string) string {
	return strings.Join(parts, sep)
}

var customerType = reflect.TypeOf(customer{})

func sampleCustomer() customer {
	nick := "annie"
	return customer{
		Name:   "Ann",
		Age:    30,
		Tags:   []string{"a", "b"},
		Scores: map[string]int{"math": 90},
		Format: strings.ToUpper,
		Nick:   &nick,
	}
}

func eval(t *testing.T, expr string, c customer) (any, error) {
	t.Helper()
	compiled, err := Parse(expr, datacontext.New(customerType))
	if err != nil {
		t.Fatalf("Parse(%q): %v", expr, err)
	}
	return compiled.Evaluate([]any{c}, nil)
}

func TestEvaluate(t *testing.T) {
	noNick := sampleCustomer()
	noNick.Nick = nil

	tests := []struct {
		expr string
		in   customer
		want any
	}{
		{"Name", sampleCustomer(), "Ann"},
		{"_this.Name", sampleCustomer(), "Ann"},
		{"Age + 1", sampleCustomer(), int64(31)},
		{"Age * 1.5", sampleCustomer(), 45.0},
		{"10 / 4", sampleCustomer(), int64(2)},
		{"10 % 4", sampleCustomer(), int64(2)},
		{"7.0 / 2", sampleCustomer(), 3.5},
		{"-Age", sampleCustomer(), int64(-30)},
		{"!(Age < 10)", sampleCustomer(), true},
		{"Age > 18 && Name == 'Ann'", sampleCustomer(), true},
		{"Age > 40 || Name != 'Ann'", sampleCustomer(), false},
		{"Name + '!'", sampleCustomer(), "Ann!"},
		{"Name < 'Bob'", sampleCustomer(), true},
		{"Age >= 30 ? 'senior' : 'junior'", sampleCustomer(), "senior"},
		{"Age == 30.0", sampleCustomer(), true},
		{"upper(Name)", sampleCustomer(), "ANN"},
		{"len(Name) + 1", sampleCustomer(), int64(4)},
		{"max(Age, 40)", sampleCustomer(), 40.0},
		{"formatInt(Age)", sampleCustomer(), "30"},
		{"Greeting('Hi')", sampleCustomer(), "Hi, Ann"},
		{"_this.Greeting('Hey')", sampleCustomer(), "Hey, Ann"},
		{"Rename('Bo')", sampleCustomer(), "Bo"},
		{"Join('-', 'x', 'y')", sampleCustomer(), "x-y"},
		{"Join('-')", sampleCustomer(), ""},
		{"Format(Name)", sampleCustomer(), "ANN"},
		{"Tags[1]", sampleCustomer(), "b"},
		{"Name[0]", sampleCustomer(), "A"},
		{"Scores['math']", sampleCustomer(), 90},
		{"Nick ?? 'none'", sampleCustomer(), "annie"},
		{"Nick ?? 'none'", noNick, "none"},
		{"Manager == null", sampleCustomer(), true},
		{"null != Manager", sampleCustomer(), false},
		{"Manager ?? _this", sampleCustomer(), nil},
		{"(Age)", sampleCustomer(), 30},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := eval(t, tt.expr, tt.in)
			if err != nil {
				t.Fatalf("Evaluate: %v", err)
			}
			if tt.want == nil {
				return
			}
			if got != tt.want {
				t.Errorf("got %v (%T), want %v (%T)", got, got, tt.want, tt.want)
			}
		})
	}
}

func TestEvaluateDoesNotMutateInput(t *testing.T) {
	c := sampleCustomer()
	if _, err := eval(t, "Rename('Bo')", c); err != nil {
		t.Fatal(err)
	}
	if c.Name != "Ann" {
		t.Errorf("input was mutated: %q", c.Name)
	}
}

func TestEvaluateErrors(t *testing.T) {
	tests := []struct {
		expr    string
		message string
	}{
		{"Manager.Name", "cannot access 'Name' on a nil value"},
		{"Age / 0", "division by zero"},
		{"Age % 0", "division by zero"},
		{"Scores['art']", "key 'art' not found in map"},
		{"Tags[5]", "index 5 out of range"},
		{"Fail()", "call to 'Fail' failed"},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			_, err := eval(t, tt.expr, sampleCustomer())
			var ee *EvaluationError
			if !errors.As(err, &ee) {
				t.Fatalf("expected *EvaluationError, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.message) {
				t.Errorf("got %q, want it to contain %q", err.Error(), tt.message)
			}
		})
	}
}

func TestEvaluateUnwrapsCallError(t *testing.T) {
	_, err := eval(t, "Fail()", sampleCustomer())
	if !errors.Is(err, errLookup) {
		t.Errorf("expected the method's error in the chain, got %v", err)
	}
}

func TestBuildErrors(t *testing.T) {
	tests := []struct {
		expr    string
		message string
	}{
		{"Missing", "unknown identifier 'Missing'"},
		{"Greeting", "'Greeting' is a method and must be called"},
		{"Manager.Greeting", "'Greeting' is a method and must be called"},
		{"Manager.Missing", "has no member 'Missing'"},
		{"Nope()", "has no method 'Nope'"},
		{"Name - 1", "operator '-' cannot be applied to string and int64"},
		{"Name && true", "operator '&&' cannot be applied to string and bool"},
		{"Age == 'x'", "operator '==' cannot be applied to int and string"},
		{"Age == null", "operator '==' cannot be applied to int and null"},
		{"Age ?? 1", "operator '??' cannot be applied to int and int64"},
		{"!Name", "operator '!' cannot be applied to string"},
		{"-Name", "operator '-' cannot be applied to string"},
		{"Age ? 1 : 2", "condition must be bool, got int"},
		{"Age > 1 ? 'a' : 2", "branches of '?:' have incompatible types"},
		{"upper(1)", "cannot use int64 as string in argument 1"},
		{"Greeting()", "expected 1 argument(s), got 0"},
		{"Join()", "expected at least 1 argument(s), got 0"},
		{"Tags['x']", "index must be an integer, got string"},
		{"Scores[1]", "cannot use int64 as map key of type string"},
		{"Age[0]", "cannot index a value of type int"},
		{"Name()", "has no method 'Name'"},
		{"(1)(2)", "a value of type int64 cannot be called"},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			_, err := Parse(tt.expr, datacontext.New(customerType))
			var ce *CompilationError
			if !errors.As(err, &ce) {
				t.Fatalf("expected *CompilationError, got %v", err)
			}
			if !strings.Contains(ce.Message, tt.message) {
				t.Errorf("got %q, want it to contain %q", ce.Message, tt.message)
			}
			if ce.Node == nil {
				t.Error("semantic errors must carry the node")
			}
			if ce.Expression != tt.expr {
				t.Errorf("got expression %q", ce.Expression)
			}
		})
	}
}

func TestResultTypes(t *testing.T) {
	tests := []struct {
		expr string
		want reflect.Type
	}{
		{"Age", reflect.TypeOf(0)},
		{"Age + 1", int64Type},
		{"Age + 0.5", float64Typ},
		{"Age > 1", boolType},
		{"Tags", reflect.TypeOf([]string(nil))},
		{"Nick ?? ''", stringType},
		{"Manager", reflect.TypeOf(&customer{})},
		{"Manager.Name", stringType},
		{"now()", reflect.TypeOf(time.Time{})},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			compiled, err := Parse(tt.expr, datacontext.New(customerType))
			if err != nil {
				t.Fatal(err)
			}
			if compiled.Type() != tt.want {
				t.Errorf("got %v, want %v", compiled.Type(), tt.want)
			}
		})
	}
}

func TestConvertToFoldsIntConstants(t *testing.T) {
	small := reflect.TypeOf(int8(0))
	if _, ok := convertTo(constant(int64(100)), small); !ok {
		t.Error("expected 100 to fit in int8")
	}
	if _, ok := convertTo(constant(int64(300)), small); ok {
		t.Error("expected 300 not to fit in int8")
	}
	if _, ok := convertTo(constant(int64(-1)), reflect.TypeOf(uint(0))); ok {
		t.Error("expected -1 not to fit in uint")
	}
	if _, ok := convertTo(nullConstant(), stringType); ok {
		t.Error("null must not convert to string")
	}
	if _, ok := convertTo(nullConstant(), reflect.TypeOf(&customer{})); !ok {
		t.Error("null must convert to a pointer")
	}
}
