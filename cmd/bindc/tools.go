package main

import (
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lemonberrylabs/bindc/pkg/compiler"
	"github.com/lemonberrylabs/bindc/pkg/datacontext"
	"github.com/lemonberrylabs/bindc/pkg/store"
)

var compileCmd = &cobra.Command{
	Use:   "compile EXPR",
	Short: "Compile a binding and print its result type and parameters",
	Args:  cobra.ExactArgs(1),
	RunE:  runCompile,
}

var evalCmd = &cobra.Command{
	Use:   "eval EXPR",
	Short: "Compile a binding and evaluate it against JSON values",
	Args:  cobra.ExactArgs(1),
	RunE:  runEval,
}

var symbolsCmd = &cobra.Command{
	Use:   "symbols",
	Short: "List the names a binding can use in a data context",
	Args:  cobra.NoArgs,
	RunE:  runSymbols,
}

func init() {
	for _, c := range []*cobra.Command{compileCmd, evalCmd, symbolsCmd} {
		c.Flags().String("context", "", "Comma-separated view models, outermost first")
		c.Flags().String("control", "", "View model used as the root control")
	}
	evalCmd.Flags().String("values", "[]", "JSON array of data context values, outermost first")
	evalCmd.Flags().String("control-value", "", "JSON value of the root control")
}

// session is what every tool command needs: the loaded view models and the
// requested stack.
type session struct {
	store   *store.Store
	stack   *datacontext.Stack
	levels  []string // outermost first
	control string
	// names maps a type to its view model, or to "" when several share it.
	names map[reflect.Type]string
}

func newSession(cmd *cobra.Command) (*session, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	s, err := loadStore(cfg.SchemaDir)
	if err != nil {
		return nil, fmt.Errorf("loading view models: %w", err)
	}

	ctxFlag, _ := cmd.Flags().GetString("context")
	control, _ := cmd.Flags().GetString("control")
	levels := splitList(ctxFlag)
	stack, err := buildStack(s, levels, control)
	if err != nil {
		return nil, err
	}

	names := make(map[reflect.Type]string)
	for _, vm := range s.List() {
		if name, ok := names[vm.Type]; ok && name != vm.Name {
			names[vm.Type] = ""
			continue
		}
		names[vm.Type] = vm.Name
	}
	return &session{store: s, stack: stack, levels: levels, control: control, names: names}, nil
}

func buildStack(s *store.Store, names []string, control string) (*datacontext.Stack, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("--context must name at least one view model")
	}
	types, err := s.Types(names)
	if err != nil {
		return nil, err
	}
	var opts []datacontext.Option
	if control != "" {
		vm, err := s.Get(control)
		if err != nil {
			return nil, err
		}
		opts = append(opts, datacontext.WithRootControl(vm.Type))
	}
	return datacontext.FromTypes(types, opts...), nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// label names t after its view model when exactly one view model has it.
func (s *session) label(t reflect.Type) string {
	if name := s.names[t]; name != "" {
		return name
	}
	return t.String()
}

// paramLabel names p after the stack level it reads.
func (s *session) paramLabel(p *compiler.ParameterExpr) string {
	switch {
	case p.Depth < 0 && s.control != "":
		return s.control
	case p.Depth >= 0 && p.Depth < len(s.levels):
		return s.levels[len(s.levels)-1-p.Depth]
	}
	return s.label(p.Type())
}

func runCompile(cmd *cobra.Command, args []string) error {
	sess, err := newSession(cmd)
	if err != nil {
		return err
	}
	compiled, err := compiler.Parse(args[0], sess.stack)
	if err != nil {
		return err
	}
	return sess.writeCompiled(cmd.OutOrStdout(), compiled)
}

func (s *session) writeCompiled(out io.Writer, ce *compiler.CompiledExpression) error {
	referenced := map[string]bool{}
	for _, p := range ce.Referenced() {
		referenced[p.Name] = true
	}

	fmt.Fprintf(out, "Expression: %s\n", ce.Source)
	fmt.Fprintf(out, "Result:     %s\n", s.label(ce.Type()))
	fmt.Fprintln(out, "Parameters:")
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, p := range ce.Parameters {
		mark := ""
		if referenced[p.Name] {
			mark = "*"
		}
		fmt.Fprintf(tw, "  %s\t%s\t%d\t%s\n", p.Name, s.paramLabel(p), p.Depth, mark)
	}
	return tw.Flush()
}

func runEval(cmd *cobra.Command, args []string) error {
	sess, err := newSession(cmd)
	if err != nil {
		return err
	}
	compiled, err := compiler.Parse(args[0], sess.stack)
	if err != nil {
		return err
	}

	rawValues, _ := cmd.Flags().GetString("values")
	contexts, err := decodeContexts(rawValues, sess.stack)
	if err != nil {
		return err
	}
	var control any
	if raw, _ := cmd.Flags().GetString("control-value"); raw != "" && sess.stack.RootControlType() != nil {
		if control, err = decodeValue([]byte(raw), sess.stack.RootControlType()); err != nil {
			return fmt.Errorf("invalid --control-value: %w", err)
		}
	}

	result, err := compiled.Evaluate(contexts, control)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

// decodeContexts decodes a JSON array given outermost first into values
// ordered innermost first. Missing trailing entries decode as zero values.
func decodeContexts(raw string, stack *datacontext.Stack) ([]any, error) {
	var values []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil, fmt.Errorf("invalid --values: %w", err)
	}
	types := stack.Types()
	if len(values) > len(types) {
		return nil, fmt.Errorf("got %d value(s) for %d data context(s)", len(values), len(types))
	}
	contexts := make([]any, len(types))
	for i := range types {
		depth := len(types) - 1 - i
		var rawValue json.RawMessage
		if i < len(values) {
			rawValue = values[i]
		}
		v, err := decodeValue(rawValue, types[depth])
		if err != nil {
			return nil, fmt.Errorf("invalid value %d: %w", i, err)
		}
		contexts[depth] = v
	}
	return contexts, nil
}

func decodeValue(raw []byte, t reflect.Type) (any, error) {
	v := reflect.New(t)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, v.Interface()); err != nil {
			return nil, err
		}
	}
	return v.Elem().Interface(), nil
}

func runSymbols(cmd *cobra.Command, args []string) error {
	sess, err := newSession(cmd)
	if err != nil {
		return err
	}
	return sess.writeSymbols(cmd.OutOrStdout())
}

func (s *session) writeSymbols(out io.Writer) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	seen := map[string]bool{}
	for _, sym := range compiler.InitSymbols(s.stack).Symbols() {
		if seen[sym.Name] {
			continue
		}
		seen[sym.Name] = true
		kind, label := "helper", s.label(sym.Expr.Type())
		if p, ok := sym.Expr.(*compiler.ParameterExpr); ok {
			kind, label = "parameter", s.paramLabel(p)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", sym.Name, kind, label)
	}
	if t := s.stack.DataContextType(); t.Kind() == reflect.Struct {
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if f.IsExported() {
				fmt.Fprintf(tw, "%s\tmember\t%s\n", f.Name, s.label(f.Type))
			}
		}
	}
	return tw.Flush()
}
