package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/npillmayer/schuko/gtrace"
	"github.com/npillmayer/schuko/tracing"
	"github.com/npillmayer/schuko/tracing/gologadapter"
	"github.com/pterm/pterm"

	"github.com/funvibe/skald/internal/ast"
	"github.com/funvibe/skald/internal/config"
	"github.com/funvibe/skald/internal/diag"
	"github.com/funvibe/skald/internal/evaluator"
	"github.com/funvibe/skald/internal/gclog"
	"github.com/funvibe/skald/internal/mode"
)

var traceKeys = []string{"skald.engine", "skald.frame", "skald.heap", "skald.gclog"}

func main() {
	// Catch panics and show user-friendly error
	defer func() {
		if r := recover(); r != nil {
			if os.Getenv("DEBUG") == "1" {
				panic(r) // Re-panic to get stack trace
			}
			fmt.Fprintf(os.Stderr, "Internal error: %v\n", r)
			fmt.Fprintln(os.Stderr, "This is a bug. Please report it.")
			os.Exit(1)
		}
	}()

	listFlag := flag.Bool("list", false, "list the built-in demo programs")
	runFlag := flag.String("run", "", "run the named demo program")
	traceFlag := flag.String("trace", "", "trace level [Debug|Info|Error]")
	configFlag := flag.String("config", "", "engine options YAML file")
	gcLogFlag := flag.String("gc-log", "", "record collections into this SQLite file")
	statsFlag := flag.Bool("stats", false, "print run statistics after the program finishes")
	flag.Parse()

	initDisplay()
	gtrace.SyntaxTracer = gologadapter.New()

	opts := config.Default()
	if *configFlag != "" {
		var err error
		opts, err = config.Load(*configFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
			os.Exit(1)
		}
	}

	level := *traceFlag
	if level == "" {
		level = opts.TraceLevel
	}
	if level == "" {
		level = "Error"
	}
	for _, key := range traceKeys {
		tracing.Select(key).SetTraceLevel(tracing.TraceLevelFromString(level))
	}

	if *listFlag {
		if *runFlag != "" {
			sketchDemo(*runFlag)
			return
		}
		listDemos()
		return
	}
	if *runFlag == "" {
		pterm.Info.Println("skald runs built-in demo programs; pick one with -run NAME")
		listDemos()
		os.Exit(2)
	}
	d := findDemo(*runFlag)
	if d == nil {
		fmt.Fprintf(os.Stderr, "Unknown demo %q; -list shows the catalogue\n", *runFlag)
		os.Exit(2)
	}
	if err := runDemo(d, opts, *configFlag == "", *gcLogFlag, *statsFlag); err != nil {
		renderFailure(err)
		os.Exit(1)
	}
}

// We use pterm for moderately fancy output.
func initDisplay() {
	if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		pterm.DisableColor()
	}
	pterm.EnableDebugMessages()
	pterm.Info.Prefix = pterm.Prefix{
		Text:  "  >>",
		Style: pterm.NewStyle(pterm.BgCyan, pterm.FgBlack),
	}
	pterm.Error.Prefix = pterm.Prefix{
		Text:  "  Error",
		Style: pterm.NewStyle(pterm.BgRed, pterm.FgBlack),
	}
}

func runDemo(d *demo, opts config.Options, allowTune bool, gcLogPath string, wantStats bool) error {
	if allowTune {
		opts = d.options(opts)
	}
	prog, err := d.program()
	if err != nil {
		return fmt.Errorf("assembling %s: %w", d.name, err)
	}

	eng := evaluator.New(prog, opts)
	eng.SetOutput(os.Stdout)

	var lg *gclog.Logger
	if gcLogPath != "" {
		lg, err = gclog.Open(gcLogPath, eng.RunID())
		if err != nil {
			return err
		}
		defer lg.Close()
		eng.Heap().AfterCollect(lg.Record)
	}

	result, err := eng.Run(context.Background())
	if err != nil {
		return err
	}
	if result.Kind != mode.Void {
		pterm.Info.Println("program yields " + result.Inspect())
	}
	if wantStats {
		printStats(eng.Stats())
		if lg != nil {
			printCollections(lg)
		}
	}
	return nil
}

func renderFailure(err error) {
	if d, ok := diag.From(err); ok {
		pterm.Error.Println(d.Error())
		return
	}
	pterm.Error.Println(err.Error())
}

// listDemos renders the catalogue as a tree: one branch per demo with its
// description and tree size.
func listDemos() {
	ll := pterm.LeveledList{}
	for i := range demos {
		d := &demos[i]
		ll = append(ll, pterm.LeveledListItem{Level: 0, Text: d.name})
		ll = append(ll, pterm.LeveledListItem{Level: 1, Text: d.about})
		if prog, err := d.program(); err == nil {
			ll = append(ll, pterm.LeveledListItem{Level: 1, Text: fmt.Sprintf("%d nodes", len(prog.Nodes))})
		}
	}
	root := pterm.NewTreeFromLeveledList(ll)
	root.Text = "demo programs"
	pterm.DefaultTree.WithRoot(root).Render()
}

// sketchDemo renders one demo's program tree.
func sketchDemo(name string) {
	d := findDemo(name)
	if d == nil {
		fmt.Fprintf(os.Stderr, "Unknown demo %q; -list shows the catalogue\n", name)
		os.Exit(2)
	}
	prog, err := d.program()
	if err != nil {
		renderFailure(err)
		os.Exit(1)
	}
	ll := leveledNodes(prog.Root, pterm.LeveledList{}, 0)
	root := pterm.NewTreeFromLeveledList(ll)
	root.Text = d.name
	pterm.DefaultTree.WithRoot(root).Render()
}

func leveledNodes(n *ast.Node, ll pterm.LeveledList, level int) pterm.LeveledList {
	if n == nil {
		return ll
	}
	ll = append(ll, pterm.LeveledListItem{Level: level, Text: nodeLabel(n)})
	for _, kid := range n.Kids {
		ll = leveledNodes(kid, ll, level+1)
	}
	return ll
}

func nodeLabel(n *ast.Node) string {
	switch n.Kind {
	case ast.Identifier, ast.VariableDecl, ast.IdentityDecl, ast.LabelMark,
		ast.JumpStmt, ast.PreludeCall, ast.SelectionExpr, ast.RoutineText:
		if n.Sval != "" {
			return fmt.Sprintf("%s %q", n.Kind, n.Sval)
		}
	case ast.IntDenotation:
		return fmt.Sprintf("%s %d", n.Kind, n.Ival)
	case ast.CharDenotation:
		return fmt.Sprintf("%s %q", n.Kind, rune(n.Ival))
	case ast.RealDenotation:
		return fmt.Sprintf("%s %g", n.Kind, n.Rval)
	case ast.StringDenotation:
		return fmt.Sprintf("%s %q", n.Kind, n.Sval)
	case ast.FormulaExpr, ast.MonadicExpr:
		return fmt.Sprintf("%s %s", n.Kind, n.Op)
	}
	return n.Kind.String()
}

func printStats(s evaluator.Stats) {
	pterm.Info.Println("run statistics")
	rows := [][2]string{
		{"steps", fmt.Sprintf("%d", s.Steps)},
		{"propagators installed", fmt.Sprintf("%d", s.Installs)},
		{"frame depth high water", fmt.Sprintf("%d", s.FrameDepth)},
		{"frame bytes high water", fmt.Sprintf("%d", s.FrameBytes)},
		{"operand bytes high water", fmt.Sprintf("%d", s.OperandBytes)},
		{"heap used", fmt.Sprintf("%d of %d", s.HeapUsed, s.HeapCapacity)},
		{"live handles", fmt.Sprintf("%d", s.LiveHandles)},
		{"collections", fmt.Sprintf("%d", s.Collections)},
	}
	for _, r := range rows {
		pterm.Println(fmt.Sprintf("  %-26s %s", r[0], r[1]))
	}
	if len(s.InstallsByKind) > 0 {
		kinds := make([]string, 0, len(s.InstallsByKind))
		for k := range s.InstallsByKind {
			kinds = append(kinds, k)
		}
		sort.Strings(kinds)
		parts := make([]string, len(kinds))
		for i, k := range kinds {
			parts[i] = fmt.Sprintf("%s %d", k, s.InstallsByKind[k])
		}
		pterm.Println(fmt.Sprintf("  %-26s %s", "specialized as", strings.Join(parts, ", ")))
	}
}

func printCollections(lg *gclog.Logger) {
	entries, err := lg.Tail(5)
	if err != nil {
		pterm.Error.Println("collection log: " + err.Error())
		return
	}
	if len(entries) == 0 {
		return
	}
	pterm.Info.Println("recorded collections")
	for _, e := range entries {
		pterm.Println(fmt.Sprintf("  #%d freed %d bytes, %d live handles, %dus",
			e.Seq, e.FreedBytes, e.LiveHandles, e.DurationUS))
	}
}
