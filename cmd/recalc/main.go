// Command recalc is an interactive front end to the recalculation engine.
// Lines of the form "A1 = text" set a cell; text that is a number or a
// quoted string is stored as a value and anything else is compiled as a
// formula. Lines starting with ':' are commands, see :help.
//
// Files named on the command line, or standard input when it is not a
// terminal, are read as a script. the engine is recalculated at the end and
// every non-blank cell is printed.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/peterh/liner"
	"golang.org/x/term"

	"github.com/vogtb/go-spreadsheet/packages/evaluator"
)

const (
	historyFile = ".recalc_history"
	prompt      = "recalc> "
)

const helpText = `commands:
  A1 = 1+2            set a cell (numbers and "quoted" text are values)
  A1 =                clear a cell
  :recalc             bring every cell up to date
  :print A1[:C4]      show values and formulas
  :deps A1            list the slots depending on A1
  :name NAME = text   define a name (formula text or reference)
  :doc NAME           open or switch to a sheet
  :custom NAME        open or switch to a custom function document
  :close NAME         close a document
  :docs               list open documents
  :stats              show table sizes
  :quit               leave
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

type session struct {
	e      *evaluator.Engine
	store  *evaluator.MemoryStore
	doc    evaluator.DocNo
	stdout io.Writer
	log    *log.Logger
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("recalc", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(stderr, "usage: recalc [flags] [script ...]\n")
		fs.PrintDefaults()
	}
	configPath := fs.String("config", "", "YAML configuration file")
	sortTodo := fs.Bool("sort", false, "recalculate in sheet order instead of edit order")
	verbose := fs.Bool("v", false, "log engine detail to stderr")
	docName := fs.String("doc", "Sheet1", "name of the first sheet")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	cfg := evaluator.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = evaluator.LoadConfigFile(*configPath); err != nil {
			fmt.Fprintf(stderr, "recalc: %v\n", err)
			return 1
		}
	}
	if *sortTodo {
		cfg.TodoSort = true
	}

	logger := log.New(io.Discard, "", 0)
	if *verbose {
		logger = log.New(stderr, "recalc: ", 0)
		cfg.Debug = true
	}

	store := evaluator.NewMemoryStore()
	e := evaluator.NewEngine(store, evaluator.Options{Config: &cfg, Logger: logger})
	doc, err := e.OpenDocument(*docName, evaluator.DocSheet)
	if err != nil {
		fmt.Fprintf(stderr, "recalc: %v\n", err)
		return 1
	}
	s := &session{e: e, store: store, doc: doc, stdout: stdout, log: logger}

	if fs.NArg() > 0 {
		return s.batchFiles(fs.Args(), stderr)
	}
	if f, ok := stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return s.repl(stderr)
	}
	return s.batch(stdin, stderr)
}

func (s *session) batchFiles(paths []string, stderr io.Writer) int {
	status := 0
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			fmt.Fprintf(stderr, "recalc: %v\n", err)
			return 1
		}
		quit, failed, err := s.script(f, path, stderr)
		_ = f.Close()
		if err != nil {
			fmt.Fprintf(stderr, "recalc: %v\n", err)
			return 1
		}
		if failed {
			status = 1
		}
		if quit {
			return status
		}
	}
	return s.finish(status, stderr)
}

// batch runs a script from stdin and prints the final values
func (s *session) batch(stdin io.Reader, stderr io.Writer) int {
	quit, failed, err := s.script(stdin, "stdin", stderr)
	if err != nil {
		fmt.Fprintf(stderr, "recalc: %v\n", err)
		return 1
	}
	status := 0
	if failed {
		status = 1
	}
	if quit {
		return status
	}
	return s.finish(status, stderr)
}

// script executes every line of r. failed reports whether any line was
// rejected.
func (s *session) script(r io.Reader, name string, stderr io.Writer) (quit, failed bool, err error) {
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		q, err := s.exec(sc.Text())
		if err != nil {
			fmt.Fprintf(stderr, "%s:%d: %v\n", name, lineNo, err)
			failed = true
		}
		if q {
			return true, failed, nil
		}
	}
	return false, failed, sc.Err()
}

func (s *session) finish(status int, stderr io.Writer) int {
	if err := s.recalc(); err != nil {
		fmt.Fprintf(stderr, "recalc: %v\n", err)
		return 1
	}
	for _, d := range s.e.Documents() {
		s.printRange(evaluator.DocumentRange(d.No), d.Name+"!")
	}
	return status
}

func (s *session) repl(stderr io.Writer) int {
	home, _ := os.UserHomeDir()
	histPath := filepath.Join(home, historyFile)

	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)

	if f, err := os.Open(histPath); err == nil {
		_, _ = ln.ReadHistory(f)
		_ = f.Close()
	}
	defer func() {
		if f, err := os.Create(histPath); err == nil {
			_, _ = ln.WriteHistory(f)
			_ = f.Close()
		}
	}()

	fmt.Fprint(s.stdout, "type :help for commands\n")
	for {
		line, err := ln.Prompt(prompt)
		if errors.Is(err, io.EOF) || errors.Is(err, liner.ErrPromptAborted) {
			fmt.Fprintln(s.stdout)
			return 0
		}
		if err != nil {
			fmt.Fprintf(stderr, "recalc: %v\n", err)
			return 1
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		ln.AppendHistory(line)

		quit, err := s.exec(line)
		if err != nil {
			fmt.Fprintln(stderr, err)
			continue
		}
		if quit {
			return 0
		}
	}
}

// exec runs one input line. it reports true when the session should end.
func (s *session) exec(line string) (bool, error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return false, nil
	}
	if cmd, ok := strings.CutPrefix(line, ":"); ok {
		return s.command(cmd)
	}

	ref, text, ok := strings.Cut(line, "=")
	if !ok {
		return false, fmt.Errorf("expected REF = TEXT, got %q", line)
	}
	slot, err := s.e.ParseSLR(ref, s.doc)
	if err != nil {
		return false, err
	}
	return false, s.set(slot, strings.TrimSpace(text))
}

func (s *session) set(slot evaluator.SLR, text string) error {
	if text == "" {
		return s.e.ClearCell(slot)
	}
	if v, ok := literal(text); ok {
		return s.e.SetValue(slot, v)
	}
	return s.e.SetFormula(slot, text)
}

// literal recognises a plain number or a double quoted string
func literal(text string) (evaluator.Value, bool) {
	if i, err := strconv.ParseInt(text, 10, 32); err == nil {
		return evaluator.Integer(int32(i)), true
	}
	if f, err := strconv.ParseFloat(text, 64); err == nil && !math.IsInf(f, 0) && !math.IsNaN(f) {
		return evaluator.Real(f), true
	}
	if len(text) >= 2 && text[0] == '"' && text[len(text)-1] == '"' {
		return evaluator.String(strings.ReplaceAll(text[1:len(text)-1], `""`, `"`)), true
	}
	return nil, false
}

func (s *session) command(cmd string) (bool, error) {
	name, arg, _ := strings.Cut(strings.TrimSpace(cmd), " ")
	arg = strings.TrimSpace(arg)
	switch strings.ToLower(name) {
	case "quit", "q", "exit":
		return true, nil
	case "help", "h":
		fmt.Fprint(s.stdout, helpText)
	case "recalc", "r":
		return false, s.recalc()
	case "print", "p":
		if arg == "" {
			s.printRange(evaluator.DocumentRange(s.doc), "")
			return false, nil
		}
		r, err := s.e.ParseRange(arg, s.doc)
		if err != nil {
			return false, err
		}
		s.printRange(r, "")
	case "deps":
		slot, err := s.e.ParseSLR(arg, s.doc)
		if err != nil {
			return false, err
		}
		deps := s.e.FindDependents(slot)
		if len(deps) == 0 {
			fmt.Fprintln(s.stdout, "no dependents")
		}
		for _, d := range deps {
			fmt.Fprintln(s.stdout, s.label(d))
		}
	case "name":
		n, text, ok := strings.Cut(arg, "=")
		if !ok {
			return false, fmt.Errorf("usage: :name NAME = text")
		}
		n, text = strings.TrimSpace(n), strings.TrimSpace(text)
		if v, isLit := literal(text); isLit {
			return false, s.e.DefineName(s.doc, n, v)
		}
		return false, s.e.DefineNameFormula(s.doc, n, text)
	case "doc":
		return false, s.switchDoc(arg, evaluator.DocSheet)
	case "custom":
		return false, s.switchDoc(arg, evaluator.DocCustom)
	case "close":
		doc, ok := s.e.DocumentNo(arg)
		if !ok {
			return false, fmt.Errorf("document %q is not open", arg)
		}
		if doc == s.doc {
			return false, fmt.Errorf("cannot close the current document")
		}
		return false, s.e.CloseDocument(doc)
	case "docs":
		for _, d := range s.e.Documents() {
			mark := " "
			if d.No == s.doc {
				mark = "*"
			}
			fmt.Fprintf(s.stdout, "%s %d %s (%s)\n", mark, d.No, d.Name, d.Kind)
		}
	case "stats":
		st := s.e.Stats()
		cells, strs, formulas := s.store.Stats()
		fmt.Fprintf(s.stdout, "uses: %d slot, %d range, %d name, %d custom\n",
			st.Tree.SLRUses, st.Tree.RangeUses, st.Tree.NameUses, st.Tree.CustomUses)
		fmt.Fprintf(s.stdout, "names %d, customs %d, documents %d, todo %d\n",
			st.Names, st.Customs, st.Documents, st.Todo)
		fmt.Fprintf(s.stdout, "cells %d, strings %d, formulas %d\n", cells, strs, formulas)
	default:
		return false, fmt.Errorf("unknown command :%s, try :help", name)
	}
	return false, nil
}

func (s *session) switchDoc(name string, kind evaluator.DocKind) error {
	if name == "" {
		return fmt.Errorf("missing document name")
	}
	if doc, ok := s.e.DocumentNo(name); ok {
		s.doc = doc
		return nil
	}
	doc, err := s.e.OpenDocument(name, kind)
	if err != nil {
		return err
	}
	s.doc = doc
	return nil
}

func (s *session) recalc() error {
	for {
		stats, err := s.e.Recalc(context.Background())
		if err != nil {
			return err
		}
		s.log.Printf("recalculated %d slots, %d circular, %d deferred", stats.Slots, stats.Circular, stats.Deferred)
		if stats.Done || stats.Slots == stats.Deferred {
			return nil
		}
	}
}

func (s *session) label(slot evaluator.SLR) string {
	if slot.Doc == s.doc {
		return slot.String()
	}
	name, _ := s.e.DocumentName(slot.Doc)
	return name + "!" + slot.String()
}

func (s *session) printRange(r evaluator.Range, prefix string) {
	for slot := range s.store.Cells(r) {
		v := s.e.Value(slot)
		line := prefix + slot.String() + " " + evaluator.FormatValue(v)
		if text, ok := s.e.FormulaText(slot); ok {
			line += "  =" + text
		}
		fmt.Fprintln(s.stdout, line)
	}
}
