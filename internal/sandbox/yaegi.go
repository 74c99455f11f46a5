// Package sandbox runs generated Go snippets in an embedded interpreter.
// The interpreter restricts the import surface to a data-analysis
// allow-list; it is an isolation convenience for generated code, not a
// security boundary against a hostile author.
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
	"go.uber.org/zap"
)

var ErrTimeout = errors.New("execution timed out")

// resultNames is the order in which the runner looks for the snippet's
// final value after evaluation.
var resultNames = []string{"result", "output", "answer", "df"}

// allowedImports is the package allow-list for generated snippets.
var allowedImports = map[string]struct{}{
	"strings":       {},
	"strconv":       {},
	"fmt":           {},
	"math":          {},
	"regexp":        {},
	"sort":          {},
	"time":          {},
	"bytes":         {},
	"unicode":       {},
	"encoding/json": {},
	"encoding/csv":  {},
	"os":            {},
	"io":            {},
	"bufio":         {},
}

// importSpecRe matches one import spec: an optional alias (or dot) and a
// quoted path.
var importSpecRe = regexp.MustCompile(`^(?:(?:\w+|\.)\s+)?"([^"]+)"$`)

// Result is the outcome of one snippet evaluation. Raw carries the
// snippet's result variable when one was found; Value is its rendered
// form.
type Result struct {
	Stdout    string
	Stderr    string
	Value     string
	Raw       interface{}
	ValueName string
	HasValue  bool
	Duration  time.Duration
}

// Runner evaluates a generated snippet against a set of data file paths.
type Runner interface {
	Run(ctx context.Context, code string, filePaths []string) (Result, error)
}

// YaegiRunner evaluates snippets in a fresh yaegi interpreter per run, so
// one snippet's declarations never leak into the next.
type YaegiRunner struct {
	logger *zap.Logger
}

func NewYaegiRunner(logger *zap.Logger) *YaegiRunner {
	return &YaegiRunner{logger: logger}
}

func (r *YaegiRunner) Run(ctx context.Context, code string, filePaths []string) (Result, error) {
	start := time.Now()

	specs, body, err := splitSnippet(code)
	if err != nil {
		return Result{Duration: time.Since(start)}, err
	}

	stdout := &syncBuffer{}
	stderr := &syncBuffer{}
	i := interp.New(interp.Options{
		Stdout: stdout,
		Stderr: stderr,
	})
	if err := i.Use(stdlib.Symbols); err != nil {
		return Result{Duration: time.Since(start)}, fmt.Errorf("error loading interpreter symbols: %w", err)
	}

	// Imports must be fed to the interpreter one at a time; the REPL
	// rejects import-led source followed by statements as file-mode input.
	for _, spec := range specs {
		if _, err := i.Eval("import " + spec.text); err != nil {
			return Result{Duration: time.Since(start)}, fmt.Errorf("error importing %s: %w", spec.path, err)
		}
	}

	// The snippet sees the retrieved files as a predeclared slice.
	if _, err := i.Eval(fmt.Sprintf("filePaths := %#v", filePaths)); err != nil {
		return Result{Duration: time.Since(start)}, fmt.Errorf("error binding file paths: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := i.Eval(body)
		done <- err
	}()

	select {
	case <-ctx.Done():
		// The goroutine keeps running until its Eval returns; the result
		// is discarded. The interpreter may still be writing, so the
		// buffers serialize reads against those writes.
		r.logger.Warn("snippet evaluation timed out", zap.Duration("elapsed", time.Since(start)))
		return Result{
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
			Duration: time.Since(start),
		}, ErrTimeout
	case err := <-done:
		result := Result{
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
			Duration: time.Since(start),
		}
		if err != nil {
			return result, fmt.Errorf("error evaluating snippet: %w", err)
		}
		result.ValueName, result.Value, result.Raw, result.HasValue = lookupValue(i)
		return result, nil
	}
}

// syncBuffer serializes buffer access. After a timeout the abandoned
// interpreter goroutine may still be writing while Run reads the output.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type importSpec struct {
	text string
	path string
}

// splitSnippet separates import declarations from the statement body,
// validating every import against the allow-list. Package clauses are
// dropped. Single-line forms, aliased specs, and parenthesized blocks
// (including one-line blocks) are all recognized.
func splitSnippet(code string) ([]importSpec, string, error) {
	var specs []importSpec
	var body []string
	inBlock := false

	for _, line := range strings.Split(code, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case inBlock:
			if trimmed == ")" {
				inBlock = false
				continue
			}
			if trimmed == "" || strings.HasPrefix(trimmed, "//") {
				continue
			}
			spec, err := parseImportSpec(trimmed)
			if err != nil {
				return nil, "", err
			}
			specs = append(specs, spec)
		case strings.HasPrefix(trimmed, "package "):
		case strings.HasPrefix(trimmed, "import ("):
			rest := strings.TrimSpace(strings.TrimPrefix(trimmed, "import ("))
			if strings.HasSuffix(rest, ")") {
				rest = strings.TrimSpace(strings.TrimSuffix(rest, ")"))
			} else {
				inBlock = true
			}
			if rest != "" {
				spec, err := parseImportSpec(rest)
				if err != nil {
					return nil, "", err
				}
				specs = append(specs, spec)
			}
		case strings.HasPrefix(trimmed, "import "):
			spec, err := parseImportSpec(strings.TrimSpace(strings.TrimPrefix(trimmed, "import ")))
			if err != nil {
				return nil, "", err
			}
			specs = append(specs, spec)
		default:
			body = append(body, line)
		}
	}
	return specs, strings.Join(body, "\n"), nil
}

func parseImportSpec(s string) (importSpec, error) {
	m := importSpecRe.FindStringSubmatch(s)
	if m == nil {
		return importSpec{}, fmt.Errorf("unrecognized import form %q", s)
	}
	if _, ok := allowedImports[m[1]]; !ok {
		return importSpec{}, fmt.Errorf("import %q is not permitted in generated code", m[1])
	}
	return importSpec{text: s, path: m[1]}, nil
}

// lookupValue probes the interpreter for the conventional result variable
// names in priority order.
func lookupValue(i *interp.Interpreter) (name, value string, raw interface{}, ok bool) {
	for _, candidate := range resultNames {
		v, err := i.Eval(candidate)
		if err != nil || !v.IsValid() {
			continue
		}
		if v.CanInterface() {
			raw = v.Interface()
		}
		return candidate, formatValue(v), raw, true
	}
	return "", "", nil, false
}

func formatValue(v reflect.Value) string {
	if !v.CanInterface() {
		return v.String()
	}
	return fmt.Sprintf("%v", v.Interface())
}
