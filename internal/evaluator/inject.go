package evaluator

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// Placeholder is replaced with the candidate value in build and run
// command lines.
const Placeholder = "{{value}}"

// Injector wires a candidate value into the next build.
type Injector interface {
	// Inject prepares the build for value and returns extra environment
	// entries for the build command.
	Inject(value int64) ([]string, error)
}

// SourcePatcher rewrites `const <NAME>: <TYPE> = <digits>;` declarations in
// a source file.
type SourcePatcher struct {
	Path    string
	Name    string
	Type    string
	pattern *regexp.Regexp
}

// NewSourcePatcher returns a patcher for the named constant in path.
func NewSourcePatcher(path, name, typ string) *SourcePatcher {
	expr := fmt.Sprintf(`const\s+%s\s*:\s*%s\s*=\s*\d+\s*;`, regexp.QuoteMeta(name), regexp.QuoteMeta(typ))
	return &SourcePatcher{
		Path:    path,
		Name:    name,
		Type:    typ,
		pattern: regexp.MustCompile(expr),
	}
}

// Inject rewrites every matching declaration to value. A file without a
// matching declaration is an error, since the build would silently ignore
// the candidate.
func (p *SourcePatcher) Inject(value int64) ([]string, error) {
	info, err := os.Stat(p.Path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", p.Path, err)
	}
	code, err := os.ReadFile(p.Path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p.Path, err)
	}
	if !p.pattern.Match(code) {
		return nil, fmt.Errorf("no declaration of const %s: %s in %s", p.Name, p.Type, p.Path)
	}

	decl := fmt.Sprintf("const %s: %s = %d;", p.Name, p.Type, value)
	updated := p.pattern.ReplaceAllLiteral(code, []byte(decl))
	if string(updated) == string(code) {
		return nil, nil
	}
	if err := os.WriteFile(p.Path, updated, info.Mode().Perm()); err != nil {
		return nil, fmt.Errorf("write %s: %w", p.Path, err)
	}
	return nil, nil
}

// EnvInjector hands the value to the build as an environment variable,
// for build systems that bake it in as a compile-time constant.
type EnvInjector struct {
	Name string
}

func (e EnvInjector) Inject(value int64) ([]string, error) {
	return []string{e.Name + "=" + strconv.FormatInt(value, 10)}, nil
}

func expand(line string, value int64) string {
	return strings.ReplaceAll(line, Placeholder, strconv.FormatInt(value, 10))
}
