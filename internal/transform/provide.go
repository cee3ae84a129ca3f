package transform

import (
	"context"
	"regexp"
	"sort"
	"strings"
)

// provideTransform prepends imports for free identifiers, the way a global
// such as `$` is made available to every module that uses it.
func provideTransform(defaults map[string]string) Transform {
	return Func(func(_ context.Context, in Input) (*Result, error) {
		provided, err := optStringMap(in.Options, "provide")
		if err != nil {
			return nil, err
		}
		if provided == nil {
			provided = defaults
		}
		if len(provided) == 0 {
			return &Result{Content: in.Content}, nil
		}

		names := make([]string, 0, len(provided))
		for name := range provided {
			names = append(names, name)
		}
		sort.Strings(names)

		src := string(in.Content)
		var header strings.Builder
		for _, name := range names {
			module := provided[name]
			if !usesFreeIdentifier(src, name) {
				continue
			}
			if strings.Contains(name, ".") {
				local := "__ab_provided_" + identSuffix(name)
				header.WriteString("import " + local + " from '" + module + "';\n")
				header.WriteString(name + " = " + local + ";\n")
				continue
			}
			if declares(src, name) {
				continue
			}
			header.WriteString("import " + name + " from '" + module + "';\n")
		}
		if header.Len() == 0 {
			return &Result{Content: in.Content}, nil
		}
		return &Result{Content: []byte(header.String() + src)}, nil
	})
}

// usesFreeIdentifier reports whether name is referenced as a value.
func usesFreeIdentifier(src, name string) bool {
	re := regexp.MustCompile(`(?m)(?:^|[^\w$.])` + regexp.QuoteMeta(name) + `(?:[^\w$]|$)`)
	for _, loc := range re.FindAllStringIndex(src, -1) {
		start := loc[0] + strings.Index(src[loc[0]:loc[1]], name)
		if !insideStringOrComment(src, start) {
			return true
		}
	}
	return false
}

// declares reports whether src binds name itself.
func declares(src, name string) bool {
	q := regexp.QuoteMeta(name)
	re := regexp.MustCompile(`(?:\b(?:var|let|const|function|class)\s+` + q + `(?:[^\w$]|$))|(?:\bimport\s+` + q + `\s)`)
	return re.MatchString(src)
}

// insideStringOrComment is a line-local heuristic: it counts quotes before pos
// on the same line and checks for a // comment start.
func insideStringOrComment(src string, pos int) bool {
	lineStart := strings.LastIndexByte(src[:pos], '\n') + 1
	line := src[lineStart:pos]
	if strings.Contains(line, "//") {
		return true
	}
	for _, q := range []string{`"`, `'`, "`"} {
		if strings.Count(line, q)%2 == 1 {
			return true
		}
	}
	return false
}
