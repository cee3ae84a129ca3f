package transform

import (
	"context"
	"path"
	"regexp"
	"strconv"
	"strings"

	"git.home.luguber.info/inful/assetbuilder/internal/asset"
)

// Script modules are rewritten into a CommonJS-like shape the emitter wraps as
//
//	function (module, exports, __ab_require) { ... }
//
// Imports of other scripts become __ab_require calls keyed by a module
// placeholder. Style imports are dropped from the body and followed as
// dependencies. Asset imports become URL string constants.
var (
	reImportFrom  = regexp.MustCompile(`(?m)^([ \t]*)import\s+([^'";]+?)\s+from\s*['"]([^'"\n]+)['"][ \t]*;?`)
	reImportBare  = regexp.MustCompile(`(?m)^([ \t]*)import\s*['"]([^'"\n]+)['"][ \t]*;?`)
	reExportFrom  = regexp.MustCompile(`(?m)^([ \t]*)export\s+(\*|\{[^}]*\})\s*from\s*['"]([^'"\n]+)['"][ \t]*;?`)
	reExportDecl  = regexp.MustCompile(`(?m)^([ \t]*)export\s+((?:async\s+)?function\*?|const|let|var|class)\s+([\w$]+)`)
	reExportDef   = regexp.MustCompile(`(?m)^([ \t]*)export\s+default\s+`)
	reExportList  = regexp.MustCompile(`(?m)^([ \t]*)export\s*\{([^}]*)\}[ \t]*;?`)
	reRequire     = regexp.MustCompile(`\brequire\s*\(\s*['"]([^'"\n]+)['"]\s*\)`)
	reDynamicLoad = regexp.MustCompile(`\bimport\s*\(\s*['"]([^'"\n]+)['"]\s*\)`)
)

type scriptRewriter struct {
	refs    []asset.Ref
	exports []string
}

func (w *scriptRewriter) ref(spec string, kind asset.RefKind) {
	w.refs = append(w.refs, asset.Ref{Specifier: spec, Kind: kind})
}

// isOpaqueExt reports extensions imported for their URL even though they
// have no kind of their own.
func isOpaqueExt(ext string) bool {
	switch ext {
	case ".woff", ".woff2", ".ttf", ".eot", ".otf", ".mp4", ".webm", ".mp3", ".ogg", ".wav", ".pdf", ".txt", ".json", ".xml":
		return true
	}
	return false
}

// refKindFor classifies what an import of spec pulls in. Extensionless and
// unknown specifiers such as "jquery" or "./util" are modules.
func refKindFor(spec string) asset.Kind {
	p := strings.SplitN(spec, "?", 2)[0]
	if k := asset.KindOf(p); k != asset.KindOther {
		return k
	}
	if isOpaqueExt(strings.ToLower(path.Ext(p))) {
		return asset.KindOther
	}
	return asset.KindScript
}

func requireExpr(spec string) string {
	return `__ab_require("` + asset.ModulePlaceholder(spec) + `")`
}

func urlLiteral(spec string) string {
	return strconv.Quote(asset.Placeholder(spec))
}

func scriptTransform(_ context.Context, in Input) (*Result, error) {
	w := &scriptRewriter{}
	src := string(in.Content)

	src = reExportFrom.ReplaceAllStringFunc(src, func(m string) string {
		sub := reExportFrom.FindStringSubmatch(m)
		indent, clause, spec := sub[1], sub[2], sub[3]
		w.ref(spec, asset.RefImport)
		if clause == "*" {
			return indent + "Object.assign(exports, " + requireExpr(spec) + ");"
		}
		var b strings.Builder
		b.WriteString(indent + "(function (m) {")
		for _, spec := range splitList(clause) {
			local, exported := splitAlias(spec)
			b.WriteString(" exports." + exported + " = m." + local + ";")
		}
		b.WriteString(" })(" + requireExpr(spec) + ");")
		return b.String()
	})

	src = reImportFrom.ReplaceAllStringFunc(src, func(m string) string {
		sub := reImportFrom.FindStringSubmatch(m)
		indent, clause, spec := sub[1], strings.TrimSpace(sub[2]), sub[3]
		switch refKindFor(spec) {
		case asset.KindScript:
			w.ref(spec, asset.RefImport)
			return indent + importBindings(clause, requireExpr(spec))
		case asset.KindStyle:
			w.ref(spec, asset.RefImport)
			return ""
		default:
			w.ref(spec, asset.RefAsset)
			return indent + "const " + defaultBinding(clause) + " = " + urlLiteral(spec) + ";"
		}
	})

	src = reImportBare.ReplaceAllStringFunc(src, func(m string) string {
		sub := reImportBare.FindStringSubmatch(m)
		indent, spec := sub[1], sub[2]
		switch refKindFor(spec) {
		case asset.KindScript:
			w.ref(spec, asset.RefImport)
			return indent + requireExpr(spec) + ";"
		case asset.KindStyle:
			w.ref(spec, asset.RefImport)
		default:
			w.ref(spec, asset.RefAsset)
		}
		return ""
	})

	src = reDynamicLoad.ReplaceAllStringFunc(src, func(m string) string {
		spec := reDynamicLoad.FindStringSubmatch(m)[1]
		if refKindFor(spec) != asset.KindScript {
			w.ref(spec, asset.RefAsset)
			return "Promise.resolve(" + urlLiteral(spec) + ")"
		}
		w.ref(spec, asset.RefDynamic)
		return "Promise.resolve().then(function () { return " + requireExpr(spec) + "; })"
	})

	src = reRequire.ReplaceAllStringFunc(src, func(m string) string {
		spec := reRequire.FindStringSubmatch(m)[1]
		switch refKindFor(spec) {
		case asset.KindScript:
			w.ref(spec, asset.RefImport)
			return requireExpr(spec)
		case asset.KindStyle:
			w.ref(spec, asset.RefImport)
			return "{}"
		default:
			w.ref(spec, asset.RefAsset)
			return urlLiteral(spec)
		}
	})

	src = reExportDecl.ReplaceAllStringFunc(src, func(m string) string {
		sub := reExportDecl.FindStringSubmatch(m)
		w.exports = append(w.exports, sub[3])
		return sub[1] + sub[2] + " " + sub[3]
	})
	src = reExportDef.ReplaceAllString(src, "${1}exports.default = ")
	src = reExportList.ReplaceAllStringFunc(src, func(m string) string {
		sub := reExportList.FindStringSubmatch(m)
		var b strings.Builder
		b.WriteString(sub[1])
		for _, spec := range splitList(sub[2]) {
			local, exported := splitAlias(spec)
			b.WriteString("exports." + exported + " = " + local + "; ")
		}
		return strings.TrimRight(b.String(), " ")
	})

	if len(w.exports) > 0 {
		var b strings.Builder
		b.WriteString(strings.TrimRight(src, "\n"))
		b.WriteString("\n")
		for _, name := range w.exports {
			b.WriteString("exports." + name + " = " + name + ";\n")
		}
		src = b.String()
	}

	return &Result{Content: []byte(src), Kind: asset.KindScript, Refs: w.refs}, nil
}

// importBindings turns an import clause into declarations bound to expr.
func importBindings(clause, expr string) string {
	def, rest := clause, ""
	if i := strings.Index(clause, ","); i >= 0 && !strings.HasPrefix(strings.TrimSpace(clause), "{") {
		def, rest = strings.TrimSpace(clause[:i]), strings.TrimSpace(clause[i+1:])
	} else if strings.HasPrefix(clause, "{") || strings.HasPrefix(clause, "*") {
		def, rest = "", clause
	}

	var decls []string
	target := expr
	if def != "" && rest != "" {
		decls = append(decls, "const __ab_m_"+identSuffix(def)+" = "+expr+";")
		target = "__ab_m_" + identSuffix(def)
	}
	if def != "" {
		decls = append(decls, "const "+def+" = __ab_default("+target+");")
	}
	switch {
	case strings.HasPrefix(rest, "*"):
		ns := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(strings.TrimPrefix(rest, "*")), "as"))
		decls = append(decls, "const "+ns+" = "+target+";")
	case strings.HasPrefix(rest, "{"):
		var parts []string
		for _, spec := range splitList(strings.Trim(rest, "{}")) {
			imported, local := splitAlias(spec)
			if imported == local {
				parts = append(parts, local)
			} else {
				parts = append(parts, imported+": "+local)
			}
		}
		decls = append(decls, "const { "+strings.Join(parts, ", ")+" } = "+target+";")
	}
	return strings.Join(decls, " ")
}

// defaultBinding returns the local name of an asset import's default binding.
func defaultBinding(clause string) string {
	if i := strings.Index(clause, ","); i >= 0 {
		clause = clause[:i]
	}
	clause = strings.TrimSpace(clause)
	if strings.HasPrefix(clause, "*") {
		return strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(strings.TrimPrefix(clause, "*")), "as"))
	}
	return clause
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(strings.Trim(strings.TrimSpace(s), "{}"), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// splitAlias splits "a as b" into ("a", "b") and "a" into ("a", "a").
func splitAlias(spec string) (string, string) {
	fields := strings.Fields(spec)
	if len(fields) == 3 && fields[1] == "as" {
		return fields[0], fields[2]
	}
	return spec, spec
}

func identSuffix(name string) string {
	var b strings.Builder
	for _, r := range name {
		if r == '_' || r == '$' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}
