package emit

import (
	"bytes"
	"encoding/json"
	"fmt"

	"git.home.luguber.info/inful/assetbuilder/internal/asset"
	"git.home.luguber.info/inful/assetbuilder/internal/graph"
)

// Script bundles are a single self-executing function. Every module is
// registered under its unit path and evaluated on first require. Modules the
// bundle does not define fall back to a global of the same name, which is
// how unresolved externals such as a CDN copy of jquery are reached.
const runtimePrologue = `(function () {
  var modules = {};
  var cache = {};
  function __ab_define(id, factory) {
    modules[id] = factory;
  }
  function __ab_require(id) {
    if (Object.prototype.hasOwnProperty.call(cache, id)) {
      return cache[id].exports;
    }
    var factory = modules[id];
    if (!factory) {
      return (typeof window !== "undefined" && window[id]) || {};
    }
    var module = (cache[id] = { exports: {} });
    factory.call(module.exports, module, module.exports, __ab_require);
    return module.exports;
  }
  function __ab_default(m) {
    return m && typeof m === "object" && "default" in m ? m["default"] : m;
  }
  function __ab_style(css) {
    if (typeof document === "undefined") {
      return;
    }
    var el = document.createElement("style");
    el.appendChild(document.createTextNode(css));
    document.head.appendChild(el);
  }
`

const runtimeEpilogue = "})();\n"

func jsString(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		return `""`
	}
	return string(b)
}

// collect walks the import edges of root depth first and returns the script
// and style units it bundles, dependencies before their dependents.
func (em *emission) collect(root *graph.Unit) (scripts, styles []*graph.Unit) {
	seen := map[string]bool{}
	var visit func(u *graph.Unit)
	visit = func(u *graph.Unit) {
		if seen[u.Path] {
			return
		}
		seen[u.Path] = true
		for _, e := range u.Deps {
			if e.External || (e.Ref.Kind != asset.RefImport && e.Ref.Kind != asset.RefDynamic) {
				continue
			}
			if t := em.g.Units[e.Target]; t != nil && bundleable(t) {
				visit(t)
			}
		}
		switch u.Kind {
		case asset.KindScript:
			scripts = append(scripts, u)
		case asset.KindStyle:
			styles = append(styles, u)
		}
	}
	visit(root)
	return scripts, styles
}

// renderScript assembles a script bundle written to from. inject lists style
// units applied through the runtime before root runs.
func (em *emission) renderScript(root *graph.Unit, scripts, inject []*graph.Unit, from string) []byte {
	var b bytes.Buffer
	b.WriteString(runtimePrologue)
	for _, u := range scripts {
		fmt.Fprintf(&b, "  __ab_define(%s, function (module, exports, __ab_require) {\n", jsString(u.Path))
		body := bytes.TrimRight(em.resolve(u, u.Content(), from, modeScript), "\n")
		if len(body) > 0 {
			b.Write(body)
			b.WriteByte('\n')
		}
		b.WriteString("  });\n")
	}
	for _, u := range inject {
		css := em.resolve(u, u.Content(), from, modeScript)
		fmt.Fprintf(&b, "  __ab_style(%s);\n", jsString(string(css)))
	}
	if root.Kind == asset.KindScript {
		fmt.Fprintf(&b, "  __ab_require(%s);\n", jsString(root.Path))
	}
	b.WriteString(runtimeEpilogue)
	return b.Bytes()
}

// renderStyles concatenates style units into one stylesheet written to from.
func (em *emission) renderStyles(units []*graph.Unit, from string, mode urlMode) []byte {
	var b bytes.Buffer
	for i, u := range units {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "/* %s */\n", u.Path)
		b.Write(bytes.TrimRight(em.resolve(u, u.Content(), from, mode), "\n"))
		b.WriteByte('\n')
	}
	return b.Bytes()
}

func unitPaths(units []*graph.Unit) []string {
	out := make([]string, 0, len(units))
	for _, u := range units {
		out = append(out, u.Path)
	}
	return out
}
