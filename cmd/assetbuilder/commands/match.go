package commands

import (
	"fmt"
	"io"
	"os"
	"strings"

	"git.home.luguber.info/inful/assetbuilder/internal/config"
	"git.home.luguber.info/inful/assetbuilder/internal/pipeline"
	"git.home.luguber.info/inful/assetbuilder/internal/rules"
)

// MatchCmd implements the 'match' command.
type MatchCmd struct {
	Paths []string `arg:"" name:"path" help:"Source paths, relative to the source root or absolute"`
}

func (m *MatchCmd) Run(g *Global, root *CLI) error {
	cfg, err := config.Load(root.Config)
	if err != nil {
		return err
	}
	p, err := pipeline.New(pipeline.Options{Config: cfg, Logger: g.Logger, SkipPublish: true})
	if err != nil {
		return err
	}
	for _, path := range m.Paths {
		if err := explain(os.Stdout, p.Matcher(), path); err != nil {
			return err
		}
	}
	return nil
}

// explain prints every rule that applies to path and the chain the
// configured policy selects.
func explain(w io.Writer, m *rules.Matcher, path string) error {
	st := newStyles(w)
	rel, err := m.Rel(path)
	if err != nil {
		return err
	}
	applies, err := m.Explain(rel)
	if err != nil {
		return err
	}

	var b strings.Builder
	b.WriteString(st.name.Render(rel) + "\n")
	chain, err := m.Match(rel)
	switch {
	case rules.IsNoMatch(err):
		b.WriteString("  " + st.muted.Render("no rule applies; emitted unchanged") + "\n")
		_, werr := io.WriteString(w, b.String())
		return werr
	case err != nil:
		return err
	}

	for i, r := range applies {
		line := r.Name
		if m.Policy() == config.RulePolicyFirst && i > 0 {
			line = st.muted.Render(line + " (shadowed by " + applies[0].Name + ")")
		}
		fmt.Fprintf(&b, "  %s %s\n", st.label.Render("rule "), line)
	}
	steps := make([]string, 0, len(chain))
	for _, ref := range chain {
		step := ref.Name
		if len(ref.Options) > 0 {
			step += " " + st.muted.Render(fmt.Sprintf("%v", ref.Options))
		}
		steps = append(steps, step)
	}
	fmt.Fprintf(&b, "  %s %s\n", st.label.Render("chain"), strings.Join(steps, " → "))
	_, err = io.WriteString(w, b.String())
	return err
}
