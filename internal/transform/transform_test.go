package transform

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/assetbuilder/internal/asset"
	ferrors "git.home.luguber.info/inful/assetbuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/assetbuilder/internal/rules"
)

func chain(names ...string) []rules.TransformRef {
	out := make([]rules.TransformRef, 0, len(names))
	for _, n := range names {
		out = append(out, rules.TransformRef{Name: n})
	}
	return out
}

func TestRunner_PipelineOrder(t *testing.T) {
	reg := NewRegistry()
	var seen []string
	appendStage := func(tag string) Transform {
		return Func(func(_ context.Context, in Input) (*Result, error) {
			seen = append(seen, string(in.Content))
			return &Result{Content: append(append([]byte{}, in.Content...), tag...)}, nil
		})
	}
	reg.MustRegister("a", appendStage("A"))
	reg.MustRegister("b", appendStage("B"))

	res, err := NewRunner(reg, nil).Run(t.Context(), Input{Path: "x.txt", Kind: asset.KindOther, Content: []byte("0")}, chain("a", "b", "a"))
	require.NoError(t, err)
	assert.Equal(t, "0ABA", string(res.Content))
	assert.Equal(t, []string{"0", "0A", "0AB"}, seen, "each stage sees only the previous stage's output")
	assert.Equal(t, asset.KindOther, res.Kind)
}

func TestRunner_AccumulatesSideOutputs(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister("refs", Func(func(_ context.Context, in Input) (*Result, error) {
		return &Result{Content: in.Content, Refs: []asset.Ref{{Specifier: "./a", Kind: asset.RefImport}}}, nil
	}))
	reg.MustRegister("split", Func(func(_ context.Context, in Input) (*Result, error) {
		return &Result{
			Content:   in.Content,
			Kind:      asset.KindStyle,
			Artifacts: []asset.Artifact{{Name: "extra.txt", Content: []byte("x")}},
			Meta:      map[string]string{"k": "v"},
		}, nil
	}))

	res, err := NewRunner(reg, nil).Run(t.Context(), Input{Path: "a.js", Kind: asset.KindScript}, chain("refs", "split"))
	require.NoError(t, err)
	assert.Equal(t, asset.KindStyle, res.Kind)
	assert.Len(t, res.Refs, 1)
	assert.Len(t, res.Artifacts, 1)
	assert.Equal(t, "v", res.Meta["k"])
}

func TestRunner_FailureAbortsChain(t *testing.T) {
	reg := NewRegistry()
	boom := errors.New("unexpected token")
	calls := 0
	reg.MustRegister("ok", Func(func(_ context.Context, in Input) (*Result, error) {
		calls++
		return &Result{Content: in.Content}, nil
	}))
	reg.MustRegister("fail", Func(func(context.Context, Input) (*Result, error) { return nil, boom }))

	_, err := NewRunner(reg, nil).Run(t.Context(), Input{Path: "js/main.js"}, chain("ok", "fail", "ok"))
	require.Error(t, err)

	var te *TransformError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "js/main.js", te.Unit)
	assert.Equal(t, "fail", te.Stage)
	assert.ErrorIs(t, err, boom)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryTransform))
	assert.Equal(t, 1, calls, "stages after the failure never run")
}

func TestRunner_UnknownTransformAndCancel(t *testing.T) {
	runner := NewRunner(NewRegistry(), nil)
	_, err := runner.Run(t.Context(), Input{Path: "a"}, chain("nope"))
	var te *TransformError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "nope", te.Stage)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, err = NewRunner(NewBuiltinRegistry(Settings{}), nil).Run(ctx, Input{Path: "a"}, chain("script"))
	require.ErrorIs(t, err, context.Canceled)
}

func TestRunner_IgnoreStopsChain(t *testing.T) {
	res, err := NewRunner(NewBuiltinRegistry(Settings{}), nil).Run(t.Context(),
		Input{Path: "js/legacy.js", Kind: asset.KindScript, Content: []byte("x")}, chain("ignore", "script"))
	require.NoError(t, err)
	assert.True(t, res.Excluded)
	assert.Empty(t, res.Content)
}

func TestBuiltinRegistry(t *testing.T) {
	reg := NewBuiltinRegistry(Settings{})
	assert.Equal(t, []string{
		"extract", "file", "html", "ignore", "markdown", "minify",
		"provide", "script", "style", "svg-sprite", "template", "url",
	}, reg.Names())
	assert.True(t, reg.Has("script"))
	assert.Error(t, reg.Register("script", Func(ignoreTransform)))
}

func TestRegistryFingerprint(t *testing.T) {
	base := Settings{InlineLimit: 8192, AssetName: "[path][name].[ext]", Provide: map[string]string{"$": "jquery", "_": "lodash"}}
	same := Settings{InlineLimit: 8192, AssetName: "[path][name].[ext]", Provide: map[string]string{"_": "lodash", "$": "jquery"}}
	assert.Equal(t, NewBuiltinRegistry(base).Fingerprint(), NewBuiltinRegistry(same).Fingerprint())

	for name, changed := range map[string]Settings{
		"inline limit": {InlineLimit: 1, AssetName: base.AssetName, Provide: base.Provide},
		"asset name":   {InlineLimit: 8192, AssetName: "assets/[name].[ext]", Provide: base.Provide},
		"provide":      {InlineLimit: 8192, AssetName: base.AssetName},
	} {
		assert.NotEqual(t, base.Digest(), changed.Digest(), name)
	}
	assert.Empty(t, NewRegistry().Fingerprint())
}
