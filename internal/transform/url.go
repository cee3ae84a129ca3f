package transform

import (
	"context"
	"fmt"
)

// urlTransform marks a unit inlineable: referrers embed it as a data URI when
// its size is strictly below the limit, otherwise it is emitted under name.
func urlTransform(defaultLimit int64, defaultName string) Transform {
	return Func(func(_ context.Context, in Input) (*Result, error) {
		limit, ok, err := optInt(in.Options, "limit")
		if err != nil {
			return nil, err
		}
		if !ok {
			limit = defaultLimit
		}
		if limit < 0 {
			return nil, fmt.Errorf("option \"limit\" must not be negative, got %d", limit)
		}
		name, err := optString(in.Options, "name", defaultName)
		if err != nil {
			return nil, err
		}
		ctxDir, err := optString(in.Options, "context", "")
		if err != nil {
			return nil, err
		}
		return &Result{Content: in.Content, Name: name, Context: ctxDir, InlineLimit: &limit}, nil
	})
}

// fileTransform always emits the unit as its own file under name.
func fileTransform(defaultName string) Transform {
	return Func(func(_ context.Context, in Input) (*Result, error) {
		name, err := optString(in.Options, "name", defaultName)
		if err != nil {
			return nil, err
		}
		ctxDir, err := optString(in.Options, "context", "")
		if err != nil {
			return nil, err
		}
		zero := int64(0)
		return &Result{Content: in.Content, Name: name, Context: ctxDir, InlineLimit: &zero}, nil
	})
}

// ignoreTransform excludes the unit from the output explicitly.
func ignoreTransform(_ context.Context, _ Input) (*Result, error) {
	return &Result{Excluded: true}, nil
}
