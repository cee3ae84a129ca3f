package emit

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	ferrors "git.home.luguber.info/inful/assetbuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/assetbuilder/internal/logfields"
	"git.home.luguber.info/inful/assetbuilder/internal/retry"
)

// Publisher writes outputs to an output root.
type Publisher struct {
	// Root is the output directory.
	Root string
	// Clean replaces the whole output root, removing stale files of earlier builds.
	Clean bool
	// SourceRoot is never cleaned, nor is any of its ancestors.
	SourceRoot string
	Retry      retry.Policy
	Logger     *slog.Logger
}

// GuardRoot refuses output roots a clean publish must never replace: the
// filesystem root, the home directory, the source root and its ancestors.
func GuardRoot(root, sourceRoot string) error {
	if strings.TrimSpace(root) == "" {
		return ferrors.ValidationError("output root is empty").Build()
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryValidation, "resolve output root").Build()
	}
	refuse := func(reason string) error {
		return ferrors.ValidationError("refusing to clean output root").
			WithContext("path", abs).
			WithContext("reason", reason).
			Build()
	}
	if filepath.Dir(abs) == abs {
		return refuse("filesystem root")
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		if h, err := filepath.Abs(home); err == nil && h == abs {
			return refuse("home directory")
		}
	}
	if sourceRoot != "" {
		src, err := filepath.Abs(sourceRoot)
		if err == nil && within(src, abs) {
			return refuse("contains the source root")
		}
	}
	return nil
}

// within reports whether p is dir or lies below it.
func within(p, dir string) bool {
	rel, err := filepath.Rel(dir, p)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// Publish writes out to the output root. With Clean the output is built in a
// sibling staging directory and swapped in by rename, so the previous tree
// stays intact until the new one is complete.
func (p *Publisher) Publish(ctx context.Context, out *Output) error {
	start := time.Now()
	var err error
	if p.Clean {
		err = p.publishClean(ctx, out)
	} else {
		err = p.publishInPlace(ctx, out)
	}
	if err != nil {
		return err
	}
	p.logger().Info("Build output published",
		logfields.Path(p.Root),
		logfields.Count(len(out.Files)),
		logfields.DurationMS(float64(time.Since(start).Milliseconds())))
	return nil
}

func (p *Publisher) publishClean(ctx context.Context, out *Output) error {
	if err := GuardRoot(p.Root, p.SourceRoot); err != nil {
		return err
	}
	root, err := filepath.Abs(p.Root)
	if err != nil {
		return newOutputWriteError("resolve", p.Root, err)
	}
	parent := filepath.Dir(root)
	if err := os.MkdirAll(parent, 0o750); err != nil {
		return newOutputWriteError("mkdir", parent, err)
	}
	stage, err := os.MkdirTemp(parent, filepath.Base(root)+".staging-")
	if err != nil {
		return newOutputWriteError("stage", parent, err)
	}
	if err := os.Chmod(stage, 0o755); err != nil {
		_ = os.RemoveAll(stage)
		return newOutputWriteError("stage", stage, err)
	}
	promoted := false
	defer func() {
		if promoted {
			return
		}
		if rmErr := os.RemoveAll(stage); rmErr != nil {
			p.logger().Warn("Failed to remove staging directory", logfields.Path(stage), logfields.Error(rmErr))
		}
	}()

	if err := p.writeFiles(ctx, stage, out); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	hadRoot := false
	backup, prev := "", ""
	if _, statErr := os.Stat(root); statErr == nil {
		hadRoot = true
		// The backup directory is always fresh, so nothing next to root that
		// this build did not create is ever removed.
		backup, err = os.MkdirTemp(parent, filepath.Base(root)+".prev-")
		if err != nil {
			return newOutputWriteError("backup", parent, err)
		}
		prev = filepath.Join(backup, filepath.Base(root))
		if err := p.retryFS(ctx, func() error { return os.Rename(root, prev) }); err != nil {
			_ = os.Remove(backup)
			return newOutputWriteError("backup", root, err)
		}
	}
	if err := p.retryFS(ctx, func() error { return os.Rename(stage, root) }); err != nil {
		if hadRoot {
			if rbErr := os.Rename(prev, root); rbErr != nil {
				p.logger().Error("Failed to restore previous output", logfields.Path(root), logfields.Error(rbErr))
			} else {
				_ = os.Remove(backup)
			}
		}
		return newOutputWriteError("promote", root, err)
	}
	promoted = true
	if hadRoot {
		if err := os.RemoveAll(backup); err != nil {
			p.logger().Warn("Failed to remove previous output", logfields.Path(backup), logfields.Error(err))
		}
	}
	return nil
}

// publishInPlace replaces each file atomically but leaves unrelated files alone.
func (p *Publisher) publishInPlace(ctx context.Context, out *Output) error {
	root, err := filepath.Abs(p.Root)
	if err != nil {
		return newOutputWriteError("resolve", p.Root, err)
	}
	return p.writeFiles(ctx, root, out)
}

func (p *Publisher) writeFiles(ctx context.Context, dir string, out *Output) error {
	for _, rel := range out.Paths() {
		if err := ctx.Err(); err != nil {
			return err
		}
		target := filepath.Join(dir, filepath.FromSlash(rel))
		content := out.Files[rel].Content
		if err := p.retryFS(ctx, func() error { return writeAtomic(target, content) }); err != nil {
			var owe *OutputWriteError
			if errors.As(err, &owe) {
				return err
			}
			return newOutputWriteError("write", rel, err)
		}
	}
	return nil
}

func (p *Publisher) retryFS(ctx context.Context, fn func() error) error {
	policy := p.Retry
	if policy.Initial <= 0 {
		policy = retry.DefaultPolicy()
	}
	return policy.Do(ctx, isTransient, fn)
}

func (p *Publisher) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}

// writeAtomic writes data next to target and renames it into place.
func writeAtomic(target string, data []byte) error {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(target)+".tmp-")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, target); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}
