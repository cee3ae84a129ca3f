package commands

import (
	"context"
	"encoding/json"
	"os"

	"git.home.luguber.info/inful/assetbuilder/internal/config"
	ferrors "git.home.luguber.info/inful/assetbuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/assetbuilder/internal/history"
	"git.home.luguber.info/inful/assetbuilder/internal/logfields"
)

// HistoryCmd implements the 'history' command.
type HistoryCmd struct {
	Limit int    `short:"n" default:"20" help:"Number of builds to show"`
	ID    string `arg:"" optional:"" help:"Show a single build by ID"`
	JSON  bool   `name:"json" help:"Print records as JSON"`
}

func (h *HistoryCmd) Run(g *Global, root *CLI) error {
	cfg, err := config.Load(root.Config)
	if err != nil {
		return err
	}
	if cfg.History.Path == "" {
		return ferrors.ConfigError("build history is not configured").
			WithContext("hint", "set history.path in the configuration").
			Build()
	}
	store, err := history.NewSQLiteStore(cfg.Abs(cfg.History.Path))
	if err != nil {
		return err
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			g.Logger.Warn("Failed to close history database", logfields.Error(cerr))
		}
	}()

	ctx := context.Background()
	var recs []history.Record
	if h.ID != "" {
		rec, err := store.Get(ctx, h.ID)
		if err != nil {
			if history.IsNotFound(err) {
				return ferrors.NotFoundError("build not found").WithContext("id", h.ID).Build()
			}
			return err
		}
		recs = []history.Record{rec}
	} else {
		recs, err = store.Recent(ctx, h.Limit)
		if err != nil {
			return err
		}
	}

	if h.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(recs)
	}
	writeHistory(os.Stdout, recs)
	return nil
}
