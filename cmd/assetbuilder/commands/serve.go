package commands

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"git.home.luguber.info/inful/assetbuilder/internal/config"
	"git.home.luguber.info/inful/assetbuilder/internal/devserver"
	"git.home.luguber.info/inful/assetbuilder/internal/events"
	"git.home.luguber.info/inful/assetbuilder/internal/pipeline"
)

// ServeCmd implements the 'serve' command.
type ServeCmd struct {
	Host         string `help:"Override the bind host"`
	Port         int    `short:"p" help:"Override the bind port"`
	NoLiveReload bool   `name:"no-live-reload" help:"Disable live reload events and script injection"`
	NoCompress   bool   `name:"no-compress" help:"Disable gzip compression of served files"`
	Publish      bool   `help:"Also write every successful build to the output directory"`
}

func (s *ServeCmd) Run(g *Global, root *CLI) error {
	cfg, err := config.Load(root.Config)
	if err != nil {
		return err
	}
	if err := s.apply(cfg); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	d, err := openDeps(cfg, g.Logger, true)
	if err != nil {
		return err
	}
	defer d.close(g.Logger)

	opts := d.pipelineOptions(cfg, g.Logger)
	opts.SkipPublish = !cfg.Server.Publish
	p, err := pipeline.New(opts)
	if err != nil {
		return err
	}

	srvOpts := devserver.Options{
		Config:   cfg,
		Builder:  p,
		History:  d.history,
		Recorder: d.recorder,
		Logger:   g.Logger,
	}
	if d.cache != nil {
		srvOpts.Cache = d.cache
	}
	if cfg.Monitoring.Metrics {
		srvOpts.Registry = d.registry
	}
	srv, err := devserver.New(srvOpts)
	if err != nil {
		return err
	}

	finished, unsubscribe := events.Subscribe[events.BuildFinished](srv.Bus(), 4)
	defer unsubscribe()
	go printBuilds(os.Stdout, finished)

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	fmt.Printf("Serving %s on http://%s\n", cfg.SourceRoot(), addr)
	return srv.Run(ctx)
}

func (s *ServeCmd) apply(cfg *config.Config) error {
	if s.Host != "" {
		cfg.Server.Host = s.Host
	}
	if s.Port != 0 {
		cfg.Server.Port = s.Port
	}
	if s.NoLiveReload {
		cfg.Server.LiveReload = false
	}
	if s.NoCompress {
		cfg.Server.Compress = false
	}
	if s.Publish {
		cfg.Server.Publish = true
	}
	return config.Validate(cfg)
}

// printBuilds writes one line per finished build until the bus closes.
func printBuilds(w io.Writer, finished <-chan events.BuildFinished) {
	st := newStyles(w)
	for ev := range finished {
		switch {
		case ev.Err == nil:
			fmt.Fprintf(w, "%s build %s in %s, %d files\n",
				st.ok.Render("✓"), shortID(ev.BuildID), formatDuration(ev.Duration), ev.Files)
		case ev.Status == "canceled":
			fmt.Fprintf(w, "%s build %s superseded\n", st.muted.Render("-"), shortID(ev.BuildID))
		default:
			fmt.Fprintf(w, "%s build %s failed: %v\n", st.fail.Render("✗"), shortID(ev.BuildID), ev.Err)
		}
	}
}
