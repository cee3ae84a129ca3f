package devserver

import (
	"bytes"
	"encoding/json"
	"html"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzhttp"

	ferrors "git.home.luguber.info/inful/assetbuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/assetbuilder/internal/logfields"
	"git.home.luguber.info/inful/assetbuilder/internal/metrics"
	"git.home.luguber.info/inful/assetbuilder/internal/version"
)

const scriptTag = `<script src="/__livereload.js"></script>`

// Status is the /__status payload.
type Status struct {
	State        string    `json:"state"`
	BuildID      string    `json:"build_id,omitempty"`
	ManifestHash string    `json:"manifest_hash,omitempty"`
	BuiltAt      time.Time `json:"built_at,omitzero"`
	Files        int       `json:"files"`
	Error        string    `json:"error,omitempty"`
	FailedBuild  string    `json:"failed_build,omitempty"`
	Clients      int       `json:"clients"`
	Uptime       string    `json:"uptime"`
	Version      string    `json:"version"`
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	errs := ferrors.NewHTTPErrorAdapter(s.logger)

	if s.cfg.Server.LiveReload {
		mux.Handle("GET /__livereload", s.hub)
		mux.HandleFunc("GET /__livereload.js", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
			w.Header().Set("Cache-Control", "no-cache")
			_, _ = w.Write([]byte(ClientScript))
		})
	}
	mux.HandleFunc("GET /__status", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, s.status())
	})
	mux.HandleFunc("GET /__builds", func(w http.ResponseWriter, r *http.Request) {
		if s.history == nil {
			errs.WriteErrorResponse(w, r, ferrors.NotFoundError("build history is not configured").Build())
			return
		}
		limit := 20
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				errs.WriteErrorResponse(w, r, ferrors.ValidationError("limit must be a positive integer").WithContext("limit", v).Build())
				return
			}
			limit = n
		}
		recs, err := s.history.Recent(r.Context(), limit)
		if err != nil {
			errs.WriteErrorResponse(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, recs)
	})
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	if s.registry != nil {
		mux.Handle("GET /metrics", metrics.HTTPHandler(s.registry))
	}

	var files http.Handler = http.HandlerFunc(s.serveFile)
	if s.cfg.Server.Compress {
		files = gzhttp.GzipHandler(files)
	}
	mux.Handle("/", files)
	return mux
}

func (s *Server) status() Status {
	st := Status{
		State:   s.State().String(),
		Clients: s.hub.Clients(),
		Uptime:  time.Since(s.started).Round(time.Second).String(),
		Version: version.String(),
	}
	if snap := s.Snapshot(); snap != nil {
		st.BuildID = snap.BuildID
		st.ManifestHash = snap.ManifestHash
		st.BuiltAt = snap.BuiltAt
		st.Files = snap.Len()
	}
	if f := s.lastErr.Load(); f != nil {
		st.Error = f.Err.Error()
		st.FailedBuild = f.BuildID
	}
	return st
}

// serveFile answers from the current snapshot. Before the first successful
// build it serves a placeholder page that reloads once a build lands.
func (s *Server) serveFile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}
	snap := s.Snapshot()
	if snap == nil {
		s.servePending(w)
		return
	}
	name, content, ok := snap.Lookup(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}
	if s.cfg.Server.LiveReload && strings.HasSuffix(name, ".html") {
		content = injectScript(content)
	} else if tag := snap.ETag(name); tag != "" {
		w.Header().Set("ETag", tag)
	}
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Build-ID", snap.BuildID)
	http.ServeContent(w, r, name, snap.BuiltAt, bytes.NewReader(content))
	s.logger.Debug("Served file", logfields.Path(name), logfields.Method(r.Method))
}

func (s *Server) servePending(w http.ResponseWriter) {
	title, detail := "Building…", "The first build is still running."
	status := http.StatusServiceUnavailable
	if err := s.LastError(); err != nil {
		title, detail = "Build failed", err.Error()
	}
	page := []byte("<!doctype html><html><head><meta charset=\"utf-8\"><title>" + html.EscapeString(title) +
		"</title></head><body><h1>" + html.EscapeString(title) + "</h1><pre>" + html.EscapeString(detail) +
		"</pre></body></html>")
	if s.cfg.Server.LiveReload {
		page = injectScript(page)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Retry-After", "1")
	w.WriteHeader(status)
	_, _ = w.Write(page)
}

// injectScript adds the live reload client before </body>, or at the end
// when the document has none.
func injectScript(page []byte) []byte {
	lower := bytes.ToLower(page)
	i := bytes.LastIndex(lower, []byte("</body>"))
	if i < 0 {
		return append(append([]byte(nil), page...), scriptTag...)
	}
	out := make([]byte, 0, len(page)+len(scriptTag))
	out = append(out, page[:i]...)
	out = append(out, scriptTag...)
	return append(out, page[i:]...)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
