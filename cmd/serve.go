package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/query-router/internal/classify"
	"github.com/sells-group/query-router/internal/config"
	"github.com/sells-group/query-router/internal/model"
	"github.com/sells-group/query-router/internal/monitoring"
	"github.com/sells-group/query-router/internal/reqlog"
)

var servePort int

// asker runs one request end to end.
type asker interface {
	Run(ctx context.Context, q model.Query) (*model.Response, error)
}

// router is the decision-only path.
type router interface {
	Classify(ctx context.Context, text string, hasFiles bool) model.RoutingDecision
}

type askRequest struct {
	Query string          `json:"query"`
	Files []model.FileRef `json:"files"`
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		p, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer p.Close() //nolint:errcheck

		c, err := classify.NewFromConfig(cfg)
		if err != nil {
			return err
		}
		reader, _ := p.Sink().(reqlog.Reader)

		if cfg.Monitoring.Enabled {
			if reader == nil {
				zap.L().Warn("monitoring: request log is not readable, alert checker disabled",
					zap.String("sink", cfg.ReqLog.Sink),
				)
			} else {
				checker := monitoring.NewChecker(
					monitoring.NewCollector(reader, cfg.Monitoring.SampleSize),
					monitoring.NewAlerter(cfg.Monitoring),
					cfg.Monitoring,
				)
				go checker.Run(ctx)
			}
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           newRouter(p, c, reader, cfg.Server, cfg.Monitoring),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// newRouter builds the HTTP API. reader may be nil when the request log
// cannot be read back; the history and stats routes then answer 404.
func newRouter(a asker, c router, reader reqlog.Reader, srvCfg config.ServerConfig, mon config.MonitoringConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/ask", func(w http.ResponseWriter, req *http.Request) {
			var body askRequest
			if !decodeBody(w, req, srvCfg.MaxBodyBytes, &body) {
				return
			}
			files, err := resolveUploads(srvCfg.UploadDir, body.Files)
			if err != nil {
				zap.L().Warn("serve: attachment refused", zap.Error(err))
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			resp, err := a.Run(req.Context(), model.Query{Text: body.Query, Files: files})
			if errors.Is(err, model.ErrEmptyQuery) {
				writeError(w, http.StatusBadRequest, "query text or files required")
				return
			}
			if err != nil {
				zap.L().Error("serve: ask failed", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "internal error")
				return
			}
			writeJSON(w, http.StatusOK, resp)
		})

		r.Post("/classify", func(w http.ResponseWriter, req *http.Request) {
			var body askRequest
			if !decodeBody(w, req, srvCfg.MaxBodyBytes, &body) {
				return
			}
			q := model.Query{Text: body.Query, Files: body.Files}
			if err := q.Validate(); err != nil {
				writeError(w, http.StatusBadRequest, "query text or files required")
				return
			}
			writeJSON(w, http.StatusOK, c.Classify(req.Context(), q.Text, q.HasFiles()))
		})

		r.Get("/requests", func(w http.ResponseWriter, req *http.Request) {
			if reader == nil {
				writeError(w, http.StatusNotFound, "request log is not readable")
				return
			}
			limit := 20
			if s := req.URL.Query().Get("limit"); s != "" {
				n, err := strconv.Atoi(s)
				if err != nil || n <= 0 {
					writeError(w, http.StatusBadRequest, "limit must be a positive integer")
					return
				}
				limit = n
			}
			entries, err := reader.Recent(req.Context(), limit)
			if err != nil {
				zap.L().Error("serve: list requests failed", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "internal error")
				return
			}
			if entries == nil {
				entries = []model.RequestLog{}
			}
			writeJSON(w, http.StatusOK, entries)
		})

		r.Get("/stats", func(w http.ResponseWriter, req *http.Request) {
			if reader == nil {
				writeError(w, http.StatusNotFound, "request log is not readable")
				return
			}
			snap, err := monitoring.NewCollector(reader, mon.SampleSize).Collect(req.Context(), mon.LookbackWindowHours)
			if err != nil {
				zap.L().Error("serve: collect stats failed", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "internal error")
				return
			}
			writeJSON(w, http.StatusOK, snap)
		})
	})

	return r
}

// decodeBody reads a JSON body of at most limit bytes into v. It writes the
// error response itself and reports whether the handler should continue.
func decodeBody(w http.ResponseWriter, req *http.Request, limit int64, v any) bool {
	if limit > 0 {
		req.Body = http.MaxBytesReader(w, req.Body, limit)
	}
	err := json.NewDecoder(req.Body).Decode(v)
	if err == nil {
		return true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return false
	}
	writeError(w, http.StatusBadRequest, "invalid request body")
	return false
}

// resolveUploads maps client-supplied attachment paths onto files inside
// uploadDir. Paths must be relative and stay inside the directory after
// symlinks are followed; with no uploadDir every attachment is refused.
func resolveUploads(uploadDir string, files []model.FileRef) ([]model.FileRef, error) {
	if len(files) == 0 {
		return nil, nil
	}
	if uploadDir == "" {
		return nil, eris.New("file attachments are disabled on this server")
	}
	root, err := filepath.EvalSymlinks(uploadDir)
	if err != nil {
		return nil, eris.Wrap(err, "serve: resolve upload dir")
	}
	root, err = filepath.Abs(root)
	if err != nil {
		return nil, eris.Wrap(err, "serve: resolve upload dir")
	}

	out := make([]model.FileRef, 0, len(files))
	for _, f := range files {
		rel := filepath.Clean(filepath.FromSlash(f.Path))
		if !filepath.IsLocal(rel) {
			return nil, eris.Errorf("file %q must be a relative path inside the upload directory", f.Path)
		}
		resolved, err := filepath.EvalSymlinks(filepath.Join(root, rel))
		if err != nil {
			return nil, eris.Errorf("file %q not found in the upload directory", f.Path)
		}
		within, err := filepath.Rel(root, resolved)
		if err != nil || !filepath.IsLocal(within) {
			return nil, eris.Errorf("file %q resolves outside the upload directory", f.Path)
		}
		if f.Name == "" {
			f.Name = filepath.ToSlash(rel)
		}
		f.Path = resolved
		out = append(out, f)
	}
	return out, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
