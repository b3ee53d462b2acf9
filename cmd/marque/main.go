// Command marque is the bookmark import and search service.
//
// Usage:
//
//	marque -config marque.yaml             # run with config file
//	marque -db marque.db                   # run with defaults
//	marque -db marque.db -stats            # show stats and exit
//	marque -db marque.db -reindex          # rebuild the fulltext index and exit
//
// AUTH_USER and AUTH_PASSWORD must be set; every API request authenticates
// with HTTP Basic and the username is the bookmark owner.
package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/marque/markpipe"
	"github.com/hazyhaar/marque/observability"
)

// maxUploadSize caps bookmark file uploads. Browser exports run to a few
// megabytes at most.
const maxUploadSize = 32 << 20

func main() {
	configPath := flag.String("config", "", "path to marque.yaml config file")
	dbPath := flag.String("db", "", "path to SQLite database")
	addr := flag.String("addr", ":8090", "HTTP listen address")
	showStats := flag.Bool("stats", false, "show stats and exit")
	reindex := flag.Bool("reindex", false, "rebuild the fulltext index and exit")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	jsonLogs := flag.Bool("log-json", true, "log as JSON")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := observability.SetupLogger(level, *jsonLogs)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath, *dbPath, *addr, *showStats, *reindex); err != nil {
		logger.Error("marque: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath, dbPath, addr string, showStats, reindex bool) error {
	cfg, err := resolveConfig(configPath, dbPath)
	if err != nil {
		return err
	}

	p, err := markpipe.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	defer p.Close()

	// One-shot: stats.
	if showStats {
		stats, err := p.Stats(ctx)
		if err != nil {
			return fmt.Errorf("stats: %w", err)
		}
		return printJSON(stats)
	}

	// One-shot: synchronous reindex, no workers needed.
	if reindex {
		n, err := p.ReindexSync(ctx, "")
		if err != nil {
			return fmt.Errorf("reindex: %w", err)
		}
		logger.Info("reindex complete", "documents", n)
		return nil
	}

	auth, err := authFromEnv()
	if err != nil {
		return err
	}

	p.Start(ctx)

	srv := &http.Server{
		Addr:              addr,
		Handler:           router(p, auth, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	logger.Info("marque: listening", "addr", addr, "db", cfg.DBPath)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("marque: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func resolveConfig(configPath, dbPath string) (*markpipe.Config, error) {
	if configPath != "" {
		return markpipe.LoadConfigFile(configPath)
	}
	cfg := &markpipe.Config{}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	if cfg.DBPath == "" {
		fmt.Fprintln(os.Stderr, "usage: marque -config <file> | -db <path> [-stats] [-reindex]")
		os.Exit(1)
	}
	return cfg, nil
}

// basicAuth holds the single configured credential pair. The password is
// kept only as a bcrypt hash.
type basicAuth struct {
	user string
	hash []byte
}

func authFromEnv() (*basicAuth, error) {
	user := os.Getenv("AUTH_USER")
	password := os.Getenv("AUTH_PASSWORD")
	if user == "" || password == "" {
		return nil, errors.New("AUTH_USER and AUTH_PASSWORD are required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	return &basicAuth{user: user, hash: hash}, nil
}

// middleware enforces HTTP Basic and stores the owner in the context.
func (a *basicAuth) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok ||
			subtle.ConstantTimeCompare([]byte(user), []byte(a.user)) != 1 ||
			bcrypt.CompareHashAndPassword(a.hash, []byte(pass)) != nil {
			w.Header().Set("WWW-Authenticate", `Basic realm="marque"`)
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r.WithContext(withOwner(r.Context(), user)))
	})
}

type ownerKey struct{}

func withOwner(ctx context.Context, owner string) context.Context {
	return context.WithValue(ctx, ownerKey{}, owner)
}

func ownerFrom(r *http.Request) string {
	owner, _ := r.Context().Value(ownerKey{}).(string)
	return owner
}

func router(p *markpipe.Pipeline, auth *basicAuth, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.middleware)

		r.Post("/api/imports", func(w http.ResponseWriter, r *http.Request) {
			handleUpload(w, r, p, logger)
		})
		r.Get("/api/imports/active", func(w http.ResponseWriter, r *http.Request) {
			st, err := p.ActiveImport(r.Context(), ownerFrom(r))
			if err == markpipe.ErrNotFound {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "no active import"})
				return
			}
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, st)
		})
		r.Get("/api/imports/{jobID}", func(w http.ResponseWriter, r *http.Request) {
			st, err := p.ImportStatus(r.Context(), chi.URLParam(r, "jobID"))
			if err == markpipe.ErrNotFound {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown job"})
				return
			}
			if err != nil {
				writeError(w, err)
				return
			}
			if st.Owner != ownerFrom(r) {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown job"})
				return
			}
			writeJSON(w, http.StatusOK, st)
		})

		r.Get("/api/search", func(w http.ResponseWriter, r *http.Request) {
			query := r.URL.Query().Get("q")
			if query == "" {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "q is required"})
				return
			}
			limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
			hits, err := p.Search(r.Context(), ownerFrom(r), query, limit)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"query": query, "results": hits})
		})

		r.Post("/api/bookmarks/{id}/click", func(w http.ResponseWriter, r *http.Request) {
			err := p.Click(r.Context(), chi.URLParam(r, "id"))
			if err == markpipe.ErrNotFound {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown bookmark"})
				return
			}
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		r.Get("/api/stats", func(w http.ResponseWriter, r *http.Request) {
			stats, err := p.Stats(r.Context())
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, stats)
		})

		r.Post("/api/reindex", func(w http.ResponseWriter, r *http.Request) {
			n, err := p.Reindex(r.Context(), ownerFrom(r))
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusAccepted, map[string]int{"jobs": n})
		})
	})

	return r
}

func handleUpload(w http.ResponseWriter, r *http.Request, p *markpipe.Pipeline, logger *slog.Logger) {
	owner := ownerFrom(r)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart form required"})
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "file field required"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadSize))
	if err != nil {
		writeError(w, err)
		return
	}

	jobID, err := p.Submit(r.Context(), owner, header.Filename, data)
	if err == markpipe.ErrImportInFlight {
		resp := map[string]any{"error": "an import is already in flight"}
		if active, aerr := p.ActiveImport(r.Context(), owner); aerr == nil {
			resp["job_id"] = active.JobID
			resp["queue_position"] = active.QueuePosition
		}
		writeJSON(w, http.StatusConflict, resp)
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}

	logger.Info("upload accepted", "owner", owner, "job_id", jobID, "file", header.Filename)
	st, err := p.ImportStatus(r.Context(), jobID)
	if err != nil {
		writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
		return
	}
	writeJSON(w, http.StatusAccepted, st)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
