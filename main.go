package main

import (
	"canvas-studio/bgremoval"
	"canvas-studio/catalog"
	"canvas-studio/config"
	"canvas-studio/core"
	"canvas-studio/editor"
	"canvas-studio/handlers/api/canvas"
	"canvas-studio/handlers/api/documents"
	apijobs "canvas-studio/handlers/api/jobs"
	"canvas-studio/handlers/api/kv"
	"canvas-studio/handlers/api/proxy"
	"canvas-studio/handlers/api/services"
	"canvas-studio/handlers/api/snapshots"
	"canvas-studio/handlers/auth"
	"canvas-studio/handlers/websocket"
	"canvas-studio/jobs"
	"canvas-studio/metrics"
	appmw "canvas-studio/middleware"
	raster "canvas-studio/render"
	"canvas-studio/stores"
	"canvas-studio/stores/aws"
	"canvas-studio/thumbnail"
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

type server struct {
	store    stores.Store
	snaps    core.SnapshotStore
	jobStore core.JobStore
	registry *editor.Registry
	hub      *websocket.Hub
	catalog  *catalog.FileCatalog
	prefs    *config.Prefs
	env      config.Env
	signer   *auth.Signer
	fetcher  core.ResultFetcher
}

type sessionEntry struct {
	ID     string `json:"id"`
	Users  int    `json:"users"`
	Layers int    `json:"layers"`
}

func (s *server) handleSessions(w http.ResponseWriter, r *http.Request) {
	connected := s.hub.Connected()
	ids := s.registry.IDs()
	list := make([]sessionEntry, 0, len(ids))
	for _, id := range ids {
		session, ok := s.registry.Get(id)
		if !ok {
			continue
		}
		list = append(list, sessionEntry{ID: id, Users: connected[id], Layers: len(session.Layers())})
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Users == list[j].Users {
			return list[i].ID > list[j].ID
		}
		return list[i].Users > list[j].Users
	})
	render.JSON(w, r, list)
}

func setupRouter(s *server) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Logger)

	corsOptions := cors.Options{
		AllowedOrigins: []string{"tauri://localhost"},
		AllowOriginFunc: func(r *http.Request, origin string) bool {
			if origin == "" {
				return false
			}

			parsed, err := url.Parse(origin)
			if err != nil {
				return false
			}

			switch parsed.Scheme {
			case "http", "https":
				switch parsed.Hostname() {
				case "localhost", "127.0.0.1", "[::1]":
					return true
				}
			case "tauri":
				return parsed.Hostname() == "localhost"
			}

			return false
		},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Content-Length", "Range"},
		ExposedHeaders:   []string{"Content-Disposition", "Content-Range"},
		AllowCredentials: true,
		MaxAge:           300,
	}
	r.Use(cors.Handler(corsOptions))

	r.Route("/api", func(r chi.Router) {
		services.Routes(r, s.catalog, s.prefs, s.env.LocalServices)
		r.Get("/image-proxy", proxy.HandleImageProxy(s.fetcher, s.prefs.Settings))

		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", s.handleSessions)
			canvas.Routes(r, s.registry,
				func(r chi.Router) { apijobs.Routes(r, s.registry, s.jobStore) },
				func(r chi.Router) { snapshots.SessionRoutes(r, s.registry, s.snaps) },
				func(r chi.Router) { r.Post("/share", documents.HandleShare(s.registry, s.store)) },
			)
		})
		r.Route("/snapshots", func(r chi.Router) {
			snapshots.Routes(r, s.registry, s.snaps)
		})

		r.With(appmw.AuthJWT(s.signer)).Get("/auth/me", auth.HandleMe(appmw.Claims))

		r.Route("/v2", func(r chi.Router) {
			r.Route("/kv", func(r chi.Router) {
				r.Use(appmw.AuthJWT(s.signer))
				kv.Routes(r, s.store, s.registry)
			})
			documents.Routes(r, s.store, s.registry)
		})
	})

	r.Handle("/metrics", promhttp.Handler())
	r.Handle("/socket.io/", s.hub.Server().ServeHandler(nil))
	return r
}

// newDeps builds the collaborators every editor session shares.
func newDeps(ctx context.Context, env config.Env, prefs *config.Prefs, cat *catalog.FileCatalog, jobStore core.JobStore) (editor.Deps, error) {
	text, err := raster.NewFontMeasurer()
	if err != nil {
		return editor.Deps{}, fmt.Errorf("load fonts: %w", err)
	}
	placeholder, err := thumbnail.Placeholder(text)
	if err != nil {
		return editor.Deps{}, fmt.Errorf("draw placeholder: %w", err)
	}

	client := &http.Client{Timeout: 10 * time.Minute}
	var remoteUploader core.Uploader = &jobs.HTTPUploader{URL: env.UploadURL, Client: client}
	if env.UploadBucket != "" {
		s3Client, err := aws.NewClient(ctx)
		if err != nil {
			return editor.Deps{}, err
		}
		remoteUploader = aws.NewUploader(s3Client, env.UploadBucket)
		logrus.WithField("bucket", env.UploadBucket).Info("Uploading job inputs to S3")
	}
	modes := jobs.Modes{
		RemoteAPIURL:   env.RemoteAPIURL,
		RemoteUploader: remoteUploader,
		LocalUploader: func(uploadURL string) core.Uploader {
			return &jobs.HTTPUploader{URL: uploadURL, Client: client}
		},
		Client: client,
	}

	renderer := &thumbnail.HTTPRenderer{URL: env.GLBRenderURL}
	return editor.Deps{
		Text:        text,
		Placeholder: placeholder,
		Catalog:     cat,
		Settings:    prefs.Settings,
		Endpoints:   modes.Endpoints,
		Materializer: &jobs.Materializer{
			Fetcher:     &jobs.HTTPFetcher{Client: client},
			Renderer:    renderer,
			Placeholder: placeholder,
		},
		Matting:     &bgremoval.HTTPModelLoader{URL: env.MattingURL},
		GLBRenderer: renderer,
		JobStore:    jobStore,
		Metrics:     metrics.New(),
	}, nil
}

func waitForShutdown(closers ...func()) {
	exit := make(chan struct{})
	SignalC := make(chan os.Signal, 1)

	signal.Notify(SignalC, os.Interrupt, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		for s := range SignalC {
			switch s {
			case os.Interrupt, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT:
				close(exit)
				return
			}
		}
	}()

	<-exit
	logrus.Info("Shutting down...")
	for _, c := range closers {
		c()
	}
	os.Exit(0)
}

func main() {
	logLevel := flag.String("loglevel", "info", "Set the logging level: debug, info, warn, error, fatal, panic")
	listenAddr := flag.String("listen", ":3002", "Set the server listen address")
	issueToken := flag.String("issue-token", "", "Print a bearer token for the given subject and exit")
	flag.Parse()

	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid log level: %v\n", err)
		os.Exit(1)
	}
	logrus.SetLevel(level)

	if err := godotenv.Load(); err != nil {
		logrus.Debug("No .env file loaded")
	}

	signer := auth.NewSigner(os.Getenv("JWT_SECRET"))
	if *issueToken != "" {
		token, err := signer.Issue(*issueToken, *issueToken)
		if err != nil {
			logrus.Fatal(err)
		}
		fmt.Println(token)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env := config.LoadEnv()
	prefs, err := config.LoadPrefs(env.PrefsFile)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load preferences")
	}

	cat, err := catalog.Load(env.ServicesFile)
	if err != nil {
		logrus.WithError(err).Warn("Service catalog not loaded, no services offered")
		cat = catalog.New(nil)
	} else if err := cat.Watch(ctx); err != nil {
		logrus.WithError(err).Warn("Failed to watch service catalog")
	}

	store, err := stores.GetStore(ctx)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to open storage")
	}
	snaps, jobStore := stores.Sessions(store)

	deps, err := newDeps(ctx, env, prefs, cat, jobStore)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to set up editor")
	}
	registry := editor.NewRegistry(deps)
	hub := websocket.NewHub(registry)
	registry.SetNotifier(hub)

	r := setupRouter(&server{
		store:    store,
		snaps:    snaps,
		jobStore: jobStore,
		registry: registry,
		hub:      hub,
		catalog:  cat,
		prefs:    prefs,
		env:      env,
		signer:   signer,
		fetcher:  &jobs.HTTPFetcher{Client: &http.Client{Timeout: 5 * time.Minute}},
	})

	logrus.WithField("addr", *listenAddr).Info("starting server")
	go func() {
		if err := http.ListenAndServe(*listenAddr, r); err != nil {
			logrus.WithField("event", "start server").Fatal(err)
		}
	}()

	logrus.Debug("Server is running in the background")
	waitForShutdown(
		hub.Close,
		registry.Close,
		func() { cat.Close() },
		func() {
			if c, ok := store.(io.Closer); ok {
				c.Close()
			}
		},
		cancel,
	)
}
