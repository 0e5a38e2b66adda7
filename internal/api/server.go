// Package api: HTTP-слой: контроллер на каждую сущность, цепочка middleware
// (агент, кэш ответов, queryable) и CRUD-обработчики поверх менеджеров.
package api

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"amethyst/internal/auth"
	"amethyst/internal/cache"
	"amethyst/internal/config"
	"amethyst/internal/dsl"
	"amethyst/internal/hooks"
	"amethyst/internal/manager"
	"amethyst/internal/metrics"
	"amethyst/internal/schema"
	"amethyst/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Migrator: хранилище, умеющее довести таблицы до текущей схемы.
type Migrator interface {
	Migrate(ctx context.Context) error
}

type pinger interface {
	Ping(ctx context.Context) error
}

type Options struct {
	Config  *config.Config
	Logger  zerolog.Logger
	Store   store.Store
	Hooks   *hooks.Registry
	Metrics *metrics.Metrics
	// Responses: хранилище кэша ответов; nil выключает кэш.
	Responses cache.ResponseStore
	// Register добавляет свои фабрики менеджеров. Вызывается при каждой
	// сборке состояния, до RegisterDefaults.
	Register func(r *manager.Registry)
}

// state: всё, что пересобирается при перезагрузке схемы.
type state struct {
	schema      *schema.Schema
	managers    *manager.Registry
	controllers map[string]*Controller
	loadedAt    time.Time
}

type Server struct {
	cfg       *config.Config
	log       zerolog.Logger
	store     store.Store
	hooks     *hooks.Registry
	metrics   *metrics.Metrics
	responses cache.ResponseStore
	register  func(r *manager.Registry)
	tokens    auth.Tokens

	state    atomic.Pointer[state]
	reloadMu sync.Mutex
	engine   *gin.Engine
}

// NewServer собирает контроллеры для всех сущностей s. Сущность без
// менеджера: ошибка.
func NewServer(opts Options, s *schema.Schema) (*Server, error) {
	if opts.Config == nil {
		return nil, errors.New("api: config is required")
	}
	if opts.Store == nil {
		return nil, errors.New("api: store is required")
	}
	if opts.Hooks == nil {
		opts.Hooks = hooks.NewRegistry()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}

	srv := &Server{
		cfg:       opts.Config,
		log:       opts.Logger,
		store:     opts.Store,
		hooks:     opts.Hooks,
		metrics:   opts.Metrics,
		responses: opts.Responses,
		register:  opts.Register,
		tokens:    auth.Tokens{},
	}
	for _, t := range opts.Config.Auth.Tokens {
		srv.tokens[t.Token] = auth.Agent{ID: t.ID, Name: t.Name, Roles: append([]string(nil), t.Roles...)}
	}

	st, err := srv.build(s)
	if err != nil {
		return nil, err
	}
	srv.state.Store(st)

	if srv.responses != nil {
		srv.hooks.Add(hooks.Saved, srv.invalidateResponses)
		srv.hooks.Add(hooks.Deleted, srv.invalidateResponses)
	}
	srv.metrics.WatchCache("relations", func() cache.Metrics { return srv.current().schema.CacheMetrics() })

	srv.engine = srv.routes()
	return srv, nil
}

func (srv *Server) current() *state { return srv.state.Load() }

func (srv *Server) Schema() *schema.Schema { return srv.current().schema }

func (srv *Server) Handler() http.Handler { return srv.engine }

// Controller: контроллер сущности из текущего состояния.
func (srv *Server) Controller(fqn string) (*Controller, bool) {
	c, ok := srv.current().controllers[fqn]
	return c, ok
}

func (srv *Server) build(s *schema.Schema) (*state, error) {
	reg := manager.NewRegistry(manager.Deps{Schema: s, Store: srv.store, Hooks: srv.hooks})
	if srv.register != nil {
		srv.register(reg)
	}
	reg.RegisterDefaults(s)

	controllers := make(map[string]*Controller, len(s.Entities()))
	for _, e := range s.Entities() {
		res := srv.cfg.Resource(e.FQN())
		ctl, err := NewController(reg, e.FQN(), ControllerOptions{Cached: res.Cached, Fillable: res.Fillable})
		if err != nil {
			return nil, err
		}
		controllers[e.FQN()] = ctl
	}
	return &state{schema: s, managers: reg, controllers: controllers, loadedAt: time.Now().UTC()}, nil
}

// Reload перечитывает каталог схем и атомарно подменяет схему, менеджеры и
// контроллеры. При ошибке остаётся прежнее состояние.
func (srv *Server) Reload(ctx context.Context, dir string) (*schema.Schema, error) {
	srv.reloadMu.Lock()
	defer srv.reloadMu.Unlock()

	s, err := srv.reload(ctx, dir)
	srv.metrics.RecordReload(err)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("dir", dir).Msg("schema reload failed")
		return nil, err
	}
	zerolog.Ctx(ctx).Info().Str("dir", dir).Int("entities", len(s.Entities())).Msg("schema reloaded")
	return s, nil
}

func (srv *Server) reload(ctx context.Context, dir string) (*schema.Schema, error) {
	s, err := schema.Load(dir, srv.schemaOptions())
	if err != nil {
		return nil, err
	}
	st, err := srv.build(s)
	if err != nil {
		return nil, err
	}

	prev := srv.current().schema
	srv.store.SetSchema(s)
	if m, ok := srv.store.(Migrator); ok && srv.cfg.Store.AutoMigrate {
		if err := m.Migrate(ctx); err != nil {
			srv.store.SetSchema(prev)
			return nil, errors.Wrap(err, "migrate")
		}
	}
	srv.state.Store(st)

	if srv.responses != nil {
		if err := srv.responses.Clear(ctx); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("response cache clear failed")
		}
	}
	return s, nil
}

func (srv *Server) schemaOptions() schema.Options {
	return schema.Options{CacheSize: srv.cfg.Schema.CacheSize, CacheTTL: srv.cfg.Schema.CacheTTL}
}

// WatchSchema перезагружает схему при изменении файлов. Блокируется до отмены ctx.
func (srv *Server) WatchSchema(ctx context.Context) error {
	dir := srv.cfg.Schema.Dir
	ctx = srv.log.With().Str("component", "schema-watcher").Logger().WithContext(ctx)
	return dsl.Watch(ctx, dir, srv.cfg.Schema.WatchDebounce, func() {
		_, _ = srv.Reload(ctx, dir)
	})
}

func (srv *Server) invalidateResponses(ctx context.Context, hc *hooks.Context) error {
	if err := srv.responses.Clear(ctx); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("entity", hc.Manager.FQN()).Msg("response cache clear failed")
	}
	return nil
}

// Run слушает cfg.Server.Addr до отмены ctx, затем корректно завершает запросы.
func (srv *Server) Run(ctx context.Context) error {
	hs := &http.Server{
		Addr:         srv.cfg.Server.Addr,
		Handler:      srv.engine,
		ReadTimeout:  srv.cfg.Server.ReadTimeout,
		WriteTimeout: srv.cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		srv.log.Info().Str("addr", hs.Addr).Msg("http server started")
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), srv.cfg.Server.ShutdownTimeout)
	defer cancel()
	srv.log.Info().Msg("http server shutting down")
	if err := hs.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown")
	}
	return <-errCh
}
