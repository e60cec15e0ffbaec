// Package app builds the cqweb application context: one explicit struct,
// constructed once at startup, that owns the connection pool, the
// transaction manager, the frozen statement registry, the message source,
// the session store, the view chain and the dispatcher.
//
// Construction order follows the dependencies and every acquired resource
// is registered for LIFO release, so Close tears the context down in the
// reverse order it was built.
//
// Example usage:
//
//	cfg := config.MustLoad("config.yaml", "CQWEB", "configuration/db.properties")
//	actx, err := app.New(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer actx.Close(context.Background())
//
//	actx.Dispatcher.Handle(http.MethodGet, "/users/{id}", showUser(actx))
//	svc := actx.HTTPService()
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/text/language"

	"github.com/Combine-Capital/cqweb/pkg/config"
	"github.com/Combine-Capital/cqweb/pkg/database"
	"github.com/Combine-Capital/cqweb/pkg/errors"
	"github.com/Combine-Capital/cqweb/pkg/health"
	"github.com/Combine-Capital/cqweb/pkg/i18n"
	"github.com/Combine-Capital/cqweb/pkg/logging"
	"github.com/Combine-Capital/cqweb/pkg/metrics"
	"github.com/Combine-Capital/cqweb/pkg/resource"
	"github.com/Combine-Capital/cqweb/pkg/retry"
	"github.com/Combine-Capital/cqweb/pkg/service"
	"github.com/Combine-Capital/cqweb/pkg/session"
	"github.com/Combine-Capital/cqweb/pkg/statement"
	"github.com/Combine-Capital/cqweb/pkg/tracing"
	"github.com/Combine-Capital/cqweb/pkg/view"
	"github.com/Combine-Capital/cqweb/pkg/web"
)

// Context is the application context. Its fields are set by New and must
// not be replaced afterwards.
type Context struct {
	Config        *config.Config
	Logger        *logging.Logger
	Resources     afero.Fs
	DefaultLocale language.Tag

	Pool       *database.Pool
	Tx         *database.TxManager
	Statements *statement.Registry
	Messages   *i18n.MessageSource
	Locales    *i18n.CookieLocaleResolver
	Sessions   *session.Manager
	Views      *view.Chain
	Dispatcher *web.Dispatcher
	Health     *health.Health

	// Schema is the result of the startup schema run, nil when disabled.
	Schema *database.SchemaResult

	bootstrap *service.Bootstrap
}

type options struct {
	connector     database.Connector
	resources     afero.Fs
	logger        *logging.Logger
	skipSchema    bool
	bootstrapOpts []service.BootstrapOption
}

// Option customizes New.
type Option func(*options)

// WithConnector replaces the pgx connector built from the jdbc.* keys.
func WithConnector(c database.Connector) Option {
	return func(o *options) { o.connector = c }
}

// WithResources replaces the OS filesystem rooted at resources.root.
// Message bundles are not watched for changes on a replaced filesystem.
func WithResources(fs afero.Fs) Option {
	return func(o *options) { o.resources = fs }
}

// WithLogger replaces the logger built from the log section.
func WithLogger(logger *logging.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithoutSchema skips schema initialization regardless of schema.enabled.
func WithoutSchema() Option {
	return func(o *options) { o.skipSchema = true }
}

// WithBootstrapOptions passes options to the observability bootstrap.
func WithBootstrapOptions(opts ...service.BootstrapOption) Option {
	return func(o *options) { o.bootstrapOpts = append(o.bootstrapOpts, opts...) }
}

// New builds the application context. Any failure releases what was
// already acquired and is returned; a failing schema script or mapper file
// therefore aborts startup.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Context, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	bootOpts := o.bootstrapOpts
	if o.logger != nil {
		bootOpts = append(bootOpts, service.WithBootstrapLogger(o.logger))
	}
	boot, err := service.NewBootstrap(ctx, cfg, bootOpts...)
	if err != nil {
		return nil, err
	}

	c := &Context{
		Config:    cfg,
		Logger:    boot.Logger,
		Resources: o.resources,
		bootstrap: boot,
	}
	if err := c.build(ctx, o); err != nil {
		_ = c.Close(ctx)
		return nil, err
	}

	c.Logger.Info().
		Int("statements", c.Statements.Len()).
		Strs("locales", c.Messages.Locales()).
		Strs("routes", c.Dispatcher.Routes()).
		Msg("application context ready")
	return c, nil
}

func (c *Context) build(ctx context.Context, o *options) error {
	cfg := c.Config
	watchRoot := ""
	if c.Resources == nil {
		c.Resources = resource.NewFs(cfg.Resources.Root)
		watchRoot = cfg.Resources.Root
	}

	tag, err := i18n.ParseLocale(cfg.Locale.Default)
	if err != nil {
		return errors.Wrap(err, "locale.default")
	}
	c.DefaultLocale = tag

	if err := c.buildDatabase(ctx, o); err != nil {
		return err
	}
	if err := c.buildStatements(); err != nil {
		return err
	}
	if err := c.buildMessages(ctx, watchRoot); err != nil {
		return err
	}
	if err := c.buildSessions(ctx); err != nil {
		return err
	}
	return c.buildWeb()
}

func (c *Context) buildDatabase(ctx context.Context, o *options) error {
	cfg := c.Config
	connect := o.connector
	if connect == nil {
		var err error
		connect, err = database.PgxConnector(cfg.JDBC, cfg.Pool.ConnectTimeout)
		if err != nil {
			return errors.Wrap(err, "jdbc")
		}
	}

	pool, err := database.NewPool(ctx, connect, cfg.Pool,
		database.WithPoolLogger(c.Logger),
		database.WithConnectRetry(retry.Startup(30*time.Second)),
	)
	if err != nil {
		return err
	}
	c.Pool = pool
	c.bootstrap.AddCleanup("pool", pool.Close)

	if err := metrics.RegisterPoolMetrics(cfg.Metrics.Namespace, pool.Stats); err != nil {
		c.Logger.Warn().Err(err).Msg("pool metrics not registered")
	}

	c.Tx = database.NewTxManager(pool,
		database.WithTxLogger(c.Logger),
		database.WithBeginRetry(retry.Config{
			MaxAttempts:  3,
			InitialDelay: 50 * time.Millisecond,
			MaxDelay:     500 * time.Millisecond,
			Policy:       retry.Temporary,
		}),
	)

	if o.skipSchema || !config.BoolValue(cfg.Schema.Enabled, true) {
		return nil
	}
	result, err := database.InitSchema(ctx, c.Tx, c.Resources, cfg.Schema, c.Logger)
	if err != nil {
		return errors.Wrap(err, "schema initialization")
	}
	c.Schema = result
	return nil
}

func (c *Context) buildStatements() error {
	regOpts := []statement.Option{statement.WithLogger(c.Logger)}
	if observer, err := metrics.StatementObserver(c.Config.Metrics.Namespace); err != nil {
		c.Logger.Warn().Err(err).Msg("statement metrics not registered")
	} else {
		regOpts = append(regOpts, statement.WithObserver(observer))
	}

	c.Statements = statement.NewRegistry(regOpts...)
	n, err := c.Statements.Load(c.Resources, c.Config.Mapper.Locations...)
	if err != nil {
		return errors.Wrap(err, "statement mappers")
	}
	c.Statements.Freeze()
	c.Logger.Info().Int("statements", n).Strs("locations", c.Config.Mapper.Locations).Msg("statements loaded")
	return nil
}

func (c *Context) buildMessages(ctx context.Context, watchRoot string) error {
	ms, err := i18n.NewMessageSource(c.Resources, c.Config.Messages, c.DefaultLocale, c.Logger)
	if err != nil {
		return errors.Wrap(err, "message source")
	}
	c.Messages = ms

	if c.Config.Messages.Watch && watchRoot != "" {
		watchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		if err := ms.Watch(watchCtx, watchRoot); err != nil {
			cancel()
			return errors.Wrap(err, "watch message bundles")
		}
		c.bootstrap.AddCleanup("message watcher", func(context.Context) error {
			cancel()
			return nil
		})
	}

	locales, err := i18n.NewCookieLocaleResolver(c.Config.Locale)
	if err != nil {
		return err
	}
	c.Locales = locales
	return nil
}

func (c *Context) buildSessions(ctx context.Context) error {
	store, err := session.NewStore(ctx, c.Config.Session)
	if err != nil {
		return errors.Wrap(err, "session store")
	}
	c.bootstrap.AddCleanup("session store", func(context.Context) error { return store.Close() })
	c.Sessions = session.NewManager(store, c.Config.Session)
	return nil
}

func (c *Context) buildWeb() error {
	cfg := c.Config

	c.Views = view.NewChain(
		view.NewBeanNameResolver(),
		view.NewTemplateResolver(c.Resources, cfg.View, view.WithMessages(c.Messages, c.DefaultLocale)),
	)

	c.Dispatcher = web.NewDispatcher(
		web.WithViews(c.Views),
		web.WithLocaleResolver(c.Locales),
		web.WithSessions(c.Sessions),
		web.WithStatic(cfg.Static.URLPrefix, c.Resources, cfg.Static.Root),
		web.WithRequestTimeout(cfg.Server.RequestTimeout),
		web.WithLogger(c.Logger),
	)
	c.Dispatcher.AddInterceptor(web.NewLocaleChangeInterceptor(cfg.Locale.ParamName, c.Locales))
	gate := c.Dispatcher.AddInterceptor(web.NewSessionInterceptor(cfg.Session.Attribute, cfg.Session.LoginPath)).
		AddPathPatterns(cfg.Session.Paths...)
	if cfg.Session.LoginPath != "" {
		gate.ExcludePathPatterns(cfg.Session.LoginPath)
	}
	if err := c.Dispatcher.Validate(); err != nil {
		return err
	}

	c.Health = health.New(health.WithLogger(c.Logger))
	c.Health.RegisterChecker("database", c.Pool)
	c.Health.RegisterChecker("sessions", c.Sessions.Store())
	return nil
}

// Execute runs one mapped statement. Inside a unit of work already carried
// by ctx it joins that transaction; otherwise it runs in a transaction of
// its own that commits on success and rolls back on failure.
func (c *Context) Execute(ctx context.Context, name string, params map[string]any) ([]statement.Record, error) {
	if tx := database.TxFromContext(ctx); tx != nil && tx.State() == database.TxOpen {
		return c.Statements.Execute(ctx, tx, name, params)
	}

	var records []statement.Record
	err := c.Tx.WithTransaction(ctx, func(ctx context.Context, tx *database.Tx) error {
		var err error
		records, err = c.Statements.Execute(ctx, tx, name, params)
		return err
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Handler returns the root HTTP handler: health probes plus the dispatcher
// wrapped in request logging, tracing, metrics and panic recovery.
func (c *Context) Handler() http.Handler {
	var h http.Handler = c.Dispatcher
	h = errors.RecoveryMiddleware(nil)(h)
	h = metrics.HTTPMiddleware(c.Config.Metrics.Namespace, c.Dispatcher.RoutePattern)(h)
	h = tracing.HTTPMiddleware(c.Config.Service.Name, c.Dispatcher.RoutePattern)(h)
	h = logging.HTTPMiddleware(c.Logger, c.Config.Static.URLPrefix)(h)

	mux := http.NewServeMux()
	c.Health.Mount(mux)
	mux.Handle("/", h)
	return mux
}

// HTTPService wraps Handler in a service configured from the server section.
func (c *Context) HTTPService() *service.HTTPService {
	s := c.Config.Server
	return service.NewHTTPService(c.Config.Service.Name, fmt.Sprintf(":%d", s.HTTPPort), c.Handler(),
		service.WithReadTimeout(s.ReadTimeout),
		service.WithWriteTimeout(s.WriteTimeout),
		service.WithShutdownTimeout(s.ShutdownTimeout),
		service.WithMaxHeaderBytes(s.MaxHeaderBytes),
		service.WithLogger(c.Logger),
	)
}

// Close releases every resource in reverse acquisition order.
func (c *Context) Close(ctx context.Context) error {
	return c.bootstrap.Cleanup(ctx)
}
