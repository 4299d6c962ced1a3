// Package runtime assembles the bot process: spec document, engine,
// platform client, storage, scheduler, automod, voice, and the metrics
// endpoint. One Runtime is one bot.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/haasonsaas/specbot/internal/automod"
	"github.com/haasonsaas/specbot/internal/builders"
	"github.com/haasonsaas/specbot/internal/config"
	"github.com/haasonsaas/specbot/internal/cron"
	"github.com/haasonsaas/specbot/internal/engine"
	"github.com/haasonsaas/specbot/internal/events"
	"github.com/haasonsaas/specbot/internal/expr"
	"github.com/haasonsaas/specbot/internal/handlers"
	"github.com/haasonsaas/specbot/internal/interactions"
	"github.com/haasonsaas/specbot/internal/observability"
	"github.com/haasonsaas/specbot/internal/platform"
	"github.com/haasonsaas/specbot/internal/platform/discord"
	"github.com/haasonsaas/specbot/internal/spec"
	"github.com/haasonsaas/specbot/internal/state"
	"github.com/haasonsaas/specbot/internal/storage"
	"github.com/haasonsaas/specbot/internal/timers"
	"github.com/haasonsaas/specbot/internal/voice"
)

// gatewayEvents is the set of canonical events the runtime forwards
// from the client into the event router.
var gatewayEvents = []string{
	platform.EventReady,
	platform.EventMessageCreate,
	platform.EventMessageUpdate,
	platform.EventMessageDelete,
	platform.EventGuildMemberAdd,
	platform.EventGuildMemberRemove,
	platform.EventGuildMemberUpdate,
	platform.EventVoiceStateUpdate,
	platform.EventReactionAdd,
	platform.EventReactionRemove,
	platform.EventPresenceUpdate,
	platform.EventInteractionCreate,
}

// Runtime wires every subsystem around one spec document.
type Runtime struct {
	cfg      *config.Config
	logger   *slog.Logger
	metrics  *observability.Metrics
	registry *prometheus.Registry

	client     platform.Client
	store      storage.Adapter
	state      *state.Manager
	eval       *expr.Evaluator
	exec       *engine.Executor
	engine     *engine.Engine
	router     *events.Router
	scheduler  *cron.Scheduler
	automod    *automod.Engine
	voice      *voice.Manager
	builders   *builders.Registry
	dispatcher *interactions.Dispatcher
	timers     *timers.Manager

	mu      sync.Mutex
	doc     *spec.Document
	intents discordgo.Intent
	started bool

	watcher    *specWatcher
	metricsSrv *http.Server
}

// Option configures a Runtime.
type Option func(*options)

type options struct {
	logger  *slog.Logger
	client  platform.Client
	store   storage.Adapter
	dialer  voice.Dialer
	sources discord.SourceFactory
	search  handlers.SearchFunc
}

// WithLogger sets the base logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithClient substitutes the platform client. Used by tests and by the
// validate command, which never connects.
func WithClient(client platform.Client) Option {
	return func(o *options) { o.client = client }
}

// WithStore substitutes the storage adapter.
func WithStore(store storage.Adapter) Option {
	return func(o *options) { o.store = store }
}

// WithDialer substitutes the voice transport.
func WithDialer(dialer voice.Dialer) Option {
	return func(o *options) { o.dialer = dialer }
}

// WithAudioSources supplies the audio pipeline for voice playback.
func WithAudioSources(sources discord.SourceFactory) Option {
	return func(o *options) { o.sources = sources }
}

// WithSearch supplies the track search backend for voice_search.
func WithSearch(search handlers.SearchFunc) Option {
	return func(o *options) { o.search = search }
}

// New loads the spec document and builds the full runtime. Nothing
// connects yet; Start opens the gateway.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Runtime, error) {
	o := &options{logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}
	logger := o.logger

	doc, err := spec.Load(cfg.Spec.Path)
	if err != nil {
		return nil, fmt.Errorf("load spec: %w", err)
	}

	store := o.store
	if store == nil {
		store, err = openStore(ctx, cfg.Storage)
		if err != nil {
			return nil, err
		}
	}

	metrics, registry := observability.NewMetrics()

	st := state.NewManager(store, logger)
	eval := expr.New()
	exec := engine.NewExecutor(eval,
		engine.WithState(st),
		engine.WithExecutorLogger(logger),
		engine.WithObserver(func(res engine.Result) {
			metrics.RecordAction(res.Verb, resultStatus(res))
		}),
	)
	eng := engine.New(exec, eval,
		engine.WithMaxDepth(cfg.Engine.MaxDepth),
		engine.WithMaxIterations(cfg.Engine.MaxIterations),
		engine.WithEngineState(st),
		engine.WithLogger(logger),
	)

	client := o.client
	if client == nil {
		client, err = discord.New(discord.Config{
			Token:        cfg.Discord.Token,
			Intents:      platform.DeriveIntents(doc),
			ReadyTimeout: cfg.Discord.ReadyTimeout,
			Logger:       logger,
		})
		if err != nil {
			return nil, err
		}
	}

	dialer := o.dialer
	if dialer == nil {
		if dc, ok := client.(*discord.Client); ok {
			dialer = discord.NewDialer(dc, o.sources)
		}
	}
	var vm *voice.Manager
	if dialer != nil {
		// The document's voice block overrides the config defaults.
		maxQueue := cfg.Voice.MaxQueue
		if doc.Voice.MaxQueueSize > 0 {
			maxQueue = doc.Voice.MaxQueueSize
		}
		volume := cfg.Voice.DefaultVolume
		if doc.Voice.DefaultVolume > 0 {
			volume = doc.Voice.DefaultVolume
		}
		vm = voice.NewManager(dialer,
			voice.WithLogger(logger),
			voice.WithMaxQueueSize(maxQueue),
			voice.WithDefaultVolume(volume),
			voice.WithReadyTimeout(cfg.Voice.ReadyTimeout),
		)
	}

	router := events.NewRouter(eng, eval,
		events.WithState(st),
		events.WithLogger(logger),
	)
	tm := timers.NewManager(router, timers.WithLogger(logger))
	reg := builders.NewRegistry(eval, builders.WithRegistryLogger(logger))
	am := automod.New(eval,
		automod.WithLogger(logger),
		automod.WithState(st),
	)
	sched := cron.NewScheduler(eng, eval,
		cron.WithLogger(logger),
		cron.WithState(st),
		cron.WithRunObserver(metrics.RecordCronRun),
		cron.WithTickObserver(func(now time.Time) {
			metrics.RecordEvent(platform.EventSchedulerTick)
			ac := engine.NewContext(map[string]any{
				"now": float64(now.UnixMilli()),
			})
			router.Emit(context.Background(), platform.EventSchedulerTick, ac)
		}),
	)
	dispatcher := interactions.NewDispatcher(eng, interactions.WithLogger(logger))

	handlers.RegisterAll(exec, handlers.Deps{
		Client:   client,
		Store:    store,
		State:    st,
		Voice:    vm,
		Builders: reg,
		Timers:   tm,
		Emitter:  router,
		Search:   o.search,
		Logger:   logger,
	})

	r := &Runtime{
		cfg:        cfg,
		logger:     logger.With("component", "runtime"),
		metrics:    metrics,
		registry:   registry,
		client:     client,
		store:      store,
		state:      st,
		eval:       eval,
		exec:       exec,
		engine:     eng,
		router:     router,
		scheduler:  sched,
		automod:    am,
		voice:      vm,
		builders:   reg,
		dispatcher: dispatcher,
		timers:     tm,
		intents:    platform.DeriveIntents(doc),
	}

	if err := r.apply(ctx, doc); err != nil {
		return nil, err
	}
	r.attach()
	return r, nil
}

// apply registers the document with every subsystem. All Register
// methods replace their previous registrations, so apply is also the
// reload path.
func (r *Runtime) apply(ctx context.Context, doc *spec.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range doc.State.Tables {
		if err := r.store.CreateTable(ctx, tableDef(t)); err != nil {
			return fmt.Errorf("create table %q: %w", t.Name, err)
		}
	}
	r.state.Register(doc.State.Variables)
	r.engine.Register(doc.Flows)
	r.router.Register(doc.Events)
	r.scheduler.Register(doc.Scheduler)
	r.automod.Register(doc.Automod.Rules)
	r.builders.Register(doc.Components)
	r.dispatcher.Register(doc)
	r.doc = doc
	return nil
}

// attach subscribes the runtime to the client. Subscriptions are static;
// the router decides per event whether any handlers exist.
func (r *Runtime) attach() {
	for _, event := range gatewayEvents {
		event := event
		r.client.Subscribe(event, func(ctx context.Context, data map[string]any) {
			r.metrics.RecordEvent(event)
			ac := engine.NewContext(data)
			if event == platform.EventMessageCreate {
				r.checkAutomod(ctx, data, ac)
			}
			r.router.Emit(ctx, event, ac)
		})
	}

	r.client.OnInteraction(func(ctx context.Context, in platform.Interaction, responder platform.Responder) {
		start := time.Now()
		handled := r.dispatcher.Dispatch(ctx, interactions.Incoming{
			Kind:      in.Kind,
			Name:      in.Name,
			CustomID:  in.CustomID,
			Data:      in.Data,
			Responder: responder,
		})
		r.metrics.RecordInteraction(in.Kind, time.Since(start).Seconds())
		if !handled {
			r.logger.Debug("unhandled interaction", "kind", in.Kind, "name", in.Name, "custom_id", in.CustomID)
		}
	})
}

// checkAutomod runs the rule set against one created message and
// executes the actions of every matching rule.
func (r *Runtime) checkAutomod(ctx context.Context, data map[string]any, ac *engine.Context) {
	content, mc := messageContext(data)
	result := r.automod.Check(content, mc, data)
	if result.Passed {
		return
	}
	for _, match := range result.Matches {
		r.metrics.RecordAutomodMatch(match.Rule.Name, match.Trigger.Type)
	}
	r.automod.ExecuteActions(ctx, result.Matches, ac, r.engine)
}

// Start opens the metrics endpoint and the gateway, registers slash
// commands, applies the presence, and starts the scheduler and the
// spec watcher.
func (r *Runtime) Start(ctx context.Context) error {
	if r.cfg.Metrics.Enabled {
		r.startMetrics()
	}

	if err := r.client.Start(ctx); err != nil {
		return err
	}
	if err := r.syncCommands(ctx); err != nil {
		r.logger.Warn("command registration failed", "error", err)
	}
	r.applyPresence(ctx)

	r.scheduler.Start(ctx)

	if r.cfg.Spec.Watch {
		w, err := watchSpec(ctx, r.cfg.Spec.Path, r.cfg.Spec.DebounceDelay, r.logger, func() {
			if err := r.Reload(context.Background()); err != nil {
				r.logger.Error("spec reload failed", "error", err)
			}
		})
		if err != nil {
			r.logger.Warn("spec watch unavailable", "error", err)
		} else {
			r.watcher = w
		}
	}

	r.mu.Lock()
	r.started = true
	name := r.doc.Identity.Name
	r.mu.Unlock()
	r.logger.Info("bot started", "name", name)
	return nil
}

// Reload re-reads the spec file and swaps every registration. Gateway
// intents are fixed at connect time; a reload that changes them logs a
// warning and keeps the old set.
func (r *Runtime) Reload(ctx context.Context) error {
	doc, err := spec.Load(r.cfg.Spec.Path)
	if err != nil {
		return fmt.Errorf("load spec: %w", err)
	}
	if err := r.apply(ctx, doc); err != nil {
		return err
	}

	r.mu.Lock()
	started := r.started
	changed := platform.DeriveIntents(doc) != r.intents
	r.mu.Unlock()

	if changed {
		r.logger.Warn("derived intents changed, restart to apply")
	}
	if started {
		if err := r.syncCommands(ctx); err != nil {
			r.logger.Warn("command registration failed", "error", err)
		}
		r.applyPresence(ctx)
	}
	r.logger.Info("spec reloaded", "path", r.cfg.Spec.Path)
	return nil
}

// Stop shuts everything down in reverse start order.
func (r *Runtime) Stop(ctx context.Context) error {
	if r.watcher != nil {
		r.watcher.Close()
		r.watcher = nil
	}

	var errs []error
	if err := r.scheduler.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	r.timers.StopAll()
	if r.metricsSrv != nil {
		if err := r.metricsSrv.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		r.metricsSrv = nil
	}
	if err := r.client.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := r.store.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Document returns the currently applied spec document.
func (r *Runtime) Document() *spec.Document {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doc
}

func (r *Runtime) startMetrics() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler(r.registry))
	srv := &http.Server{Addr: r.cfg.Metrics.Addr, Handler: mux}
	r.metricsSrv = srv
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("metrics server failed", "error", err)
		}
	}()
	r.logger.Info("metrics listening", "addr", r.cfg.Metrics.Addr)
}

func (r *Runtime) syncCommands(ctx context.Context) error {
	r.mu.Lock()
	doc := r.doc
	r.mu.Unlock()

	var errs []error
	for guildID, commands := range interactions.BuildCommands(doc) {
		if err := r.client.RegisterCommands(ctx, guildID, commands); err != nil {
			errs = append(errs, fmt.Errorf("guild %q: %w", guildID, err))
		}
	}
	return errors.Join(errs...)
}

func (r *Runtime) applyPresence(ctx context.Context) {
	r.mu.Lock()
	presence := r.doc.Presence
	r.mu.Unlock()

	if presence.Status == "" && presence.Activity == "" {
		return
	}
	if err := r.client.SetPresence(ctx, presence.Status, presence.Type, presence.Activity); err != nil {
		r.logger.Warn("presence update failed", "error", err)
	}
}

func resultStatus(res engine.Result) string {
	switch {
	case res.Skipped:
		return "skipped"
	case res.Err != nil:
		return "error"
	default:
		return "success"
	}
}

func openStore(ctx context.Context, cfg config.Storage) (storage.Adapter, error) {
	switch cfg.Backend {
	case "memory":
		return storage.NewMemory(), nil
	case "sqlite":
		store, err := storage.NewSQLite(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		return store, nil
	case "postgres":
		store, err := storage.NewPostgres(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

func tableDef(t spec.Table) storage.TableDef {
	columns := make([]storage.ColumnDef, 0, len(t.Columns))
	for _, c := range t.Columns {
		columns = append(columns, storage.ColumnDef{
			Name:    c.Name,
			Type:    c.Type,
			Primary: c.Primary,
			Unique:  c.Unique,
			Index:   c.Index,
		})
	}
	return storage.TableDef{Name: t.Name, Columns: columns, Indexes: t.Indexes}
}
