package aigf

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"io"
	"log/slog"
	"net/http"
	"os"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

var ErrNotReady = errors.New("bot is not ready")

var (
	// Set at build time:
	// -ldflags "-X github.com/urun4m0r1/AIGF/aigf.Version=$$(date +'%Y%m%d')"

	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)

// AIGF runs the discord bot: it holds the database, the completion client,
// the gateway session and the admin API, and routes each slash command to
// its channel's Conversation.
type AIGF struct {
	config *Config

	// read-only GORM connection
	db *gorm.DB

	// gorm.DB wrapper for write/update/delete operations. When using
	// sqlite, writes are serialized.
	writeDB DBI

	notifier SessionNotifier
	logger   *slog.Logger
	discord  *Discord
	openai   *OpenAI
	api      *API

	// completer generates predictions. It's the OpenAI client, outside
	// of tests.
	completer Completer

	// app is rebuilt on reload. Interactions in progress keep the
	// context they started with.
	app atomic.Pointer[appContext]

	// signalStop enables an explicit stop signal to be sent to the bot,
	// such as by the console, or the `/api/quit` endpoint
	signalStop chan struct{}

	// signalReady has a value sent on it once sessions are loaded and
	// the gateway connection is open
	signalReady chan struct{}

	// a signal is sent on this channel when shutdown finishes
	eventShutdown chan struct{}

	// prevents Run from executing concurrently
	runMu sync.Mutex

	// stopping is set once shutdown starts, after which new interactions
	// are ignored
	stopping atomic.Bool

	startedAt time.Time

	// console is watched for the operator's exit keypress. nil disables
	// the console.
	console io.Reader

	// getInteractionHandlerFunc returns the InteractionHandler used to
	// reply to an interaction
	getInteractionHandlerFunc func(
		ctx context.Context,
		i *discordgo.InteractionCreate,
	) InteractionHandler
}

// appContext holds everything derived from the session template. It's
// built at startup and replaced as a whole on reload.
type appContext struct {
	template *Template
	manager  *CacheManager
	registry *conversationRegistry
	commands []*discordgo.ApplicationCommand
	loadedAt time.Time
}

func New(config *Config) (*AIGF, error) {
	var errs []error

	switch config.DatabaseType {
	case dbTypeSQLite, dbTypePostgres:
		//
	default:
		errs = append(
			errs,
			errors.New("invalid database type (must be 'sqlite' or 'postgres')"),
		)
	}

	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}

	a := &AIGF{
		config:        config,
		signalStop:    make(chan struct{}, 1),
		signalReady:   make(chan struct{}, 1),
		eventShutdown: make(chan struct{}, 1),
	}

	a.logger = slog.New(newLogHandler(config.LogLevel))
	slog.SetDefault(a.logger)

	a.openai = newOpenAI(config.OpenAI, nil, config.HTTPClient)
	a.completer = a.openai

	config.Discord.httpClient = config.HTTPClient
	disc, err := newDiscord(config.Discord)
	if err != nil {
		errs = append(errs, err)
	}
	a.discord = disc

	discordgo.Logger = discordgoLoggerFunc(
		context.Background(),
		newLogHandler(config.Discord.DiscordGoLogLevel).WithAttrs(
			[]slog.Attr{slog.String(loggerNameKey, "discordgo")},
		),
	)

	if config.API != nil && config.API.Enabled {
		api, apiErr := newAPI(a, config.API)
		errs = append(errs, apiErr)
		a.api = api
	}

	if config.Console {
		a.console = os.Stdin
	}

	return a, errors.Join(errs...)
}

func (a *AIGF) ValidateConfig() error {
	return structValidator.Struct(a.config)
}

// Stop signals Run to shut down. It doesn't wait for shutdown to finish.
func (a *AIGF) Stop() {
	select {
	case a.signalStop <- struct{}{}:
	default:
	}
}

// Run initializes the database, loads stored sessions, connects to
// discord and registers the slash commands, then handles interactions
// until ctx is cancelled or Stop is called.
func (a *AIGF) Run(ctx context.Context) error {
	a.runMu.Lock()
	defer a.runMu.Unlock()

	a.startedAt = time.Now()
	a.stopping.Store(false)
	logger := a.logger

	if err := a.ValidateConfig(); err != nil {
		logger.Error("invalid config", tint.Err(err))
		return err
	}

	ctx = WithLogger(ctx, logger)
	logger.LogAttrs(ctx, slog.LevelInfo, "starting", slog.Any("config", a.config))

	// this is the 'runtime' context, which triggers a graceful shutdown
	// when canceled
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-a.signalStop:
			a.logger.Warn("got stop signal, canceling")
			cancel()
		case <-ctx.Done():
		}
	}()

	runtimeWG := &sync.WaitGroup{}

	startCtx, startCancel := context.WithTimeout(ctx, a.config.StartupTimeout)
	defer startCancel()

	if err := a.initRun(startCtx); err != nil {
		logger.ErrorContext(ctx, "init error", tint.Err(err))
		return err
	}

	if err := a.initDiscordSession(ctx, runtimeWG); err != nil {
		logger.ErrorContext(ctx, "error creating discord session", tint.Err(err))
		return err
	}

	logger.InfoContext(ctx, "connecting to discord")
	if err := a.discord.session.Open(); err != nil {
		logger.ErrorContext(ctx, "error connecting to discord!", tint.Err(err))
		return fmt.Errorf("error connecting to discord: %w", err)
	}

	if err := a.startup(startCtx); err != nil {
		return errors.Join(err, a.shutdown(ctx, runtimeWG))
	}

	if a.api != nil {
		runtimeWG.Add(1)
		go func() {
			defer runtimeWG.Done()
			httpErr := a.api.Serve(ctx)
			if httpErr != nil && !errors.Is(httpErr, http.ErrServerClosed) {
				logger.ErrorContext(ctx, "error serving api HTTP", tint.Err(httpErr))
			}
		}()
	}

	runtimeWG.Add(1)
	go func() {
		defer runtimeWG.Done()
		if e := a.notifier.Listen(ctx, a.evictSession); e != nil {
			logger.ErrorContext(ctx, "error listening for session updates", tint.Err(e))
		}
	}()

	if a.console != nil {
		go watchConsole(ctx, a.console, a.Stop)
	}

	select {
	case a.signalReady <- struct{}{}:
	default:
	}
	logger.InfoContext(ctx, "Discord Bot is ready.")

	<-ctx.Done()
	return a.shutdown(ctx, runtimeWG)
}

// startup loads stored sessions into the registry while the slash
// commands are registered. Sessions that fail to load, and guilds that
// reject the commands, are logged and skipped.
func (a *AIGF) startup(ctx context.Context) error {
	app := a.app.Load()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(
		func() error {
			loaded, err := app.registry.Warm(gctx)
			if err != nil {
				a.logger.WarnContext(ctx, "some sessions failed to load", tint.Err(err))
			}
			a.logger.InfoContext(ctx, "loaded sessions", "count", loaded)
			return gctx.Err()
		},
	)
	g.Go(
		func() error {
			if _, err := a.discord.registerCommands(app.commands); err != nil {
				a.logger.ErrorContext(ctx, "error registering commands", tint.Err(err))
			}
			return gctx.Err()
		},
	)

	if err := g.Wait(); err != nil {
		return fmt.Errorf("startup cancelled or timed out: %w", err)
	}
	return nil
}

func (a *AIGF) initRun(ctx context.Context) error {
	a.logger.Debug("initializing DB...")
	if err := a.initDB(ctx); err != nil {
		return fmt.Errorf("error initializing database: %w", err)
	}
	a.logger.Debug("finished initializing DB")

	notifier, err := newSessionNotifier(
		a.config.DatabaseType,
		a.config.Database,
		a.writeDB,
		a.logger,
	)
	if err != nil {
		return fmt.Errorf("error creating session notifier: %w", err)
	}
	a.notifier = notifier

	app, err := a.newAppContext(ctx)
	if err != nil {
		return err
	}
	a.app.Store(app)
	return nil
}

func (a *AIGF) initDB(ctx context.Context) error {
	if a.db != nil {
		return nil
	}
	gormLogger := newGORMLogger(
		newLogHandler(a.config.DatabaseLogLevel).WithAttrs(
			[]slog.Attr{slog.String(loggerNameKey, "database")},
		),
		a.config.DatabaseSlowThreshold,
	)
	db, err := openDB(ctx, a.config.DatabaseType, a.config.Database, gormLogger)
	if err != nil {
		return err
	}
	a.db = db
	a.writeDB = NewDatabase(db, a.logger, a.config.DatabaseType != dbTypeSQLite)
	a.openai.db = a.writeDB
	return nil
}

// newAppContext loads the session template, and builds the cache manager,
// registry and slash commands from it
func (a *AIGF) newAppContext(ctx context.Context) (*appContext, error) {
	template, err := LoadTemplate(a.config.Template)
	if err != nil {
		return nil, fmt.Errorf("error loading template: %w", err)
	}

	store, err := NewCacheStore(a.config.Cache, a.writeDB, a.notifier, a.logger)
	if err != nil {
		return nil, fmt.Errorf("error creating cache store: %w", err)
	}

	manager := NewCacheManager(template, store, a.logger)
	registry := newConversationRegistry(
		manager,
		a.completer,
		a.config.Temperatures,
		a.logger.With(loggerNameKey, "conversation"),
	)

	a.logger.InfoContext(
		ctx,
		"loaded template",
		"categories", template.Taxonomy.Categories(),
		"cache_backend", a.config.Cache.Backend,
	)
	return &appContext{
		template: template,
		manager:  manager,
		registry: registry,
		commands: appCommands(template.Taxonomy),
		loadedAt: time.Now(),
	}, nil
}

// Reload rebuilds the application context from the template files, warms
// the new registry, and re-registers the slash commands. On error, the
// current context is kept.
func (a *AIGF) Reload(ctx context.Context) error {
	app, err := a.newAppContext(ctx)
	if err != nil {
		return err
	}
	loaded, err := app.registry.Warm(ctx)
	if err != nil {
		a.logger.WarnContext(ctx, "some sessions failed to load", tint.Err(err))
	}
	a.app.Store(app)
	a.logger.InfoContext(ctx, "reloaded", "sessions", loaded)

	if a.discord.session != nil && a.discord.connected.Load() {
		if _, regErr := a.discord.registerCommands(app.commands); regErr != nil {
			return fmt.Errorf("error registering commands: %w", regErr)
		}
	}
	return nil
}

// RegisterSlashCommands registers the current slash commands with discord
func (a *AIGF) RegisterSlashCommands(options ...discordgo.RequestOption) (
	[]*discordgo.ApplicationCommand,
	error,
) {
	app := a.app.Load()
	if app == nil {
		return nil, ErrNotReady
	}
	return a.discord.registerCommands(app.commands, options...)
}

// evictSession drops the loaded conversation for a session updated by
// another instance
func (a *AIGF) evictSession(sessionID string) {
	if app := a.app.Load(); app != nil {
		app.registry.Evict(sessionID)
	}
}

// conversation returns the conversation for the channel, loading or
// creating its session
func (a *AIGF) conversation(ctx context.Context, channelID string) (*Conversation, error) {
	app := a.app.Load()
	if app == nil {
		return nil, ErrNotReady
	}
	return app.registry.Get(ctx, channelID)
}

// resetConversation recreates the channel's session. A session whose
// stored record can't be read is replaced without loading it, so a
// corrupt record can always be cleared from the channel.
func (a *AIGF) resetConversation(ctx context.Context, channelID string) (string, error) {
	app := a.app.Load()
	if app == nil {
		return "", ErrNotReady
	}
	conv, err := app.registry.Get(ctx, channelID)
	if errors.Is(err, ErrMalformedCache) {
		contextLoggerOr(ctx, a.logger).WarnContext(
			ctx,
			"session unreadable, recreating",
			"session_id", channelID,
			tint.Err(err),
		)
		if _, err = app.registry.Recreate(ctx, channelID); err != nil {
			return "", err
		}
		return replyReset, nil
	}
	if err != nil {
		return "", err
	}
	return runCommand(ctx, conv, DiscordSlashCommandReset, nil)
}

func (a *AIGF) initDiscordSession(ctx context.Context, runtimeWG *sync.WaitGroup) error {
	logger := a.logger.With(loggerNameKey, "discord_session")

	if a.discord.session == nil {
		disc, err := a.discord.newSession()
		if err != nil {
			return fmt.Errorf("error creating discord session: %w", err)
		}
		a.discord.session = disc
	}

	ctx = WithLogger(ctx, logger)

	for _, h := range a.discord.discordgoRemoveHandlerFuncs {
		h()
	}

	a.discord.session.SetIdentify(
		discordgo.Identify{
			Intents: a.config.Discord.GatewayIntents,
			Presence: discordgo.GatewayStatusUpdate{
				Status: string(discordgo.StatusOnline),
			},
		},
	)

	a.discord.discordgoRemoveHandlerFuncs = []func(){
		a.discord.session.AddHandler(a.discord.handlerConnect()),
		a.discord.session.AddHandler(a.discord.handlerDisconnect()),
		a.discord.session.AddHandler(a.discord.handlerReady()),
		a.discord.session.AddHandler(
			func(
				_ *discordgo.Session,
				i *discordgo.InteractionCreate,
			) {
				if a.stopping.Load() {
					logger.Warn("shutting down, ignoring interaction", "interaction_id", i.ID)
					return
				}
				// commands in progress at shutdown are given until
				// ShutdownTimeout to finish
				ictx := context.WithoutCancel(ctx)
				handler := a.getInteractionHandlerFunc(ictx, i)
				runtimeWG.Add(1)
				go func() {
					defer runtimeWG.Done()
					a.handleInteraction(ictx, handler)
				}()
			},
		),
	}

	if a.getInteractionHandlerFunc == nil {
		a.getInteractionHandlerFunc = func(
			_ context.Context,
			i *discordgo.InteractionCreate,
		) InteractionHandler {
			return GatewayHandler{
				session:     a.discord.session,
				interaction: i,
				logger: a.discord.logger.With(
					slog.Group("interaction", interactionLogAttrs(*i)...),
				),
			}
		}
	}
	return nil
}

// handleInteraction replies to a single interaction. Slash commands are
// run against the channel's conversation. Commands that use the
// conversation are acknowledged first, then the reply is edited in.
func (a *AIGF) handleInteraction(ctx context.Context, handler InteractionHandler) {
	i := handler.GetInteraction()
	logger := handler.Logger()
	ctx = WithLogger(ctx, logger)

	defer func() {
		if rc := recover(); rc != nil {
			a.handleRecover(ctx, rc)
		}
	}()

	discordUser := getDiscordUser(i)
	if discordUser == nil {
		logger.ErrorContext(
			ctx,
			"no user found in interaction",
			"interaction", structToSlogValue(i),
		)
		return
	}
	logger.InfoContext(ctx, "received new interaction", "user", structToSlogValue(discordUser))

	interactionLog, err := newInteractionLog(i, discordUser)
	if err != nil {
		logger.ErrorContext(ctx, "error marshaling interaction", tint.Err(err))
	} else {
		defer a.saveInteractionLog(ctx, interactionLog)
	}

	if discordUser.Bot {
		logger.WarnContext(ctx, "user is bot, ignoring", "user", discordUser.ID)
		return
	}

	switch i.Type {
	case discordgo.InteractionPing:
		_ = handler.Respond(
			ctx, &discordgo.InteractionResponse{
				Type: discordgo.InteractionResponsePong,
			},
		)
	case discordgo.InteractionApplicationCommand:
		reply, cmdErr := a.handleCommand(ctx, handler)
		if interactionLog != nil {
			interactionLog.Response = reply
			if cmdErr != nil {
				interactionLog.Error = cmdErr.Error()
			}
		}
	default:
		logger.WarnContext(ctx, "unhandled interaction type")
	}
}

// handleCommand runs the slash command and sends its reply, returning the
// reply sent and any error from the command or from discord
func (a *AIGF) handleCommand(ctx context.Context, handler InteractionHandler) (string, error) {
	i := handler.GetInteraction()
	logger := contextLoggerOr(ctx, a.logger)
	name := i.ApplicationCommandData().Name
	logger = logger.With("command", name)

	deferred := isDeferredCommand(name)
	if deferred {
		if err := handler.Respond(ctx, a.discord.ackResponse()); err != nil {
			logger.ErrorContext(ctx, "error acknowledging interaction", tint.Err(err))
			return "", err
		}
	}

	var reply string
	var err error
	switch {
	case name == DiscordSlashCommandHelp:
		reply = helpContent
	case name == DiscordSlashCommandReset:
		reply, err = a.resetConversation(ctx, i.ChannelID)
	default:
		var conv *Conversation
		if conv, err = a.conversation(ctx, i.ChannelID); err == nil {
			reply, err = runCommand(ctx, conv, name, discordInteractionOptions(i))
		}
	}
	if err != nil {
		logger.ErrorContext(ctx, "error running command", tint.Err(err))
		reply = commandErrorReply(err)
	}
	reply = shortenString(reply, discordMaxMessageLength)

	var respondErr error
	if deferred {
		_, respondErr = handler.Edit(ctx, &discordgo.WebhookEdit{Content: &reply})
	} else {
		respondErr = handler.Respond(
			ctx, &discordgo.InteractionResponse{
				Type: discordgo.InteractionResponseChannelMessageWithSource,
				Data: &discordgo.InteractionResponseData{Content: reply},
			},
		)
	}
	return reply, errors.Join(err, respondErr)
}

func (a *AIGF) saveInteractionLog(ctx context.Context, interactionLog *InteractionLog) {
	if a.writeDB == nil {
		return
	}
	if _, err := a.writeDB.Create(context.WithoutCancel(ctx), interactionLog); err != nil {
		contextLoggerOr(ctx, a.logger).ErrorContext(ctx, "error logging interaction", tint.Err(err))
	}
}

// handleRecover logs a panic recovered while handling an interaction
func (a *AIGF) handleRecover(ctx context.Context, rc any) {
	logger := contextLoggerOr(ctx, a.logger)
	stackTrace := string(debug.Stack())
	if nerr, ok := rc.(error); ok {
		logger.ErrorContext(
			ctx,
			"recovered from panic",
			tint.Err(nerr),
			"stack_trace", stackTrace,
		)
		return
	}
	if nerr, ok := rc.(string); ok {
		logger.ErrorContext(
			ctx,
			"recovered from panic",
			tint.Err(errors.New(nerr)),
			"stack_trace", stackTrace,
		)
		return
	}
	logger.ErrorContext(
		ctx,
		"recovered from panic",
		"panic_arg", rc,
		"stack_trace", stackTrace,
	)
}

// shutdown stops accepting interactions, sets the bot's presence offline,
// closes the gateway connection and waits for in-flight commands. After
// ShutdownTimeout, remaining connections are closed forcibly.
func (a *AIGF) shutdown(ctx context.Context, runtimeWG *sync.WaitGroup) error {
	a.logger.WarnContext(ctx, "shutting down")
	a.stopping.Store(true)
	defer func() {
		select {
		case a.eventShutdown <- struct{}{}:
		default:
		}
	}()
	shutdownStart := time.Now()

	if a.discord.session != nil {
		a.logger.Info("[System] Changing presence to offline...")
		if err := a.discord.setOffline(); err != nil {
			a.logger.Error("error updating presence", tint.Err(err))
		}
		for _, h := range a.discord.discordgoRemoveHandlerFuncs {
			h()
		}
		a.discord.discordgoRemoveHandlerFuncs = nil
		if err := a.discord.session.Close(); err != nil {
			a.logger.Error("error closing discord session", tint.Err(err))
		}
	}

	closeCtx, closeCancel := context.WithTimeout(
		context.Background(),
		a.config.ShutdownTimeout,
	)
	defer closeCancel()

	if a.api != nil && a.api.httpServer != nil {
		if err := a.api.httpServer.Shutdown(closeCtx); err != nil {
			a.logger.Error("error shutting down api", tint.Err(err))
			_ = a.api.httpServer.Close()
		}
	}

	done := make(chan struct{}, 1)
	go func() {
		runtimeWG.Wait()
		done <- struct{}{}
	}()

	select {
	case <-done:
		shutdownEnded := time.Now()
		a.logger.InfoContext(
			ctx,
			"shutdown complete",
			"shutdown_duration", shutdownEnded.Sub(shutdownStart),
		)
		return nil
	case <-closeCtx.Done():
		a.logger.Warn("in-flight commands did not finish in time")
		return errors.New("in-flight commands did not finish in time")
	}
}
