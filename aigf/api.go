package aigf

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"github.com/gin-contrib/cors"
	ginPprof "github.com/gin-contrib/pprof"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/securecookie"
	gsessions "github.com/gorilla/sessions"
	"github.com/lmittmann/tint"
	"golang.org/x/time/rate"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"time"
)

const (
	pprofPrefix                = "/debug"
	apiPrefix                  = "/api"
	apiPathLogin               = "/login"
	apiPathLogout              = "/logout"
	apiHealthCheck             = "/healthz"
	apiPathLoggedIn            = "/logged_in"
	apiPathSessions            = "/sessions"
	apiPathSession             = "/sessions/:id"
	apiPathSessionPrompt       = "/sessions/:id/prompt"
	apiPathSessionMessages     = "/sessions/:id/messages"
	apiPathSessionReset        = "/sessions/:id/reset"
	apiPathReload              = "/reload"
	apiPathRegisterCommands    = "/discord/register_commands"
	apiPathQuit                = "/quit"
	apiPathCompletions         = "/completions"
	defaultPaginationLimit     = 25
	loginRequestsPerSecond     = 1
	adminCredentialUsernameMax = 64
)

const (
	xRequestIDHeader = "X-Request-ID"
	sessionVarName   = "user"
	sessionVarField  = "username"
)

var (
	structValidator = validator.New()
)

var (
	Ascending  Sort = "asc"
	Descending Sort = "desc"
)

// API is the admin HTTP server. It's only started when APIConfig.Enabled
// is set.
type API struct {
	config              *APIConfig
	httpServer          *http.Server
	listener            net.Listener
	engine              *gin.Engine
	store               CookieStore
	loginRequestLimiter *rate.Limiter
	logger              *slog.Logger

	handlers *APIHandlers
}

// newAPI builds the gin engine and HTTP server for the admin API. TLS is
// used when a certificate is configured.
func newAPI(a *AIGF, config *APIConfig) (*API, error) {
	logger := newNamedLogger(config.LogLevel, "api")

	r := gin.New()

	api := &API{
		config:              config,
		engine:              r,
		loginRequestLimiter: rate.NewLimiter(rate.Limit(loginRequestsPerSecond), 1),
		logger:              logger,
	}
	apiHandlers := NewAPIHandlers(a, api, logger)
	api.handlers = apiHandlers
	api.store = apiHandlers.store
	_ = r.Use(sessions.Sessions(sessionVarName, apiHandlers.store))

	var tlsCfg *tls.Config
	if config.SSL.Cert != "" {
		cfg, err := tlsConfig(
			config.SSL.Cert,
			config.SSL.Key,
			config.SSL.TLSMinVersion,
		)
		if err != nil {
			return nil, fmt.Errorf("error loading SSL certs: %w", err)
		}
		tlsCfg = cfg
	}

	api.httpServer = &http.Server{
		Addr:              config.Listen,
		Handler:           r,
		TLSConfig:         tlsCfg,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}

	corsConfig := config.CORS.GINConfig()
	if len(corsConfig.AllowOrigins) == 0 {
		if config.Development {
			corsConfig.AllowOrigins = []string{"*"}
			corsConfig.AllowCredentials = false
		} else {
			corsConfig.AllowOrigins = []string{"http://" + config.Listen}
		}
	}

	if !config.Development {
		r.Use(gin.Recovery())
	}
	r.Use(
		requestIDMiddleware(),
		ginLoggingMiddleware(logger),
		cors.New(corsConfig),
	)

	r.POST(apiPathLogin, apiHandlers.loginHandler)
	r.POST(apiPathLogout, apiHandlers.logoutHandler)
	r.GET(apiHealthCheck, apiHandlers.healthCheck)

	if config.Development {
		ginPprof.Register(r, pprofPrefix)
	}

	protected := r.Group(apiPrefix)
	protected.Use(authMiddleware(apiHandlers.store))

	protected.GET(apiPathLoggedIn, apiHandlers.loggedIn)
	protected.GET(apiPathSessions, apiHandlers.getSessions)
	protected.GET(apiPathSession, apiHandlers.getSession)
	protected.GET(apiPathSessionPrompt, apiHandlers.getSessionPrompt)
	protected.DELETE(apiPathSessionMessages, apiHandlers.clearSession)
	protected.POST(apiPathSessionReset, apiHandlers.resetSession)
	protected.POST(apiPathReload, apiHandlers.reload)
	protected.POST(apiPathRegisterCommands, apiHandlers.discordRegisterCommands)
	protected.POST(apiPathQuit, apiHandlers.botQuit)
	protected.GET(apiPathCompletions, apiHandlers.getCompletionLogs)

	return api, nil
}

// Serve listens on the configured address and serves the admin API until
// the server is shut down.
func (a *API) Serve(ctx context.Context) error {
	if a.listener != nil {
		return a.httpServer.Serve(a.listener)
	}
	listenCfg := &net.ListenConfig{}
	ln, err := listenCfg.Listen(ctx, a.config.ListenNetwork, a.config.Listen)
	if err != nil {
		return fmt.Errorf("error listening on %s: %w", a.config.Listen, err)
	}
	if a.httpServer.TLSConfig != nil {
		ln = tls.NewListener(ln, a.httpServer.TLSConfig)
	}
	a.listener = ln
	a.logger.InfoContext(ctx, "api listening", "address", ln.Addr().String())
	return a.httpServer.Serve(a.listener)
}

type CookieStore interface {
	sessions.Store
}

func NewCookieStore(keyPairs ...[]byte) CookieStore {
	return &cookieStore{gsessions.NewCookieStore(keyPairs...)}
}

type cookieStore struct {
	*gsessions.CookieStore
}

func (c *cookieStore) Options(options sessions.Options) {
	c.CookieStore.Options = options.ToGorillaOptions()
}

// AdminCredential is a username and argon2id password hash allowed to
// log in to the admin API
//
//nolint:lll // struct tags can't be split
type AdminCredential struct {
	ModelUintID
	ModelUnixTime

	Username     string `json:"username" gorm:"uniqueIndex;not null" binding:"required,max=64"`
	PasswordHash string `json:"-" gorm:"not null" log:"[redacted]"`
}

// SetAdminCredentials creates the admin user, or replaces the password
// of an existing one
func SetAdminCredentials(ctx context.Context, db DBI, username string, password string) error {
	if username == "" || password == "" {
		return errors.New("username and password are required")
	}
	if len(username) > adminCredentialUsernameMax {
		return fmt.Errorf("username exceeds %d characters", adminCredentialUsernameMax)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return fmt.Errorf("error hashing password: %w", err)
	}

	var existing AdminCredential
	err = db.DB().WithContext(ctx).Where("username = ?", username).Limit(1).Find(&existing).Error
	if err != nil {
		return fmt.Errorf("error looking up admin credentials: %w", err)
	}
	if existing.ID != 0 {
		_, err = db.Updates(ctx, &existing, map[string]any{"password_hash": hash})
		return err
	}
	_, err = db.Create(ctx, &AdminCredential{Username: username, PasswordHash: hash})
	return err
}

// APIHandlers contains the handlers for the admin API endpoints
type APIHandlers struct {
	a      *AIGF
	api    *API
	logger *slog.Logger
	store  CookieStore
}

// NewAPIHandlers sets up the cookie store used for admin sessions. When
// no secret is configured, a random one is generated, and sessions don't
// survive a restart.
func NewAPIHandlers(a *AIGF, api *API, logger *slog.Logger) *APIHandlers {
	var secretKey []byte
	switch sk := api.config.Secret; {
	case sk == "":
		logger.Warn(
			"api secret not set, generating random secret " +
				"(sessions will not persist across restarts)",
		)
		secretKey = securecookie.GenerateRandomKey(64)
	default:
		secretKey = derive64ByteKey(sk)
	}

	store := NewCookieStore(secretKey)
	store.Options(api.sessionOptions())
	return &APIHandlers{a: a, api: api, logger: logger, store: store}
}

func (a *API) sessionOptions() sessions.Options {
	sameSite := http.SameSiteStrictMode
	if a.config.Development {
		sameSite = http.SameSiteLaxMode
	}
	return sessions.Options{
		Path:     "/",
		HttpOnly: true,
		Secure:   a.config.SSL.Cert != "",
		MaxAge:   int(a.config.SessionMaxAge.Seconds()),
		SameSite: sameSite,
	}
}

// loginHandler checks the posted credentials against the stored
// AdminCredential and starts a cookie session.
//
// Responses:
//   - 200 OK: If the user was successfully logged in.
//   - 400 Bad Request: If the request payload is invalid.
//   - 401 Unauthorized: If the credentials are incorrect or not set.
//   - 429 Too Many Requests: If the login attempts are rate limited.
//   - 500 Internal Server Error: If there is an error processing the login request.
func (h *APIHandlers) loginHandler(c *gin.Context) {
	logger := ginContextLogger(c)
	if !h.api.loginRequestLimiter.Allow() {
		logger.Warn("login rate limited")
		c.AbortWithStatus(http.StatusTooManyRequests)
		return
	}

	var login userLogin
	if err := c.ShouldBindJSON(&login); err != nil {
		c.JSON(http.StatusBadRequest, httpError{Error: err.Error()})
		return
	}
	if h.a.db == nil {
		ginReplyError(c, "database not ready")
		return
	}

	var cred AdminCredential
	err := h.a.db.WithContext(c).Where("username = ?", login.Username).Limit(1).Find(&cred).Error
	if err != nil {
		logger.Error("error looking up admin credentials", tint.Err(err))
		ginReplyError(c, "internal server error")
		return
	}
	if cred.ID == 0 {
		logger.Warn("unknown admin username", "username", login.Username)
		c.JSON(http.StatusUnauthorized, httpError{Error: "unauthorized"})
		return
	}

	valid, err := VerifyPassword(cred.PasswordHash, login.Password)
	if err != nil {
		logger.Error("error verifying password", tint.Err(err))
		ginReplyError(c, "internal server error")
		return
	}
	if !valid {
		logger.Warn("invalid login attempt", "username", login.Username)
		c.JSON(http.StatusUnauthorized, httpError{Error: "unauthorized"})
		return
	}

	session, err := h.store.New(c.Request, sessionVarName)
	if err != nil {
		// an invalid existing cookie still returns a new session
		logger.Warn("error decoding existing session", tint.Err(err))
	}
	if session == nil {
		ginReplyError(c, "internal server error")
		return
	}
	opts := h.api.sessionOptions()
	session.Options = opts.ToGorillaOptions()
	session.Values[sessionVarField] = login.Username
	if err = session.Save(c.Request, c.Writer); err != nil {
		logger.Error("error saving session", tint.Err(err))
		ginReplyError(c, "internal server error")
		return
	}
	logger.Info("saved user session", "username", login.Username)
	c.JSON(http.StatusOK, loggedInResponse{Username: login.Username})
}

func (h *APIHandlers) logoutHandler(c *gin.Context) {
	logger := ginContextLogger(c)
	session, err := h.store.Get(c.Request, sessionVarName)
	if err != nil {
		logger.Error("error getting session", tint.Err(err))
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	session.Values[sessionVarField] = ""
	if err = session.Save(c.Request, c.Writer); err != nil {
		logger.Error("error saving cookie", tint.Err(err))
	}
	ginReplyMessage(c, "logged out")
}

func (h *APIHandlers) healthCheck(c *gin.Context) {
	resp := healthCheckResponse{
		DiscordGatewayConnected: h.a.discord.connected.Load(),
		Stopping:                h.a.stopping.Load(),
	}
	if app := h.a.app.Load(); app != nil {
		resp.Ready = true
		resp.LoadedSessions = len(app.registry.SessionIDs())
		resp.LoadedAt = app.loadedAt
	}
	c.JSON(http.StatusOK, resp)
}

func (h *APIHandlers) loggedIn(c *gin.Context) {
	username, _ := c.Get(sessionVarField)
	s, _ := username.(string)
	c.JSON(http.StatusOK, loggedInResponse{Username: s})
}

// getSessions lists every stored session, sorted by session ID.
//
// Sessions that fail to load are skipped, and logged.
func (h *APIHandlers) getSessions(c *gin.Context) {
	var query Pagination
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, httpError{Error: "invalid query parameters"})
		return
	}
	query.setDefaults()

	app := h.a.app.Load()
	if app == nil {
		c.JSON(http.StatusServiceUnavailable, httpError{Error: ErrNotReady.Error()})
		return
	}

	log := ginContextLogger(c)
	var summaries []sessionSummary
	err := app.manager.GetAll(
		c, func(cache *SessionCache) bool {
			summaries = append(summaries, newSessionSummary(cache))
			return true
		},
	)
	if err != nil {
		log.WarnContext(c, "some sessions failed to load", tint.Err(err))
	}

	sort.Slice(
		summaries, func(i, j int) bool {
			if query.Order == Descending {
				return summaries[i].SessionID > summaries[j].SessionID
			}
			return summaries[i].SessionID < summaries[j].SessionID
		},
	)

	total := len(summaries)
	start := min(query.Offset, total)
	end := min(start+query.Limit, total)

	c.JSON(
		http.StatusOK, gin.H{
			"total":    total,
			"offset":   query.Offset,
			"limit":    query.Limit,
			"sessions": summaries[start:end],
		},
	)
}

// sessionConversation returns the stored conversation named by the `id`
// path parameter. If it doesn't exist, or can't be loaded, a response is
// written and nil is returned.
func (h *APIHandlers) sessionConversation(c *gin.Context) *Conversation {
	app := h.a.app.Load()
	if app == nil {
		c.JSON(http.StatusServiceUnavailable, httpError{Error: ErrNotReady.Error()})
		return nil
	}
	sessionID := c.Param("id")
	conv, err := app.registry.GetExisting(c, sessionID)
	switch {
	case errors.Is(err, ErrCacheNotFound):
		c.JSON(http.StatusNotFound, httpError{Error: "session not found"})
		return nil
	case errors.Is(err, ErrInvalidSessionID):
		c.JSON(http.StatusBadRequest, httpError{Error: "invalid session id"})
		return nil
	case err != nil:
		ginContextLogger(c).ErrorContext(
			c,
			"error loading session",
			"session_id", sessionID,
			tint.Err(err),
		)
		ginReplyError(c, "error loading session")
		return nil
	}
	return conv
}

func (h *APIHandlers) getSession(c *gin.Context) {
	conv := h.sessionConversation(c)
	if conv == nil {
		return
	}
	m := conv.Model()
	c.JSON(
		http.StatusOK, sessionDetail{
			SessionID:   conv.SessionID(),
			Settings:    m.Settings,
			Messages:    m.Messages,
			Temperature: conv.Temperature(),
			Transcript:  conv.Print(),
		},
	)
}

func (h *APIHandlers) getSessionPrompt(c *gin.Context) {
	conv := h.sessionConversation(c)
	if conv == nil {
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": conv.SessionID(), "prompt": conv.Debug()})
}

func (h *APIHandlers) clearSession(c *gin.Context) {
	conv := h.sessionConversation(c)
	if conv == nil {
		return
	}
	if err := conv.Clear(c); err != nil {
		ginContextLogger(c).ErrorContext(c, "error clearing session", tint.Err(err))
		ginReplyError(c, "error clearing session")
		return
	}
	ginReplyMessage(c, "cleared")
}

func (h *APIHandlers) resetSession(c *gin.Context) {
	if app := h.a.app.Load(); app != nil {
		sessionID := c.Param("id")
		_, err := app.registry.GetExisting(c, sessionID)
		if errors.Is(err, ErrMalformedCache) {
			ginContextLogger(c).WarnContext(
				c,
				"session unreadable, recreating",
				"session_id", sessionID,
				tint.Err(err),
			)
			if _, err = app.registry.Recreate(c, sessionID); err != nil {
				ginContextLogger(c).ErrorContext(c, "error resetting session", tint.Err(err))
				ginReplyError(c, "error resetting session")
				return
			}
			ginReplyMessage(c, "reset")
			return
		}
	}

	conv := h.sessionConversation(c)
	if conv == nil {
		return
	}
	if err := conv.Reset(c); err != nil {
		ginContextLogger(c).ErrorContext(c, "error resetting session", tint.Err(err))
		ginReplyError(c, "error resetting session")
		return
	}
	ginReplyMessage(c, "reset")
}

func (h *APIHandlers) reload(c *gin.Context) {
	log := ginContextLogger(c)
	log.Info("reloading")
	if err := h.a.Reload(c); err != nil {
		log.ErrorContext(c, "error reloading", tint.Err(err))
		ginReplyError(c, fmt.Sprintf("error reloading: %s", err.Error()))
		return
	}
	ginReplyMessage(c, "reloaded")
}

// discordRegisterCommands overwrites the bot's slash commands with the
// commands built from the current taxonomy.
//
// Responses:
//   - 201 Created: If the commands were successfully registered.
//   - 500 Internal Server Error: If there was an error registering the commands.
func (h *APIHandlers) discordRegisterCommands(c *gin.Context) {
	log := ginContextLogger(c)
	log.Info("registering commands")

	createdCommands, err := h.a.RegisterSlashCommands()
	if err != nil {
		log.ErrorContext(c, "error registering commands", tint.Err(err))
		ginReplyError(c, fmt.Sprintf("error registering commands: %s", err.Error()))
		return
	}
	c.JSON(http.StatusCreated, createdCommands)
}

func (h *APIHandlers) botQuit(c *gin.Context) {
	ginContextLogger(c).Warn("sending stop signal")
	h.a.Stop()
	ginReplyMessage(c, "quitting")
}

// GetCompletionLogsQuery represents the query parameters for fetching
// CompletionLog records
type GetCompletionLogsQuery struct {
	Pagination
	SessionID string `form:"session_id"`
}

func (h *APIHandlers) getCompletionLogs(c *gin.Context) {
	var query GetCompletionLogsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, httpError{Error: "invalid query parameters"})
		return
	}
	query.setDefaults()

	if h.a.db == nil {
		c.JSON(http.StatusServiceUnavailable, httpError{Error: ErrNotReady.Error()})
		return
	}

	log := ginContextLogger(c)
	db := h.a.db.WithContext(c).Model(&CompletionLog{})
	if query.SessionID != "" {
		db = db.Where("session_id = ?", query.SessionID)
	}

	var totalCount int64
	if err := db.Count(&totalCount).Error; err != nil {
		log.ErrorContext(c, "error counting completion logs", tint.Err(err))
		ginReplyError(c, "error retrieving logs")
		return
	}

	switch query.Order {
	case Descending:
		db = db.Order("created_at DESC")
	default:
		db = db.Order("created_at ASC")
	}

	var logs []CompletionLog
	if err := db.Limit(query.Limit).Offset(query.Offset).Find(&logs).Error; err != nil {
		log.ErrorContext(c, "error retrieving completion logs", tint.Err(err))
		ginReplyError(c, "error retrieving logs")
		return
	}

	c.JSON(
		http.StatusOK, gin.H{
			"total":  totalCount,
			"offset": query.Offset,
			"limit":  query.Limit,
			"logs":   logs,
		},
	)
}

// Pagination represents the pagination parameters for API requests.
//
// Fields:
//   - Limit: The maximum number of records to return.
//   - Order: The order in which to return the records (ascending or descending).
//   - Offset: The number of records to skip before starting to return records.
type Pagination struct {
	Limit  int  `form:"limit" binding:"omitempty,min=1,max=100"`
	Order  Sort `form:"order" binding:"omitempty,oneof=asc desc"`
	Offset int  `form:"offset" binding:"omitempty,min=0"`
}

func (p *Pagination) setDefaults() {
	if p.Limit == 0 {
		p.Limit = defaultPaginationLimit
	}
	if p.Order == "" {
		p.Order = Descending
	}
}

// Sort is the order results are returned in, either Ascending or
// Descending
type Sort string

type sessionSummary struct {
	SessionID    string `json:"session_id"`
	UserName     string `json:"user_name"`
	AIName       string `json:"ai_name"`
	MessageCount int    `json:"message_count"`
}

func newSessionSummary(cache *SessionCache) sessionSummary {
	return sessionSummary{
		SessionID:    cache.ID(),
		UserName:     cache.UserName(),
		AIName:       cache.AIName(),
		MessageCount: len(cache.Messages()),
	}
}

type sessionDetail struct {
	SessionID   string    `json:"session_id"`
	Settings    Settings  `json:"settings"`
	Messages    []Message `json:"messages"`
	Temperature float32   `json:"temperature"`
	Transcript  string    `json:"transcript"`
}

type loggedInResponse struct {
	Username string `json:"username"`
}

type healthCheckResponse struct {
	Ready                   bool      `json:"ready"`
	Stopping                bool      `json:"stopping"`
	DiscordGatewayConnected bool      `json:"discord_gateway_connected"`
	LoadedSessions          int       `json:"loaded_sessions"`
	LoadedAt                time.Time `json:"loaded_at,omitempty"`
}

type httpReply struct {
	Message string `json:"message"`
}

// httpError represents an error message returned to the client
type httpError struct {
	Error string `json:"error"`
}

type userLogin struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// authMiddleware aborts with 401 Unauthorized unless the request carries a
// session cookie with a username set
func authMiddleware(store CookieStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := ginContextLogger(c)

		session, err := store.Get(c.Request, sessionVarName)
		if err != nil || session == nil {
			logger.Warn("error getting session", tint.Err(err))
			c.AbortWithStatusJSON(
				http.StatusUnauthorized,
				httpError{Error: "unauthorized"},
			)
			return
		}

		username, _ := session.Values[sessionVarField].(string)
		if username == "" {
			logger.Warn("username not found in session")
			c.AbortWithStatusJSON(
				http.StatusUnauthorized,
				httpError{Error: "unauthorized"},
			)
			return
		}

		c.Set(sessionVarField, username)
		c.Next()
	}
}

// requestIDMiddleware assigns a unique request ID to each incoming
// request, and sets it as a response header
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := uuid.NewString()
		c.Set(xRequestIDHeader, id)
		c.Header(xRequestIDHeader, id)
		c.Next()
	}
}

// ginContextLogger returns the slog.Logger from the given gin context,
// or, if it doesn't exist, creates a logger with request details included,
// and sets the logger in the context so the next call to ginContextLogger
// will return the new logger.
func ginContextLogger(c *gin.Context) *slog.Logger {
	if logger, ok := c.Get(string(loggerContextKey)); ok {
		if requestLogger, isLogger := logger.(*slog.Logger); isLogger {
			return requestLogger
		}
	}
	return setGinContextLogger(c, slog.Default())
}

func setGinContextLogger(c *gin.Context, base *slog.Logger) *slog.Logger {
	requestID, _ := c.Get(xRequestIDHeader)
	path := c.Request.URL.Path
	if raw := c.Request.URL.RawQuery; raw != "" {
		path = path + "?" + raw
	}

	requestLogger := base.With(
		slog.Group(
			"request",
			"method", c.Request.Method,
			"path", path,
			"remote_ip", c.RemoteIP(),
			"user_agent", c.Request.UserAgent(),
		),
		slog.Any(xRequestIDHeader, requestID),
	)
	c.Set(string(loggerContextKey), requestLogger)
	return requestLogger
}

// ginLoggingMiddleware logs each request once it finishes, along with its
// duration and response status
func ginLoggingMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestLogger := setGinContextLogger(c, logger)
		c.Next()
		latency := time.Since(start)

		response := slog.Group(
			"response",
			"status_code", c.Writer.Status(),
			"body_size", c.Writer.Size(),
		)
		errs := c.Errors.ByType(gin.ErrorTypePrivate)
		if len(errs) > 0 {
			requestLogger.Error(
				fmt.Sprintf("%s %s finished with errors", c.Request.Method, c.Request.URL),
				"duration", latency,
				"errors", errs.Errors(),
				response,
			)
			return
		}
		requestLogger.Info(
			fmt.Sprintf("%s %s finished", c.Request.Method, c.Request.URL),
			"duration", latency,
			response,
		)
	}
}

// ginReplyMessage sends a JSON response with a message,
// with HTTP status code 200, via the gin context.
func ginReplyMessage(c *gin.Context, message string) {
	c.JSON(http.StatusOK, httpReply{Message: message})
}

// ginReplyError sends a JSON response with a message,
// with HTTP status code 500, via the gin context.
func ginReplyError(c *gin.Context, err string) {
	c.AbortWithStatusJSON(http.StatusInternalServerError, httpError{Error: err})
}

//nolint:gochecknoinits // gotta register the validators
func init() {
	structValidator.SetTagName("binding")
}
