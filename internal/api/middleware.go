package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"
	"time"

	"amethyst/internal/auth"
	"amethyst/internal/cache"
	"amethyst/internal/logger"
	"amethyst/internal/manager"
	"amethyst/internal/query"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	RequestIDHeader = "X-Request-ID"
	CacheHeader     = "X-Cache"

	keyRequestID  = "request_id"
	keyController = "controller"
	keyManager    = "manager"
	keyQuery      = "query"
)

// requestID берёт X-Request-ID клиента или выдаёт новый UUID.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(RequestIDHeader))
		if id == "" {
			id = uuid.New().String()
		}
		c.Set(keyRequestID, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// requestLogger кладёт логгер запроса в контекст и пишет строку на запрос:
// 5xx: error, 4xx: warn, остальное: info.
func (srv *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		ctx, log := logger.WithRequest(c.Request.Context(), srv.log,
			c.GetString(keyRequestID), c.Request.Method, c.Request.URL.Path, c.ClientIP())
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		status := c.Writer.Status()
		latency := time.Since(start)
		srv.metrics.RecordRequest(c.Request.Method, c.FullPath(), status, latency)

		var ev *zerolog.Event
		switch {
		case status >= http.StatusInternalServerError:
			ev = log.Error()
		case status >= http.StatusBadRequest:
			ev = log.Warn()
		default:
			ev = log.Info()
		}
		if len(c.Errors) > 0 {
			ev = ev.Str("errors", c.Errors.String())
		}
		ev.Int("status", status).
			Dur("latency", latency).
			Str("uri", c.Request.RequestURI).
			Str("agent_id", auth.FromContext(c.Request.Context()).ID).
			Msg("request")
	}
}

func (srv *Server) recovery() gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, rec any) {
		zerolog.Ctx(c.Request.Context()).Error().Str("panic", fmt.Sprint(rec)).Msg("panic recovered")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
	})
}

// authenticate определяет агента по Authorization. Без токена: Guest,
// если auth.required не включён; неизвестный токен: всегда 401.
func (srv *Server) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		agent := auth.Guest
		if header := c.GetHeader("Authorization"); strings.TrimSpace(header) != "" {
			a, ok := srv.tokens.Lookup(header)
			if !ok {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
				return
			}
			agent = a
		} else if srv.cfg.Auth.Required {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization required"})
			return
		}

		ctx := auth.WithAgent(c.Request.Context(), agent)
		ctx = logger.WithAgent(ctx, agent.ID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// resource находит контроллер по :module/:entity и привязывает менеджер
// к агенту запроса.
func (srv *Server) resource() gin.HandlerFunc {
	return func(c *gin.Context) {
		st := srv.current()
		fqn, ok := st.schema.Normalize(c.Param("module"), c.Param("entity"))
		if !ok {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Entity not found"})
			return
		}
		ctl, ok := st.controllers[fqn]
		if !ok {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Entity not found"})
			return
		}
		c.Set(keyController, ctl)
		c.Set(keyManager, ctl.ManagerFor(auth.FromContext(c.Request.Context())))
		c.Next()
	}
}

func controllerOf(c *gin.Context) *Controller { return c.MustGet(keyController).(*Controller) }

func managerOf(c *gin.Context) *manager.Manager { return c.MustGet(keyManager).(*manager.Manager) }

func queryOf(c *gin.Context) *query.Query { return c.MustGet(keyQuery).(*query.Query) }

type bodyWriter struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *bodyWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *bodyWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// cachedHeaders: заголовки, которые сохраняются вместе с телом.
var cachedHeaders = []string{"Content-Type", "X-Total-Count", "ETag"}

// responseCache отдаёт GET-ответы из кэша для контроллеров с Cached.
// Ключ: агент и URL; кэш сбрасывается на saved/deleted.
func (srv *Server) responseCache() gin.HandlerFunc {
	return func(c *gin.Context) {
		if srv.responses == nil || c.Request.Method != http.MethodGet || !controllerOf(c).Cached() {
			c.Next()
			return
		}
		ctx := c.Request.Context()
		key := auth.FromContext(ctx).ID + "|" + c.Request.URL.RequestURI()

		resp, ok, err := srv.responses.Get(ctx, key)
		if err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("response cache get failed")
		}
		if ok {
			srv.metrics.RecordCacheHit()
			for k, vals := range resp.Header {
				for _, v := range vals {
					c.Writer.Header().Add(k, v)
				}
			}
			c.Header(CacheHeader, "HIT")
			c.Data(resp.Status, c.Writer.Header().Get("Content-Type"), resp.Body)
			c.Abort()
			return
		}

		srv.metrics.RecordCacheMiss()
		c.Header(CacheHeader, "MISS")
		// поколение снимается до чтения данных: если за время запроса кэш
		// сбросили, Set ответ не сохранит
		gen, err := srv.responses.Generation(ctx)
		if err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("response cache generation failed")
			c.Next()
			return
		}
		w := &bodyWriter{ResponseWriter: c.Writer}
		c.Writer = w
		c.Next()

		if w.Status() != http.StatusOK || c.IsAborted() {
			return
		}
		header := map[string][]string{}
		for _, h := range cachedHeaders {
			if v := w.Header().Values(h); len(v) > 0 {
				header[h] = append([]string(nil), v...)
			}
		}
		entry := &cache.Response{Status: w.Status(), Header: header, Body: w.body.Bytes()}
		if err := srv.responses.Set(ctx, key, entry, srv.cfg.Cache.TTL, gen); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("response cache set failed")
		}
	}
}
