package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"amethyst/internal/schema"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
)

type reloadReq struct {
	Dir string `json:"dir"` // каталог схем; пусто: schema.dir из конфига
}

// POST /api/_admin/reload
func (srv *Server) adminReload(c *gin.Context) {
	var req reloadReq
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
			return
		}
	}
	dir := strings.TrimSpace(req.Dir)
	if dir == "" {
		dir = srv.cfg.Schema.Dir
	}

	s, err := srv.Reload(c.Request.Context(), dir)
	if err != nil {
		var lintErr *schema.LintError
		if errors.As(err, &lintErr) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":  "schema has blocking issues",
				"issues": lintErr.Issues,
				"hint":   "fix DSL and retry",
				"dir":    dir,
			})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "schema load error", "details": err.Error(), "dir": dir})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":       true,
		"dir":      dir,
		"entities": len(s.Entities()),
	})
}

// GET /healthz
func (srv *Server) healthz(c *gin.Context) {
	st := srv.current()
	body := gin.H{
		"status":   "ok",
		"entities": len(st.controllers),
		"loadedAt": st.loadedAt.Format(time.RFC3339),
	}
	if p, ok := srv.store.(pinger); ok {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			body["status"] = "unavailable"
			body["error"] = err.Error()
			c.JSON(http.StatusServiceUnavailable, body)
			return
		}
	}
	c.JSON(http.StatusOK, body)
}
