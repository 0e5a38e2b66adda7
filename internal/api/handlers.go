package api

import (
	"net/http"
	"strconv"

	"amethyst/internal/filter"
	"amethyst/internal/query"
	"amethyst/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
)

// GET /api/:module/:entity
func (srv *Server) index(c *gin.Context) {
	ctx := c.Request.Context()
	m := managerOf(c)
	q := queryOf(c)

	total, err := m.Count(ctx, q)
	if err != nil {
		srv.abortWithError(c, err)
		return
	}
	limit, offset := srv.page(c.Request.URL.Query())
	rows, err := m.Find(ctx, q.Clone().Page(limit, offset))
	if err != nil {
		srv.abortWithError(c, err)
		return
	}

	out := make([]map[string]any, 0, len(rows))
	for _, r := range rows {
		out = append(out, render(r))
	}
	c.Header("X-Total-Count", strconv.Itoa(total))
	c.JSON(http.StatusOK, out)
}

// GET /api/:module/:entity/count
func (srv *Server) count(c *gin.Context) {
	n, err := managerOf(c).Count(c.Request.Context(), queryOf(c))
	if err != nil {
		srv.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": n})
}

// GET /api/:module/:entity/:id
func (srv *Server) show(c *gin.Context) {
	rows, err := managerOf(c).Find(c.Request.Context(), byID(c))
	if err != nil {
		srv.abortWithError(c, err)
		return
	}
	if len(rows) == 0 {
		srv.abortWithError(c, store.ErrNotFound)
		return
	}
	c.Header("ETag", etag(rows[0]))
	c.JSON(http.StatusOK, render(rows[0]))
}

// byID: запрос контроллера, сужённый до записи :id.
func byID(c *gin.Context) *query.Query {
	return queryOf(c).Clone().Where(filter.Eq("id", c.Param("id"))).Page(1, 0)
}

// inScope: запись :id видна через запрос контроллера (с условиями точки query).
func inScope(c *gin.Context) error {
	m := managerOf(c)
	n, err := m.Count(c.Request.Context(), byID(c))
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.Wrapf(store.ErrNotFound, "%s %s", m.FQN(), c.Param("id"))
	}
	return nil
}

// POST /api/:module/:entity
func (srv *Server) create(c *gin.Context) {
	payload, ok := bindPayload(c)
	if !ok {
		return
	}
	m := managerOf(c)
	data, errs := m.Assign(payload, controllerOf(c).Fillable())
	if len(errs) > 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"errors": errs})
		return
	}
	row, err := m.Create(c.Request.Context(), data)
	if err != nil {
		srv.abortWithError(c, err)
		return
	}
	c.Header("ETag", etag(row))
	c.Header("Location", c.Request.URL.Path+"/"+row.ID())
	c.JSON(http.StatusCreated, render(row))
}

// PUT|PATCH /api/:module/:entity/:id: частичное изменение; версия из
// If-Match или тела включает оптимистическую блокировку.
func (srv *Server) update(c *gin.Context) {
	payload, ok := bindPayload(c)
	if !ok {
		return
	}
	if err := inScope(c); err != nil {
		srv.abortWithError(c, err)
		return
	}
	m := managerOf(c)
	expected := readExpectedVersion(c, payload)
	data, errs := m.Assign(payload, controllerOf(c).Fillable())
	if len(errs) > 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"errors": errs})
		return
	}
	row, err := m.Update(c.Request.Context(), c.Param("id"), data, expected)
	if err != nil {
		srv.abortWithError(c, err)
		return
	}
	c.Header("ETag", etag(row))
	c.JSON(http.StatusOK, render(row))
}

// DELETE /api/:module/:entity/:id
func (srv *Server) remove(c *gin.Context) {
	if err := inScope(c); err != nil {
		srv.abortWithError(c, err)
		return
	}
	if err := managerOf(c).Delete(c.Request.Context(), c.Param("id")); err != nil {
		srv.abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func bindPayload(c *gin.Context) (map[string]any, bool) {
	var payload map[string]any
	if err := c.ShouldBindJSON(&payload); err != nil || payload == nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
		return nil, false
	}
	return payload, true
}

func etag(r store.Row) string {
	return `"` + strconv.FormatInt(r.Version(), 10) + `"`
}
