package api

import (
	"net/http"

	"amethyst/internal/manager"

	"github.com/gin-gonic/gin"
)

type metaEntityListItem struct {
	Module string `json:"module"`
	Entity string `json:"entity"`
	Table  string `json:"table"`
}

// GET /api/meta
func (srv *Server) metaList(c *gin.Context) {
	st := srv.current()
	out := make([]metaEntityListItem, 0, len(st.controllers))
	for _, e := range st.schema.Entities() {
		out = append(out, metaEntityListItem{Module: e.Module, Entity: e.Name, Table: e.TableName()})
	}
	c.JSON(http.StatusOK, out)
}

type metaRelation struct {
	Name       string `json:"name"`
	Kind       string `json:"kind"`
	Target     string `json:"target"`
	LocalKey   string `json:"localKey"`
	ForeignKey string `json:"foreignKey"`
	OnDelete   string `json:"onDelete,omitempty"`
}

type metaEntity struct {
	Module      string              `json:"module"`
	Entity      string              `json:"entity"`
	Table       string              `json:"table"`
	Cached      bool                `json:"cached"`
	Attributes  []manager.Attribute `json:"attributes"`
	Relations   []metaRelation      `json:"relations"`
	Fillable    []string            `json:"fillable"`
	Queryable   []string            `json:"queryable"`
	Constraints map[string]any      `json:"constraints,omitempty"` // {"unique":[["code"],["base","quote","date"]]}
}

// GET /api/meta/:module/:entity
func (srv *Server) metaEntity(c *gin.Context) {
	st := srv.current()
	fqn, ok := st.schema.Normalize(c.Param("module"), c.Param("entity"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Entity not found"})
		return
	}
	ctl := st.controllers[fqn]
	m := ctl.Manager()
	e := m.Entity()

	rels := st.schema.Relations(fqn)
	relations := make([]metaRelation, 0, len(rels))
	for _, r := range rels {
		mr := metaRelation{
			Name:       r.Name,
			Kind:       string(r.Kind),
			Target:     r.Target.FQN(),
			LocalKey:   r.LocalKey,
			ForeignKey: r.ForeignKey,
		}
		if !r.ToMany() {
			mr.OnDelete = r.OnDelete()
		}
		relations = append(relations, mr)
	}

	var constraints map[string]any
	if len(e.Constraints.Unique) > 0 {
		uniq := make([][]string, 0, len(e.Constraints.Unique))
		for _, set := range e.Constraints.Unique {
			uniq = append(uniq, append([]string(nil), set...))
		}
		constraints = map[string]any{"unique": uniq}
	}

	c.JSON(http.StatusOK, metaEntity{
		Module:      e.Module,
		Entity:      e.Name,
		Table:       e.TableName(),
		Cached:      ctl.Cached(),
		Attributes:  m.Attributes(),
		Relations:   relations,
		Fillable:    ctl.Fillable(),
		Queryable:   m.Queryable(nil),
		Constraints: constraints,
	})
}
