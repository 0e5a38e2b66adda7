package api

import (
	"net/url"
	"strconv"
	"strings"

	"amethyst/internal/dsl"
	"amethyst/internal/filter"
	"amethyst/internal/hooks"
	"amethyst/internal/manager"
	"amethyst/internal/query"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// reservedParams: служебные параметры списка, не короткие фильтры.
var reservedParams = map[string]struct{}{
	"include": {}, "query": {}, "q": {},
	"sort": {}, "_sort": {}, "order": {}, "_order": {},
	"limit": {}, "_limit": {}, "offset": {}, "_offset": {},
	"nulls": {},
}

// ErrUnknownInclude: include-путь не является цепочкой отношений
// (только в режиме strict_includes).
var ErrUnknownInclude = errors.New("unknown include path")

// queryable собирает запрос: include → допустимые пути, query и короткие
// фильтры → условие, проверка ключей по queryable-атрибутам, соединения для
// отношений, которые и фильтруются, и включены. Затем точка query.
func (srv *Server) queryable() gin.HandlerFunc {
	return func(c *gin.Context) {
		q, err := srv.buildQuery(c, managerOf(c))
		if err != nil {
			srv.abortWithError(c, err)
			return
		}
		c.Set(keyQuery, q)
		c.Next()
	}
}

func (srv *Server) buildQuery(c *gin.Context, m *manager.Manager) (*query.Query, error) {
	ctx := c.Request.Context()
	params := c.Request.URL.Query()
	q := m.NewQuery()

	includes, err := srv.resolveIncludes(c, m, splitList(params["include"]))
	if err != nil {
		return nil, err
	}
	q.With(includes...)

	expr, err := filter.Parse(params.Get("query"))
	if err != nil {
		return nil, err
	}
	short, err := filter.FromValues(params, reservedParams)
	if err != nil {
		return nil, err
	}
	cond := filter.And(expr, short)

	sortKeys, err := query.ParseSortOrder(firstOf(params, "sort", "_sort"), firstOf(params, "order", "_order"))
	if err != nil {
		return nil, err
	}

	// допустимые ключи: свои атрибуты и атрибуты каждого включённого пути
	// вместе с префиксами ("author.country" открывает и "author.*")
	included, err := m.Schema().ResolveRelations(m.FQN(), includes)
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(included))
	for _, r := range included {
		paths = append(paths, r.Path)
	}
	allowed := m.Queryable(paths)
	if err := filter.Validate(cond, allowed); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(sortKeys))
	for _, k := range sortKeys {
		keys = append(keys, k.Field)
	}
	if err := validateKeys(keys, allowed); err != nil {
		return nil, err
	}

	// q: поиск подстроки без учёта регистра по строковым полям сущности
	if needle := strings.TrimSpace(params.Get("q")); needle != "" {
		cond = filter.And(cond, search(m, needle))
	}

	joiner := query.NewJoiner(m.Schema())
	used := filter.RelationsOf(append(filter.Keys(cond), keys...))
	for _, rel := range used {
		if !contains(paths, rel) {
			continue
		}
		if err := joiner.JoinRelations(q, rel); err != nil {
			return nil, err
		}
	}

	q.Where(cond)
	q.OrderBy(sortKeys...)
	if strings.EqualFold(params.Get("nulls"), query.NullsFirst) {
		q.Nulls = query.NullsFirst
	}

	if err := srv.hooks.Execute(ctx, hooks.Query, &hooks.Context{Manager: m, Query: q}); err != nil {
		return nil, err
	}
	zerolog.Ctx(ctx).Trace().
		Strs("include", q.Includes()).
		Strs("joins", q.Joins()).
		Msg("query built")
	return q, nil
}

// search: OR из ct по собственным строковым и enum атрибутам. Без таких
// атрибутов поиск ничего не находит.
func search(m *manager.Manager, needle string) filter.Node {
	var operands []filter.Node
	for _, a := range m.Attributes() {
		if a.System || a.RelationName != "" {
			continue
		}
		if a.Type == dsl.TypeString || a.Type == dsl.TypeEnum {
			operands = append(operands, filter.Compare(a.Name, filter.OpContains, needle))
		}
	}
	switch len(operands) {
	case 0:
		return filter.Compare("id", filter.OpIsNull)
	case 1:
		return operands[0]
	}
	return &filter.LogicNode{Op: filter.LogicOr, Operands: operands}
}

// resolveIncludes отбрасывает пути, не являющиеся цепочкой отношений.
func (srv *Server) resolveIncludes(c *gin.Context, m *manager.Manager, raw []string) ([]string, error) {
	var out []string
	for _, path := range raw {
		if m.Schema().IsValidNestedRelation(m.FQN(), path) {
			out = append(out, path)
			continue
		}
		if srv.cfg.Schema.StrictIncludes {
			return nil, errors.Wrapf(ErrUnknownInclude, "%q", path)
		}
		zerolog.Ctx(c.Request.Context()).Warn().Str("entity", m.FQN()).Str("include", path).Msg("include path dropped")
	}
	return out, nil
}

func validateKeys(keys, allowed []string) error {
	for _, k := range keys {
		if !contains(allowed, k) {
			return &filter.KeyError{Key: k}
		}
	}
	return nil
}

// page: limit/_limit (1..max, иначе по умолчанию; больше max: max),
// offset/_offset (>= 0).
func (srv *Server) page(params url.Values) (limit, offset int) {
	limit = srv.cfg.API.DefaultLimit
	if v := firstOf(params, "limit", "_limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = min(n, srv.cfg.API.MaxLimit)
		}
	}
	if v := firstOf(params, "offset", "_offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

// readExpectedVersion: If-Match ("3", "\"3\"", W/"3") или version в теле.
// 0: версия не передана.
func readExpectedVersion(c *gin.Context, payload map[string]any) int64 {
	if ifMatch := strings.TrimSpace(c.GetHeader("If-Match")); ifMatch != "" {
		ifMatch = strings.Trim(strings.TrimPrefix(ifMatch, "W/"), `"'`)
		if v, err := strconv.ParseInt(ifMatch, 10, 64); err == nil {
			return v
		}
	}
	switch t := payload["version"].(type) {
	case float64:
		return int64(t)
	case string:
		if v, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64); err == nil {
			return v
		}
	}
	return 0
}

func firstOf(params url.Values, names ...string) string {
	for _, n := range names {
		if v := strings.TrimSpace(params.Get(n)); v != "" {
			return v
		}
	}
	return ""
}

// splitList: ["a,b", "c"] → [a b c].
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
