package manager

import (
	"context"
	"errors"
	"strings"
	"testing"

	"amethyst/internal/auth"
	"amethyst/internal/dsl"
	"amethyst/internal/hooks"
	"amethyst/internal/schema"
	"amethyst/internal/store"
	"amethyst/internal/store/memory"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const shopSrc = `
module shop

entity Customer:
  name: string required fillable
  orders: has_many[Order]

entity Order:
  number: string required fillable
  status: enum[new, paid] default=new fillable
  total: money fillable
  qty: int fillable
  paid: bool fillable
  due: date fillable
  note: string readonly
  internal: string
  customer: ref[Customer] fillable on_delete=restrict
`

const (
	customerFQN = "shop.Customer"
	orderFQN    = "shop.Order"
)

type fixture struct {
	schema *schema.Schema
	store  store.Store
	hooks  *hooks.Registry
	reg    *Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	list, err := dsl.ParseEntities(strings.NewReader(shopSrc))
	require.NoError(t, err)
	ents := map[string]*dsl.Entity{}
	for _, e := range list {
		ents[e.FQN()] = e
	}
	s, err := schema.New(ents, schema.Options{})
	require.NoError(t, err)

	fx := &fixture{schema: s, store: memory.New(s), hooks: hooks.NewRegistry()}
	fx.reg = NewRegistry(Deps{Schema: s, Store: fx.store, Hooks: fx.hooks})
	fx.reg.RegisterDefaults(s)
	return fx
}

func (fx *fixture) manager(t *testing.T, fqn string) *Manager {
	t.Helper()
	m, err := fx.reg.New(fqn)
	require.NoError(t, err)
	return m
}

func TestAttributes(t *testing.T) {
	m := newFixture(t).manager(t, orderFQN)

	assert.Equal(t, []string{
		"id", "version", "created_at", "updated_at",
		"number", "status", "total", "qty", "paid", "due", "note", "internal", "customer_id",
	}, m.AttributeNames())

	a, ok := m.Attribute("customer")
	require.True(t, ok)
	assert.Equal(t, "customer_id", a.Name)
	assert.Equal(t, "customer", a.RelationName)

	a, ok = m.Attribute("id")
	require.True(t, ok)
	assert.True(t, a.System)
	assert.False(t, a.Fillable)
}

func TestFillable(t *testing.T) {
	m := newFixture(t).manager(t, orderFQN)
	assert.Equal(t,
		[]string{"number", "status", "total", "qty", "paid", "due", "customer", "customer_id"},
		m.Fillable())
	assert.Equal(t, []string{"name"}, newFixture(t).manager(t, customerFQN).Fillable())
}

func TestQueryable(t *testing.T) {
	m := newFixture(t).manager(t, orderFQN)
	q := m.Queryable([]string{"customer", "nope"})
	assert.Contains(t, q, "customer")
	assert.Contains(t, q, "customer_id")
	assert.Contains(t, q, "customer.name")
	assert.Contains(t, q, "customer.id")
	assert.NotContains(t, q, "customer.orders")
}

func TestAssign(t *testing.T) {
	m := newFixture(t).manager(t, orderFQN)

	data, errs := m.Assign(map[string]any{
		"number":   "A-1",
		"customer": map[string]any{"id": "c1"},
		"internal": "dropped",
		"id":       "forged",
		"note":     "readonly",
		"version":  float64(3),
		"orders":   []any{},
	}, m.Fillable())
	assert.Equal(t, store.Row{"number": "A-1", "customer_id": "c1"}, data)
	require.Len(t, errs, 2)
	assert.Equal(t, FieldError{Code: ErrReadOnly, Field: "id", Message: "Field 'id' is read-only"}, errs[0])
	assert.Equal(t, "note", errs[1].Field)

	data, errs = m.Assign(map[string]any{"customer": "a", "customer_id": "b"}, m.Fillable())
	assert.Empty(t, errs)
	assert.Equal(t, store.Row{"customer_id": "b"}, data, "explicit fk wins")

	data, _ = m.Assign(map[string]any{"customer": nil}, m.Fillable())
	assert.Equal(t, store.Row{"customer_id": nil}, data)

	_, errs = m.Assign(map[string]any{"customer": float64(5)}, m.Fillable())
	require.Len(t, errs, 1)
	assert.Equal(t, ErrTypeMismatch, errs[0].Code)

	data, _ = m.Assign(map[string]any{"number": "A-2", "internal": "kept"}, append(m.Fillable(), "internal"))
	assert.Equal(t, store.Row{"number": "A-2", "internal": "kept"}, data)
}

func TestCreate_Validation(t *testing.T) {
	m := newFixture(t).manager(t, orderFQN)

	_, err := m.Create(context.Background(), store.Row{
		"total":       "abc",
		"qty":         1.5,
		"paid":        "yes",
		"due":         "2024-13-01",
		"status":      "lost",
		"customer_id": "missing",
	})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)

	codes := map[string]string{}
	for _, fe := range ve.Errors {
		codes[fe.Field] = fe.Code
	}
	assert.Equal(t, map[string]string{
		"number":   ErrRequired,
		"total":    ErrTypeMismatch,
		"qty":      ErrTypeMismatch,
		"paid":     ErrTypeMismatch,
		"due":      ErrTypeMismatch,
		"status":   ErrEnumInvalid,
		"customer": ErrRefNotFound,
	}, codes)
}

func TestCreateUpdateDelete(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	customers := fx.manager(t, customerFQN)
	orders := fx.manager(t, orderFQN)

	var saved, deleted []string
	fx.hooks.Add(hooks.Saved, func(_ context.Context, hc *hooks.Context) error {
		saved = append(saved, hc.Manager.FQN()+":"+hc.Record.ID())
		return nil
	})
	fx.hooks.Add(hooks.Deleted, func(_ context.Context, hc *hooks.Context) error {
		deleted = append(deleted, hc.Record.ID())
		return nil
	})

	c, err := customers.Create(ctx, store.Row{"name": "ACME"})
	require.NoError(t, err)

	o, err := orders.Create(ctx, store.Row{"number": "A-1", "customer_id": c.ID(), "total": 12.5, "qty": float64(2)})
	require.NoError(t, err)
	assert.Equal(t, "new", o["status"], "default applied")
	assert.True(t, decimal.RequireFromString("12.5").Equal(o["total"].(decimal.Decimal)))
	assert.Equal(t, int64(2), o["qty"])
	assert.Equal(t, []string{customerFQN + ":" + c.ID(), orderFQN + ":" + o.ID()}, saved)

	_, err = orders.Update(ctx, o.ID(), store.Row{"qty": float64(3)}, 7)
	assert.ErrorIs(t, err, store.ErrVersionConflict)

	o, err = orders.Update(ctx, o.ID(), store.Row{"qty": "3", "paid": true}, o.Version())
	require.NoError(t, err)
	assert.Equal(t, int64(2), o.Version())
	assert.Equal(t, int64(3), o["qty"])
	assert.Equal(t, "A-1", o["number"])

	_, err = orders.Update(ctx, o.ID(), store.Row{"number": nil}, 0)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, ErrRequired, ve.Errors[0].Code)

	got, err := orders.FindByID(ctx, o.ID(), "customer")
	require.NoError(t, err)
	assert.Equal(t, "ACME", got["customer"].(store.Row)["name"])

	var ce *store.ConstraintError
	require.ErrorAs(t, customers.Delete(ctx, c.ID()), &ce)
	assert.Equal(t, store.ConstraintReferenced, ce.Kind)

	require.NoError(t, orders.Delete(ctx, o.ID()))
	assert.Equal(t, []string{o.ID()}, deleted)
	_, err = orders.FindByID(ctx, o.ID())
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, orders.Delete(ctx, o.ID()), store.ErrNotFound)
}

func TestFind(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	customers := fx.manager(t, customerFQN)
	orders := fx.manager(t, orderFQN)

	c, err := customers.Create(ctx, store.Row{"name": "ACME"})
	require.NoError(t, err)
	for _, n := range []string{"B", "A"} {
		_, err := orders.Create(ctx, store.Row{"number": n, "customer_id": c.ID()})
		require.NoError(t, err)
	}

	q := customers.NewQuery().With("orders")
	rows, err := customers.Find(ctx, q)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Len(t, rows[0]["orders"], 2)

	n, err := orders.Count(ctx, orders.NewQuery())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestHookFailureAfterSave(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	boom := errors.New("audit is down")
	fx.hooks.Add(hooks.Saved, func(context.Context, *hooks.Context) error { return boom })

	m := fx.manager(t, customerFQN)
	row, err := m.Create(ctx, store.Row{"name": "ACME"})
	assert.ErrorIs(t, err, boom)
	var he *hooks.Error
	require.ErrorAs(t, err, &he)
	assert.Equal(t, hooks.Saved, he.Name)

	ok, err := fx.store.Exists(ctx, customerFQN, row.ID())
	require.NoError(t, err)
	assert.True(t, ok, "record stays saved")
}

func TestAgent(t *testing.T) {
	m := newFixture(t).manager(t, customerFQN)
	assert.Equal(t, auth.Guest, m.Agent())

	scoped := m.WithAgent(auth.Agent{ID: "7"})
	assert.Equal(t, "7", scoped.Agent().ID)
	assert.Equal(t, auth.Guest, m.Agent())

	m.SetAgent(auth.Agent{ID: "8"})
	assert.Equal(t, "8", m.Agent().ID)
}

func TestRegistry(t *testing.T) {
	fx := newFixture(t)
	reg := NewRegistry(Deps{Schema: fx.schema, Store: fx.store, Hooks: fx.hooks})

	_, err := reg.New(orderFQN)
	assert.ErrorIs(t, err, ErrUnknownManager)

	custom := 0
	reg.Register(orderFQN, func(entity string, d Deps) (*Manager, error) {
		custom++
		return Default(entity, d)
	})
	reg.RegisterDefaults(fx.schema)
	assert.Equal(t, []string{customerFQN, orderFQN}, reg.Entities())

	m, err := reg.New(orderFQN)
	require.NoError(t, err)
	assert.Equal(t, orderFQN, m.FQN())
	assert.Equal(t, "orders", m.Table())
	assert.Equal(t, 1, custom, "registered factory is not replaced by defaults")

	reg.Register("shop.Ghost", Default)
	_, err = reg.New("shop.Ghost")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnknownManager)
}
