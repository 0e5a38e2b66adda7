package store

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"amethyst/internal/query"
	"amethyst/internal/schema"

	"github.com/oklog/ulid/v2"
	"github.com/pkg/errors"
)

var (
	ErrNotFound          = errors.New("record not found")
	ErrVersionConflict   = errors.New("version conflict")
	ErrRelationNotJoined = errors.New("relation is not joined")
	ErrInvalidFilter     = errors.New("invalid filter")
)

const (
	ConstraintUnique     = "unique"      // повтор уникального значения
	ConstraintForeignKey = "foreign_key" // ссылка на несуществующую запись
	ConstraintReferenced = "referenced"  // удаление записи, на которую ссылаются (restrict)
)

// ConstraintError: нарушение ограничения целостности.
type ConstraintError struct {
	Kind   string
	Entity string // FQN сущности, где нарушено ограничение
	Field  string
	Detail string
}

func (e *ConstraintError) Error() string {
	msg := fmt.Sprintf("%s constraint violated on %s.%s", e.Kind, e.Entity, e.Field)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Store: хранилище записей. Записи: плоские строки колонок с системными
// полями id, version, created_at, updated_at.
type Store interface {
	// Select выполняет запрос: фильтр, сортировка, страница.
	Select(ctx context.Context, q *query.Query) ([]Row, error)
	// Count: число записей под фильтром без учёта страницы.
	Count(ctx context.Context, q *query.Query) (int, error)
	// LoadBy: записи сущности, у которых column равна одному из values.
	LoadBy(ctx context.Context, entity, column string, values []any) ([]Row, error)
	Insert(ctx context.Context, entity string, data Row) (Row, error)
	// Update применяет частичные изменения. expectedVersion > 0 включает
	// оптимистическую блокировку.
	Update(ctx context.Context, entity, id string, data Row, expectedVersion int64) (Row, error)
	Delete(ctx context.Context, entity, id string) error
	Exists(ctx context.Context, entity, id string) (bool, error)
	// SetSchema подменяет схему после перезагрузки.
	SetSchema(s *schema.Schema)
	Close() error
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
)

// NewID: монотонный ULID. Источник энтропии не потокобезопасен, поэтому под мьютексом.
func NewID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}
