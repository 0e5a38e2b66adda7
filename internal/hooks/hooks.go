// Package hooks: именованные точки расширения. Реестр передаётся явно,
// глобального состояния нет.
package hooks

import (
	"context"
	"fmt"
	"sync"

	"amethyst/internal/auth"
	"amethyst/internal/query"
	"amethyst/internal/store"
)

// Точки вызова.
const (
	Query   = "query"   // запрос собран, до выполнения
	Saved   = "saved"   // запись создана или изменена
	Deleted = "deleted" // запись удалена
)

// Subject: менеджер, от имени которого вызывается обработчик.
type Subject interface {
	FQN() string
	Agent() auth.Agent
}

// Context: то, что получает обработчик. Query заполнен для точки query,
// Record: для saved и deleted.
type Context struct {
	Manager Subject
	Query   *query.Query
	Record  store.Row
}

type Func func(ctx context.Context, hc *Context) error

// Error: отказ обработчика; оставшиеся обработчики не вызываются.
type Error struct {
	Name  string
	Index int
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("hook %s[%d]: %v", e.Name, e.Index, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

type Registry struct {
	mu       sync.RWMutex
	handlers map[string][]Func
}

func NewRegistry() *Registry {
	return &Registry{handlers: map[string][]Func{}}
}

// Add дописывает обработчик в конец списка name. Удаления нет.
func (r *Registry) Add(name string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = append(r.handlers[name], fn)
}

func (r *Registry) Len(name string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[name])
}

// Execute вызывает обработчики name в порядке добавления. Первая ошибка
// прерывает цепочку и возвращается как *Error.
func (r *Registry) Execute(ctx context.Context, name string, hc *Context) error {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	list := append([]Func(nil), r.handlers[name]...)
	r.mu.RUnlock()

	for i, fn := range list {
		if err := fn(ctx, hc); err != nil {
			return &Error{Name: name, Index: i, Err: err}
		}
	}
	return nil
}
