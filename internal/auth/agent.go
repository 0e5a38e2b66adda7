// Package auth: кто выполняет запрос (агент).
package auth

import (
	"context"
	"strings"
)

// Agent: вызывающая сторона. Guest: анонимный агент.
type Agent struct {
	ID    string   `json:"id"`
	Name  string   `json:"name"`
	Roles []string `json:"roles,omitempty"`
}

var Guest = Agent{ID: "guest", Name: "guest"}

func (a Agent) IsGuest() bool { return a.ID == "" || a.ID == Guest.ID }

func (a Agent) HasRole(role string) bool {
	for _, r := range a.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

type ctxKey struct{}

func WithAgent(ctx context.Context, a Agent) context.Context {
	return context.WithValue(ctx, ctxKey{}, a)
}

// FromContext: агент запроса или Guest.
func FromContext(ctx context.Context) Agent {
	if a, ok := ctx.Value(ctxKey{}).(Agent); ok {
		return a
	}
	return Guest
}

// Tokens: статическая таблица bearer-токенов.
type Tokens map[string]Agent

// Lookup разбирает заголовок Authorization ("Bearer <token>" или сам токен).
func (t Tokens) Lookup(header string) (Agent, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return Agent{}, false
	}
	if scheme, token, ok := strings.Cut(header, " "); ok && strings.EqualFold(scheme, "bearer") {
		header = strings.TrimSpace(token)
	}
	a, ok := t[header]
	return a, ok
}
