package api

import (
	"sync"

	"amethyst/internal/auth"
	"amethyst/internal/manager"

	"github.com/pkg/errors"
)

type ControllerOptions struct {
	// Cached включает кэш ответов для GET.
	Cached bool
	// Fillable: поля сверх fillable из схемы.
	Fillable []string
}

// Controller принимает запросы одной сущности. Менеджер берётся из реестра
// при создании; на каждый запрос делается копия с агентом запроса.
type Controller struct {
	manager *manager.Manager
	opts    ControllerOptions

	fillableOnce sync.Once
	fillable     []string
}

// NewController: ошибка (ErrUnknownManager), если для fqn не
// зарегистрирована фабрика менеджера.
func NewController(reg *manager.Registry, fqn string, opts ControllerOptions) (*Controller, error) {
	m, err := reg.New(fqn)
	if err != nil {
		return nil, errors.Wrap(err, "controller")
	}
	return &Controller{manager: m, opts: opts}, nil
}

func (c *Controller) FQN() string { return c.manager.FQN() }

func (c *Controller) Cached() bool { return c.opts.Cached }

func (c *Controller) Manager() *manager.Manager { return c.manager }

// ManagerFor: менеджер запроса, привязанный к агенту.
func (c *Controller) ManagerFor(a auth.Agent) *manager.Manager {
	return c.manager.WithAgent(a)
}

// Fillable: fillable менеджера плюс дополнительные поля контроллера.
// Считается один раз.
func (c *Controller) Fillable() []string {
	c.fillableOnce.Do(func() {
		seen := map[string]struct{}{}
		for _, name := range append(c.manager.Fillable(), c.opts.Fillable...) {
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}
			c.fillable = append(c.fillable, name)
		}
	})
	return append([]string(nil), c.fillable...)
}
