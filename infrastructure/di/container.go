package di

import (
	"sync"

	"go.uber.org/zap"

	"github.com/alishams21/lineagentic-kg/application/ops"
	"github.com/alishams21/lineagentic-kg/application/session"
	"github.com/alishams21/lineagentic-kg/domain/graph"
	"github.com/alishams21/lineagentic-kg/domain/registry"
	"github.com/alishams21/lineagentic-kg/infrastructure/config"
	"github.com/alishams21/lineagentic-kg/pkg/observability"
)

// Container holds all application dependencies
type Container struct {
	Config      *config.Config
	Logger      *zap.Logger
	Registry    *registry.Registry
	Store       graph.Store
	Catalog     *ops.Catalog
	Coordinator *session.Coordinator
	Metrics     *observability.Metrics

	mu sync.RWMutex
}

// Dispatcher returns the current coordinator. Handlers go through this
// accessor so registry hot-reloads swap the write path atomically.
func (c *Container) Dispatcher() *session.Coordinator {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Coordinator
}

// Operations returns the current operation catalog.
func (c *Container) Operations() *ops.Catalog {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Catalog
}

// CurrentRegistry returns the registry the catalog was synthesized from.
func (c *Container) CurrentRegistry() *registry.Registry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Registry
}

// ReloadRegistry rebuilds the write path on top of a freshly validated
// registry. The store and config are untouched; in-flight requests finish
// on the previous catalog.
func (c *Container) ReloadRegistry(reg *registry.Registry) error {
	w, err := ProvideWriter(c.Store, reg, c.Logger)
	if err != nil {
		return err
	}
	engine, err := ProvideRuleEngine(reg, w, c.Logger)
	if err != nil {
		return err
	}
	resolver := ProvideLineageResolver(reg, w, c.Logger)
	catalog := ProvideCatalog(reg, w, engine, resolver, c.Logger)
	coordinator := ProvideCoordinator(catalog, ProvideSessionConfig(c.Config), c.Metrics, c.Logger)

	c.mu.Lock()
	c.Registry = reg
	c.Catalog = catalog
	c.Coordinator = coordinator
	c.mu.Unlock()

	c.Logger.Info("rebuilt operation catalog from reloaded registry",
		zap.Int("operations", len(catalog.Names())))
	return nil
}
