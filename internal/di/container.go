// Package di wires the pagegraph services from a configuration.
package di

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/conneroisu/pagegraph/internal/artifact"
	"github.com/conneroisu/pagegraph/internal/build"
	"github.com/conneroisu/pagegraph/internal/config"
	"github.com/conneroisu/pagegraph/internal/logging"
	"github.com/conneroisu/pagegraph/internal/monitoring"
	"github.com/conneroisu/pagegraph/internal/preprocess"
	"github.com/conneroisu/pagegraph/internal/server"
	"github.com/conneroisu/pagegraph/internal/services"
	"github.com/conneroisu/pagegraph/internal/store"
	"github.com/conneroisu/pagegraph/internal/types"
	"github.com/conneroisu/pagegraph/internal/websocket"
)

// Core service names.
const (
	ServiceLogger     = "logger"
	ServiceRepository = "repository"
	ServiceArtifacts  = "artifacts"
	ServiceMetrics    = "metrics"
	ServicePipeline   = "pipeline"
	ServiceResolver   = "resolver"
	ServicePages      = "pages"
	ServiceHub        = "hub"
	ServiceHealth     = "health"
	ServiceServer     = "server"
)

// dependencyResolver resolves dependencies of one factory call, carrying the
// set of services being created to detect cycles.
type dependencyResolver struct {
	container *ServiceContainer
	resolving map[string]bool
}

func (dr *dependencyResolver) Get(name string) (interface{}, error) {
	return dr.container.getWithResolver(name, dr.resolving)
}

func (dr *dependencyResolver) Config() *config.Config {
	return dr.container.config
}

// DependencyResolver is handed to factories to obtain their dependencies.
type DependencyResolver interface {
	Get(name string) (interface{}, error)
	Config() *config.Config
}

// FactoryFunc creates a service instance using the dependency resolver
type FactoryFunc func(resolver DependencyResolver) (interface{}, error)

// ServiceDefinition defines how a service is created. Every service is a
// singleton.
type ServiceDefinition struct {
	Name         string
	Factory      FactoryFunc
	Dependencies []string
}

// ServiceContainer creates services lazily and shares singletons.
type ServiceContainer struct {
	services    map[string]ServiceDefinition
	singletons  map[string]interface{}
	order       []string
	creating    map[string]*sync.WaitGroup
	mu          sync.RWMutex
	config      *config.Config
	initialized bool
}

// ServiceBuilder helps build service definitions
type ServiceBuilder struct {
	name      string
	container *ServiceContainer
}

// NewServiceContainer creates a new dependency injection container
func NewServiceContainer(cfg *config.Config) *ServiceContainer {
	return &ServiceContainer{
		services:   make(map[string]ServiceDefinition),
		singletons: make(map[string]interface{}),
		creating:   make(map[string]*sync.WaitGroup),
		config:     cfg,
	}
}

// RegisterSingleton registers a service created once on first use.
func (c *ServiceContainer) RegisterSingleton(name string, factory FactoryFunc) *ServiceBuilder {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.services[name] = ServiceDefinition{Name: name, Factory: factory}
	return &ServiceBuilder{name: name, container: c}
}

// RegisterInstance registers an existing instance as a singleton
func (c *ServiceContainer) RegisterInstance(name string, instance interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.services[name] = ServiceDefinition{Name: name}
	c.singletons[name] = instance
	c.order = append(c.order, name)
}

// Get retrieves a service from the container
func (c *ServiceContainer) Get(name string) (interface{}, error) {
	return c.getWithResolver(name, make(map[string]bool))
}

func (c *ServiceContainer) getWithResolver(name string, resolving map[string]bool) (interface{}, error) {
	if resolving[name] {
		return nil, fmt.Errorf("circular dependency detected for service '%s'", name)
	}

	c.mu.RLock()
	definition, exists := c.services[name]
	c.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("service '%s' not registered", name)
	}

	for {
		c.mu.Lock()
		if instance, ok := c.singletons[name]; ok {
			c.mu.Unlock()
			return instance, nil
		}
		wg, busy := c.creating[name]
		if !busy {
			wg = &sync.WaitGroup{}
			wg.Add(1)
			c.creating[name] = wg
			c.mu.Unlock()
			break
		}
		c.mu.Unlock()
		// Another goroutine is creating it; retry once it is done so a failed
		// creation is attempted again here.
		wg.Wait()
	}

	resolving[name] = true
	instance, err := c.create(definition, resolving)
	delete(resolving, name)

	c.mu.Lock()
	wg := c.creating[name]
	delete(c.creating, name)
	if err == nil {
		c.singletons[name] = instance
		c.order = append(c.order, name)
	}
	c.mu.Unlock()
	wg.Done()

	if err != nil {
		return nil, fmt.Errorf("failed to create singleton service '%s': %w", name, err)
	}
	return instance, nil
}

func (c *ServiceContainer) create(definition ServiceDefinition, resolving map[string]bool) (interface{}, error) {
	if definition.Factory == nil {
		return nil, fmt.Errorf("factory is nil")
	}
	return definition.Factory(&dependencyResolver{container: c, resolving: resolving})
}

// Has checks if a service is registered
func (c *ServiceContainer) Has(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, exists := c.services[name]
	return exists
}

// Shutdown releases created singletons in reverse creation order. Instances
// with Shutdown(ctx) or Close() are stopped.
func (c *ServiceContainer) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	order := c.order
	singletons := c.singletons
	c.order = nil
	c.singletons = make(map[string]interface{})
	c.mu.Unlock()

	var errs []error
	for i := len(order) - 1; i >= 0; i-- {
		name := order[i]
		switch s := singletons[name].(type) {
		case interface{ Shutdown(context.Context) error }:
			if err := s.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("failed to shutdown %s: %w", name, err))
			}
		case interface{ Close() error }:
			if err := s.Close(); err != nil {
				errs = append(errs, fmt.Errorf("failed to close %s: %w", name, err))
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// DependsOn declares services the factory resolves. Initialize checks that
// they are registered and acyclic.
func (sb *ServiceBuilder) DependsOn(dependencies ...string) *ServiceBuilder {
	sb.update(func(d *ServiceDefinition) { d.Dependencies = append(d.Dependencies, dependencies...) })
	return sb
}

func (sb *ServiceBuilder) update(fn func(*ServiceDefinition)) {
	sb.container.mu.Lock()
	defer sb.container.mu.Unlock()
	d := sb.container.services[sb.name]
	fn(&d)
	sb.container.services[sb.name] = d
}

// Initialize registers the core services. It is idempotent.
func (c *ServiceContainer) Initialize() error {
	c.mu.Lock()
	if c.initialized {
		c.mu.Unlock()
		return nil
	}
	if c.config == nil {
		c.mu.Unlock()
		return fmt.Errorf("container has no configuration")
	}
	c.mu.Unlock()

	c.registerCoreServices()
	if err := c.validateDependencies(); err != nil {
		return err
	}

	c.mu.Lock()
	c.initialized = true
	c.mu.Unlock()
	return nil
}

// validateDependencies checks the declared dependency graph: every
// dependency is registered and no service depends on itself transitively.
func (c *ServiceContainer) validateDependencies() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.services))
	for name := range c.services {
		names = append(names, name)
	}
	sort.Strings(names)

	const (
		visiting = 1
		done     = 2
	)
	state := make(map[string]int, len(names))
	var visit func(name string, path []string) error
	visit = func(name string, path []string) error {
		switch state[name] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("circular dependency: %s", strings.Join(append(path, name), " -> "))
		}
		state[name] = visiting
		for _, dep := range c.services[name].Dependencies {
			if _, ok := c.services[dep]; !ok {
				return fmt.Errorf("service '%s' depends on unregistered service '%s'", name, dep)
			}
			if err := visit(dep, append(path, name)); err != nil {
				return err
			}
		}
		state[name] = done
		return nil
	}

	for _, name := range names {
		if err := visit(name, nil); err != nil {
			return err
		}
	}
	return nil
}

func (c *ServiceContainer) registerCoreServices() {
	if !c.Has(ServiceLogger) {
		c.RegisterSingleton(ServiceLogger, func(resolver DependencyResolver) (interface{}, error) {
			return NewLogger(resolver.Config().Logging)
		})
	}

	c.RegisterSingleton(ServiceRepository, func(resolver DependencyResolver) (interface{}, error) {
		cfg := resolver.Config().Storage
		switch cfg.Driver {
		case config.DriverMemory:
			return store.NewMemoryStore(), nil
		case config.DriverSQLite:
			return store.OpenSQLite(cfg.Path)
		default:
			return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
		}
	})

	c.RegisterSingleton(ServiceArtifacts, func(resolver DependencyResolver) (interface{}, error) {
		cfg := resolver.Config().Cache
		var shared *artifact.SharedCache
		if cfg.MaxSizeBytes > 0 {
			shared = artifact.NewSharedCache(cfg.MaxSizeBytes, cfg.TTL)
		}
		return artifact.NewCache(shared), nil
	})

	c.RegisterSingleton(ServiceMetrics, func(DependencyResolver) (interface{}, error) {
		return build.NewMetrics(), nil
	})

	c.RegisterSingleton(ServicePipeline, func(resolver DependencyResolver) (interface{}, error) {
		repo, artifacts, logger, err := pipelineDeps(resolver)
		if err != nil {
			return nil, err
		}
		metrics, err := resolver.Get(ServiceMetrics)
		if err != nil {
			return nil, err
		}
		compiler := build.NewCompiler(repo, artifacts,
			build.WithPreprocessor(preprocess.Default()),
			build.WithLogger(logger))
		return build.NewPipeline(compiler, artifacts, metrics.(*build.Metrics), logger), nil
	}).DependsOn(ServiceRepository, ServiceArtifacts, ServiceMetrics, ServiceLogger)

	c.RegisterSingleton(ServiceResolver, func(resolver DependencyResolver) (interface{}, error) {
		repo, err := resolver.Get(ServiceRepository)
		if err != nil {
			return nil, err
		}
		pipeline, err := resolver.Get(ServicePipeline)
		if err != nil {
			return nil, err
		}
		logger, err := resolver.Get(ServiceLogger)
		if err != nil {
			return nil, err
		}
		return build.NewDescendantResolver(
			repo.(store.Repository),
			pipeline.(*build.Pipeline),
			logger.(logging.Logger),
			resolver.Config().Propagation.Concurrency,
		), nil
	}).DependsOn(ServiceRepository, ServicePipeline, ServiceLogger)

	c.RegisterSingleton(ServicePages, func(resolver DependencyResolver) (interface{}, error) {
		repo, err := resolver.Get(ServiceRepository)
		if err != nil {
			return nil, err
		}
		pipeline, err := resolver.Get(ServicePipeline)
		if err != nil {
			return nil, err
		}
		propagation, err := resolver.Get(ServiceResolver)
		if err != nil {
			return nil, err
		}
		logger, err := resolver.Get(ServiceLogger)
		if err != nil {
			return nil, err
		}

		cfg := resolver.Config()
		pages := services.NewPageService(
			repo.(store.Repository),
			pipeline.(*build.Pipeline),
			propagation.(*build.DescendantResolver),
			services.WithLogger(logger.(logging.Logger)),
			services.WithPropagation(cfg.Propagation.Enabled),
		)
		site := &types.Site{
			ID:                types.SiteID(cfg.Site.ID),
			Name:              cfg.Site.Name,
			PreprocessEnabled: cfg.Site.Preprocess,
		}
		if err := pages.CreateSite(context.Background(), site); err != nil {
			return nil, err
		}
		return pages, nil
	}).DependsOn(ServiceRepository, ServicePipeline, ServiceResolver, ServiceLogger)

	c.RegisterSingleton(ServiceHub, func(resolver DependencyResolver) (interface{}, error) {
		logger, err := resolver.Get(ServiceLogger)
		if err != nil {
			return nil, err
		}
		return websocket.NewHub(logger.(logging.Logger), resolver.Config().Server.AllowedOrigins), nil
	}).DependsOn(ServiceLogger)

	c.RegisterSingleton(ServiceHealth, func(resolver DependencyResolver) (interface{}, error) {
		repo, err := resolver.Get(ServiceRepository)
		if err != nil {
			return nil, err
		}
		logger, err := resolver.Get(ServiceLogger)
		if err != nil {
			return nil, err
		}

		cfg := resolver.Config()
		monitor := monitoring.NewHealthMonitor(types.SiteID(cfg.Site.ID), logger.(logging.Logger))
		monitor.RegisterCheck(monitoring.StoreHealthChecker(repo.(store.Repository), types.SiteID(cfg.Site.ID)))
		monitor.RegisterCheck(monitoring.DirectoryHealthChecker("templates", cfg.Site.Root))
		if cfg.Site.Snippets != "" {
			monitor.RegisterCheck(monitoring.DirectoryHealthChecker("snippets", cfg.Site.Snippets))
		}
		monitor.RegisterCheck(monitoring.GoroutineHealthChecker(10000))
		return monitor, nil
	}).DependsOn(ServiceRepository, ServiceLogger)

	c.RegisterSingleton(ServiceServer, func(resolver DependencyResolver) (interface{}, error) {
		pages, err := resolver.Get(ServicePages)
		if err != nil {
			return nil, err
		}
		metrics, err := resolver.Get(ServiceMetrics)
		if err != nil {
			return nil, err
		}
		hub, err := resolver.Get(ServiceHub)
		if err != nil {
			return nil, err
		}
		logger, err := resolver.Get(ServiceLogger)
		if err != nil {
			return nil, err
		}
		health, err := resolver.Get(ServiceHealth)
		if err != nil {
			return nil, err
		}
		pipeline, err := resolver.Get(ServicePipeline)
		if err != nil {
			return nil, err
		}

		h := hub.(*websocket.Hub)
		p := pages.(*services.PageService)
		p.OnSave(h.Publish)

		cfg := resolver.Config()
		srv := server.New(cfg.Server, types.SiteID(cfg.Site.ID), p, metrics.(*build.Metrics), h, logger.(logging.Logger))
		return srv.WithHealth(health.(*monitoring.HealthMonitor)).
			WithArtifacts(pipeline.(*build.Pipeline).Artifacts()), nil
	}).DependsOn(ServicePages, ServiceMetrics, ServiceHub, ServiceLogger, ServiceHealth, ServicePipeline)
}

func pipelineDeps(resolver DependencyResolver) (store.Repository, *artifact.Cache, logging.Logger, error) {
	repo, err := resolver.Get(ServiceRepository)
	if err != nil {
		return nil, nil, nil, err
	}
	artifacts, err := resolver.Get(ServiceArtifacts)
	if err != nil {
		return nil, nil, nil, err
	}
	logger, err := resolver.Get(ServiceLogger)
	if err != nil {
		return nil, nil, nil, err
	}
	return repo.(store.Repository), artifacts.(*artifact.Cache), logger.(logging.Logger), nil
}

// NewLogger builds the logger described by cfg. With a log directory set,
// records go both to stderr and to a dated file.
func NewLogger(cfg config.LoggingConfig) (logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	lc := &logging.LoggerConfig{Level: level, Format: cfg.Format, Output: os.Stderr}
	console := logging.NewLogger(lc)
	if cfg.Dir == "" {
		return console, nil
	}
	file, err := logging.NewFileLogger(lc, cfg.Dir)
	if err != nil {
		return nil, err
	}
	return logging.NewMultiLogger(console, file), nil
}

// Typed accessors

// GetLogger returns the shared logger.
func (c *ServiceContainer) GetLogger() (logging.Logger, error) {
	service, err := c.Get(ServiceLogger)
	if err != nil {
		return nil, err
	}
	return service.(logging.Logger), nil
}

// GetRepository returns the page store.
func (c *ServiceContainer) GetRepository() (store.Repository, error) {
	service, err := c.Get(ServiceRepository)
	if err != nil {
		return nil, err
	}
	return service.(store.Repository), nil
}

// GetMetrics returns the compile and propagation metrics.
func (c *ServiceContainer) GetMetrics() (*build.Metrics, error) {
	service, err := c.Get(ServiceMetrics)
	if err != nil {
		return nil, err
	}
	return service.(*build.Metrics), nil
}

// GetPipeline returns the compile pipeline.
func (c *ServiceContainer) GetPipeline() (*build.Pipeline, error) {
	service, err := c.Get(ServicePipeline)
	if err != nil {
		return nil, err
	}
	return service.(*build.Pipeline), nil
}

// GetPageService returns the page service with the configured site created.
func (c *ServiceContainer) GetPageService() (*services.PageService, error) {
	service, err := c.Get(ServicePages)
	if err != nil {
		return nil, err
	}
	return service.(*services.PageService), nil
}

// GetHub returns the WebSocket event hub.
func (c *ServiceContainer) GetHub() (*websocket.Hub, error) {
	service, err := c.Get(ServiceHub)
	if err != nil {
		return nil, err
	}
	return service.(*websocket.Hub), nil
}

// GetServer returns the editor API server.
func (c *ServiceContainer) GetServer() (*server.Server, error) {
	service, err := c.Get(ServiceServer)
	if err != nil {
		return nil, err
	}
	return service.(*server.Server), nil
}

// GetHealth returns the health monitor served on /healthz.
func (c *ServiceContainer) GetHealth() (*monitoring.HealthMonitor, error) {
	service, err := c.Get(ServiceHealth)
	if err != nil {
		return nil, err
	}
	return service.(*monitoring.HealthMonitor), nil
}
