package services

import (
	"fmt"

	"github.com/rs/zerolog"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Service is a long-running component with an explicit lifecycle.
type Service interface {
	Start() error
	Stop() error
}

// ServiceRegistry manages a collection of services and their startup order
type ServiceRegistry struct {
	services *orderedmap.OrderedMap[string, Service]
	logger   zerolog.Logger
}

// NewServiceRegistry initializes and returns a new ServiceRegistry instance
func NewServiceRegistry(logger zerolog.Logger) *ServiceRegistry {
	return &ServiceRegistry{
		services: orderedmap.New[string, Service](),
		logger:   logger,
	}
}

// RegisterService adds a service to the registry and maintains the order of registration
func (sr *ServiceRegistry) RegisterService(name string, svc Service) {
	if _, exists := sr.services.Get(name); exists {
		sr.logger.Warn().Str("service", name).Msg("Service is already registered")
		return
	}
	sr.services.Set(name, svc)
	sr.logger.Debug().Str("service", name).Msg("Registered service")
}

// StartServices starts all registered services in registration order. If one fails, the
// ones already started are stopped again.
func (sr *ServiceRegistry) StartServices() error {
	var started []string
	for pair := sr.services.Oldest(); pair != nil; pair = pair.Next() {
		sr.logger.Info().Str("service", pair.Key).Msg("Starting service")
		if err := pair.Value.Start(); err != nil {
			sr.stop(started)
			return fmt.Errorf("starting service %s: %w", pair.Key, err)
		}
		started = append(started, pair.Key)
	}
	return nil
}

// StopServices stops all services in reverse registration order.
func (sr *ServiceRegistry) StopServices() {
	var names []string
	for pair := sr.services.Oldest(); pair != nil; pair = pair.Next() {
		names = append(names, pair.Key)
	}
	sr.stop(names)
}

func (sr *ServiceRegistry) stop(names []string) {
	for i := len(names) - 1; i >= 0; i-- {
		svc, _ := sr.services.Get(names[i])
		if err := svc.Stop(); err != nil {
			sr.logger.Error().Err(err).Str("service", names[i]).Msg("Failed to stop service")
		}
	}
}
