package handlers

import (
	"bank-saga/internal/config"
	"bank-saga/internal/infrastructure/events"
	"bank-saga/internal/infrastructure/messaging"
	"bank-saga/internal/infrastructure/runtime"
)

// HandlerDependencies is the slice of the component container the handlers
// need. The interface breaks the circular dependency between handlers and
// the components package.
type HandlerDependencies interface {
	GetEntityRouter() *runtime.Router
	GetEventPublisher() messaging.EventPublisher
	GetEventBroker() *events.Broker
	GetConfig() *config.Config
}
