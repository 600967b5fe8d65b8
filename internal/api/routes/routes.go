package routes

import (
	"bank-saga/internal/api/handlers"
	"bank-saga/internal/api/middleware"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all routes with the container dependencies
func RegisterRoutes(router *gin.Engine, container handlers.HandlerDependencies) {
	router.Use(middleware.Prometheus())

	// Account operations
	router.POST("/accounts", handlers.MakeCreateAccountHandler(container))
	router.GET("/accounts/:id", handlers.MakeGetAccountHandler(container))

	// Saga operations
	router.POST("/sagas", handlers.MakeStartSagaHandler(container))
	router.GET("/sagas/:id", handlers.MakeGetSagaHandler(container))

	// System endpoints
	router.GET("/prometheus", handlers.PrometheusMetrics)
	router.GET("/events", handlers.MakeEventsHandler(container))
}
