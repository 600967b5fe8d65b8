package main

import (
	"log"

	"bank-saga/internal/pkg/components"
	"bank-saga/internal/pkg/logging"
)

func main() {
	container, err := components.New()
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	logging.Info("Bank saga service initialized",
		logging.F("environment", container.GetConfig().Environment),
		logging.F("port", container.GetConfig().Server.Port),
		logging.F("journal", container.GetConfig().Journal.Backend))

	if err := container.Start(); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
