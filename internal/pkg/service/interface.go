package service

import (
	"context"

	"app-alfen-go/internal/pkg/config"
	"app-alfen-go/internal/pkg/devicemanager"
	"app-alfen-go/internal/pkg/logger"
	"app-alfen-go/internal/pkg/mqtt"
)

// AppServiceInterface defines the application service operations
type AppServiceInterface interface {
	// Initialize initializes the service with configuration
	Initialize(configPath string) error

	// Start starts all components without blocking
	Start() error

	// Run starts the service and blocks until a shutdown signal
	Run() error

	// Stop stops the service
	Stop() error

	// GetLoggingClient returns the logging client
	GetLoggingClient() logger.LoggingClient

	// GetDeviceManager returns the device manager
	GetDeviceManager() *devicemanager.Manager

	// GetDispatcher returns the MQTT dispatcher, nil when MQTT is disabled
	GetDispatcher() *mqtt.Dispatcher

	// GetAppConfig returns the application configuration
	GetAppConfig() *config.AppConfig

	// GetContext returns the service context
	GetContext() context.Context
}
