package logging

import (
	"go.uber.org/zap"
)

// NewLogger creates a new structured logger. Development mode gives
// human-readable console output.
func NewLogger(serviceName string, development bool) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	if development {
		config = zap.NewDevelopmentConfig()
	}
	config.InitialFields = map[string]interface{}{
		"service": serviceName,
	}
	return config.Build()
}
