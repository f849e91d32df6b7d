package main

import (
	"crypto/sha256"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/google/uuid"

	"gg.chat/providers"
)

// generateSignature creates a hash signature for content
// Used for deduplication in logs without logging the text itself
func generateSignature(content string) string {
	hash := sha256.Sum256([]byte(content))
	return fmt.Sprintf("%x", hash)[:16] // First 16 chars of hash
}

// generateRequestID tags one request across log lines
func generateRequestID() string {
	return uuid.NewString()[:8]
}

// Surfaces with their own generation settings
const (
	surfaceWeb = "WEB"
	surfaceSSH = "SSH"
	surfaceDNS = "DNS"
)

// getServiceConfig returns the generation settings for a surface
func getServiceConfig(serviceName string) providers.GenerationConfig {
	mode := providers.Incremental
	if serviceName == surfaceDNS {
		// DNS answers in one packet; nothing to stream into.
		mode = providers.Blocking
	}
	return providers.GenerationConfig{
		Model:           getServiceModel(serviceName),
		MaxOutputTokens: getServiceMaxTokens(serviceName),
		Temperature:     providers.Float(getServiceTemperature(serviceName)),
		Mode:            mode,
	}
}

// getServiceModel returns the model override for a surface, or "" for the backend's model
func getServiceModel(serviceName string) string {
	serviceModel := os.Getenv(serviceName + "_LLM_MODEL")
	if debugMode {
		log.Printf("[getServiceModel] %s_LLM_MODEL = '%s'", serviceName, serviceModel)
	}
	return serviceModel
}

// getServiceMaxTokens returns max tokens for a service with defaults
func getServiceMaxTokens(serviceName string) int {
	// Service-specific defaults
	defaults := map[string]int{
		surfaceDNS: 200, // DNS responses must be short
		surfaceSSH: 1024,
		surfaceWeb: 1024,
	}

	// Try service-specific env var
	envVar := os.Getenv(serviceName + "_LLM_MAX_TOKENS")
	if envVar != "" {
		if val, err := strconv.Atoi(envVar); err == nil && val > 0 {
			return val
		}
		log.Printf("[getServiceMaxTokens] Ignoring invalid %s_LLM_MAX_TOKENS=%q", serviceName, envVar)
	}

	if defaultVal, ok := defaults[serviceName]; ok {
		return defaultVal
	}
	return 1024
}

// getServiceTemperature returns temperature for a service with defaults
func getServiceTemperature(serviceName string) float64 {
	defaults := map[string]float64{
		surfaceDNS: 0.3, // Lower temperature for factual DNS responses
		surfaceSSH: 0.7,
		surfaceWeb: 0.7,
	}

	envVar := os.Getenv(serviceName + "_LLM_TEMPERATURE")
	if envVar != "" {
		if val, err := strconv.ParseFloat(envVar, 64); err == nil && val >= 0 {
			return val
		}
		log.Printf("[getServiceTemperature] Ignoring invalid %s_LLM_TEMPERATURE=%q", serviceName, envVar)
	}

	if defaultVal, ok := defaults[serviceName]; ok {
		return defaultVal
	}
	return 0.7
}
