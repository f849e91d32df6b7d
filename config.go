package main

import (
	"log"
	"os"
	"path/filepath"

	"gg.chat/config"
)

func logPorts(cfg *config.Config) {
	if cfg.Server.HighPortMode {
		log.Println("Running in HIGH_PORT_MODE - using non-privileged ports")
	}
	log.Printf("Port configuration: HTTP=%d, HTTPS=%d, SSH=%d, DNS=%d",
		cfg.Server.HTTPPort, cfg.Server.HTTPSPort, cfg.Server.SSHPort, cfg.Server.DNSPort)
}

// findSSLCertificates looks for SSL certificates in common locations
func findSSLCertificates() (certPath, keyPath string, found bool) {
	// First, check working directory
	if fileExists("cert.pem") && fileExists("key.pem") {
		return "cert.pem", "key.pem", true
	}

	// Check for Let's Encrypt certificates
	domain := os.Getenv("BASE_DOMAIN")
	if domain == "" {
		return "", "", false
	}

	letsEncryptPaths := []string{
		filepath.Join("/etc/letsencrypt/live", domain),
		filepath.Join("/etc/letsencrypt/live", "chat."+domain),
	}

	for _, basePath := range letsEncryptPaths {
		certFile := filepath.Join(basePath, "fullchain.pem")
		keyFile := filepath.Join(basePath, "privkey.pem")

		if fileExists(certFile) && fileExists(keyFile) {
			log.Printf("Found Let's Encrypt certificates at %s", basePath)
			return certFile, keyFile, true
		}
	}

	return "", "", false
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
