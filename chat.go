package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"gg.chat/config"
	"gg.chat/providers"
	"gg.chat/session"
)

func main() {
	configFile := os.Getenv("CONFIG_FILE")
	if configFile == "" {
		configFile = "config.yaml"
	}
	cfg, err := config.Load(configFile)
	if err != nil {
		log.Fatalf("[Config] %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[Config] %v", err)
	}
	if cfg.Debug {
		debugMode = true
	}
	providers.SetDebug(debugMode)
	session.SetDebug(debugMode)
	logPorts(cfg)

	a, err := newApp(cfg)
	if err != nil {
		log.Fatalf("[Init] %v", err)
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go a.sessions.Run(ctx, 5*time.Minute)
	go a.limiter.cleanup(ctx, 5*time.Minute, 10*time.Minute)

	var wg sync.WaitGroup
	var shutdowns []func(context.Context) error
	srv := cfg.Server

	// SSH Server
	if srv.SSHPort > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.serveSSH(ctx, srv.SSHPort); err != nil {
				log.Printf("[SSH] Server stopped: %v", err)
			}
		}()
	}

	// DNS Server
	if srv.DNSPort > 0 {
		dnsServer := newDNSServer(srv.DNSPort, a.dnsHandler())
		shutdowns = append(shutdowns, dnsServer.ShutdownContext)
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Printf("[DNS] DNS server listening on :%d", srv.DNSPort)
			if err := dnsServer.ListenAndServe(); err != nil {
				log.Printf("[DNS] Server stopped: %v", err)
			}
		}()
	}

	// HTTP/HTTPS Server
	handler := a.routes()
	if srv.HTTPSPort > 0 {
		if certPath, keyPath, found := findSSLCertificates(); found {
			httpsServer := newHTTPServer(srv.HTTPSPort, handler)
			shutdowns = append(shutdowns, httpsServer.Shutdown)
			wg.Add(1)
			go func() {
				defer wg.Done()
				log.Printf("[HTTP] HTTPS server listening on :%d", srv.HTTPSPort)
				if err := httpsServer.ListenAndServeTLS(certPath, keyPath); !errors.Is(err, http.ErrServerClosed) {
					log.Printf("[HTTP] HTTPS server stopped: %v", err)
				}
			}()
		} else {
			log.Printf("WARNING: SSL certificates not found, HTTPS disabled")
			log.Printf("Expected cert.pem and key.pem in working directory")
			log.Printf("Or valid Let's Encrypt certificates for BASE_DOMAIN")
		}
	}
	if srv.HTTPPort > 0 {
		httpServer := newHTTPServer(srv.HTTPPort, handler)
		shutdowns = append(shutdowns, httpServer.Shutdown)
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Printf("[HTTP] HTTP server listening on :%d", srv.HTTPPort)
			if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				log.Printf("[HTTP] HTTP server stopped: %v", err)
			}
		}()
	}

	<-ctx.Done()
	log.Printf("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, shutdown := range shutdowns {
		if err := shutdown(shutdownCtx); err != nil {
			log.Printf("Shutdown: %v", err)
		}
	}
	wg.Wait()
}
