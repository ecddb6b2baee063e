package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"

	"github.com/linux/projects/server/page-server/internal/api"
	"github.com/linux/projects/server/page-server/internal/server"
)

var (
	port    = flag.Int("port", 8080, "The server port")
	dataDir = flag.String("data-dir", "./page-server-data", "Data directory for persistent storage")

	timelineID = flag.String("timeline-id", "", "Timeline UUID to serve (generated on first run if empty)")

	cacheSize      = flag.Int("cache-size", 1000, "Maximum number of entries in the Tier-1 page cache")
	lfcSizeBytes   = flag.Int64("lfc-size-bytes", 256<<20, "Byte budget for the Tier-2 RAM cache")
	waitLSNTimeout = flag.Duration("wait-lsn-timeout", server.DefaultWaitLSNTimeout, "How long a read blocks for WAL to catch up to the requested LSN")

	redoNetwork = flag.String("redo-network", "", "Network for the external redo process (unix or tcp); empty uses a no-op redo manager")
	redoAddress = flag.String("redo-address", "", "Address of the external redo process")

	// Remote durability backend flags
	remoteBackend = flag.String("remote-backend", "", "Remote storage backend: \"\", local, or s3")
	remoteRoot    = flag.String("remote-root", "", "Local filesystem root, when remote-backend=local")
	s3Endpoint    = flag.String("s3-endpoint", "", "S3 endpoint (e.g., https://s3.amazonaws.com or http://minio:9000)")
	s3Bucket      = flag.String("s3-bucket", "", "S3 bucket name")
	s3Region      = flag.String("s3-region", "us-east-1", "AWS region")
	s3AccessKey   = flag.String("s3-access-key", "", "S3 access key ID")
	s3SecretKey   = flag.String("s3-secret-key", "", "S3 secret access key")
	s3Prefix      = flag.String("s3-prefix", "", "Optional prefix for S3 objects")
	s3UseSSL      = flag.Bool("s3-use-ssl", true, "Has no effect: the scheme of -s3-endpoint decides whether TLS is used")

	// Authentication flags
	apiKey     = flag.String("api-key", "", "API key for authentication (optional)")
	authTokens = flag.String("auth-tokens", "", "Comma-separated list of auth tokens")

	// TLS flags
	tlsEnabled  = flag.Bool("tls", false, "Enable TLS/HTTPS")
	tlsCertFile = flag.String("tls-cert", "", "Path to TLS certificate file")
	tlsKeyFile  = flag.String("tls-key", "", "Path to TLS private key file")
)

func main() {
	flag.Parse()

	if err := os.MkdirAll(*dataDir, 0755); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}

	absDataDir, err := filepath.Abs(*dataDir)
	if err != nil {
		log.Fatalf("Failed to get absolute path: %v", err)
	}

	cfg := server.Config{
		DataDir:        absDataDir,
		TimelineID:     *timelineID,
		CacheSize:      *cacheSize,
		LFCSizeBytes:   *lfcSizeBytes,
		WaitLSNTimeout: *waitLSNTimeout,
		RedoNetwork:    *redoNetwork,
		RedoAddress:    *redoAddress,
		RemoteBackend:  *remoteBackend,
		RemoteRoot:     *remoteRoot,
		S3Endpoint:     *s3Endpoint,
		S3Bucket:       *s3Bucket,
		S3Region:       *s3Region,
		S3AccessKey:    *s3AccessKey,
		S3SecretKey:    *s3SecretKey,
		S3Prefix:       *s3Prefix,
		S3UseSSL:       *s3UseSSL,
		APIKey:         *apiKey,
		AuthTokens:     *authTokens,
	}

	pageServer, err := server.NewPageServer(context.Background(), cfg)
	if err != nil {
		log.Fatalf("Failed to create Page Server: %v", err)
	}

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", *port),
		Handler: api.NewRouter(pageServer),
	}

	if err := server.ConfigureTLS(httpServer, *tlsEnabled, *tlsCertFile, *tlsKeyFile); err != nil {
		log.Fatalf("Failed to configure TLS: %v", err)
	}

	log.Printf("Page Server starting...")
	log.Printf("  Port: %d", *port)
	log.Printf("  Data Directory: %s", absDataDir)
	log.Printf("  Timeline: %s", pageServer.Timeline.ID())
	log.Printf("  Cache: %d entries / LFC: %d bytes", *cacheSize, *lfcSizeBytes)
	log.Printf("  Wait-LSN timeout: %s", *waitLSNTimeout)

	if pageServer.Auth.Enabled() {
		log.Printf("  Authentication: ENABLED")
	} else {
		log.Printf("  Authentication: DISABLED")
	}

	if pageServer.Remote != nil {
		log.Printf("  Remote storage: %s", *remoteBackend)
	} else {
		log.Printf("  Remote storage: DISABLED")
	}

	if *tlsEnabled {
		log.Printf("  TLS: ENABLED")
		log.Printf("    Certificate: %s", *tlsCertFile)
		log.Printf("    Private Key: %s", *tlsKeyFile)
	} else {
		log.Printf("  TLS: DISABLED")
	}

	log.Printf("Endpoints:")
	log.Printf("  POST /api/v1/get_page (auth required)")
	log.Printf("  POST /api/v1/get_pages (auth required, batch)")
	log.Printf("  POST /api/v1/get_relsize (auth required)")
	log.Printf("  POST /api/v1/stream_wal (auth required)")
	log.Printf("  GET  /api/v1/ping (no auth)")
	log.Printf("  GET  /api/v1/metrics (auth required)")
	log.Printf("  POST /api/v1/time_travel (auth required)")
	log.Printf("  POST /api/v1/snapshots/create (auth required)")
	log.Printf("  GET  /api/v1/snapshots/list (auth required)")
	log.Printf("  GET  /api/v1/snapshots/get (auth required)")
	log.Printf("  POST /api/v1/snapshots/restore (auth required)")

	if *tlsEnabled {
		if err := httpServer.ListenAndServeTLS(*tlsCertFile, *tlsKeyFile); err != nil {
			log.Fatalf("failed to serve: %v", err)
		}
	} else {
		if err := httpServer.ListenAndServe(); err != nil {
			log.Fatalf("failed to serve: %v", err)
		}
	}
}
