package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mirkodgzconsulting/phoebe-practice/internal/config"
	"github.com/mirkodgzconsulting/phoebe-practice/internal/httpserver"
	"github.com/mirkodgzconsulting/phoebe-practice/internal/inference"
	"github.com/mirkodgzconsulting/phoebe-practice/internal/rtc"
	"github.com/mirkodgzconsulting/phoebe-practice/internal/script"
	"github.com/mirkodgzconsulting/phoebe-practice/internal/session"
	"github.com/mirkodgzconsulting/phoebe-practice/internal/storage"
)

func main() {
	// Include sub-second precision in all log timestamps
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	cfg := config.Load()

	backend := inference.NewHTTPGateway(cfg.BackendURL, cfg.BackendKey)
	var gateway inference.Gateway = backend
	if cfg.TTSProvider == "deepgram" {
		gateway = inference.Composite{
			Transcriber: backend,
			Evaluator:   backend,
			Synthesizer: inference.NewDeepgramSynthesizer(cfg.DeepgramKey, cfg.DeepgramModel, cfg.RecordingsDir),
		}
	}

	var archiver session.Archiver
	if cfg.SupabaseURL != "" {
		arc, err := storage.New(storage.Config{
			URL:            cfg.SupabaseURL,
			ServiceRoleKey: cfg.SupabaseServiceRoleKey,
			Bucket:         cfg.SupabaseBucket,
		})
		if err != nil {
			log.Printf("supabase archiver disabled: %v", err)
		} else {
			archiver = arc
		}
	}

	srv := httpserver.New(httpserver.Deps{
		Scripts:       script.Builtin(),
		Gateway:       gateway,
		Media:         rtc.NewHandler(cfg.ICEServersJSON, cfg.MediaAuthToken),
		Archiver:      archiver,
		RecordingsDir: cfg.RecordingsDir,
	})

	serverErrors := make(chan error, 1)
	go func() {
		log.Printf("server listening on %s", cfg.HTTPAddress)
		serverErrors <- srv.Start(cfg.HTTPAddress)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	case sig := <-sigChan:
		log.Printf("shutdown signal received: %v", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}
