// Command sightline runs the camera capture, detection and live streaming
// server: one capture multiplexer per camera, one worker per detection
// session, results fanned out to WebSocket subscribers, WebRTC peers and
// SQLite.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sightline-data/sightline/internal/api"
	"github.com/sightline-data/sightline/internal/broadcast"
	"github.com/sightline-data/sightline/internal/camera"
	"github.com/sightline-data/sightline/internal/config"
	"github.com/sightline-data/sightline/internal/detect"
	"github.com/sightline-data/sightline/internal/monitoring"
	"github.com/sightline-data/sightline/internal/peermedia"
	"github.com/sightline-data/sightline/internal/report"
	"github.com/sightline-data/sightline/internal/session"
	"github.com/sightline-data/sightline/internal/storage"
	"github.com/sightline-data/sightline/internal/version"
)

var (
	devMode     = flag.Bool("dev", false, "Run in dev mode (simulated camera, scripted detector)")
	listen      = flag.String("listen", ":8080", "Listen address")
	dbFile      = flag.String("db", "detections.db", "SQLite database path")
	configFile  = flag.String("config", "", "Optional JSON tuning config path")
	modelFile   = flag.String("model", "yolov4.weights", "Detection model weights")
	modelConfig = flag.String("model-config", "yolov4.cfg", "Detection model config")
	labelsFile  = flag.String("labels", "coco.names", "Class label list, one per line")
)

func main() {
	flag.Parse()

	monitoring.Logf("sightline %s (%s, built %s)", version.Version, version.GitSHA, version.BuildTime)

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	tuning := config.EmptyTuningConfig()
	if *configFile != "" {
		var err error
		tuning, err = config.LoadTuningConfig(*configFile)
		if err != nil {
			log.Fatalf("failed to load tuning config: %v", err)
		}
	}

	db, err := storage.Open(*dbFile)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	registry := camera.NewRegistry(sourceOpener(tuning))
	defer registry.CloseAll()

	fanout := broadcast.NewFanout(tuning.GetMaxMessagesPerSecond(), tuning.GetIncludePreview())
	peers := peermedia.NewHub()

	coord := session.NewCoordinator(session.CoordinatorOpts{
		Registry:    registry,
		Store:       db,
		Recorder:    db,
		Sink:        db,
		Publishers:  []session.ResultPublisher{fanout, peers},
		NewDetector: detectorFactory(),
	})

	reports := report.NewRenderer(db, coord)
	apiServer := api.NewServer(coord, fanout, peers, reports,
		tuning.GetConfidenceThreshold(), tuning.GetIOUThreshold())

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	wg.Add(1)
	go func() {
		defer wg.Done()
		fanout.StatsLoop(ctx.Done(), 30*time.Second)
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()

		// admin debugging routes (reachable only in dev mode or over Tailscale)
		db.AttachAdminRoutes(mux)
		registry.AttachAdminRoutes(mux)

		mux.Handle("/api/", apiServer.ServeMux())

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			monitoring.Logf("listening on %s", *listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
	}()

	<-ctx.Done()

	// Stop every active session before the deferred teardown so final
	// counters land in the database.
	for _, s := range coord.ListSessions() {
		if err := coord.StopSession(s.ID); err != nil {
			log.Printf("failed to stop session %s: %v", s.ID, err)
		}
		peers.CloseSession(s.ID)
	}

	wg.Wait()
	log.Println("shutdown complete")
}

// sourceOpener returns the production gocv opener, or a simulated source in
// dev mode so the whole pipeline runs without hardware.
func sourceOpener(tuning *config.TuningConfig) camera.SourceOpener {
	if *devMode {
		interval := tuning.GetSimFrameInterval()
		return func(sel camera.DeviceSelector) (camera.FrameSource, error) {
			return camera.NewSimSource(640, 480, interval, 0), nil
		}
	}

	cache := camera.LoadBackendCache(tuning.GetBackendCachePath())
	return func(sel camera.DeviceSelector) (camera.FrameSource, error) {
		return camera.OpenSource(sel, cache)
	}
}

// detectorFactory builds per-session detectors: the DNN model in
// production, a scripted detector in dev mode. Both are wrapped with
// cross-frame tracking so zone/line analytics work either way.
func detectorFactory() session.DetectorFactory {
	if *devMode {
		return func(cfg session.Config) (detect.Detector, error) {
			mock := detect.NewMockDetector(detect.ScriptedResult{
				Detections: []detect.Detection{
					{Label: "person", Confidence: 0.9, X1: 100, Y1: 80, X2: 180, Y2: 320},
				},
			})
			return detect.NewTrackingDetector(mock), nil
		}
	}
	return func(cfg session.Config) (detect.Detector, error) {
		dnn, err := detect.NewDNNDetector(*modelFile, *modelConfig, *labelsFile)
		if err != nil {
			return nil, err
		}
		return detect.NewTrackingDetector(dnn), nil
	}
}
