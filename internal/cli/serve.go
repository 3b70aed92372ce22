package cli

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/satindergrewal/tonal/internal/api"
	"github.com/satindergrewal/tonal/internal/config"
	"github.com/satindergrewal/tonal/internal/device"
	"github.com/satindergrewal/tonal/internal/stream"
	"github.com/satindergrewal/tonal/internal/telemetry"
)

const shutdownTimeout = 5 * time.Second

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the engine behind the HTTP control API",
		Long: `Run the engine behind the HTTP control API.

With TONAL_OUTPUT=stream (the default) the mix is served to network
listeners at /stream (WAV) and /offer (WebRTC). With TONAL_OUTPUT=device
it plays on the local sound card.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return runServe(ctx, cfg)
		},
	}
}

func runServe(ctx context.Context, cfg config.Config) error {
	log.Println("tonal starting up...")

	shutdownTracing, err := telemetry.Setup(ctx, "tonal", cfg.OTelEndpoint, cfg.OTelEnabled)
	if err != nil {
		return err
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer scancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Printf("Tracing shutdown: %v", err)
		}
	}()

	rt, err := openRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	mux := http.NewServeMux()
	var (
		listeners func() int
		peers     *stream.WebRTCHandler
	)

	switch cfg.Output {
	case config.OutputDevice:
		dev, err := device.NewOto(rt.mixer)
		if err != nil {
			return err
		}
		rt.attach(dev)
		log.Println("Output: local audio device")
	default:
		// Broadcaster: fan-out PCM frames to all listeners
		broadcaster := stream.NewBroadcaster()
		dev := device.NewStream(rt.mixer, broadcaster)
		go dev.Run(ctx)
		rt.attach(dev)

		peers = stream.NewWebRTCHandler(broadcaster, cfg.ICEServers...)
		mux.Handle("/stream", stream.NewHTTPHandler(broadcaster))
		mux.Handle("/offer", peers)
		// WebRTC peers subscribe too, so this counts every listener.
		listeners = broadcaster.ListenerCount
		log.Println("Output: network stream")
	}

	if rt.history != nil {
		api.RecordHistory(rt.engine, rt.history)
	}
	srv := api.New(rt.engine, rt.catalog, rt.history)
	if listeners != nil {
		srv.SetListenerCountFunc(listeners)
	}
	srv.Register(mux)

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		log.Println("Shutting down...")
		server.Close()
		if peers != nil {
			peers.Close()
		}
	}()

	log.Printf("tonal live on %s", addr)
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}
