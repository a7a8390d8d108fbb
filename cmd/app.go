package cmd

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/killallgit/chatstream/pkg/chat"
	"github.com/killallgit/chatstream/pkg/config"
	"github.com/killallgit/chatstream/pkg/controllers"
	"github.com/killallgit/chatstream/pkg/headless"
	"github.com/killallgit/chatstream/pkg/logger"
	"github.com/killallgit/chatstream/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

// AppConfig contains all configuration needed to send one prompt
type AppConfig struct {
	Config      *config.Config
	SessionID   string
	Prompt      string
	Model       string
	ForceToolID int
}

// RunApplication sends the prompt to backend and prints the response to w
func RunApplication(ctx context.Context, appCfg *AppConfig, backend controllers.Backend, w, errW io.Writer) error {
	log := logger.WithComponent("app")
	cfg := appCfg.Config

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		collector = metrics.New(reg)

		srv := newMetricsServer(cfg.Metrics.Address, reg)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server failed", "address", cfg.Metrics.Address, "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
		log.Info("metrics endpoint listening", "address", cfg.Metrics.Address)
	}

	controller := controllers.NewChatController(backend, nil, controllers.Options{
		StopTimeout: cfg.Backend.StopTimeout,
		PersonaID:   cfg.Backend.PersonaID,
		Metrics:     collector,
	})

	sessionID := appCfg.SessionID
	if sessionID == "" {
		sessionID = controller.NewSession()
	}
	defer controller.CloseSession(sessionID)

	params := controllers.SubmitParams{SessionID: sessionID, Message: appCfg.Prompt}
	if appCfg.Model != "" {
		params.ModelOverride = &chat.LLMOverride{ModelVersion: appCfg.Model}
	}
	if appCfg.ForceToolID > 0 {
		id := appCfg.ForceToolID
		params.ForceToolID = &id
	}

	log.Info("sending prompt", "session", sessionID)
	runner := headless.NewRunner(controller, w, errW, headless.OptionsFromConfig(cfg))
	return runner.Run(ctx, params)
}

// newMetricsServer serves the registry's metrics on /metrics
func newMetricsServer(addr string, g prometheus.Gatherer) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(g))
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
