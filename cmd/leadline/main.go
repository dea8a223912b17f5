package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/leadline/leadline/internal/api"
	"github.com/leadline/leadline/internal/api/middleware"
	"github.com/leadline/leadline/internal/bridge"
	"github.com/leadline/leadline/internal/config"
	"github.com/leadline/leadline/internal/database"
	"github.com/leadline/leadline/internal/database/models"
	"github.com/leadline/leadline/internal/metrics"
	"github.com/leadline/leadline/internal/telephony"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(cfg.SlogHandler(os.Stdout))
	slog.SetDefault(logger)

	slog.Info("starting leadline",
		"http_port", cfg.HTTPPort,
		"ami_host", cfg.AMIHost,
		"data_dir", cfg.DataDir,
	)

	// Open database and run migrations.
	db, err := database.Open(cfg.DataDir)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Application context for background goroutines.
	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	// Repositories.
	sysConfig, err := database.NewSystemConfigRepository(context.Background(), db)
	if err != nil {
		slog.Error("failed to load system config", "error", err)
		os.Exit(1)
	}
	users := database.NewAdminUserRepository(db)
	leads := database.NewLeadRepository(db)
	records := database.NewCallRecordRepository(db)

	unsubRecords := records.Subscribe(func(rec models.CallRecord) {
		slog.Info("call record stored",
			"phone", rec.Phone, "outcome", rec.Outcome, "direction", rec.Direction)
	})
	defer unsubRecords()
	unsubLeads := leads.Subscribe(func(l models.Lead) {
		slog.Info("lead created", "lead_id", l.ID, "phone", l.Phone)
	})
	defer unsubLeads()

	// Telephony core over the AMI transport.
	transport := bridge.NewAMI(bridge.AMIConfig{
		Host:     cfg.AMIHost,
		Port:     strconv.Itoa(cfg.AMIPort),
		Username: cfg.AMIUsername,
		Password: cfg.AMIPassword,
	}, logger)

	agent := &agentConfigAdapter{configs: sysConfig}
	phone := telephony.NewManager(transport, records, agent, &leadStoreAdapter{leads: leads},
		telephony.ManagerConfig{
			Conn: telephony.ConnConfig{
				MaxAttempts:   cfg.MaxReconnectAttempts,
				BackoffBase:   cfg.ReconnectBase(),
				BackoffCap:    cfg.ReconnectCap(),
				BackoffGrowth: 1.5,
			},
			OriginationTTL: cfg.OriginationTTL(),
			LivenessPoll:   30 * time.Second,
		}, logger)
	phone.Start(appCtx)
	defer phone.Close()

	// The first connect happens in the background so a down bridge does not
	// block startup; the reconnect loop takes over from there.
	go func() {
		if err := phone.Connect(appCtx); err != nil {
			slog.Warn("initial bridge connect failed", "error", err)
		}
	}()

	// Metrics endpoint.
	startTime := time.Now()
	registry := prometheus.NewRegistry()
	registry.MustRegister(metrics.NewCollector(phone, phone, records, startTime))
	metricsHandler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	// HTTP server using the api package.
	handler, err := api.NewServer(cfg, api.Stores{
		Configs: sysConfig,
		Users:   users,
		Leads:   leads,
		Records: records,
	}, phone, metricsHandler)
	if err != nil {
		slog.Error("failed to create http server", "error", err)
		os.Exit(1)
	}
	defer handler.Close()

	middleware.StartCleanupTicker(appCtx, handler.Sessions(), 15*time.Minute)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// With TLS on, a plain-HTTP listener on :80 redirects to the main server.
	var redirectSrv *http.Server
	if cfg.TLSEnabled() {
		redirectSrv = &http.Server{
			Addr:         ":80",
			Handler:      middleware.HTTPSRedirectHandler(),
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
		}
		go func() {
			slog.Info("https redirect listening", "addr", redirectSrv.Addr)
			if err := redirectSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Warn("https redirect server error", "error", err)
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr)
		var err error
		if cfg.TLSEnabled() {
			err = srv.ListenAndServeTLS(cfg.TLSCert, cfg.TLSKey)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for interrupt or server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		slog.Error("http server error", "error", err)
	}

	// Graceful shutdown with timeout.
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutting down")
	if redirectSrv != nil {
		if err := redirectSrv.Shutdown(ctx); err != nil {
			slog.Warn("redirect server shutdown error", "error", err)
		}
	}
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("http server shutdown error", "error", err)
		os.Exit(1)
	}

	slog.Info("leadline stopped")
}

// agentConfigAdapter serves the agent's dialing identity from the system
// config store, so settings changes take effect on the next dial.
type agentConfigAdapter struct {
	configs database.SystemConfigRepository
}

func (a *agentConfigAdapter) get(key string) string {
	v, _ := a.configs.Get(context.Background(), key)
	return v
}

func (a *agentConfigAdapter) Extension() string {
	return a.get(database.ConfigKeyAgentExtension)
}

func (a *agentConfigAdapter) Channel() string {
	tech := a.get(database.ConfigKeyChannelTech)
	if tech == "" {
		tech = "PJSIP"
	}
	return tech + "/" + a.Extension()
}

func (a *agentConfigAdapter) DialContext() string {
	if ctx := a.get(database.ConfigKeyDialContext); ctx != "" {
		return ctx
	}
	return "from-internal"
}

func (a *agentConfigAdapter) CallerIDName() string {
	if name := a.get(database.ConfigKeyCallerIDName); name != "" {
		return name
	}
	return "LeadLine"
}

func (a *agentConfigAdapter) AgentName() string {
	return a.get(database.ConfigKeyAgentName)
}

// leadStoreAdapter lets the dialer attach ad hoc dials to a lead record.
type leadStoreAdapter struct {
	leads database.LeadRepository
}

func (a *leadStoreAdapter) EnsureLead(ctx context.Context, name, phone string) (*models.Lead, error) {
	existing, err := a.leads.GetByPhone(ctx, phone)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	if name == "" {
		name = phone
	}
	lead := &models.Lead{
		Name:   name,
		Phone:  phone,
		Status: models.LeadStatusNew,
	}
	if err := a.leads.Create(ctx, lead); err != nil {
		return nil, err
	}
	return lead, nil
}
