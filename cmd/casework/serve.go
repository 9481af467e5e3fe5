package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/casework/api"
	"github.com/warp/casework/eligibility"
	"github.com/warp/casework/notify"
	"github.com/warp/casework/report"
	"github.com/warp/casework/report/export"
)

const shutdownTimeout = 30 * time.Second

func serveCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the HTTP API. On SIGINT/SIGTERM the server stops accepting new
connections, waits for in-flight requests and closes the database.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()
			if cmd.Flags().Changed("port") {
				a.cfg.Server.Port = port
			}
			return a.serve(cmd.Context())
		},
	}
	cmd.Flags().IntVar(&port, "port", 8080, "HTTP port (overrides server.port)")
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	if a.cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required to serve (CASEWORK_AUTH_JWT_SECRET)")
	}
	auth, err := api.NewAuthenticator(a.cfg.Auth.JWTSecret, a.cfg.Auth.Issuer)
	if err != nil {
		return err
	}

	notifier, err := a.notifier()
	if err != nil {
		return err
	}
	recorder := eligibility.NewRecorder(a.store, notifier, a.logger.Named("eligibility"))

	pipeline, err := a.pipeline()
	if err != nil {
		return err
	}

	handler := api.NewHandler(a.store, recorder, pipeline, a.logger.Named("api"))
	handler.Export = a.exportOptions()

	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins: a.cfg.Server.AllowedOrigins,
		Auth:           auth,
		Logger:         a.logger.Named("http"),
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("server starting",
			zap.Int("port", a.cfg.Server.Port),
			zap.String("database", a.cfg.Database.Path))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	a.logger.Info("server stopped")
	return nil
}

// notifier always logs promotions and also posts them to Telegram when a
// bot token and chat are configured.
func (a *app) notifier() (notify.Notifier, error) {
	sinks := notify.Multi{notify.NewLog(a.logger.Named("notify"))}
	if tc := a.cfg.Notify.Telegram; tc.Enabled() {
		tg, err := notify.NewTelegram(tc.Token, tc.ChatID)
		if err != nil {
			return nil, fmt.Errorf("telegram notifier: %w", err)
		}
		sinks = append(sinks, tg)
		a.logger.Info("telegram notifications enabled", zap.Int64("chat_id", tc.ChatID))
	}
	return sinks, nil
}

func (a *app) pipeline() (*report.Pipeline, error) {
	source, err := a.store.ReportSource(a.logger.Named("report"))
	if err != nil {
		return nil, err
	}
	loc, err := a.cfg.Report.Location()
	if err != nil {
		return nil, err
	}
	p := report.NewPipeline(source, a.logger.Named("report"))
	p.Location = loc
	return p, nil
}

func (a *app) exportOptions() export.Options {
	return export.Options{Sheets: export.SheetsConfig{
		CredentialsFile: a.cfg.Export.Sheets.CredentialsFile,
		SpreadsheetID:   a.cfg.Export.Sheets.SpreadsheetID,
	}}
}
