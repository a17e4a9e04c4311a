package cmd

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"trafficwatch/internal/controllers"
	"trafficwatch/internal/environ"
	"trafficwatch/internal/middleware"
	"trafficwatch/internal/routes"
	"trafficwatch/internal/services"
)

var (
	listenAddr     string
	authEnabled    bool
	authSecret     string
	allowedOrigins []string
	allowedIPs     []string
	rateLimit      float64
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the accounting engine and the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		engine, portStore, err := newEngine()
		if err != nil {
			return err
		}
		defer engine.Close()

		handler := &controllers.Handler{
			Engine:   engine,
			System:   services.NewSystemMonitor(time.Second),
			Security: middleware.NewSecurityLogger(),
		}
		handler.Hub = services.NewWebSocketHub(engine, handler.System, engine.Interval())
		if authEnabled {
			if handler.Auth, err = services.NewAuthService(authSecret, 0); err != nil {
				return err
			}
		}

		if log.GetLevel() < log.DebugLevel {
			gin.SetMode(gin.ReleaseMode)
		}
		router := routes.NewRouter(handler, routes.RouterConfig{
			AllowedOrigins: allowedOrigins,
			AllowedIPs:     allowedIPs,
			RateLimit:      rateLimit,
		})

		go engine.Run(ctx)
		go handler.Hub.Run(ctx)
		go func() {
			if err := portStore.Watch(ctx, engine.ReplacePorts); err != nil {
				log.WithError(err).Warn("port config watcher stopped")
			}
		}()

		srv := &http.Server{Addr: listenAddr, Handler: router, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.WithError(err).Warn("http shutdown")
			}
		}()

		log.WithFields(log.Fields{"addr": listenAddr, "auth": authEnabled}).Info("serving traffic api")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&listenAddr, "listen",
		environ.GetString("LISTEN_ADDR", "0.0.0.0:8899"),
		"Address the HTTP API listens on",
	)
	serveCmd.Flags().BoolVar(&authEnabled, "auth",
		environ.GetBool("AUTH_ENABLED", false),
		"Require a bearer token for state changing requests and the websocket",
	)
	serveCmd.Flags().StringVar(&authSecret, "secret",
		environ.GetString("AUTH_SECRET", ""),
		"Token signing secret. Generated and stored in the home directory when empty",
	)
	serveCmd.Flags().StringSliceVar(&allowedOrigins, "allow-origin",
		environ.GetStringSlice("ALLOW_ORIGINS", nil),
		"Allowed CORS origins. Empty allows all",
	)
	serveCmd.Flags().StringSliceVar(&allowedIPs, "allow-ip",
		environ.GetStringSlice("ALLOW_IPS", nil),
		"Client IPs allowed to reach the API. Empty allows all",
	)
	serveCmd.Flags().Float64Var(&rateLimit, "rate-limit",
		100,
		"Requests per second allowed per client IP",
	)
}
