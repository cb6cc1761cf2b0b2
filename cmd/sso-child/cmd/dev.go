package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/marcogenualdo/sso-child/internal/config"
	"github.com/marcogenualdo/sso-child/internal/devstack"
	"github.com/marcogenualdo/sso-child/internal/identity"
)

var (
	devProviderAddr string
	devBackendAddr  string
	devPermissions  []string
	devRoles        []string
)

var devCmd = &cobra.Command{
	Use:   "dev",
	Short: "Run a local mother provider and child backend",
	Long: `Run stand-ins for the mother provider and the child backend.

Point the child application at them with:
  MOTHER_API_URL=http://localhost:8000 MOTHER_APP_URL=http://localhost:8000 \
  API_URL=http://localhost:8002 CLIENT_ID=inventario sso-child serve`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runDev(ctx)
	},
}

func init() {
	devCmd.Flags().StringVar(&devProviderAddr, "provider-addr", "localhost:8000", "listen address of the mother provider")
	devCmd.Flags().StringVar(&devBackendAddr, "backend-addr", "localhost:8002", "listen address of the child backend")
	devCmd.Flags().StringSliceVar(&devPermissions, "permission", []string{"sistema_inventario"}, "permissions granted to the signed-in user")
	devCmd.Flags().StringSliceVar(&devRoles, "role", nil, "roles granted to the signed-in user")
	rootCmd.AddCommand(devCmd)
}

func runDev(ctx context.Context) error {
	logger := setupLogger(config.LoggingConfig{Level: "debug", Format: "text"}, os.Stdout)

	provider := devstack.NewProvider(identity.UserProfile{
		ID:          "1",
		Name:        "Usuario de desarrollo",
		Email:       "dev@example.com",
		Roles:       devRoles,
		Permissions: devPermissions,
	}, logger.With("component", "provider"))
	api := devstack.NewBackend(provider.Valid, logger.With("component", "backend"))

	servers := []*http.Server{
		{Addr: devProviderAddr, Handler: provider.Routes(), ReadHeaderTimeout: 5 * time.Second},
		{Addr: devBackendAddr, Handler: api.Routes(), ReadHeaderTimeout: 5 * time.Second},
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		g.Go(func() error {
			logger.Info("listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("failed to serve %s: %w", srv.Addr, err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, srv := range servers {
			_ = srv.Shutdown(shutdownCtx)
		}
		return nil
	})

	return g.Wait()
}
