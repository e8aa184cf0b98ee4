package cmd

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/jmelchers/arvon/internal/api"
	"github.com/jmelchers/arvon/internal/audit"
	"github.com/jmelchers/arvon/internal/backend"
	"github.com/jmelchers/arvon/internal/config"
	"github.com/jmelchers/arvon/internal/core"
	"github.com/jmelchers/arvon/internal/identity"
	"github.com/jmelchers/arvon/internal/lease"
	"github.com/jmelchers/arvon/internal/metrics"
	"github.com/jmelchers/arvon/internal/policy"
	"github.com/jmelchers/arvon/internal/roles"
	"github.com/jmelchers/arvon/internal/service"
	"github.com/jmelchers/arvon/internal/store"
	"github.com/jmelchers/arvon/internal/tasks"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the arvon broker",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		barrier := store.NewBarrier(store.NewInMemoryStore())
		if cfg.Seal.MasterKey != "" {
			key, err := hex.DecodeString(cfg.Seal.MasterKey)
			if err != nil {
				return fmt.Errorf("seal.master_key must be hex encoded")
			}
			if err := barrier.Unseal(ctx, key); err != nil {
				return fmt.Errorf("auto-unseal failed: %w", err)
			}
			log.Info().Msg("barrier auto-unsealed from config")
		} else {
			log.Warn().Msg("barrier is sealed; unseal via POST /v1/sys/seal/unseal")
		}

		roleReg := roles.NewRegistry(barrier)
		policyReg := policy.NewRegistry(barrier)
		mappingReg := identity.NewMappingRegistry(barrier)

		if !barrier.Sealed() {
			if err := seed(ctx, cfg, roleReg, policyReg, mappingReg); err != nil {
				return fmt.Errorf("seeding configuration: %w", err)
			}
		} else if len(cfg.Roles)+len(cfg.Policies)+len(cfg.IdentityMappings) > 0 {
			return fmt.Errorf("seed data requires seal.master_key for auto-unseal")
		}

		log.Info().Msg("Initializing verifiers...")
		verifiers, err := identity.BuildRegistry(ctx, cfg.Verifiers)
		if err != nil {
			return fmt.Errorf("building verifier registry: %w", err)
		}

		log.Info().Msg("Initializing backends...")
		backends, err := backend.BuildRegistry(cfg.Backends)
		if err != nil {
			return fmt.Errorf("building backend registry: %w", err)
		}

		signingKey, err := hex.DecodeString(cfg.Session.SigningKey)
		if err != nil {
			return fmt.Errorf("session.signing_key must be hex encoded")
		}
		broker := identity.NewBroker(verifiers, mappingReg, signingKey, cfg.Session.TTL)

		auditor, err := buildAuditor(cfg.Audit)
		if err != nil {
			return fmt.Errorf("building auditor: %w", err)
		}
		defer func() {
			_ = auditor.Close()
		}()

		// revocation failures land here for operator visibility
		alerts := make(chan lease.Alert, 16)
		go func() {
			for a := range alerts {
				log.Error().
					Str("lease_id", a.LeaseID).
					Str("role", a.Role).
					Str("reason", a.Reason).
					Msg("lease revocation exhausted retries, operator action required")
			}
		}()

		leaseMgr := lease.NewManager(barrier, roleReg, backends, lease.Config{
			BackendTimeout:     cfg.Lease.BackendTimeout,
			RevokeRetryCeiling: cfg.Lease.RevokeRetryCeiling,
			RevokeBackoffBase:  cfg.Lease.RevokeBackoffBase,
			RevokeBackoffCap:   cfg.Lease.RevokeBackoffCap,
		}, alerts)

		taskManager := tasks.NewManager()
		taskManager.Register("lease-sweep", cfg.Lease.SweepInterval, leaseMgr.Sweep)
		defer taskManager.Close()

		metrics.Init()

		svc := service.NewBrokerService(broker, leaseMgr, roleReg, policyReg, mappingReg, barrier, auditor)
		server := &http.Server{
			Addr:    cfg.Listen,
			Handler: api.NewServer(svc, taskManager).Routes(),
		}

		go func() {
			log.Info().Msgf("Starting server on %s...", cfg.Listen)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatal().Err(err).Msg("Server crashed")
			}
		}()

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Info().Msg("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}

		log.Info().Msg("Server exited")
		return nil
	},
}

// seed applies config-file roles, policies and identity mappings at startup.
// They remain editable at runtime through the sys API.
func seed(ctx context.Context, cfg *config.Config, roleReg *roles.Registry, policyReg *policy.Registry, mappingReg *identity.MappingRegistry) error {
	for _, r := range cfg.Roles {
		if err := roleReg.Put(ctx, r); err != nil {
			return fmt.Errorf("role '%s': %w", r.Name, err)
		}
	}
	for _, p := range cfg.Policies {
		if err := policyReg.Put(ctx, p); err != nil {
			return fmt.Errorf("policy '%s': %w", p.Name, err)
		}
	}
	for _, m := range cfg.IdentityMappings {
		if err := mappingReg.Put(ctx, m); err != nil {
			return fmt.Errorf("identity mapping '%s': %w", m.Name, err)
		}
	}
	return nil
}

func buildAuditor(cfg config.AuditConfig) (core.Auditor, error) {
	if !cfg.Enabled {
		return audit.NewNoopAuditor(), nil
	}
	switch cfg.Type {
	case "memory", "":
		return audit.NewInMemoryAuditor(), nil
	case "file":
		return audit.NewFileAuditor(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown audit type '%s'", cfg.Type)
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
