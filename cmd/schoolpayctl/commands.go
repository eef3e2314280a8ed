package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"schoolpay/config"
	"schoolpay/internal/app"
	"schoolpay/internal/auth"
	"schoolpay/internal/database"
	"schoolpay/internal/domain"
	"schoolpay/internal/service"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFile(configPath)
	}
	return config.Load()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the payment tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := database.NewDB(&cfg.Database)
			if err != nil {
				return err
			}
			if err := database.AutoMigrate(db); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrated")
			return nil
		},
	}
}

func reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Run one reconciliation cycle and print its report",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, _ := zap.NewDevelopment()
			a, err := app.New(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()
			report, err := a.Reconciler.RunCycle(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
}

func auditCmd() *cobra.Command {
	var tenantID uint
	cmd := &cobra.Command{
		Use:   "audit <attempt-id>",
		Short: "Print the transition history of a payment attempt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("attempt id: %w", err)
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := app.New(cmd.Context(), cfg, zap.NewNop())
			if err != nil {
				return err
			}
			defer a.Close()
			operator := service.Actor{TenantID: tenantID, Role: domain.RoleAdmin}
			rows, err := a.Payments.AuditTrail(cmd.Context(), operator, uint(id))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rows)
		},
	}
	cmd.Flags().UintVar(&tenantID, "tenant", 1, "tenant (school) id")
	return cmd
}

func tokenCmd() *cobra.Command {
	var userID, tenantID, studentID uint
	var role string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an access token for local testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			tok, err := auth.GenerateAccessToken(&cfg.JWT, userID, tenantID, studentID, role)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().UintVar(&userID, "user", 1, "user id")
	cmd.Flags().UintVar(&tenantID, "tenant", 1, "tenant (school) id")
	cmd.Flags().UintVar(&studentID, "student", 0, "student id (students only)")
	cmd.Flags().StringVar(&role, "role", domain.RoleStudent, "STUDENT or ADMIN")
	return cmd
}
