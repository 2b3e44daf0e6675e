package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/iliyamo/stay-reservation/internal/config"
	"github.com/iliyamo/stay-reservation/internal/database"
	"github.com/iliyamo/stay-reservation/internal/utils"
)

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire overdue holds and send due reminders once, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, config.Load())
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.sweeper.Run(ctx, utcNow())
			_ = json.NewEncoder(os.Stdout).Encode(res)
			return err
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending MySQL schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if cfg.Storage != config.StorageMySQL {
				return errors.New("migrate requires STORAGE_DRIVER=mysql")
			}
			ctx := cmd.Context()
			db, err := database.Open(ctx, cfg.DB)
			if err != nil {
				return err
			}
			defer db.Close()

			applied, err := database.Migrate(ctx, db)
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(os.Stdout, "schema is up to date")
			}
			for _, v := range applied {
				fmt.Fprintf(os.Stdout, "applied %s\n", v)
			}
			return nil
		},
	}
}

func newOperatorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "operator",
		Short: "Manage operator accounts",
	}
	cmd.AddCommand(newOperatorAddCmd())
	return cmd
}

func newOperatorAddCmd() *cobra.Command {
	var email, password, role string

	c := &cobra.Command{
		Use:   "add",
		Short: "Create an operator account (MySQL storage)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if cfg.Storage != config.StorageMySQL {
				return errors.New("operator add requires STORAGE_DRIVER=mysql; use the token command with memory storage")
			}
			if len(password) < utils.MinPasswordLen {
				return fmt.Errorf("password must be at least %d characters", utils.MinPasswordLen)
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			id, err := a.operators.Create(ctx, email, password, strings.ToUpper(role), cfg.BcryptCost)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "created operator %d (%s)\n", id, strings.ToLower(strings.TrimSpace(email)))
			return nil
		},
	}

	c.Flags().StringVar(&email, "email", "", "operator email")
	c.Flags().StringVar(&password, "password", "", "operator password")
	c.Flags().StringVar(&role, "role", "OPERATOR", "operator role")
	_ = c.MarkFlagRequired("email")
	_ = c.MarkFlagRequired("password")
	return c
}

func newTokenCmd() *cobra.Command {
	var operatorID uint64
	var role string
	var ttl time.Duration

	c := &cobra.Command{
		Use:   "token",
		Short: "Print a signed operator access token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if ttl <= 0 {
				ttl = time.Duration(cfg.AccessTTLMin) * time.Minute
			}
			tok, err := utils.NewAccessToken(cfg.JWTSecret, operatorID, strings.ToUpper(role), ttl, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, tok.Token)
			return nil
		},
	}

	c.Flags().Uint64Var(&operatorID, "operator-id", 1, "operator id placed in the sub claim")
	c.Flags().StringVar(&role, "role", "OPERATOR", "role claim")
	c.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default ACCESS_TOKEN_TTL_MIN)")
	return c
}
