package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"DigestCurator/internal/app"
	"DigestCurator/internal/config"
	"DigestCurator/internal/domain"
	"DigestCurator/internal/logging"
	"DigestCurator/internal/usecase"
)

type rootOptions struct {
	configPath string
	cfg        config.Config
	logger     *slog.Logger
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "digestcurator",
		Short:         "Personalized AI news digest pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if opts.configPath != "" {
				if err := os.Setenv("DIGEST_CURATOR_CONFIG", opts.configPath); err != nil {
					return err
				}
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			opts.cfg = cfg
			opts.logger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
			slog.SetDefault(opts.logger)
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to YAML config (overrides DIGEST_CURATOR_CONFIG)")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newStatusCommand(opts))
	cmd.AddCommand(newCheckIntegrityCommand(opts))
	cmd.AddCommand(newAddUserCommand(opts))
	return cmd
}

// withApp opens the application for the duration of fn.
func withApp(ctx context.Context, opts *rootOptions, fn func(*app.Application) error) error {
	application, err := app.New(ctx, opts.cfg, opts.logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := application.Close(); err != nil {
			opts.logger.Warn("close datastore", "error", err)
		}
	}()
	return fn(application)
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP trigger/status API and the daily scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return withApp(ctx, opts, func(a *app.Application) error {
				err := a.Serve(ctx)
				if ctx.Err() != nil {
					opts.logger.Info("shutdown complete")
					return nil
				}
				return err
			})
		},
	}
}

func newRunCommand(opts *rootOptions) *cobra.Command {
	var forceIngest bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute one pipeline cycle in the foreground",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), opts, func(a *app.Application) error {
				run, err := a.RunOnce(cmd.Context(), forceIngest)
				if run.Result != nil {
					fmt.Fprintln(cmd.OutOrStdout(), usecase.FormatRunSummary(run))
				}
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&forceIngest, "force-ingest", false, "ingest even within the cooldown window")
	return cmd
}

func newStatusCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the latest pipeline run",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), opts, func(a *app.Application) error {
				snap, err := a.Status(cmd.Context())
				if err != nil {
					return err
				}
				out, err := json.MarshalIndent(snap, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(out))
				return nil
			})
		},
	}
}

func newCheckIntegrityCommand(opts *rootOptions) *cobra.Command {
	var fix bool

	cmd := &cobra.Command{
		Use:   "check-integrity",
		Short: "Find recommendations that reference missing digests",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), opts, func(a *app.Application) error {
				report, err := a.CheckIntegrity(cmd.Context(), fix)
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "orphaned recommendations: %d\n", len(report.Orphans))
				for _, o := range report.Orphans {
					fmt.Fprintf(w, "  %s user=%s digest=%s\n", o.ID, o.UserID, o.DigestID)
				}
				if fix {
					fmt.Fprintf(w, "purged: %d\n", report.Purged)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&fix, "fix", false, "delete orphaned recommendations")
	return cmd
}

func newAddUserCommand(opts *rootOptions) *cobra.Command {
	var (
		u         domain.User
		interests string
		admin     bool
		inactive  bool
	)

	cmd := &cobra.Command{
		Use:   "add-user",
		Short: "Create or update a subscriber",
		RunE: func(cmd *cobra.Command, _ []string) error {
			u.Active = !inactive
			u.Role = domain.RoleUser
			if admin {
				u.Role = domain.RoleAdmin
			}
			for _, i := range strings.Split(interests, ",") {
				if i = strings.TrimSpace(i); i != "" {
					u.Interests = append(u.Interests, i)
				}
			}

			return withApp(cmd.Context(), opts, func(a *app.Application) error {
				saved, err := a.AddUser(cmd.Context(), u)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "saved user %s (%s)\n", saved.Email, saved.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&u.Email, "email", "", "subscriber email address")
	cmd.Flags().StringVar(&u.Name, "name", "", "display name")
	cmd.Flags().StringVar(&u.Title, "title", "", "job title")
	cmd.Flags().StringVar(&u.ExpertiseLevel, "expertise", "intermediate", "expertise level")
	cmd.Flags().StringVar(&interests, "interests", "", "comma separated interests")
	cmd.Flags().BoolVar(&admin, "admin", false, "grant the admin role")
	cmd.Flags().BoolVar(&inactive, "inactive", false, "store the user as inactive")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}
