package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	apperrors "github.com/kimhsiao/possync/internal/errors"
	"github.com/kimhsiao/possync/internal/models"
	"github.com/kimhsiao/possync/internal/sync/auth"
)

// withApp opens the app for the duration of fn.
func (c *cli) withApp(opts appOptions, fn func(a *app) error) error {
	a, err := newApp(c.cfg, opts)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func printJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// =====================================================
// Sync
// =====================================================

func (c *cli) syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "sync",
		GroupID: "service",
		Short:   "Run one sync pass now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(appOptions{}, func(a *app) error {
				result, err := a.scheduler.SyncNow(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if result.NothingToSync {
					fmt.Fprintln(out, "Nothing to sync")
					return nil
				}
				fmt.Fprintf(out, "Synced %d, failed %d, rate limited %d in %d batches (%s)\n",
					result.Synced, result.Failed, result.RateLimited, result.Batches,
					result.Duration.Round(time.Millisecond))
				return nil
			})
		},
	}
}

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		GroupID: "service",
		Short:   "Show outbox counts and sync state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(appOptions{}, func(a *app) error {
				status, err := a.engine.Status(cmd.Context())
				if err != nil {
					return err
				}
				settings, err := a.settings.Load(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Configured: %t\n", settings.Configured())
				fmt.Fprintf(out, "Paused:     %t\n", status.Paused)
				fmt.Fprintf(out, "Auto sync:  %s\n", settings.AutoSync)
				fmt.Fprintf(out, "Pending:    %d\n", status.Queue.Pending)
				fmt.Fprintf(out, "Failed:     %d\n", status.Queue.Failed)
				fmt.Fprintf(out, "Synced:     %d\n", status.Queue.Synced)
				return nil
			})
		},
	}
}

func (c *cli) authCmd() *cobra.Command {
	var logout bool
	cmd := &cobra.Command{
		Use:     "auth",
		GroupID: "service",
		Short:   "Sign in to Google and store the token",
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := stdinPrompter(cmd.InOrStdin(), cmd.OutOrStdout())
			return c.withApp(appOptions{prompt: prompt}, func(a *app) error {
				if logout {
					if err := a.tokens.Clear(cmd.Context()); err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
					return nil
				}
				if oauth, ok := a.auth.(*auth.OAuth); ok {
					if err := oauth.Login(cmd.Context()); err != nil {
						return err
					}
				}
				if err := a.auth.Authenticate(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Authenticated")
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&logout, "logout", false, "remove the stored token")
	return cmd
}

// =====================================================
// Settings
// =====================================================

func (c *cli) settingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "settings",
		GroupID: "service",
		Short:   "Show or change sync settings",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "get",
		Short: "Print the current settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(appOptions{}, func(a *app) error {
				settings, err := a.settings.Load(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), settings)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "set key=value...",
		Short: "Change settings",
		Long: `Change one or more settings.

Keys: auto_sync (disabled, 5min, 15min, 30min, 1hour), batch_size,
max_retries, client_id, spreadsheet_id, paused, filter.<entity_type>.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(appOptions{}, func(a *app) error {
				settings, err := a.settings.Update(cmd.Context(), func(s *models.SyncSettings) error {
					for _, arg := range args {
						if err := applySetting(s, arg); err != nil {
							return err
						}
					}
					return nil
				})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), settings)
			})
		},
	})
	return cmd
}

func applySetting(s *models.SyncSettings, arg string) error {
	key, value, ok := strings.Cut(arg, "=")
	if !ok {
		return apperrors.New(apperrors.ErrInvalid, fmt.Sprintf("expected key=value, got %q", arg))
	}

	if entityType, found := strings.CutPrefix(key, "filter."); found {
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrInvalid, "filter values are true or false", err)
		}
		if s.EntityFilters == nil {
			s.EntityFilters = map[string]bool{}
		}
		s.EntityFilters[entityType] = enabled
		return nil
	}

	switch key {
	case "auto_sync":
		a := models.AutoSync(value)
		if !a.Valid() {
			return apperrors.New(apperrors.ErrValidation, fmt.Sprintf("unknown auto_sync value %q", value))
		}
		s.AutoSync = a
	case "batch_size", "max_retries":
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 {
			return apperrors.New(apperrors.ErrValidation, key+" must be a positive integer")
		}
		if key == "batch_size" {
			s.BatchSize = n
		} else {
			s.MaxRetries = n
		}
	case "client_id":
		s.ClientID = value
	case "spreadsheet_id":
		s.SpreadsheetID = value
	case "paused":
		paused, err := strconv.ParseBool(value)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrInvalid, "paused is true or false", err)
		}
		s.Paused = paused
	default:
		return apperrors.New(apperrors.ErrInvalid, fmt.Sprintf("unknown setting %q", key))
	}
	return nil
}

// =====================================================
// Outbox
// =====================================================

func (c *cli) enqueueCmd() *cobra.Command {
	var remove bool
	cmd := &cobra.Command{
		Use:     "enqueue <entity_type> <entity_id>",
		GroupID: "queue",
		Short:   "Queue an entity for the next sync pass",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			action := models.ActionUpsert
			if remove {
				action = models.ActionDelete
			}
			return c.withApp(appOptions{}, func(a *app) error {
				id, err := a.outbox.Enqueue(cmd.Context(), args[0], args[1], action)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), id)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&remove, "delete", false, "queue a delete instead of an upsert")
	return cmd
}

func (c *cli) retryFailedCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "retry-failed",
		GroupID: "queue",
		Short:   "Move failed entries back to pending",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(appOptions{}, func(a *app) error {
				n, err := a.engine.RetryFailed(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Reset %d failed entries\n", n)
				return nil
			})
		},
	}
}

func (c *cli) purgeCmd() *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:     "purge",
		GroupID: "queue",
		Short:   "Delete synced entries older than a cutoff",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(appOptions{}, func(a *app) error {
				n, err := a.outbox.PurgeSynced(cmd.Context(), olderThan)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Purged %d synced entries\n", n)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 7*24*time.Hour, "minimum age of purged entries")
	return cmd
}

func (c *cli) logsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:     "logs",
		GroupID: "queue",
		Short:   "Show recent sync log entries, newest first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(appOptions{}, func(a *app) error {
				entries, err := a.journal.Recent(cmd.Context(), limit)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, e := range entries {
					ts := models.MillisTime(e.CreatedAt).Format(time.RFC3339)
					fmt.Fprintf(out, "%s  %-8s %s\n", ts, e.Type, e.Message)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries (0 for all)")
	return cmd
}
