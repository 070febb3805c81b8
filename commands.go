package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/dmorgan81/promptmint/internal/config"
	"github.com/dmorgan81/promptmint/internal/handler"
	"github.com/dmorgan81/promptmint/internal/history"
	"github.com/dmorgan81/promptmint/internal/inject"
	"github.com/dmorgan81/promptmint/internal/log"
	"github.com/dmorgan81/promptmint/internal/server"
	"github.com/samber/do"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type app struct {
	injector *do.Injector
}

func newRootCommand(level *slog.LevelVar) *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "promptmint",
		Short:         "Turn text prompts into durably stored images",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a.injector = inject.Setup(ctx)
			cfg, err := do.Invoke[*config.Config](a.injector)
			if err != nil {
				return err
			}
			level.Set(log.ParseLevel(cfg.LogLevel))

			log := log.FromContextOrDiscard(ctx)
			if !cfg.HasProviderKey() {
				log.Warn("DOUBAO_API_KEY is not set; generation requests will fail")
			}
			if cfg.Store.Backend == config.BackendPassthrough {
				log.Warn("STORE_BACKEND is passthrough; image urls are provider-hosted and will expire")
			}
			return nil
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return a.injector.Shutdown()
		},
	}
	root.AddCommand(a.serveCommand(), a.generateCommand(), a.historyCommand(), a.lambdaCommand())
	return root
}

func (a *app) serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			srv, err := do.Invoke[*server.Server](a.injector)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			group, ctx := errgroup.WithContext(ctx)
			group.Go(func() error {
				return srv.ListenAndServe(ctx)
			})
			group.Go(func() error {
				<-ctx.Done()
				log.FromContextOrDiscard(ctx).Info("shutting down")
				return srv.Shutdown()
			})
			return group.Wait()
		},
	}
}

func (a *app) generateCommand() *cobra.Command {
	var (
		size string
		seed int64
	)
	cmd := &cobra.Command{
		Use:   "generate <prompt>",
		Short: "Generate one image and print the result as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := do.Invoke[*handler.Handler](a.injector)
			if err != nil {
				return err
			}

			in := handler.Input{Prompt: strings.Join(args, " "), Size: size}
			if cmd.Flags().Changed("seed") {
				in.Seed = &seed
			}
			out, err := h.Handle(cmd.Context(), in)
			if err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}
	cmd.Flags().StringVar(&size, "size", "", "image size, e.g. 1024x1024")
	cmd.Flags().Int64Var(&seed, "seed", 0, "generation seed, -1 for random")
	return cmd
}

func (a *app) historyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect and prune the generation history",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "Print recent generations, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ledger, err := do.Invoke[*history.Ledger](a.injector)
			if err != nil {
				return err
			}
			records, err := ledger.ListRecent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printJSON(cmd, records)
		},
	}
	list.Flags().IntVar(&limit, "limit", 50, "maximum records to print")

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete one history record; the stored image is left untouched",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid id %q: %w", args[0], err)
			}
			ledger, err := do.Invoke[*history.Ledger](a.injector)
			if err != nil {
				return err
			}
			if err := ledger.Delete(cmd.Context(), id); err != nil {
				if errors.Is(err, history.ErrNotFound) {
					return fmt.Errorf("history record %d: %w", id, err)
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d\n", id)
			return nil
		},
	}

	cmd.AddCommand(list, del)
	return cmd
}

func (a *app) lambdaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "lambda",
		Short: "Serve generation requests from the AWS Lambda runtime",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			h, err := do.Invoke[*handler.Handler](a.injector)
			if err != nil {
				return err
			}
			lambda.StartWithOptions(h.Handle, lambda.WithContext(cmd.Context()), lambda.WithEnableSIGTERM(func() {
				_ = a.injector.Shutdown()
			}))
			return nil
		},
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
