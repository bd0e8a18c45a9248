package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/EternisAI/cookie-jar/internal/client"
	"github.com/EternisAI/cookie-jar/internal/sessions"
)

func main() {
	if err := newRootCommand(os.Stdout).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type globalFlags struct {
	server string
	apiKey string
	token  string
}

func (g *globalFlags) client() *client.Client {
	return client.New(g.server, client.WithAPIKey(g.apiKey), client.WithToken(g.token))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newRootCommand(out io.Writer) *cobra.Command {
	g := &globalFlags{}

	cmd := &cobra.Command{
		Use:           "cookie-jar-ctl",
		Short:         "Operate a cookie-jar session pool",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(out)

	cmd.PersistentFlags().StringVar(&g.server, "server", envOr("COOKIE_JAR_SERVER", "http://localhost:8080"), "Base URL of the cookie-jar server")
	cmd.PersistentFlags().StringVar(&g.apiKey, "api-key", os.Getenv("COOKIE_JAR_API_KEY"), "Admin API key")
	cmd.PersistentFlags().StringVar(&g.token, "token", os.Getenv("COOKIE_JAR_TOKEN"), "Worker bearer token")

	cmd.AddCommand(newAcquireCommand(g, out))
	cmd.AddCommand(newReleaseCommand(g, out))
	cmd.AddCommand(newStatsCommand(g, out))
	cmd.AddCommand(newSweepCommand(g, out))
	cmd.AddCommand(newPurgeCommand(g, out))
	cmd.AddCommand(newWarmCommand(g, out))
	cmd.AddCommand(newTokenCommand(g, out))
	return cmd
}

func newAcquireCommand(g *globalFlags, out io.Writer) *cobra.Command {
	var header bool

	cmd := &cobra.Command{
		Use:   "acquire <site>",
		Short: "Lease a session for a site",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lease, err := g.client().Acquire(commandContext(cmd), args[0])
			if err != nil {
				return err
			}
			if header {
				_, err = fmt.Fprintf(out, "%s\t%s\n", lease.ID, lease.CookieHeader())
				return err
			}
			return printJSON(out, lease)
		},
	}

	cmd.Flags().BoolVar(&header, "header", false, "Print the lease id and Cookie header instead of JSON")
	return cmd
}

func newReleaseCommand(g *globalFlags, out io.Writer) *cobra.Command {
	var outcome string

	cmd := &cobra.Command{
		Use:   "release <id>",
		Short: "Release a leased session and report whether it worked",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := sessions.ParseOutcome(outcome)
			if err != nil {
				return err
			}
			if err := g.client().Release(commandContext(cmd), args[0], o); err != nil {
				return err
			}
			_, err = fmt.Fprintf(out, "released %s (%s)\n", args[0], o)
			return err
		},
	}

	cmd.Flags().StringVar(&outcome, "outcome", "success", "success or failure")
	return cmd
}

func newStatsCommand(g *globalFlags, out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "stats [site]",
		Short: "Show pool statistics for one site or all sites",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := g.client()
			if len(args) == 1 {
				st, err := c.Stats(commandContext(cmd), args[0])
				if err != nil {
					return err
				}
				return printJSON(out, st)
			}
			all, err := c.StatsAll(commandContext(cmd))
			if err != nil {
				return err
			}
			return printJSON(out, all)
		},
	}
}

func newSweepCommand(g *globalFlags, out io.Writer) *cobra.Command {
	var site string

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Replace unhealthy and expired sessions with fresh ones",
		RunE: func(cmd *cobra.Command, args []string) error {
			replaced, err := g.client().Sweep(commandContext(cmd), site)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(out, "replaced %d session(s)\n", replaced)
			return err
		},
	}

	cmd.Flags().StringVar(&site, "site", "", "Limit the sweep to one site")
	return cmd
}

func newPurgeCommand(g *globalFlags, out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Delete unhealthy and expired sessions without replacing them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			removed, err := g.client().Purge(commandContext(cmd))
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(out, "removed %d session(s)\n", removed)
			return err
		},
	}
}

func newWarmCommand(g *globalFlags, out io.Writer) *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "warm <site>",
		Short: "Harvest sessions for a site ahead of traffic",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inserted, err := g.client().Warm(commandContext(cmd), args[0], count)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(out, "harvested %d/%d session(s) for %s\n", inserted, count, args[0])
			return err
		},
	}

	cmd.Flags().IntVar(&count, "count", 1, "Number of sessions to harvest")
	return cmd
}

func newTokenCommand(g *globalFlags, out io.Writer) *cobra.Command {
	var role string

	cmd := &cobra.Command{
		Use:   "token <worker>",
		Short: "Issue a bearer token for a scraper worker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tok, err := g.client().CreateToken(commandContext(cmd), args[0], role)
			if err != nil {
				return err
			}
			return printJSON(out, tok)
		},
	}

	cmd.Flags().StringVar(&role, "role", "", "worker (default) or admin")
	return cmd
}
