package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kanekikun07/shiny-bassoon/internal/config"
	"github.com/kanekikun07/shiny-bassoon/internal/credentials"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := newRootCommand(config.Defaults()).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand(opts config.Options) *cobra.Command {
	o := &opts
	var configFile string

	cmd := &cobra.Command{
		Use:           "proxy-relay",
		Short:         "Authenticated HTTP and SOCKS5 relay through upstream HTTP proxies",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.ApplyFile(cmd.Flags(), configFile, o); err != nil {
				return err
			}
			return o.Validate()
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), o, cmd.ErrOrStderr())
		},
	}

	fs := cmd.PersistentFlags()
	fs.SortFlags = false
	fs.StringVar(&configFile, "config", config.GetStringEnv(config.EnvPrefix+"CONFIG", ""), "YAML file with option defaults. Flags set on the command line take precedence.")
	config.BindFlags(fs, o)

	cmd.AddCommand(newCredentialsCommand(o), newVersionCommand())
	return cmd
}

func newCredentialsCommand(o *config.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "credentials",
		Short: "Print the per-user proxy URLs for the configured upstream list",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ups, rejected, err := upstreamsFrom(o.UpstreamsFile)
			for _, r := range rejected {
				fmt.Fprintf(cmd.ErrOrStderr(), "skipping line %d %q: %s\n", r.Line, r.Entry, r.Reason)
			}
			if err != nil {
				return err
			}
			for _, line := range credentials.Sheet(credentials.Generate(ups), ups) {
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return nil
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		// No options are needed to print the version.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}
