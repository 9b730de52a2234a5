package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/psantana5/governor/internal/policy"
)

func newConfigCommand() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect governor configuration",
	}
	cfg.AddCommand(newConfigExampleCommand())
	cfg.AddCommand(newConfigValidateCommand())
	return cfg
}

func newConfigExampleCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "example",
		Short: "Print an annotated example config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprint(cmd.OutOrStdout(), policy.ExampleConfig)
			return err
		},
	}
}

func newConfigValidateCommand() *cobra.Command {
	validate := &cobra.Command{
		Use:   "validate",
		Short: "Resolve file, environment and flags, then print the effective policy",
		Long: `Validate layers the config file, GOVERNOR_* environment variables and
flags exactly as a run would, reports the first problem found and otherwise
prints the effective policy as YAML.

Example:
  governor config validate --config /etc/governor/config.yaml
  governor config validate --max-rss 512 --wrapper`,
		Args: cobra.NoArgs,
		RunE: runConfigValidate,
	}
	validate.Flags().Bool("wrapper", false, "validate for wrapper mode, where selectors are optional")
	return validate
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	wrapped, _ := cmd.Flags().GetBool("wrapper")

	p, path, err := resolvePolicy(cmd.Flags(), newEnv())
	if err != nil {
		return configError(err)
	}
	if err := p.Validate(wrapped); err != nil {
		return configError(err)
	}

	out, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode policy: %w", err)
	}

	w := cmd.OutOrStdout()
	if path != "" {
		fmt.Fprintf(w, "# source: %s\n", path)
	}
	fmt.Fprintln(w, "# configuration valid")
	_, err = w.Write(out)
	return err
}
