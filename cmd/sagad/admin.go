package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quiby-ai/ordersaga/pkg/admin"
	"github.com/quiby-ai/ordersaga/pkg/config"
)

var sensitiveKeys = []string{"secret", "password", "dsn"}

func newAdminCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Operator tooling",
	}
	cmd.AddCommand(newAdminTokenCmd(opts), newAdminConfigCmd(opts))
	return cmd
}

func newAdminTokenCmd(opts *rootOptions) *cobra.Command {
	var operator string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an operator token for the admin API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			token, err := admin.IssueOperatorToken(operator, jwtConfig(cfg.Admin))
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVar(&operator, "operator", "", "operator name recorded in the token")
	_ = cmd.MarkFlagRequired("operator")
	return cmd
}

func newAdminConfigCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the merged configuration with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			l := config.NewLoader()
			if _, err := l.Load(opts.configPath); err != nil {
				return err
			}
			_, err := fmt.Fprint(cmd.OutOrStdout(), maskSecrets(l.Print()))
			return err
		},
	}
}

// maskSecrets rewrites "key -> value" lines whose key names a credential.
func maskSecrets(dump string) string {
	lines := strings.Split(dump, "\n")
	for i, line := range lines {
		key, value, ok := strings.Cut(line, " -> ")
		if !ok || value == "" {
			continue
		}
		for _, s := range sensitiveKeys {
			if strings.Contains(strings.ToLower(key), s) {
				lines[i] = key + " -> [REDACTED]"
				break
			}
		}
	}
	return strings.Join(lines, "\n")
}
