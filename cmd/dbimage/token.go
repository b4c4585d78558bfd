package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"dbimage/internal/auth"
)

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage the upload token",
	}
	cmd.AddCommand(newTokenHashCmd(), newTokenGenerateCmd())
	return cmd
}

func newTokenHashCmd() *cobra.Command {
	var fromStdin bool

	cmd := &cobra.Command{
		Use:   "hash [token]",
		Short: "Print the bcrypt hash to store as uploads.token_hash",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var token string
			switch {
			case fromStdin:
				line, err := bufio.NewReader(os.Stdin).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read token from stdin: %w", err)
				}
				token = strings.TrimRight(line, "\r\n")
			case len(args) == 1:
				token = args[0]
			default:
				return fmt.Errorf("token argument or --stdin is required")
			}

			hash, err := auth.HashToken(token)
			if err != nil {
				return err
			}
			return writePlain("%s\n", hash)
		},
	}

	cmd.Flags().BoolVar(&fromStdin, "stdin", false, "read the token from stdin")
	return cmd
}

func newTokenGenerateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "generate",
		Short: "Generate a random upload token and its hash",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := auth.GenerateToken()
			if err != nil {
				return err
			}
			hash, err := auth.HashToken(token)
			if err != nil {
				return err
			}
			if structuredOutput {
				return writeStructured(map[string]string{"token": token, "token_hash": hash})
			}
			return writePlain("token: %s\ntoken_hash: %s\n", token, hash)
		},
	}
}
