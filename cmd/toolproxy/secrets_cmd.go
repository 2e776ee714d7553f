package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/mfgintel/toolproxy/internal/secret"
)

// keyringStore is replaced in tests
var keyringStore secret.Store = secret.NewKeyringProvider(secret.ServiceName)

func newSecretsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Manage credentials referenced as ${keyring:NAME} in the config file",
	}

	setCmd := &cobra.Command{
		Use:   "set NAME",
		Short: "Store a secret in the OS keyring (value read from the terminal or stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := readSecretValue(cmd)
			if err != nil {
				return err
			}
			if value == "" {
				return errors.New("secret value is empty")
			}
			if err := keyringStore.Set(cmd.Context(), args[0], value); err != nil {
				return fmt.Errorf("failed to store secret %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stored secret %s; reference it as ${keyring:%s}\n", args[0], args[0])
			return nil
		},
	}

	getCmd := &cobra.Command{
		Use:   "get NAME",
		Short: "Show a masked secret from the OS keyring",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := keyringStore.Resolve(cmd.Context(), secret.Ref{Type: secret.TypeKeyring, Name: args[0]})
			if err != nil {
				return fmt.Errorf("failed to read secret %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", args[0], secret.Mask(value))
			return nil
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete NAME",
		Short: "Remove a secret from the OS keyring",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := keyringStore.Delete(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("failed to delete secret %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted secret %s\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(setCmd, getCmd, deleteCmd)
	return cmd
}

// readSecretValue prompts without echo on a terminal, otherwise reads the first line of stdin
func readSecretValue(cmd *cobra.Command) (string, error) {
	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(cmd.ErrOrStderr(), "Secret value: ")
		raw, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("failed to read secret: %w", err)
		}
		return string(raw), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read secret: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
