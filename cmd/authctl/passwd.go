package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"
)

var passwdCost int

var passwdCmd = &cobra.Command{
	Use:   "passwd",
	Short: "Print a bcrypt hash for a realms file password_hash entry",
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := promptPassword(cmd, "Password: ")
		if err != nil {
			return err
		}
		if password == "" {
			return errors.New("password must not be empty")
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(password), passwdCost)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(hash))
		return nil
	},
}

func init() {
	passwdCmd.Flags().IntVar(&passwdCost, "cost", bcrypt.DefaultCost, "bcrypt cost")
}

// promptPassword reads without echo from a terminal, or one line from piped stdin.
func promptPassword(cmd *cobra.Command, prompt string) (string, error) {
	in := cmd.InOrStdin()
	fd := int(os.Stdin.Fd())
	if in == os.Stdin && term.IsTerminal(fd) {
		fmt.Fprint(cmd.ErrOrStderr(), prompt)
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
