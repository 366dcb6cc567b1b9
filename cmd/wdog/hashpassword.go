package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"
)

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password",
	Short: "Hash a password for [server.http] using bcrypt",
	Long:  "Read a password from the terminal, or from stdin when it is not a terminal,\nand print its bcrypt hash.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var password []byte
		fd := int(os.Stdin.Fd())
		if term.IsTerminal(fd) {
			fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
			p, err := term.ReadPassword(fd)
			fmt.Fprintln(cmd.ErrOrStderr())
			if err != nil {
				return fmt.Errorf("cannot read password: %w", err)
			}
			password = p
		} else {
			p, err := readPasswordLine(cmd.InOrStdin())
			if err != nil {
				return err
			}
			password = p
		}
		return writeHash(cmd.OutOrStdout(), password)
	},
}

func readPasswordLine(r io.Reader) ([]byte, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("cannot read password: %w", err)
	}
	return []byte(strings.TrimRight(line, "\r\n")), nil
}

func writeHash(w io.Writer, password []byte) error {
	if len(password) == 0 {
		return errors.New("empty password")
	}
	hash, err := bcrypt.GenerateFromPassword(password, bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(hash))
	return err
}

func init() {
	rootCmd.AddCommand(hashPasswordCmd)
}
