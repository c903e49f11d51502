package main

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/cobra"

	"github.com/tphan267/pulse-relay/pkg/core"
	"github.com/tphan267/pulse-relay/pkg/utils"
)

var (
	password string
	quiet    bool
)

var loginCmd = &cobra.Command{
	Use:   "login <username>",
	Short: "Log in and print a session token",
	Long: `Log in with a username and password and print the session token.

Examples:
  relay-probe login alice -p secret
  export PULSE_TOKEN=$(relay-probe login alice -p secret -q)`,
	Args: cobra.ExactArgs(1),
	RunE: runLogin,
}

func init() {
	loginCmd.Flags().StringVarP(&password, "password", "p", utils.Env("PULSE_PASSWORD", ""), "Password (or PULSE_PASSWORD)")
	loginCmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Print only the token")
	rootCmd.AddCommand(loginCmd)
}

func runLogin(cmd *cobra.Command, args []string) error {
	if password == "" {
		return errors.New("password is required")
	}

	a := fiber.Post(endpoint("/api/login")).JSON(core.LoginRequest{
		Username: args[0],
		Password: password,
	})
	resp, err := do[core.LoginResponse](a)
	if err != nil {
		return err
	}

	if quiet {
		fmt.Println(resp.Token)
		return nil
	}
	printSuccess(fmt.Sprintf("Logged in as %s (%s)", resp.User.Name(), resp.User.Role))
	printInfof("Session expires %s", resp.ExpiresAt.Local().Format("2006-01-02 15:04"))
	fmt.Println(resp.Token)
	return nil
}
