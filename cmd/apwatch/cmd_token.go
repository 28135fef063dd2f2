package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/HerbHall/apwatch/internal/auth"
	"github.com/HerbHall/apwatch/internal/config"
)

// runToken mints a bearer token signed with auth.jwt_secret.
func runToken(args []string) int {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	configPath := fs.String("config", "", "path to configuration file")
	subject := fs.String("subject", "admin", "token subject")
	role := fs.String("role", string(auth.RoleOperator), "token role (operator or viewer)")
	_ = fs.Parse(args)

	v, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		return 1
	}
	if err := mintToken(os.Stdout, []byte(v.GetString("auth.jwt_secret")), v.GetDuration("auth.token_ttl"), *subject, *role); err != nil {
		fmt.Fprintf(os.Stderr, "token: %v\n", err)
		return 1
	}
	return 0
}

func mintToken(out io.Writer, secret []byte, ttl time.Duration, subject, roleName string) error {
	role, err := auth.ParseRole(roleName)
	if err != nil {
		return err
	}
	tokens, err := auth.NewTokenService(secret, ttl)
	if err != nil {
		return fmt.Errorf("%w: set auth.jwt_secret", err)
	}
	token, err := tokens.Issue(subject, role)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, token)
	return err
}
