package main

import (
	"flag"
	"fmt"

	"github.com/EternisAI/wg-provisioner/internal/auth"
)

// runToken prints a bearer token for the operator API signed with http.jwt.secret.
func runToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	operator := fs.String("operator", "", "Operator name recorded in the token")
	ttl := fs.Duration("ttl", 0, "Token lifetime (defaults to http.jwt.ttl)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *operator == "" {
		return fmt.Errorf("--operator is required")
	}

	cfg := config.Http.JWT
	if *ttl > 0 {
		cfg.TTL = *ttl
	}
	token, err := auth.GenerateToken(cfg, *operator, auth.RoleOperator)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
