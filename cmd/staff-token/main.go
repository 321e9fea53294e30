// staff-token issues a signed JWT for a gate kiosk or an operator.  The
// secret is read from JWT_SECRET (a .env file is honoured) unless --secret
// is given.
//
//	staff-token --sub kiosk-somnath-1 --role GATEKEEPER --ttl 720h
package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/iliyamo/temple-admission/internal/middleware"
	"github.com/iliyamo/temple-admission/internal/utils"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	_ = godotenv.Load()

	var (
		sub, role, secret string
		ttl               time.Duration
	)
	fs := pflag.NewFlagSet("staff-token", pflag.ContinueOnError)
	fs.StringVar(&sub, "sub", "", "staff or device identifier (required)")
	fs.StringVar(&role, "role", middleware.RoleGatekeeper, "GATEKEEPER or ADMIN")
	fs.DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	fs.StringVar(&secret, "secret", os.Getenv("JWT_SECRET"), "signing secret (default $JWT_SECRET)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	role = strings.ToUpper(role)
	if sub == "" {
		return errors.New("--sub is required")
	}
	if role != middleware.RoleGatekeeper && role != middleware.RoleAdmin {
		return fmt.Errorf("unknown role %q", role)
	}
	if ttl <= 0 {
		return errors.New("--ttl must be positive")
	}

	tok, err := utils.NewAccessToken(secret, sub, role, ttl)
	if err != nil {
		return err
	}
	fmt.Println(tok.Token)
	fmt.Fprintf(os.Stderr, "expires %s\n", tok.Exp.Format(time.RFC3339))
	return nil
}
