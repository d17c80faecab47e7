package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"gsraster/pkg/auth"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an API bearer token signed with the server's JWT secret",
	Long: `Print a bearer token for the gsraster API. The secret must match the
server's JWT_SECRET; use it to bootstrap the first admin, who can then create
API keys and further tokens over the API.

  GSRASTER_JWT_SECRET=... gsbatch token --principal ops --role admin`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return mintToken(cmd.OutOrStdout(),
			viper.GetString("jwt-secret"),
			viper.GetString("principal"),
			auth.Role(viper.GetString("role")),
			viper.GetDuration("expiry"),
		)
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)

	flags := tokenCmd.Flags()
	flags.String("jwt-secret", "", "HS256 secret shared with the API server")
	flags.String("principal", "", "identity the token is issued to")
	flags.String("role", string(auth.RoleAdmin), "admin, submitter or viewer")
	flags.Duration("expiry", 24*time.Hour, "token lifetime")

	for _, name := range []string{"jwt-secret", "principal", "role", "expiry"} {
		viper.BindPFlag(name, flags.Lookup(name))
	}
}

func mintToken(out io.Writer, secret, principal string, role auth.Role, expiry time.Duration) error {
	if principal == "" {
		return fmt.Errorf("--principal is required")
	}
	if !role.Valid() {
		return fmt.Errorf("unknown role %q", role)
	}

	cfg := auth.DefaultJWTConfig()
	cfg.SecretKey = secret
	cfg.TokenExpiry = expiry
	svc, err := auth.NewJWTService(cfg)
	if err != nil {
		return err
	}

	token, err := svc.GenerateToken(principal, role)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, token)
	return nil
}
