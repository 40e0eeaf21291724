package main

import (
	"fmt"
	"time"

	"vendorbox/internal/auth"
	"vendorbox/internal/model"

	"github.com/spf13/cobra"
)

var (
	tokenUser   string
	tokenRole   string
	tokenVendor string
	tokenTTL    time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a signed access token",
	Long:  `Issue an HS256 token signed with the configured jwt_secret, for local testing and service accounts.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		jwtConfig := auth.NewJWTConfig(cfg.JWTSecret, false)
		token, err := jwtConfig.Issue(auth.Principal{
			UserID:   tokenUser,
			Role:     model.Role(tokenRole),
			VendorID: tokenVendor,
		}, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenUser, "user", "", "user id (sub claim)")
	tokenCmd.Flags().StringVar(&tokenRole, "role", string(model.RoleAdmin), "admin, agent, employee or vendor")
	tokenCmd.Flags().StringVar(&tokenVendor, "vendor", "", "vendor id for vendor-role tokens")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
	_ = tokenCmd.MarkFlagRequired("user")
}
