package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/lorekeep/lorekeep/internal/accesscontrol"
	"github.com/lorekeep/lorekeep/internal/domain"
	"github.com/lorekeep/lorekeep/internal/identity"
)

func provisionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dataset",
		Short: "Provision and release per-dataset storage",
	}

	var userID, tenantID string
	markFlags := func(c *cobra.Command) {
		c.Flags().StringVar(&userID, "user", "", "Owning user ID")
		c.Flags().StringVar(&tenantID, "tenant", "", "Tenant context ID (optional)")
		c.MarkFlagRequired("user")
	}
	parseOwner := func() (domain.Owner, error) {
		uid, err := uuid.Parse(userID)
		if err != nil {
			return domain.Owner{}, fmt.Errorf("parse user id: %w", err)
		}
		owner := domain.Owner{UserID: uid}
		if tenantID != "" {
			tid, err := uuid.Parse(tenantID)
			if err != nil {
				return domain.Owner{}, fmt.Errorf("parse tenant id: %w", err)
			}
			owner.TenantID = &tid
		}
		return owner, nil
	}

	provisionSub := &cobra.Command{
		Use:   "provision <name-or-id>",
		Short: "Get or create the dataset's storage pair",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			owner, err := parseOwner()
			if err != nil {
				return err
			}
			s, cfg, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			resolver := identity.NewResolver(s)
			provisioner, err := buildProvisioner(s, resolver, accesscontrol.NewEngine(s, resolver), cfg)
			if err != nil {
				return err
			}
			rec, err := provisioner.GetOrCreate(ctx, args[0], owner)
			if err != nil {
				return err
			}
			return printJSON(rec)
		},
	}
	markFlags(provisionSub)

	releaseSub := &cobra.Command{
		Use:   "release <name-or-id>",
		Short: "Tear down the dataset's storage pair",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			owner, err := parseOwner()
			if err != nil {
				return err
			}
			s, cfg, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			resolver := identity.NewResolver(s)
			provisioner, err := buildProvisioner(s, resolver, accesscontrol.NewEngine(s, resolver), cfg)
			if err != nil {
				return err
			}
			if err := provisioner.Release(ctx, args[0], owner); err != nil {
				return err
			}
			fmt.Println("released")
			return nil
		},
	}
	markFlags(releaseSub)

	cmd.AddCommand(provisionSub, releaseSub)
	return cmd
}
