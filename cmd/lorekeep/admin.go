package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/lorekeep/lorekeep/internal/domain"
)

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
	}

	var email string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			s, _, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			u, err := s.CreateUser(ctx, email)
			if err != nil {
				return err
			}
			return printJSON(u)
		},
	}
	create.Flags().StringVar(&email, "email", "", "User email")
	create.MarkFlagRequired("email")

	get := &cobra.Command{
		Use:   "get <user-id-or-email>",
		Short: "Show a user by ID or email",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			s, _, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			var u *domain.User
			if id, err := uuid.Parse(args[0]); err == nil {
				u, err = s.GetUser(ctx, id)
				if err != nil {
					return err
				}
			} else {
				u, err = s.GetUserByEmail(ctx, args[0])
				if err != nil {
					return err
				}
			}
			return printJSON(u)
		},
	}

	cmd.AddCommand(create, get)
	return cmd
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants and their memberships",
	}

	var name string
	var ownerID string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a tenant owned by a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			owner, err := uuid.Parse(ownerID)
			if err != nil {
				return fmt.Errorf("parse owner id: %w", err)
			}
			engine, s, err := openEngine(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			t, err := engine.CreateTenant(ctx, name, owner)
			if err != nil {
				return err
			}
			return printJSON(t)
		},
	}
	create.Flags().StringVar(&name, "name", "", "Tenant name")
	create.Flags().StringVar(&ownerID, "owner", "", "Owner user ID")
	create.MarkFlagRequired("name")
	create.MarkFlagRequired("owner")

	get := &cobra.Command{
		Use:   "get <tenant-id-or-name>",
		Short: "Show a tenant by ID or name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			s, _, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			var t *domain.Tenant
			if id, err := uuid.Parse(args[0]); err == nil {
				t, err = s.GetTenant(ctx, id)
				if err != nil {
					return err
				}
			} else {
				t, err = s.GetTenantByName(ctx, args[0])
				if err != nil {
					return err
				}
			}
			return printJSON(t)
		},
	}

	addUser := membershipCmd("add-user", "Add a user to a tenant",
		func(ctx context.Context, userID, tenantID, requesterID uuid.UUID) error {
			engine, s, err := openEngine(ctx)
			if err != nil {
				return err
			}
			defer s.Close()
			return engine.AddUserToTenant(ctx, userID, tenantID, requesterID)
		})

	removeUser := membershipCmd("remove-user", "Remove a user from a tenant",
		func(ctx context.Context, userID, tenantID, requesterID uuid.UUID) error {
			engine, s, err := openEngine(ctx)
			if err != nil {
				return err
			}
			defer s.Close()
			return engine.RemoveUserFromTenant(ctx, userID, tenantID, requesterID)
		})

	cmd.AddCommand(create, get, addUser, removeUser)
	return cmd
}

// membershipCmd builds a tenant membership subcommand with the shared
// --user/--tenant/--requester flag set.
func membershipCmd(use, short string, run func(ctx context.Context, userID, tenantID, requesterID uuid.UUID) error) *cobra.Command {
	var userID, tenantID, requesterID string
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			uid, err := uuid.Parse(userID)
			if err != nil {
				return fmt.Errorf("parse user id: %w", err)
			}
			tid, err := uuid.Parse(tenantID)
			if err != nil {
				return fmt.Errorf("parse tenant id: %w", err)
			}
			rid, err := uuid.Parse(requesterID)
			if err != nil {
				return fmt.Errorf("parse requester id: %w", err)
			}
			if err := run(context.Background(), uid, tid, rid); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User ID")
	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant ID")
	cmd.Flags().StringVar(&requesterID, "requester", "", "Requesting user ID")
	cmd.MarkFlagRequired("user")
	cmd.MarkFlagRequired("tenant")
	cmd.MarkFlagRequired("requester")
	return cmd
}

func roleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "role",
		Short: "Manage roles within a tenant",
	}

	var name, tenantID, requesterID string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a role in a tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			tid, err := uuid.Parse(tenantID)
			if err != nil {
				return fmt.Errorf("parse tenant id: %w", err)
			}
			rid, err := uuid.Parse(requesterID)
			if err != nil {
				return fmt.Errorf("parse requester id: %w", err)
			}
			engine, s, err := openEngine(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			r, err := engine.CreateRole(ctx, name, tid, rid)
			if err != nil {
				return err
			}
			return printJSON(r)
		},
	}
	create.Flags().StringVar(&name, "name", "", "Role name")
	create.Flags().StringVar(&tenantID, "tenant", "", "Tenant ID")
	create.Flags().StringVar(&requesterID, "requester", "", "Requesting user ID")
	create.MarkFlagRequired("name")
	create.MarkFlagRequired("tenant")
	create.MarkFlagRequired("requester")

	var addUserID, addRoleID, addRequesterID string
	addUser := &cobra.Command{
		Use:   "add-user",
		Short: "Add a tenant member to a role",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			uid, err := uuid.Parse(addUserID)
			if err != nil {
				return fmt.Errorf("parse user id: %w", err)
			}
			roleID, err := uuid.Parse(addRoleID)
			if err != nil {
				return fmt.Errorf("parse role id: %w", err)
			}
			rid, err := uuid.Parse(addRequesterID)
			if err != nil {
				return fmt.Errorf("parse requester id: %w", err)
			}
			engine, s, err := openEngine(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := engine.AddUserToRole(ctx, uid, roleID, rid); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		},
	}
	addUser.Flags().StringVar(&addUserID, "user", "", "User ID")
	addUser.Flags().StringVar(&addRoleID, "role", "", "Role ID")
	addUser.Flags().StringVar(&addRequesterID, "requester", "", "Requesting user ID")
	addUser.MarkFlagRequired("user")
	addUser.MarkFlagRequired("role")
	addUser.MarkFlagRequired("requester")

	var rmUserID, rmRoleID, rmTenantID, rmRequesterID string
	removeUser := &cobra.Command{
		Use:   "remove-user",
		Short: "Remove a user from a role",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			uid, err := uuid.Parse(rmUserID)
			if err != nil {
				return fmt.Errorf("parse user id: %w", err)
			}
			roleID, err := uuid.Parse(rmRoleID)
			if err != nil {
				return fmt.Errorf("parse role id: %w", err)
			}
			tid, err := uuid.Parse(rmTenantID)
			if err != nil {
				return fmt.Errorf("parse tenant id: %w", err)
			}
			rid, err := uuid.Parse(rmRequesterID)
			if err != nil {
				return fmt.Errorf("parse requester id: %w", err)
			}
			engine, s, err := openEngine(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := engine.RemoveUserFromRole(ctx, tid, uid, roleID, rid); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		},
	}
	removeUser.Flags().StringVar(&rmUserID, "user", "", "User ID")
	removeUser.Flags().StringVar(&rmRoleID, "role", "", "Role ID")
	removeUser.Flags().StringVar(&rmTenantID, "tenant", "", "Tenant ID")
	removeUser.Flags().StringVar(&rmRequesterID, "requester", "", "Requesting user ID")
	removeUser.MarkFlagRequired("user")
	removeUser.MarkFlagRequired("role")
	removeUser.MarkFlagRequired("tenant")
	removeUser.MarkFlagRequired("requester")

	cmd.AddCommand(create, addUser, removeUser)
	return cmd
}

func grantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Grant dataset permissions",
	}

	var principalID, permission string
	var datasetIDs []string
	permCmd := &cobra.Command{
		Use:   "permission",
		Short: "Grant a permission on datasets to a principal",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			pid, err := uuid.Parse(principalID)
			if err != nil {
				return fmt.Errorf("parse principal id: %w", err)
			}
			ids := make([]uuid.UUID, 0, len(datasetIDs))
			for _, raw := range datasetIDs {
				id, err := uuid.Parse(raw)
				if err != nil {
					return fmt.Errorf("parse dataset id %q: %w", raw, err)
				}
				ids = append(ids, id)
			}
			engine, s, err := openEngine(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := engine.GivePermission(ctx, pid, ids, domain.Permission(permission)); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		},
	}
	permCmd.Flags().StringVar(&principalID, "principal", "", "Principal ID (user, role or tenant)")
	permCmd.Flags().StringSliceVar(&datasetIDs, "dataset", nil, "Dataset ID (repeatable)")
	permCmd.Flags().StringVar(&permission, "permission", "", "Permission name (read, write, share, delete)")
	permCmd.MarkFlagRequired("principal")
	permCmd.MarkFlagRequired("dataset")
	permCmd.MarkFlagRequired("permission")

	var rvPrincipalID, rvPermission string
	var rvDatasetIDs []string
	revokeCmd := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke a permission on datasets from a principal",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			pid, err := uuid.Parse(rvPrincipalID)
			if err != nil {
				return fmt.Errorf("parse principal id: %w", err)
			}
			ids := make([]uuid.UUID, 0, len(rvDatasetIDs))
			for _, raw := range rvDatasetIDs {
				id, err := uuid.Parse(raw)
				if err != nil {
					return fmt.Errorf("parse dataset id %q: %w", raw, err)
				}
				ids = append(ids, id)
			}
			engine, s, err := openEngine(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := engine.RevokePermission(ctx, pid, ids, domain.Permission(rvPermission)); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		},
	}
	revokeCmd.Flags().StringVar(&rvPrincipalID, "principal", "", "Principal ID (user, role or tenant)")
	revokeCmd.Flags().StringSliceVar(&rvDatasetIDs, "dataset", nil, "Dataset ID (repeatable)")
	revokeCmd.Flags().StringVar(&rvPermission, "permission", "", "Permission name (read, write, share, delete)")
	revokeCmd.MarkFlagRequired("principal")
	revokeCmd.MarkFlagRequired("dataset")
	revokeCmd.MarkFlagRequired("permission")

	var scope, scopeID, defPermission string
	defaultCmd := &cobra.Command{
		Use:   "default",
		Short: "Record a default permission applied to future datasets",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			sid, err := uuid.Parse(scopeID)
			if err != nil {
				return fmt.Errorf("parse scope id: %w", err)
			}
			engine, s, err := openEngine(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			err = engine.GiveDefaultPermission(ctx, domain.DefaultPermissionScope(scope), sid, domain.Permission(defPermission))
			if err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		},
	}
	defaultCmd.Flags().StringVar(&scope, "scope", "", "Scope kind (user, role, tenant)")
	defaultCmd.Flags().StringVar(&scopeID, "scope-id", "", "Scope principal ID")
	defaultCmd.Flags().StringVar(&defPermission, "permission", "", "Permission name")
	defaultCmd.MarkFlagRequired("scope")
	defaultCmd.MarkFlagRequired("scope-id")
	defaultCmd.MarkFlagRequired("permission")

	cmd.AddCommand(permCmd, revokeCmd, defaultCmd)
	return cmd
}
