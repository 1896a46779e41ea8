package main

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/khanghh/kgate/internal/audit"
	"github.com/khanghh/kgate/internal/tenants"
	"github.com/khanghh/kgate/internal/users"
	"github.com/urfave/cli/v2"
)

var operatorFlag = &cli.StringFlag{
	Name:  "operator",
	Usage: "Operator recorded in the audit log",
	Value: "cli",
}

var emailFlag = &cli.StringFlag{
	Name:     "email",
	Usage:    "Principal email",
	Required: true,
}

var userCommand = &cli.Command{
	Name:  "user",
	Usage: "Manage principals",
	Subcommands: []*cli.Command{
		{
			Name:  "create",
			Usage: "Create a principal",
			Flags: []cli.Flag{
				emailFlag,
				&cli.StringFlag{Name: "password", Usage: "Initial password", Required: true},
				&cli.StringFlag{Name: "role", Usage: "system_owner, tenant_admin or standard", Value: "standard"},
				&cli.StringFlag{Name: "tenant", Usage: "Tenant slug, required unless system_owner"},
				&cli.BoolFlag{Name: "first-login", Usage: "Require TOTP enrollment before the first session", Value: true},
				operatorFlag,
			},
			Action: createUser,
		},
		{
			Name:   "unlock",
			Usage:  "Clear the failed attempt counter and lock",
			Flags:  []cli.Flag{emailFlag, operatorFlag},
			Action: unlockUser,
		},
		{
			Name:   "disable",
			Usage:  "Disable a principal and revoke its sessions",
			Flags:  []cli.Flag{emailFlag, operatorFlag},
			Action: disableUser,
		},
	},
}

var roleCommand = &cli.Command{
	Name:  "role",
	Usage: "Manage roles",
	Subcommands: []*cli.Command{
		{
			Name:  "add",
			Usage: "Create or replace a role and its permissions",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "key", Usage: "Role key, e.g. site_manager", Required: true},
				&cli.StringFlag{Name: "name", Usage: "Display name"},
				&cli.StringSliceFlag{Name: "permission", Usage: "Permission key <module>.<action>, repeatable"},
				&cli.StringSliceFlag{Name: "dangerous", Usage: "Permission keys flagged dangerous"},
			},
			Action: addRole,
		},
	},
}

var grantCommand = &cli.Command{
	Name:  "grant",
	Usage: "Manage role grants",
	Subcommands: []*cli.Command{
		{
			Name:  "add",
			Usage: "Grant a role to a principal at a scope",
			Flags: []cli.Flag{
				emailFlag,
				&cli.StringFlag{Name: "role", Usage: "Role key", Required: true},
				&cli.StringFlag{Name: "scope-type", Usage: "global, client, site or project", Value: "global"},
				&cli.StringFlag{Name: "scope-id", Usage: "Scope id, required unless global"},
				&cli.DurationFlag{Name: "expires-in", Usage: "Grant lifetime, zero for no expiry"},
				operatorFlag,
			},
			Action: addGrant,
		},
		{
			Name:  "revoke",
			Usage: "Deactivate a grant",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "id", Usage: "Grant id", Required: true},
				operatorFlag,
			},
			Action: revokeGrant,
		},
	},
}

var tenantCommand = &cli.Command{
	Name:  "tenant",
	Usage: "Manage tenants",
	Subcommands: []*cli.Command{
		{
			Name:  "add",
			Usage: "Register a tenant",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "slug", Usage: "Tenant slug", Required: true},
				&cli.StringFlag{Name: "name", Usage: "Display name"},
				&cli.StringFlag{Name: "domain", Usage: "Custom domain"},
				&cli.BoolFlag{Name: "demo", Usage: "Mark as a demo tenant"},
			},
			Action: addTenant,
		},
		{
			Name:   "list",
			Usage:  "List tenants",
			Action: listTenants,
		},
	},
}

var auditCommand = &cli.Command{
	Name:  "audit",
	Usage: "Inspect the audit log",
	Subcommands: []*cli.Command{
		{
			Name:  "list",
			Usage: "Show recent audit events",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "area", Usage: "auth, authz, admin or webhook"},
				&cli.IntFlag{Name: "limit", Usage: "Number of events", Value: 50},
			},
			Action: listAudit,
		},
	},
}

func createUser(ctx *cli.Context) error {
	appCtx := mustInitAppContext(ctx)
	defer appCtx.Close()

	user, err := appCtx.userService.CreateUser(ctx.Context, users.CreateUserOptions{
		Email:      ctx.String("email"),
		Password:   ctx.String("password"),
		Role:       ctx.String("role"),
		TenantID:   ctx.String("tenant"),
		FirstLogin: ctx.Bool("first-login"),
	})
	if err != nil {
		return err
	}
	appCtx.auditLogger.Record(ctx.Context, audit.Event{
		Actor:   ctx.String(operatorFlag.Name),
		Area:    audit.AreaAdmin,
		Action:  audit.ActionPrincipalCreated,
		Details: map[string]any{"principal": user.ID, "email": user.Email, "role": user.Role, "tenant": user.TenantID},
	})
	fmt.Printf("Created principal %d (%s)\n", user.ID, user.Email)
	return nil
}

func unlockUser(ctx *cli.Context) error {
	appCtx := mustInitAppContext(ctx)
	defer appCtx.Close()
	if err := appCtx.loginService.Unlock(ctx.Context, ctx.String("email"), ctx.String(operatorFlag.Name)); err != nil {
		return err
	}
	fmt.Println("Unlocked", ctx.String("email"))
	return nil
}

func disableUser(ctx *cli.Context) error {
	appCtx := mustInitAppContext(ctx)
	defer appCtx.Close()
	revoked, err := appCtx.loginService.DisablePrincipal(ctx.Context, ctx.String("email"), ctx.String(operatorFlag.Name))
	if err != nil {
		return err
	}
	fmt.Printf("Disabled %s, revoked %d sessions\n", ctx.String("email"), revoked)
	return nil
}

func addRole(ctx *cli.Context) error {
	appCtx := mustInitAppContext(ctx)
	defer appCtx.Close()

	dangerous := make(map[string]bool)
	for _, perm := range ctx.StringSlice("dangerous") {
		dangerous[perm] = true
	}
	name := ctx.String("name")
	if name == "" {
		name = ctx.String("key")
	}
	role, err := appCtx.userService.UpsertRole(ctx.Context, ctx.String("key"), name, ctx.StringSlice("permission"), dangerous)
	if err != nil {
		return err
	}
	fmt.Printf("Saved role %s with %d permissions\n", role.Key, len(role.Permissions))
	return nil
}

func addGrant(ctx *cli.Context) error {
	appCtx := mustInitAppContext(ctx)
	defer appCtx.Close()

	user, err := appCtx.userService.GetUserByEmail(ctx.Context, ctx.String("email"))
	if err != nil {
		return err
	}
	opts := users.GrantRoleOptions{
		UserID:    user.ID,
		RoleKey:   ctx.String("role"),
		ScopeType: ctx.String("scope-type"),
		ScopeID:   ctx.String("scope-id"),
	}
	if expiresIn := ctx.Duration("expires-in"); expiresIn > 0 {
		expiresAt := time.Now().Add(expiresIn)
		opts.ExpiresAt = &expiresAt
	}
	grant, err := appCtx.userService.GrantRole(ctx.Context, opts)
	if err != nil {
		return err
	}
	appCtx.auditLogger.Record(ctx.Context, audit.Event{
		Actor:  ctx.String(operatorFlag.Name),
		Area:   audit.AreaAdmin,
		Action: audit.ActionGrantAdded,
		Details: map[string]any{
			"grant":     grant.ID,
			"principal": user.ID,
			"role":      grant.RoleKey,
			"scopeType": grant.ScopeType,
			"scopeId":   grant.ScopeID,
		},
	})
	fmt.Println("Created grant", grant.ID)
	return nil
}

func revokeGrant(ctx *cli.Context) error {
	appCtx := mustInitAppContext(ctx)
	defer appCtx.Close()
	if err := appCtx.userService.RevokeGrant(ctx.Context, ctx.String("id")); err != nil {
		return err
	}
	appCtx.auditLogger.Record(ctx.Context, audit.Event{
		Actor:   ctx.String(operatorFlag.Name),
		Area:    audit.AreaAdmin,
		Action:  audit.ActionGrantRevoked,
		Details: map[string]any{"grant": ctx.String("id")},
	})
	fmt.Println("Revoked grant", ctx.String("id"))
	return nil
}

func addTenant(ctx *cli.Context) error {
	appCtx := mustInitAppContext(ctx)
	defer appCtx.Close()
	tenant, err := appCtx.directory.CreateTenant(ctx.Context, tenants.CreateTenantOptions{
		Slug:         ctx.String("slug"),
		Name:         ctx.String("name"),
		CustomDomain: ctx.String("domain"),
		IsDemo:       ctx.Bool("demo"),
	})
	if err != nil {
		return err
	}
	fmt.Println("Created tenant", tenant.Slug)
	return nil
}

func listTenants(ctx *cli.Context) error {
	appCtx := mustInitAppContext(ctx)
	defer appCtx.Close()
	list, err := appCtx.directory.ListTenants(ctx.Context)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SLUG\tNAME\tDOMAIN\tDEMO\tDISABLED")
	for _, t := range list {
		domain := "-"
		if t.CustomDomain != nil {
			domain = *t.CustomDomain
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%t\n", t.Slug, t.Name, domain, t.IsDemo, t.Disabled)
	}
	return w.Flush()
}

func listAudit(ctx *cli.Context) error {
	appCtx := mustInitAppContext(ctx)
	defer appCtx.Close()
	events, err := appCtx.auditRepo.ListRecent(ctx.Context, ctx.String("area"), ctx.Int("limit"))
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTIME\tAREA\tACTION\tACTOR\tREASON\tIP")
	for _, e := range events {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			strconv.FormatUint(e.ID, 10), e.CreatedAt.Format(time.RFC3339), e.Area, e.Action, e.Actor, e.Reason, e.IP)
	}
	return w.Flush()
}
