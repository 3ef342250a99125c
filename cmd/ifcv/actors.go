package main

import (
	"context"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"ifcvalidation/internal/app"
	"ifcvalidation/internal/engine"
	"ifcvalidation/internal/obfuscate"
)

type actorView struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	IsActive bool   `json:"is_active"`
	Created  string `json:"created"`
}

func actorCmd() *cobra.Command {
	act := &cobra.Command{Use: "actor", Short: "Manage the users changes are attributed to"}
	act.AddCommand(actorBootstrapCmd())
	act.AddCommand(actorCreateCmd())
	act.AddCommand(actorListCmd())
	act.AddCommand(actorWhoamiCmd())
	act.AddCommand(actorSetActiveCmd("activate", true))
	act.AddCommand(actorSetActiveCmd("deactivate", false))
	return act
}

func actorBootstrapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bootstrap",
		Short: "Create the system actor if it does not exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := e.EnsureUser(ctx, e.Config.Actor.System)
				if err != nil {
					return err
				}
				return printJSONOrTable(actorView{
					ID:       publicID(e, obfuscate.ActorKind, u.ID),
					Username: u.Username,
					IsActive: u.IsActive,
					Created:  u.Created.UTC().Format("2006-01-02T15:04:05Z07:00"),
				})
			})
		},
	}
}

func actorCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create <username>",
		Short: "Create an actor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := e.CreateUser(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(actorView{
					ID:       publicID(e, obfuscate.ActorKind, u.ID),
					Username: u.Username,
					IsActive: u.IsActive,
					Created:  u.Created.UTC().Format("2006-01-02T15:04:05Z07:00"),
				})
			})
		},
	}
}

func actorListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List actors",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				users, err := e.Repo.ListUsers(ctx)
				if err != nil {
					return err
				}
				views := make([]actorView, 0, len(users))
				for _, u := range users {
					views = append(views, actorView{
						ID:       publicID(e, obfuscate.ActorKind, u.ID),
						Username: u.Username,
						IsActive: u.IsActive,
						Created:  u.Created.UTC().Format("2006-01-02T15:04:05Z07:00"),
					})
				}
				if viper.GetBool("json") {
					return printJSON(views)
				}
				tw := newTable(table.Row{"ID", "Username", "Active", "Created"})
				for _, v := range views {
					tw.AppendRow(table.Row{v.ID, v.Username, v.IsActive, v.Created})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func actorWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the actor commands run as",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ref := viper.GetString("actor-id")
				if ref == "" {
					ref = e.Config.Actor.System
				}
				u, err := app.ResolveUser(ctx, e.Repo, e.IDs, ref)
				if err != nil {
					return err
				}
				return printJSONOrLine(map[string]any{
					"id":        publicID(e, obfuscate.ActorKind, u.ID),
					"username":  u.Username,
					"is_active": u.IsActive,
				}, fmt.Sprintf("%s (%s)", u.Username, publicID(e, obfuscate.ActorKind, u.ID)))
			})
		},
	}
}

func actorSetActiveCmd(use string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <actor>",
		Short: fmt.Sprintf("Mark an actor %sd", use),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := app.ResolveUser(ctx, e.Repo, e.IDs, args[0])
				if err != nil {
					return err
				}
				if err := e.SetUserActive(ctx, u.ID, active); err != nil {
					return err
				}
				fmt.Printf("%s %sd\n", u.Username, use)
				return nil
			})
		},
	}
}

func apiKeyCmd() *cobra.Command {
	keys := &cobra.Command{Use: "apikey", Short: "Manage API keys for the HTTP server"}
	keys.AddCommand(apiKeyCreateCmd())
	keys.AddCommand(apiKeyListCmd())
	keys.AddCommand(apiKeyRevokeCmd())
	return keys
}

func apiKeyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create <actor>",
		Short: "Issue an API key for an actor; the key is shown once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := app.ResolveUser(ctx, e.Repo, e.IDs, args[0])
				if err != nil {
					return err
				}
				plain, key, err := e.CreateAPIKey(ctx, u.ID, name)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"id":       key.ID,
					"actor_id": publicID(e, obfuscate.ActorKind, u.ID),
					"name":     key.Name,
					"key":      plain,
				})
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "label for the key")
	return cmd
}

func apiKeyListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <actor>",
		Short: "List an actor's API keys",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := app.ResolveUser(ctx, e.Repo, e.IDs, args[0])
				if err != nil {
					return err
				}
				keys, err := e.Repo.ListAPIKeys(ctx, u.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					out := make([]map[string]any, 0, len(keys))
					for _, k := range keys {
						out = append(out, map[string]any{"id": k.ID, "name": k.Name, "created_at": k.CreatedAt})
					}
					return printJSON(out)
				}
				tw := newTable(table.Row{"ID", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, orDash(k.Name), k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func apiKeyRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.RevokeAPIKey(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("revoked %s\n", args[0])
				return nil
			})
		},
	}
}
