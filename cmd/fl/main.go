package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"formline/internal/app"
	"formline/internal/block"
	"formline/internal/config"
	"formline/internal/db"
	"formline/internal/domain"
	"formline/internal/engine"
	"formline/internal/migrate"
	"formline/internal/repo"
	"formline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "fl",
	Short: "Formline CLI",
	Long: `Formline is a form builder and intake engine for small businesses.
- Workspace: your .formline directory holding the database; formline.yml carries the owner and factory catalog.
- Owner: the business account that owns forms, fields, campaigns, and submissions.
- Forms: built from blocks (text, factory mappings, custom fields, consent); every save appends an immutable version.
- Factory catalog: the built-in contact fields (first_name, phone, email, ...) whose answers land under the f. namespace.
- Custom fields: owner-defined keys reusable across forms.
- Campaigns: time-windowed public slugs pointing at a form, with their own success message.
- Intake: the public render/submit surface; answers are validated, normalized, and pruned before storage.
- Event log: diary of changes, view with 'fl log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("FORMLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("owner", "", "owner id (overrides config)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("owner", rootCmd.PersistentFlags().Lookup("owner"))
}

func registerCommands() {
	rootCmd.AddCommand(ownerCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(formCmd())
	rootCmd.AddCommand(fieldCmd())
	rootCmd.AddCommand(campaignCmd())
	rootCmd.AddCommand(submissionCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func ownerCmd() *cobra.Command {
	owner := &cobra.Command{Use: "owner", Short: "Manage owners"}
	owner.AddCommand(ownerInitCmd())
	owner.AddCommand(ownerListCmd())
	owner.AddCommand(ownerShowCmd())
	owner.AddCommand(ownerSetDefaultFormCmd())
	return owner
}

func ownerInitCmd() *cobra.Command {
	var id, slug, name string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize owner and workspace config",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				return fmt.Errorf("--id required")
			}
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg := config.Default(id)
			if slug != "" {
				cfg.Owner.Slug = slug
			}
			cfg.Owner.Name = name
			e := engine.New(conn, cfg)
			o, err := e.InitOwner(cmd.Context(), id, cfg.Owner.Slug, name, viper.GetString("actor-id"))
			if err != nil {
				return err
			}
			path := config.Path(workspace)
			if _, err := os.Stat(path); os.IsNotExist(err) {
				if err := os.WriteFile(path, []byte(config.GenerateDefault(id, cfg.Owner.Slug)), 0o644); err != nil {
					return err
				}
				fmt.Printf("Wrote %s\n", path)
			}
			return printJSONOrTable(o)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "owner id")
	cmd.Flags().StringVar(&slug, "slug", "", "public slug (defaults to owner id)")
	cmd.Flags().StringVar(&name, "name", "", "business name")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func ownerListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List owners",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListOwners(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func ownerShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the active owner",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				o, err := e.Repo.GetOwner(ctx, e.Config.Owner.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(o)
			})
		},
	}
	return cmd
}

func ownerSetDefaultFormCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set-default-form <form-id>",
		Short: "Set the form served at the owner's public slug",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			formID := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				if _, err := e.Repo.GetForm(ctx, formID); err != nil {
					return err
				}
				tx, err := e.DB.BeginTx(ctx, nil)
				if err != nil {
					return err
				}
				defer tx.Rollback()
				if err := e.Repo.SetOwnerDefaultForm(ctx, tx, e.Config.Owner.ID, &formID); err != nil {
					return err
				}
				if err := tx.Commit(); err != nil {
					return err
				}
				o, err := e.Repo.GetOwner(ctx, e.Config.Owner.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(o)
			})
		},
	}
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
		Long:  "Config is the workspace rulebook (formline.yml): owner identity, the factory catalog labels, default style, and webhook endpoints.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [file]",
		Short: "Validate workspace config, or an explicit file before deploying it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var cfg *config.Config
			var err error
			if len(args) == 1 {
				cfg, err = config.FromFile(args[0])
			} else {
				cfg, err = config.Load(viper.GetString("workspace"))
			}
			if err == nil {
				err = cfg.Validate()
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show owner status",
		Long:  "See the scoreboard for your owner: forms with their latest version and submission counts.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				ownerID := e.Config.Owner.ID
				o, err := e.Repo.GetOwner(ctx, ownerID)
				if err != nil {
					return err
				}
				forms, err := e.ListForms(ctx, repo.FormFilters{OwnerID: ownerID, Limit: 200})
				if err != nil {
					return err
				}
				type formStatus struct {
					Form        domain.Form `json:"form"`
					Submissions int         `json:"submissions"`
				}
				counts, err := e.Repo.CountSubmissionsByForm(ctx, ownerID)
				if err != nil {
					return err
				}
				statuses := make([]formStatus, 0, len(forms))
				for _, f := range forms {
					statuses = append(statuses, formStatus{Form: f, Submissions: counts[f.ID]})
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"owner": o, "forms": statuses})
				}
				fmt.Printf("Owner: %s (%s)\n", o.ID, o.Slug)
				if o.DefaultFormID != nil {
					fmt.Printf("Default form: %s\n", *o.DefaultFormID)
				} else {
					fmt.Println("Default form: none")
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Slug", "Submissions"})
				for _, s := range statuses {
					tw.AppendRow(table.Row{s.Form.ID, s.Form.Title, s.Form.Slug, s.Submissions})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func formCmd() *cobra.Command {
	form := &cobra.Command{
		Use:   "form",
		Short: "Manage forms",
		Long:  "Forms are block lists with a style. Saving validates the schema, dedupes factory mappings, and appends a new immutable version.",
	}
	form.AddCommand(formSaveCmd())
	form.AddCommand(formListCmd())
	form.AddCommand(formShowCmd())
	form.AddCommand(formVersionsCmd())
	form.AddCommand(formDeleteCmd())
	form.AddCommand(formKeysCmd())
	return form
}

func formSaveCmd() *cobra.Command {
	var formID, title, slug, description, schemaPath string
	cmd := &cobra.Command{
		Use:   "save",
		Short: "Save a form (create or new version)",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(schemaPath)
			if err != nil {
				return err
			}
			var schema block.Schema
			if err := json.Unmarshal(data, &schema); err != nil {
				return fmt.Errorf("invalid schema file: %w", err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				saved, err := e.SaveForm(ctx, engine.SaveFormOptions{
					FormID:      formID,
					OwnerID:     e.Config.Owner.ID,
					Title:       title,
					Slug:        slug,
					Description: description,
					Schema:      schema,
					ActorID:     viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(saved)
			})
		},
	}
	cmd.Flags().StringVar(&formID, "id", "", "form id (omit to create)")
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&slug, "slug", "", "form slug")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&schemaPath, "schema", "", "path to schema JSON (blocks + style)")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("slug")
	_ = cmd.MarkFlagRequired("schema")
	return cmd
}

func formListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List forms",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				forms, err := e.ListForms(ctx, repo.FormFilters{OwnerID: e.Config.Owner.ID, Limit: 200})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(forms)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Slug", "Updated"})
				for _, f := range forms {
					tw.AppendRow(table.Row{f.ID, f.Title, f.Slug, f.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func formShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id|slug>",
		Short: "Show form with latest version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				rec, err := e.GetForm(ctx, id)
				if errors.Is(err, repo.ErrNotFound) {
					if f, serr := e.Repo.GetFormBySlug(ctx, e.Config.Owner.ID, id); serr == nil {
						rec, err = e.GetForm(ctx, f.ID)
					}
				}
				if err != nil {
					return err
				}
				return printJSONOrTable(rec)
			})
		},
	}
	return cmd
}

func formVersionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "versions <id>",
		Short: "List form versions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				versions, err := e.ListVersions(ctx, id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(versions)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Version", "Label", "Created"})
				for _, v := range versions {
					tw.AppendRow(table.Row{v.VersionNumber, v.VersionLabel, v.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func formDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete form and its versions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				return e.DeleteForm(ctx, id, viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

func formKeysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys <schema.json>",
		Short: "Show the data key each block would save under",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var schema block.Schema
			if err := json.Unmarshal(data, &schema); err != nil {
				return fmt.Errorf("invalid schema file: %w", err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				registry, err := e.Registry(ctx, e.Config.Owner.ID)
				if err != nil {
					return err
				}
				type blockKey struct {
					BlockID string `json:"block_id"`
					Type    string `json:"type"`
					Label   string `json:"label,omitempty"`
					DataKey string `json:"data_key"`
				}
				keys := make([]blockKey, 0, len(schema.Blocks))
				for _, b := range schema.Blocks {
					_, inRegistry := registry.Lookup(b.FieldName())
					keys = append(keys, blockKey{
						BlockID: b.BlockID,
						Type:    string(b.Type),
						Label:   b.Label(),
						DataKey: block.ResolveDataKey(b.MapsToFactory, b.FieldName(), inRegistry, b.BlockID),
					})
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Block", "Type", "Label", "Data Key"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.BlockID, k.Type, k.Label, k.DataKey})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func fieldCmd() *cobra.Command {
	field := &cobra.Command{
		Use:   "field",
		Short: "Manage custom fields",
		Long:  "Custom fields are owner-defined keys (budget, referral_source, ...) that the inspector can bind to a block. Keys are unique per owner.",
	}
	field.AddCommand(fieldCreateCmd())
	field.AddCommand(fieldListCmd())
	field.AddCommand(fieldDeleteCmd())
	return field
}

func fieldDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <key>",
		Short: "Delete a custom field",
		Long:  "Deleting a field key removes it from the registry; blocks already saved against it keep their stored data keys.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				return e.DeleteField(ctx, e.Config.Owner.ID, args[0], viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

func fieldCreateCmd() *cobra.Command {
	var key, label, fieldType string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a custom field",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				f, err := e.CreateField(ctx, e.Config.Owner.ID, key, label, fieldType, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(f)
			})
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "field key")
	cmd.Flags().StringVar(&label, "label", "", "field label")
	cmd.Flags().StringVar(&fieldType, "type", "text", "field type (text, email, phone, number, date)")
	_ = cmd.MarkFlagRequired("key")
	_ = cmd.MarkFlagRequired("label")
	return cmd
}

func fieldListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List custom fields",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				fields, err := e.ListFields(ctx, e.Config.Owner.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(fields)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Key", "Label", "Type"})
				for _, f := range fields {
					tw.AppendRow(table.Row{f.Key, f.Label, f.Type})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func campaignCmd() *cobra.Command {
	campaign := &cobra.Command{
		Use:   "campaign",
		Short: "Manage campaigns",
		Long:  "Campaigns give a form its own public slug with an optional date window and success message. Outside the window the slug answers 'not available'.",
	}
	campaign.AddCommand(campaignCreateCmd())
	campaign.AddCommand(campaignListCmd())
	campaign.AddCommand(campaignStatusCmd())
	return campaign
}

func campaignCreateCmd() *cobra.Command {
	var opts engine.CampaignOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create campaign",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				if opts.OwnerID == "" {
					opts.OwnerID = e.Config.Owner.ID
				}
				c, err := e.CreateCampaign(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&opts.FormID, "form", "", "form id")
	cmd.Flags().StringVar(&opts.Slug, "slug", "", "campaign slug")
	cmd.Flags().StringVar(&opts.Status, "status", "active", "status (draft, active, paused, ended)")
	cmd.Flags().StringVar(&opts.StartDate, "start", "", "start date (RFC3339, empty for unbounded)")
	cmd.Flags().StringVar(&opts.EndDate, "end", "", "end date (RFC3339, empty for unbounded)")
	cmd.Flags().StringVar(&opts.SuccessMessage, "success-message", "", "message shown after submit")
	_ = cmd.MarkFlagRequired("form")
	_ = cmd.MarkFlagRequired("slug")
	return cmd
}

func campaignListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List campaigns",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				campaigns, err := e.ListCampaigns(ctx, e.Config.Owner.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(campaigns)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Slug", "Status", "Start", "End"})
				for _, c := range campaigns {
					tw.AppendRow(table.Row{c.ID, c.Slug, c.Status, c.StartDate, c.EndDate})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func campaignStatusCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "set-status <id>",
		Short: "Update campaign status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				tx, err := e.DB.BeginTx(ctx, nil)
				if err != nil {
					return err
				}
				defer tx.Rollback()
				if err := e.Repo.UpdateCampaignStatus(ctx, tx, id, status); err != nil {
					return err
				}
				if err := tx.Commit(); err != nil {
					return err
				}
				c, err := e.Repo.GetCampaign(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "new status (draft, active, paused, ended)")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func submissionCmd() *cobra.Command {
	sub := &cobra.Command{
		Use:   "submission",
		Short: "Inspect submissions",
	}
	sub.AddCommand(submissionListCmd())
	sub.AddCommand(submissionShowCmd())
	return sub
}

func submissionListCmd() *cobra.Command {
	var formID, campaignID string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List submissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				subs, err := e.ListSubmissions(ctx, repo.SubmissionFilters{
					OwnerID:    e.Config.Owner.ID,
					FormID:     formID,
					CampaignID: campaignID,
					Limit:      limit,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(subs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Form", "Campaign", "Created"})
				for _, s := range subs {
					campaign := ""
					if s.CampaignID != nil {
						campaign = *s.CampaignID
					}
					tw.AppendRow(table.Row{s.ID, s.FormID, campaign, s.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&formID, "form", "", "form filter")
	cmd.Flags().StringVar(&campaignID, "campaign", "", "campaign filter")
	cmd.Flags().IntVar(&limit, "n", 50, "number of submissions")
	return cmd
}

func submissionShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show submission answers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				s, err := e.GetSubmission(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	return cmd
}

func apikeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys",
	}
	cmd.AddCommand(apikeyCreateCmd())
	cmd.AddCommand(apikeyListCmd())
	cmd.AddCommand(apikeyDeleteCmd())
	return cmd
}

func apikeyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (prints the key once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				raw := uuid.NewString() + uuid.NewString()
				key := domain.APIKey{
					ID:      uuid.NewString(),
					ActorID: viper.GetString("actor-id"),
					Name:    name,
					KeyHash: repo.HashAPIKey(raw),
				}
				if err := r.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": key.ID, "key": raw})
				}
				fmt.Printf("API key %s created. Store this key now; it is not shown again:\n%s\n", key.ID, raw)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key name")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, "")
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Actor", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened: form saves, field creation, campaigns, and intake submissions.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, e.Config.Owner.ID, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowLegacyActor bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			r := repo.Repo{DB: conn}
			_, cfg, err := app.ResolveOwnerAndConfig(cmd.Context(), workspace, viper.GetString("owner"), viper.GetString("actor-id"), r)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("FORMLINE_JWT_SECRET"),
				AllowLegacyActorHeader: allowLegacyActor,
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Formline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowLegacyActor, "allow-legacy-actor", false, "accept X-Actor-Id without credentials (dev only)")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, *engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	_, cfg, err := app.ResolveOwnerAndConfig(ctx, workspace, viper.GetString("owner"), viper.GetString("actor-id"), r)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	return fn(ctx, r)
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
