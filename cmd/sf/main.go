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

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"signflow/internal/app"
	"signflow/internal/config"
	"signflow/internal/db"
	"signflow/internal/engine"
	"signflow/internal/migrate"
	"signflow/internal/repo"
	"signflow/internal/sequence"
	"signflow/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "sf",
	Short: "Signflow CLI",
	Long: `Signflow runs multi-party document signing workflows.
- Workspace: your .signflow directory holding only the database; account config lives in the DB and is imported explicitly.
- Documents: move draft -> (scheduled) -> pending -> completed/cancelled. Signers and fields only change on drafts.
- Signers: each gets a secret access link; sequential workflows enforce signing order.
- Fields: typed boxes placed on pages, with validation presets, visibility rules, and calculated values.
- Reminders: resends to pending signers, rate limited per rolling day.
- Event log: diary of changes, view with 'sf log tail'.`,
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
	viper.SetEnvPrefix("SIGNFLOW")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("account", "", "account id (overrides config default)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("account", rootCmd.PersistentFlags().Lookup("account"))
}

func registerCommands() {
	rootCmd.AddCommand(accountCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(documentCmd())
	rootCmd.AddCommand(signerCmd())
	rootCmd.AddCommand(fieldCmd())
	rootCmd.AddCommand(signCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func accountCmd() *cobra.Command {
	acct := &cobra.Command{Use: "account", Short: "Manage the account"}
	acct.AddCommand(accountInitCmd())
	acct.AddCommand(accountShowCmd())
	return acct
}

func accountInitCmd() *cobra.Command {
	var id, name string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize an account in this workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				return fmt.Errorf("--id required")
			}
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg := config.Default(id)
			e := engine.New(conn, cfg)
			a, err := e.InitAccount(cmd.Context(), id, name, viper.GetString("actor-id"))
			if err != nil {
				return err
			}
			return printJSONOrTable(a)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "account id")
	cmd.Flags().StringVar(&name, "name", "", "account name")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func accountShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the active account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.Repo.GetAccount(ctx, e.Config.Account.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage account config"}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configImportCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show account config stored in DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
	return cmd
}

func configInitCmd() *cobra.Command {
	var accountID string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if accountID == "" {
				accountID = viper.GetString("account")
			}
			if accountID == "" {
				accountID = "local"
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(accountID)), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&accountID, "id", "", "account id for the generated file")
	return cmd
}

func configImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import account config from YAML into the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromFile(filePath)
			if err != nil {
				return err
			}
			accountID := cfg.Account.ID
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if accountID == "" {
					accountID = e.Config.Account.ID
				}
				if err := e.Repo.UpsertAccountConfig(ctx, accountID, cfg); err != nil {
					return err
				}
				return printJSONOrTable(cfg)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func configValidateCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a YAML config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if filePath == "" {
				filePath = config.Path(viper.GetString("workspace"))
			}
			if _, err := config.FromFile(filePath); err != nil {
				return err
			}
			fmt.Printf("%s is valid\n", filePath)
			return nil
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config (defaults to workspace file)")
	return cmd
}

func documentCmd() *cobra.Command {
	doc := &cobra.Command{
		Use:   "document",
		Short: "Manage documents",
		Long:  "Documents carry signers and fields. Drafts are editable; sending locks the layout and invites signers; completion happens when the last signer resolves.",
	}
	doc.AddCommand(documentCreateCmd())
	doc.AddCommand(documentListCmd())
	doc.AddCommand(documentShowCmd())
	doc.AddCommand(documentUpdateCmd())
	doc.AddCommand(documentDeleteCmd())
	doc.AddCommand(documentSendCmd())
	doc.AddCommand(documentScheduleCmd())
	doc.AddCommand(documentUnscheduleCmd())
	doc.AddCommand(documentCancelCmd())
	doc.AddCommand(documentProcessDueCmd())
	return doc
}

func documentCreateCmd() *cobra.Command {
	var opts engine.DocumentCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a draft document",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			if opts.OwnerID == "" {
				opts.OwnerID = opts.ActorID
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.CreateDocument(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "document id (optional)")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.OwnerID, "owner", "", "owner id (defaults to actor)")
	cmd.Flags().StringVar(&opts.WorkflowType, "workflow", "", "workflow type (single, sequential, parallel)")
	cmd.Flags().StringVar(&opts.ExpiresAt, "expires-at", "", "expiry (RFC3339)")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func documentListCmd() *cobra.Command {
	var status string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListDocuments(ctx, status, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Workflow", "Send At", "Expires"})
				for _, d := range items {
					tw.AppendRow(table.Row{d.ID, d.Title, d.Status, d.WorkflowType, deref(d.SendAt), deref(d.ExpiresAt)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().IntVar(&limit, "limit", 0, "max rows")
	return cmd
}

func documentShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <document-id>",
		Short: "Show a document with signers, fields and values",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				agg, err := e.GetAggregate(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(agg)
			})
		},
	}
	return cmd
}

func documentUpdateCmd() *cobra.Command {
	var title, workflow, expiresAt string
	cmd := &cobra.Command{
		Use:   "update <document-id>",
		Short: "Update a draft document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.DocumentUpdateOptions{ActorID: viper.GetString("actor-id")}
			if cmd.Flags().Changed("title") {
				opts.Title = &title
			}
			if cmd.Flags().Changed("workflow") {
				opts.WorkflowType = &workflow
			}
			if cmd.Flags().Changed("expires-at") {
				opts.ExpiresAt = &expiresAt
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.UpdateDocument(ctx, args[0], opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&workflow, "workflow", "", "workflow type")
	cmd.Flags().StringVar(&expiresAt, "expires-at", "", "expiry (RFC3339, empty clears)")
	return cmd
}

func documentDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <document-id>",
		Short: "Delete a draft document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteDocument(ctx, args[0], viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

func documentSendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send <document-id>",
		Short: "Send a document to its signers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.SendDocument(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	return cmd
}

func documentScheduleCmd() *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "schedule <document-id>",
		Short: "Schedule a draft for automatic sending",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sendAt, err := time.Parse(time.RFC3339, at)
			if err != nil {
				return fmt.Errorf("invalid --at: %w", err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.ScheduleDocument(ctx, args[0], sendAt, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "send time (RFC3339)")
	_ = cmd.MarkFlagRequired("at")
	return cmd
}

func documentUnscheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unschedule <document-id>",
		Short: "Cancel a schedule, returning the document to draft",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.CancelSchedule(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	return cmd
}

func documentCancelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel <document-id>",
		Short: "Cancel a pending or scheduled document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.CancelDocument(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	return cmd
}

func documentProcessDueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "process-due",
		Short: "Send every scheduled document whose send time has passed",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				n, err := e.ProcessDueSchedules(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				fmt.Printf("Sent %d document(s)\n", n)
				return nil
			})
		},
	}
	return cmd
}

func signerCmd() *cobra.Command {
	signer := &cobra.Command{
		Use:   "signer",
		Short: "Manage signers",
		Long:  "Signers receive secret access links. On sequential workflows each carries a signing order and waits for every lower order to sign.",
	}
	signer.AddCommand(signerAddCmd())
	signer.AddCommand(signerListCmd())
	signer.AddCommand(signerUpdateCmd())
	signer.AddCommand(signerRemoveCmd())
	signer.AddCommand(signerRemindCmd())
	signer.AddCommand(signerResetCmd())
	return signer
}

func signerAddCmd() *cobra.Command {
	var documentID, email, name string
	var order int
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a signer to a draft",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.SignerOptions{Email: email, Name: name, ActorID: viper.GetString("actor-id")}
			if cmd.Flags().Changed("order") {
				opts.SigningOrder = &order
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.AddSigner(ctx, documentID, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&documentID, "document", "", "document id")
	cmd.Flags().StringVar(&email, "email", "", "signer email")
	cmd.Flags().StringVar(&name, "name", "", "signer name")
	cmd.Flags().IntVar(&order, "order", 0, "signing order (sequential workflows)")
	_ = cmd.MarkFlagRequired("document")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func signerListCmd() *cobra.Command {
	var documentID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List signers of a document",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListSigners(ctx, documentID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Email", "Order", "Status", "Token", "Reminders"})
				for _, s := range items {
					order := ""
					if s.SigningOrder != nil {
						order = fmt.Sprintf("%d", *s.SigningOrder)
					}
					tw.AppendRow(table.Row{s.ID, s.Email, order, s.Status, s.AccessToken, s.ReminderCount})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&documentID, "document", "", "document id")
	_ = cmd.MarkFlagRequired("document")
	return cmd
}

func signerUpdateCmd() *cobra.Command {
	var email, name string
	var order int
	var clearOrder bool
	cmd := &cobra.Command{
		Use:   "update <signer-id>",
		Short: "Update a signer on a draft",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.SignerUpdateOptions{ClearOrder: clearOrder, ActorID: viper.GetString("actor-id")}
			if cmd.Flags().Changed("email") {
				opts.Email = &email
			}
			if cmd.Flags().Changed("name") {
				opts.Name = &name
			}
			if cmd.Flags().Changed("order") {
				opts.SigningOrder = &order
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.UpdateSigner(ctx, args[0], opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "signer email")
	cmd.Flags().StringVar(&name, "name", "", "signer name")
	cmd.Flags().IntVar(&order, "order", 0, "signing order")
	cmd.Flags().BoolVar(&clearOrder, "clear-order", false, "remove signing order")
	return cmd
}

func signerRemoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove <signer-id>",
		Short: "Remove a signer from a draft",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.RemoveSigner(ctx, args[0], viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

func signerRemindCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remind <signer-id>",
		Short: "Send a reminder to a pending signer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.RemindSigner(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	return cmd
}

func signerResetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset <signer-id>",
		Short: "Reset a resolved signer back to pending",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.ResetSigner(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	return cmd
}

func fieldCmd() *cobra.Command {
	field := &cobra.Command{
		Use:   "field",
		Short: "Manage fields",
		Long:  "Fields are typed boxes placed on document pages. JSON flags accept the same shapes as the HTTP API (properties, visibility, calculation).",
	}
	field.AddCommand(fieldAddCmd())
	field.AddCommand(fieldListCmd())
	field.AddCommand(fieldUpdateCmd())
	field.AddCommand(fieldRemoveCmd())
	return field
}

func fieldAddCmd() *cobra.Command {
	var opts engine.FieldOptions
	var documentID, propsJSON, visibilityJSON, calcJSON string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Place a field on a draft",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			if propsJSON != "" {
				if err := json.Unmarshal([]byte(propsJSON), &opts.Properties); err != nil {
					return fmt.Errorf("invalid --properties: %w", err)
				}
			}
			if visibilityJSON != "" {
				if err := json.Unmarshal([]byte(visibilityJSON), &opts.Visibility); err != nil {
					return fmt.Errorf("invalid --visibility: %w", err)
				}
			}
			if calcJSON != "" {
				if err := json.Unmarshal([]byte(calcJSON), &opts.Calculation); err != nil {
					return fmt.Errorf("invalid --calculation: %w", err)
				}
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				f, err := e.AddField(ctx, documentID, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(f)
			})
		},
	}
	cmd.Flags().StringVar(&documentID, "document", "", "document id")
	cmd.Flags().StringVar(&opts.Type, "type", "", "field type")
	cmd.Flags().IntVar(&opts.Page, "page", 0, "page index")
	cmd.Flags().Float64Var(&opts.X, "x", 0, "x position")
	cmd.Flags().Float64Var(&opts.Y, "y", 0, "y position")
	cmd.Flags().Float64Var(&opts.Width, "width", 0, "width")
	cmd.Flags().Float64Var(&opts.Height, "height", 0, "height")
	cmd.Flags().BoolVar(&opts.Required, "required", false, "required field")
	cmd.Flags().StringVar(&opts.SignerEmail, "signer", "", "assigned signer email")
	cmd.Flags().StringVar(&propsJSON, "properties", "", "properties JSON")
	cmd.Flags().StringVar(&visibilityJSON, "visibility", "", "visibility rules JSON")
	cmd.Flags().StringVar(&calcJSON, "calculation", "", "calculation JSON")
	_ = cmd.MarkFlagRequired("document")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func fieldListCmd() *cobra.Command {
	var documentID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List fields of a document",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListFields(ctx, documentID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Type", "Page", "Pos", "Size", "Required", "Signer"})
				for _, f := range items {
					tw.AppendRow(table.Row{
						f.ID, f.Type, f.Page,
						fmt.Sprintf("%.0f,%.0f", f.X, f.Y),
						fmt.Sprintf("%.0fx%.0f", f.Width, f.Height),
						f.Required, f.SignerEmail,
					})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&documentID, "document", "", "document id")
	_ = cmd.MarkFlagRequired("document")
	return cmd
}

func fieldUpdateCmd() *cobra.Command {
	var page int
	var x, y, width, height float64
	var required bool
	var signerEmail, propsJSON, visibilityJSON, calcJSON string
	var clearVisibility, clearCalculation bool
	cmd := &cobra.Command{
		Use:   "update <field-id>",
		Short: "Update a field on a draft",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.FieldUpdateOptions{
				ClearVisibility:  clearVisibility,
				ClearCalculation: clearCalculation,
				ActorID:          viper.GetString("actor-id"),
			}
			if cmd.Flags().Changed("page") {
				opts.Page = &page
			}
			if cmd.Flags().Changed("x") {
				opts.X = &x
			}
			if cmd.Flags().Changed("y") {
				opts.Y = &y
			}
			if cmd.Flags().Changed("width") {
				opts.Width = &width
			}
			if cmd.Flags().Changed("height") {
				opts.Height = &height
			}
			if cmd.Flags().Changed("required") {
				opts.Required = &required
			}
			if cmd.Flags().Changed("signer") {
				opts.SignerEmail = &signerEmail
			}
			if propsJSON != "" {
				if err := json.Unmarshal([]byte(propsJSON), &opts.Properties); err != nil {
					return fmt.Errorf("invalid --properties: %w", err)
				}
			}
			if visibilityJSON != "" {
				if err := json.Unmarshal([]byte(visibilityJSON), &opts.Visibility); err != nil {
					return fmt.Errorf("invalid --visibility: %w", err)
				}
			}
			if calcJSON != "" {
				if err := json.Unmarshal([]byte(calcJSON), &opts.Calculation); err != nil {
					return fmt.Errorf("invalid --calculation: %w", err)
				}
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				f, err := e.UpdateField(ctx, args[0], opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(f)
			})
		},
	}
	cmd.Flags().IntVar(&page, "page", 0, "page index")
	cmd.Flags().Float64Var(&x, "x", 0, "x position")
	cmd.Flags().Float64Var(&y, "y", 0, "y position")
	cmd.Flags().Float64Var(&width, "width", 0, "width")
	cmd.Flags().Float64Var(&height, "height", 0, "height")
	cmd.Flags().BoolVar(&required, "required", false, "required field")
	cmd.Flags().StringVar(&signerEmail, "signer", "", "assigned signer email")
	cmd.Flags().StringVar(&propsJSON, "properties", "", "properties JSON")
	cmd.Flags().StringVar(&visibilityJSON, "visibility", "", "visibility rules JSON")
	cmd.Flags().StringVar(&calcJSON, "calculation", "", "calculation JSON")
	cmd.Flags().BoolVar(&clearVisibility, "clear-visibility", false, "remove visibility rules")
	cmd.Flags().BoolVar(&clearCalculation, "clear-calculation", false, "remove calculation")
	return cmd
}

func fieldRemoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove <field-id>",
		Short: "Remove a field from a draft",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.RemoveField(ctx, args[0], viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

func signCmd() *cobra.Command {
	sign := &cobra.Command{
		Use:   "sign",
		Short: "Act as a signer through an access token",
	}
	sign.AddCommand(signShowCmd())
	sign.AddCommand(signValuesCmd())
	sign.AddCommand(signCompleteCmd())
	sign.AddCommand(signDeclineCmd())
	return sign
}

func signShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <token>",
		Short: "Show the signing session for a token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				session, err := e.ResolveToken(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(session)
			})
		},
	}
	return cmd
}

func signValuesCmd() *cobra.Command {
	var pairs []string
	cmd := &cobra.Command{
		Use:   "values <token>",
		Short: "Submit field values as the token's signer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			values := map[string]string{}
			for _, pair := range pairs {
				k, v, ok := strings.Cut(pair, "=")
				if !ok {
					return fmt.Errorf("invalid --set %q, expected field-id=value", pair)
				}
				values[k] = v
			}
			if len(values) == 0 {
				return fmt.Errorf("at least one --set required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				agg, err := e.SubmitValues(ctx, args[0], values)
				if err != nil {
					return err
				}
				return printJSONOrTable(agg)
			})
		},
	}
	cmd.Flags().StringArrayVar(&pairs, "set", []string{}, "field-id=value (repeatable)")
	return cmd
}

func signCompleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "complete <token>",
		Short: "Sign the document as the token's signer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				agg, err := e.SignDocument(ctx, args[0], sequence.Origin{UserAgent: "sf-cli"})
				if err != nil {
					return err
				}
				return printJSONOrTable(agg)
			})
		},
	}
	return cmd
}

func signDeclineCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "decline <token>",
		Short: "Decline to sign",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				agg, err := e.DeclineDocument(ctx, args[0], reason)
				if err != nil {
					return err
				}
				return printJSONOrTable(agg)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "decline reason")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func apikeyCmd() *cobra.Command {
	key := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	key.AddCommand(apikeyCreateCmd())
	key.AddCommand(apikeyListCmd())
	key.AddCommand(apikeyRevokeCmd())
	return key
}

func apikeyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (the raw key prints once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				k, raw, err := e.CreateAPIKey(ctx, viper.GetString("actor-id"), name)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"id": k.ID, "actor_id": k.ActorID, "name": k.Name, "key": raw})
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListAPIKeys(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func apikeyRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.RevokeAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	logc := &cobra.Command{Use: "log", Short: "Inspect the event log"}
	logc.AddCommand(logTailCmd())
	return logc
}

func logTailCmd() *cobra.Command {
	var n int
	var documentID, evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.LatestEvents(ctx, n, documentID, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&documentID, "document", "", "document filter")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
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
			_, cfg, err := app.ResolveAccountAndConfig(cmd.Context(), workspace, viper.GetString("account"), r)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("SIGNFLOW_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("SIGNFLOW_JWT_SECRET is required for bearer auth")
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
			fmt.Printf("Serving Signflow API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
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
	_, cfg, err := app.ResolveAccountAndConfig(ctx, workspace, viper.GetString("account"), r)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
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

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
