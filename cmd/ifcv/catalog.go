package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"ifcvalidation/internal/domain"
	"ifcvalidation/internal/engine"
	"ifcvalidation/internal/obfuscate"
	"ifcvalidation/internal/server"
)

// parseStepfileID reads the #N entity number of a STEP file line; the leading
// '#' is optional.
func parseStepfileID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimPrefix(strings.TrimSpace(s), "#"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid stepfile id %q", s)
	}
	return id, nil
}

// resolveProducer maps a tool full name to its id; an ambiguous name is an error.
func resolveProducer(ctx context.Context, e engine.Engine, name string) (*int64, error) {
	if name == "" {
		return nil, nil
	}
	match, err := e.ResolveTool(ctx, name)
	if err != nil {
		return nil, err
	}
	switch {
	case match.Tool != nil:
		return &match.Tool.ID, nil
	case len(match.Ambiguous) > 0:
		return nil, fmt.Errorf("tool %q is ambiguous (%d matches)", name, len(match.Ambiguous))
	}
	return nil, fmt.Errorf("tool %q not found", name)
}

func companyCmd() *cobra.Command {
	co := &cobra.Command{Use: "company", Short: "Manage authoring tool vendors"}
	co.AddCommand(&cobra.Command{
		Use:   "create <name>",
		Short: "Create a company",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.CreateCompany(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(server.NewPresenter(e).Company(c))
			})
		},
	})
	co.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List companies",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListCompanies(ctx)
				if err != nil {
					return err
				}
				out := server.NewPresenter(e).Companies(items)
				if viper.GetBool("json") {
					return printJSON(out)
				}
				tw := newTable(table.Row{"ID", "Name"})
				for _, c := range out {
					tw.AppendRow(table.Row{c.ID, c.Name})
				}
				tw.Render()
				return nil
			})
		},
	})
	co.AddCommand(&cobra.Command{
		Use:   "rename <company-id> <name>",
		Short: "Rename a company",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				id, err := parseID(e, obfuscate.Company, args[0])
				if err != nil {
					return err
				}
				c, err := e.RenameCompany(ctx, id, args[1])
				if err != nil {
					return err
				}
				return printJSONOrTable(server.NewPresenter(e).Company(c))
			})
		},
	})
	co.AddCommand(&cobra.Command{
		Use:   "delete <company-id>",
		Short: "Delete a company; its tools lose their company",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				id, err := parseID(e, obfuscate.Company, args[0])
				if err != nil {
					return err
				}
				if err := e.DeleteCompany(ctx, id); err != nil {
					return err
				}
				fmt.Printf("deleted %s\n", args[0])
				return nil
			})
		},
	})
	return co
}

func toolCmd() *cobra.Command {
	tool := &cobra.Command{Use: "tool", Short: "Manage authoring tools"}
	tool.AddCommand(toolCreateCmd())
	tool.AddCommand(toolListCmd())
	tool.AddCommand(toolResolveCmd())
	tool.AddCommand(toolUpdateCmd())
	tool.AddCommand(&cobra.Command{
		Use:   "delete <tool-id>",
		Short: "Delete an authoring tool; models keep existing without a producer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				id, err := parseID(e, obfuscate.Tool, args[0])
				if err != nil {
					return err
				}
				if err := e.DeleteTool(ctx, id); err != nil {
					return err
				}
				fmt.Printf("deleted %s\n", args[0])
				return nil
			})
		},
	})
	return tool
}

func toolCreateCmd() *cobra.Command {
	var opts engine.ToolCreateOptions
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Register an authoring tool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Name = args[0]
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.CreateTool(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(server.NewPresenter(e).Tool(t))
			})
		},
	}
	cmd.Flags().StringVar(&opts.Version, "version", "", "tool version")
	cmd.Flags().StringVar(&opts.Company, "company", "", "vendor name (created when missing)")
	return cmd
}

func toolListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List authoring tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListTools(ctx)
				if err != nil {
					return err
				}
				out := server.NewPresenter(e).Tools(items)
				if viper.GetBool("json") {
					return printJSON(out)
				}
				tw := newTable(table.Row{"ID", "Full Name", "Company", "Name", "Version"})
				for _, t := range out {
					version := ""
					if t.Version != nil {
						version = *t.Version
					}
					tw.AppendRow(table.Row{t.ID, t.FullName, orDash(t.Company), t.Name, orDash(version)})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func toolUpdateCmd() *cobra.Command {
	var name, version, company string
	cmd := &cobra.Command{
		Use:   "update <tool-id>",
		Short: "Change the name, version or company of an authoring tool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				id, err := parseID(e, obfuscate.Tool, args[0])
				if err != nil {
					return err
				}
				var opts engine.ToolUpdateOptions
				if cmd.Flags().Changed("name") {
					opts.Name = &name
				}
				if cmd.Flags().Changed("version") {
					opts.Version = &version
				}
				if cmd.Flags().Changed("company") {
					opts.Company = &company
				}
				t, err := e.UpdateTool(ctx, id, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(server.NewPresenter(e).Tool(t))
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "new tool name")
	cmd.Flags().StringVar(&version, "version", "", "new version; empty clears it")
	cmd.Flags().StringVar(&company, "company", "", "new vendor name (created when missing); empty detaches")
	return cmd
}

func toolResolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <full-name>",
		Short: "Find tools by full name (\"<company> <name> - <version>\", dash optional)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				match, err := e.ResolveTool(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(server.NewPresenter(e).ToolMatch(match))
			})
		},
	}
}

func modelCmd() *cobra.Command {
	m := &cobra.Command{
		Use:   "model",
		Short: "Manage parsed models and their check statuses",
	}
	m.AddCommand(modelCreateCmd())
	m.AddCommand(modelGetCmd())
	m.AddCommand(modelListCmd())
	m.AddCommand(modelInfoCmd())
	m.AddCommand(modelResetCmd())
	m.AddCommand(&cobra.Command{
		Use:   "delete <model-id>",
		Short: "Delete a model with its instances",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				id, err := parseID(e, obfuscate.Model, args[0])
				if err != nil {
					return err
				}
				if err := e.DeleteModel(ctx, id); err != nil {
					return err
				}
				fmt.Printf("deleted %s\n", args[0])
				return nil
			})
		},
	})
	return m
}

func modelCreateCmd() *cobra.Command {
	var (
		opts       engine.ModelCreateOptions
		license    string
		date       string
		producedBy string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a parsed model; every check starts not validated",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.License = domain.License(strings.ToUpper(license))
				if date != "" {
					t, err := time.Parse(time.RFC3339, date)
					if err != nil {
						return fmt.Errorf("invalid --date %q: %w", date, err)
					}
					opts.Date = &t
				}
				producer, err := resolveProducer(ctx, e, producedBy)
				if err != nil {
					return err
				}
				opts.ProducedBy = producer
				m, err := e.CreateModel(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(server.NewPresenter(e).Model(ctx, m))
			})
		},
	}
	cmd.Flags().StringVar(&opts.FileName, "file-name", "", "original file name")
	cmd.Flags().StringVar(&opts.File, "file", "", "stored file reference")
	cmd.Flags().Int64Var(&opts.Size, "size", 0, "file size in bytes")
	cmd.Flags().StringVar(&license, "license", string(domain.LicenseUnknown), "license (UNKNOWN, PRIVATE, CC, MIT, GPL, LGPL)")
	cmd.Flags().StringVar(&date, "date", "", "file timestamp (RFC 3339)")
	cmd.Flags().StringVar(&opts.Details, "details", "", "free-form details")
	cmd.Flags().StringVar(&producedBy, "produced-by", "", "authoring tool full name")
	_ = cmd.MarkFlagRequired("file-name")
	return cmd
}

func modelGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <model-id>",
		Short: "Show a model with its check statuses",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				id, err := parseID(e, obfuscate.Model, args[0])
				if err != nil {
					return err
				}
				m, err := e.Repo.GetModel(ctx, nil, id, false)
				if err != nil {
					return err
				}
				return printJSONOrTable(server.NewPresenter(e).Model(ctx, m))
			})
		},
	}
}

func modelListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List models, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListModels(ctx, limit)
				if err != nil {
					return err
				}
				p := server.NewPresenter(e)
				out := make([]server.ModelResponse, 0, len(items))
				for _, m := range items {
					out = append(out, p.Model(ctx, m))
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				header := table.Row{"ID", "File", "Schema"}
				for _, f := range domain.CheckFields {
					header = append(header, string(f))
				}
				tw := newTable(header)
				for _, m := range out {
					schema := ""
					if m.Schema != nil {
						schema = *m.Schema
					}
					row := table.Row{m.ID, m.FileName, orDash(schema)}
					for _, f := range domain.CheckFields {
						row = append(row, m.Statuses[string(f)])
					}
					tw.AppendRow(row)
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	return cmd
}

func modelInfoCmd() *cobra.Command {
	var (
		schema, mvd, producedBy, properties string
		elements, geometries, props         int64
	)
	cmd := &cobra.Command{
		Use:   "info <model-id>",
		Short: "Record header and count data extracted from the file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				id, err := parseID(e, obfuscate.Model, args[0])
				if err != nil {
					return err
				}
				info := engine.ModelInfo{Schema: optionalString(schema), MVD: optionalString(mvd)}
				if cmd.Flags().Changed("elements") {
					info.NumberOfElements = &elements
				}
				if cmd.Flags().Changed("geometries") {
					info.NumberOfGeometries = &geometries
				}
				if cmd.Flags().Changed("properties-count") {
					info.NumberOfProperties = &props
				}
				if properties != "" {
					if !json.Valid([]byte(properties)) {
						return fmt.Errorf("--properties is not valid JSON")
					}
					info.Properties = json.RawMessage(properties)
				}
				if info.ProducedBy, err = resolveProducer(ctx, e, producedBy); err != nil {
					return err
				}
				m, err := e.SetModelInfo(ctx, id, info)
				if err != nil {
					return err
				}
				return printJSONOrTable(server.NewPresenter(e).Model(ctx, m))
			})
		},
	}
	cmd.Flags().StringVar(&schema, "schema", "", "IFC schema identifier, e.g. IFC4X3_ADD2")
	cmd.Flags().StringVar(&mvd, "mvd", "", "model view definition")
	cmd.Flags().Int64Var(&elements, "elements", 0, "number of elements")
	cmd.Flags().Int64Var(&geometries, "geometries", 0, "number of geometries")
	cmd.Flags().Int64Var(&props, "properties-count", 0, "number of properties")
	cmd.Flags().StringVar(&properties, "properties", "", "property summary as JSON")
	cmd.Flags().StringVar(&producedBy, "produced-by", "", "authoring tool full name")
	return cmd
}

func modelResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset <model-id>",
		Short: "Put every check status back to not validated",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				id, err := parseID(e, obfuscate.Model, args[0])
				if err != nil {
					return err
				}
				m, err := e.ResetModelStatus(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(server.NewPresenter(e).Model(ctx, m))
			})
		},
	}
}

type instanceView struct {
	ID         string          `json:"id"`
	ModelID    string          `json:"model_id"`
	StepfileID int64           `json:"stepfile_id"`
	IFCType    string          `json:"ifc_type"`
	Fields     json.RawMessage `json:"fields,omitempty"`
}

func newInstanceView(e engine.Engine, mi domain.ModelInstance) instanceView {
	return instanceView{
		ID:         publicID(e, obfuscate.Instance, mi.ID),
		ModelID:    publicID(e, obfuscate.Model, mi.ModelID),
		StepfileID: mi.StepfileID,
		IFCType:    mi.IFCType,
		Fields:     mi.Fields,
	}
}

func instanceCmd() *cobra.Command {
	inst := &cobra.Command{Use: "instance", Short: "Manage model instances outcomes can point at"}

	var fields string
	create := &cobra.Command{
		Use:   "create <model-id> <stepfile-id> <ifc-type>",
		Short: "Register an instance of a model",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				modelID, err := parseID(e, obfuscate.Model, args[0])
				if err != nil {
					return err
				}
				stepID, err := parseStepfileID(args[1])
				if err != nil {
					return err
				}
				var f any
				if fields != "" {
					if !json.Valid([]byte(fields)) {
						return fmt.Errorf("--fields is not valid JSON")
					}
					f = json.RawMessage(fields)
				}
				mi, err := e.CreateInstance(ctx, modelID, stepID, args[2], f)
				if err != nil {
					return err
				}
				return printJSONOrTable(newInstanceView(e, mi))
			})
		},
	}
	create.Flags().StringVar(&fields, "fields", "", "instance attributes as JSON")
	inst.AddCommand(create)

	inst.AddCommand(&cobra.Command{
		Use:   "list <model-id>",
		Short: "List the instances of a model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				modelID, err := parseID(e, obfuscate.Model, args[0])
				if err != nil {
					return err
				}
				items, err := e.Repo.ListInstances(ctx, modelID)
				if err != nil {
					return err
				}
				out := make([]instanceView, 0, len(items))
				for _, mi := range items {
					out = append(out, newInstanceView(e, mi))
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				tw := newTable(table.Row{"ID", "Step #", "Type"})
				for _, v := range out {
					tw.AppendRow(table.Row{v.ID, v.StepfileID, v.IFCType})
				}
				tw.Render()
				return nil
			})
		},
	})

	inst.AddCommand(&cobra.Command{
		Use:   "delete <instance-id>",
		Short: "Delete an instance together with the outcomes pointing at it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				id, err := parseID(e, obfuscate.Instance, args[0])
				if err != nil {
					return err
				}
				if err := e.DeleteInstance(ctx, id); err != nil {
					return err
				}
				fmt.Printf("deleted %s\n", args[0])
				return nil
			})
		},
	})
	return inst
}
