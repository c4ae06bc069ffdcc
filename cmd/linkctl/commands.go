package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/demonfiddler/evidence-engine-sub000/application/commands"
	"github.com/demonfiddler/evidence-engine-sub000/application/queries"
	"github.com/demonfiddler/evidence-engine-sub000/domain/core/entities"
	vo "github.com/demonfiddler/evidence-engine-sub000/domain/core/valueobjects"
	"github.com/demonfiddler/evidence-engine-sub000/infrastructure/config"
	"github.com/demonfiddler/evidence-engine-sub000/infrastructure/di"
	"github.com/demonfiddler/evidence-engine-sub000/pkg/auth"
	apperrors "github.com/demonfiddler/evidence-engine-sub000/pkg/errors"
)

// app carries the global flags and the lazily built container
type app struct {
	out         io.Writer
	backend     string
	sqlitePath  string
	kindRules   string
	auditRules  string
	output      string
	user        string
	authorities []string

	container *di.Container
	cleanup   func()
}

// newRootCmd builds the command tree. The returned func releases the store
// once the command has run.
func newRootCmd(out io.Writer) (*cobra.Command, func()) {
	a := &app{out: out}

	cmd := &cobra.Command{
		Use:   "linkctl",
		Short: "Inspect and edit entity links and audits",
		Long: `linkctl drives the link, record and audit services against the
configured store. Settings come from the same environment variables as the
API server; flags override them.

Examples:
  linkctl directions                       # List every linkable pair
  linkctl directions CLA TOP               # Which side is "from"?
  linkctl record save CLA c1 --label "Sky is blue"
  linkctl link create TOP:t1 CLA:c1 --to-locations "p. 4"
  linkctl links c1 --other TOP
  linkctl audit c1 -o yaml
`,
		SilenceUsage: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.backend, "backend", config.BackendSQLite, "Store backend: dynamodb, sqlite or memory")
	flags.StringVar(&a.sqlitePath, "db", "", "SQLite database path (default $SQLITE_PATH)")
	flags.StringVar(&a.kindRules, "kind-rules", "", "Kind registry YAML file")
	flags.StringVar(&a.auditRules, "audit-rules", "", "Audit rules YAML file")
	flags.StringVarP(&a.output, "output", "o", "json", "Output format: json or yaml")
	flags.StringVar(&a.user, "user", "linkctl", "User id recorded on changes")
	flags.StringSliceVar(&a.authorities, "authorities", []string{auth.AuthorityAdmin}, "Authorities granted to this run")

	cmd.AddCommand(
		a.directionsCmd(),
		a.linksCmd(),
		a.auditCmd(),
		a.recordCmd(),
		a.linkCmd(),
	)
	return cmd, func() {
		if a.cleanup != nil {
			a.cleanup()
		}
	}
}

// load builds the container on first use
func (a *app) load(ctx context.Context) (*di.Container, error) {
	if a.container != nil {
		return a.container, nil
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	cfg.StoreBackend = a.backend
	if a.sqlitePath != "" {
		cfg.SQLitePath = a.sqlitePath
	}
	if a.kindRules != "" {
		cfg.KindRulesFile = a.kindRules
	}
	if a.auditRules != "" {
		cfg.AuditRulesFile = a.auditRules
	}
	cfg.WatchRules = false
	cfg.EnableCloudWatch = false
	if cfg.LogLevel == "info" {
		cfg.LogLevel = "warn"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	container, cleanup, err := di.InitializeContainer(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.container, a.cleanup = container, cleanup
	return container, nil
}

// require fails unless the run holds code
func (a *app) require(ctx context.Context, code string) error {
	if !auth.StaticAuthorizer(a.authorities).HasAuthority(ctx, code) {
		return a.explain(apperrors.NotAuthorized(code))
	}
	return nil
}

// explain turns service errors into one readable line
func (a *app) explain(err error) error {
	if err == nil {
		return nil
	}
	status, resp := apperrors.NewErrorHandler(zap.NewNop(), false).Describe(err)
	if status >= 500 {
		return err
	}
	msg := resp.Message
	if resp.Code != "" {
		msg = fmt.Sprintf("%s [%s]", msg, resp.Code)
	}
	keys := make([]string, 0, len(resp.Details))
	for k := range resp.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		msg += fmt.Sprintf(" %s=%v", k, resp.Details[k])
	}
	return errors.New(msg)
}

func (a *app) print(v interface{}) error {
	if record, ok := v.(*entities.TrackedRecord); ok && record != nil {
		v = record.Snapshot()
	}
	switch a.output {
	case "yaml":
		// round-trip through JSON so the json tags name the fields
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		var generic interface{}
		if err := json.Unmarshal(data, &generic); err != nil {
			return err
		}
		enc := yaml.NewEncoder(a.out)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(generic)
	case "json", "":
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	return fmt.Errorf("unknown output format %q", a.output)
}

func (a *app) ask(cmd *cobra.Command, q interface{ Validate() error }) error {
	ctx := cmd.Context()
	if err := a.require(ctx, auth.AuthorityRead); err != nil {
		return err
	}
	c, err := a.load(ctx)
	if err != nil {
		return err
	}
	result, err := c.QueryBus.Ask(ctx, q)
	if err != nil {
		return a.explain(err)
	}
	return a.print(result)
}

func (a *app) send(cmd *cobra.Command, code string, command interface{ Validate() error }) error {
	ctx := cmd.Context()
	if err := a.require(ctx, code); err != nil {
		return err
	}
	c, err := a.load(ctx)
	if err != nil {
		return err
	}
	result, err := c.CommandBus.Send(ctx, command)
	if err != nil {
		return a.explain(err)
	}
	if result == nil {
		return a.print(map[string]string{"status": "ok"})
	}
	return a.print(result)
}

func (a *app) directionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "directions [kindA kindB]",
		Short: "List linkable kind pairs or resolve one pair's direction",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 && len(args) != 2 {
				return fmt.Errorf("expected no arguments or two kinds")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return a.ask(cmd, queries.ListLinkDirectionsQuery{})
			}
			return a.ask(cmd, queries.GetLinkDirectionQuery{KindA: args[0], KindB: args[1]})
		},
	}
}

func (a *app) linksCmd() *cobra.Command {
	var other string
	cmd := &cobra.Command{
		Use:   "links RECORD_ID",
		Short: "Show a record's links from its own perspective",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.ask(cmd, queries.GetRecordLinksQuery{RecordID: args[0], OtherKind: other})
		},
	}
	cmd.Flags().StringVar(&other, "other", "", "Only links whose other end has this kind")
	return cmd
}

func (a *app) auditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "audit RECORD_ID",
		Short: "Compute the audit of a stored record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.ask(cmd, queries.GetEntityAuditQuery{RecordID: args[0]})
		},
	}
}

func (a *app) recordCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Manage tracked records",
	}

	var (
		label  string
		fields []string
	)
	save := &cobra.Command{
		Use:   "save KIND ID",
		Short: "Create or update a record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := parseFields(fields)
			if err != nil {
				return err
			}
			return a.send(cmd, auth.AuthorityUpdate, commands.SaveRecordCommand{
				Kind:   args[0],
				ID:     args[1],
				Label:  label,
				Fields: values,
				UserID: a.user,
			})
		},
	}
	save.Flags().StringVar(&label, "label", "", "Display label")
	save.Flags().StringArrayVar(&fields, "field", nil, "Field value as name=value; repeatable")

	var (
		kind     string
		statuses []string
		text     string
		limit    int
		offset   int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List records of one kind",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := queries.ListRecordsQuery{Kind: kind, Limit: limit, Offset: offset}
			q.Filter.Text = text
			for _, s := range statuses {
				st, err := vo.ParseStatusKind(s)
				if err != nil {
					return err
				}
				q.Filter.Status = append(q.Filter.Status, st)
			}
			return a.ask(cmd, q)
		},
	}
	list.Flags().StringVar(&kind, "kind", "", "Record kind")
	list.Flags().StringSliceVar(&statuses, "status", nil, "Statuses to include")
	list.Flags().StringVar(&text, "text", "", "Case-insensitive label search")
	list.Flags().IntVar(&limit, "limit", 50, "Page size")
	list.Flags().IntVar(&offset, "offset", 0, "Rows to skip")
	list.MarkFlagRequired("kind")

	status := &cobra.Command{
		Use:   "status RECORD_ID STATUS",
		Short: "Move a record to another status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			required := auth.AuthorityUpdate
			if st, err := vo.ParseStatusKind(args[1]); err == nil && st.IsDeleted() {
				required = auth.AuthorityDelete
			}
			return a.send(cmd, required, commands.SetEntityStatusCommand{ID: args[0], Status: args[1], UserID: a.user})
		},
	}

	cmd.AddCommand(save, list, status)
	return cmd
}

func (a *app) linkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "link",
		Short: "Create, update or delete links",
	}

	var fromLoc, toLoc string
	create := &cobra.Command{
		Use:   "create FROM_KIND:ID TO_KIND:ID",
		Short: "Link two records; the pair must be registered in that direction",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, to, err := parseEnds(args[0], args[1])
			if err != nil {
				return err
			}
			return a.send(cmd, auth.AuthorityLink, commands.CreateLinkCommand{
				FromEntityKind:      from.Kind.String(),
				FromEntityID:        from.ID,
				FromEntityLocations: fromLoc,
				ToEntityKind:        to.Kind.String(),
				ToEntityID:          to.ID,
				ToEntityLocations:   toLoc,
				UserID:              a.user,
			})
		},
	}
	create.Flags().StringVar(&fromLoc, "from-locations", "", "Locations within the from record")
	create.Flags().StringVar(&toLoc, "to-locations", "", "Locations within the to record")

	var upFromLoc, upToLoc string
	update := &cobra.Command{
		Use:   "update LINK_ID FROM_KIND:ID TO_KIND:ID",
		Short: "Rewrite a link's endpoints and locations",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, to, err := parseEnds(args[1], args[2])
			if err != nil {
				return err
			}
			return a.send(cmd, auth.AuthorityLink, commands.UpdateLinkCommand{
				ID:                  args[0],
				FromEntityKind:      from.Kind.String(),
				FromEntityID:        from.ID,
				FromEntityLocations: upFromLoc,
				ToEntityKind:        to.Kind.String(),
				ToEntityID:          to.ID,
				ToEntityLocations:   upToLoc,
				UserID:              a.user,
			})
		},
	}
	update.Flags().StringVar(&upFromLoc, "from-locations", "", "Locations within the from record")
	update.Flags().StringVar(&upToLoc, "to-locations", "", "Locations within the to record")

	del := &cobra.Command{
		Use:   "delete LINK_ID",
		Short: "Delete a link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.send(cmd, auth.AuthorityLink, commands.DeleteLinkCommand{ID: args[0], UserID: a.user})
		},
	}

	cmd.AddCommand(create, update, del)
	return cmd
}

func parseEnds(from, to string) (vo.RecordRef, vo.RecordRef, error) {
	f, err := vo.ParseRecordRef(from)
	if err != nil {
		return vo.RecordRef{}, vo.RecordRef{}, err
	}
	t, err := vo.ParseRecordRef(to)
	if err != nil {
		return vo.RecordRef{}, vo.RecordRef{}, err
	}
	return f, t, nil
}

// parseFields reads name=value pairs. Values that parse as YAML scalars or
// lists keep their type, so --field tags=[a,b] yields a list.
func parseFields(pairs []string) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(pairs))
	for _, p := range pairs {
		name, value, ok := strings.Cut(p, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid field %q, expected name=value", p)
		}
		var v interface{}
		if err := yaml.Unmarshal([]byte(value), &v); err != nil || v == nil {
			v = value
		}
		out[name] = v
	}
	return out, nil
}
