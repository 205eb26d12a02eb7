// Package cli implements the objectbox command line: a server and a set of
// commands that read and write record trees directly in a backend.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/olekukonko/tablewriter"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/stevemurr/objectbox/box"
	"github.com/stevemurr/objectbox/config"
	"github.com/stevemurr/objectbox/handler"
	"github.com/stevemurr/objectbox/store"
)

// T holds the command tree and the settings its flags fill in.
type T struct {
	Root *cobra.Command

	configPath string
	backend    string
	dataDir    string
	logLevel   string
	table      string
	depth      int

	cfg config.Config
	log *logrus.Logger
}

// New builds the objectbox command tree.
func New() *T {
	t := &T{}
	t.Root = &cobra.Command{
		Use:               "objectbox [command] (flags)",
		Short:             "store nested values as linked flat records",
		SilenceUsage:      true,
		PersistentPreRunE: t.setup,
	}

	flags := t.Root.PersistentFlags()
	flags.StringVar(&t.configPath, "config", "", "YAML config file")
	flags.StringVar(&t.backend, "backend", "", "storage backend ("+strings.Join(store.Backends, ", ")+")")
	flags.StringVar(&t.dataDir, "data-dir", "", "directory of the on-disk backends")
	flags.StringVar(&t.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.StringVarP(&t.table, "table", "t", "", "table to operate on")

	query := &cobra.Command{
		Use:   "query [field=value...]",
		Short: "list the records matching every field=value pair",
		Long: `
List the records of the table whose fields equal every given pair. Values
are read as JSON scalars when they parse as one, otherwise as strings.
`,
		RunE: t.runQuery,
	}
	query.Flags().IntVar(&t.depth, "depth", -1, "only records at this nesting depth (0 = roots)")

	t.Root.AddCommand(
		t.serveCmd(),
		&cobra.Command{
			Use:   "insert <json>",
			Short: "insert a nested value and print the root id",
			Args:  cobra.ExactArgs(1),
			RunE:  t.runInsert,
		},
		&cobra.Command{
			Use:   "get <id> [field]",
			Short: "print a record tree, or one field of it",
			Args:  cobra.RangeArgs(1, 2),
			RunE:  t.runGet,
		},
		&cobra.Command{
			Use:   "update <id> <json>",
			Short: "merge a nested value into a record",
			Args:  cobra.ExactArgs(2),
			RunE:  t.runUpdate,
		},
		&cobra.Command{
			Use:   "set <id> <field> <json>",
			Short: "replace one field of a record",
			Args:  cobra.ExactArgs(3),
			RunE:  t.runSet,
		},
		&cobra.Command{
			Use:   "delete <id>",
			Short: "delete a record and everything it links to",
			Args:  cobra.ExactArgs(1),
			RunE:  t.runDelete,
		},
		query,
		&cobra.Command{
			Use:   "tables",
			Short: "list the tables holding records",
			Args:  cobra.NoArgs,
			RunE:  t.runTables,
		},
	)
	return t
}

// Execute runs the command line with args.
func (t *T) Execute(ctx context.Context, args []string) error {
	t.Root.SetArgs(args)
	return t.Root.ExecuteContext(ctx)
}

// setup loads the configuration and applies the flags given on top of it.
func (t *T) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(t.configPath)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("backend") {
		cfg.Backend = t.backend
	}
	if flags.Changed("data-dir") {
		cfg.DataDir = t.dataDir
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = t.logLevel
	}
	if flags.Changed("table") {
		cfg.Table = t.table
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	log, err := cfg.Logger()
	if err != nil {
		return err
	}
	log.SetOutput(cmd.ErrOrStderr())
	t.cfg, t.log = cfg, log
	return nil
}

// session is one opened backend with a Box over it.
type session struct {
	db    *store.DB
	box   *box.Box
	table store.Table
}

func (t *T) open(ctx context.Context, opts box.Options) (*session, error) {
	backend, err := store.New(ctx, t.cfg.StoreOptions(t.log))
	if err != nil {
		return nil, err
	}
	opts.Logger = t.log
	db := store.Open(backend)
	return &session{db: db, box: box.New(opts), table: db.Table(t.cfg.Table)}, nil
}

func (s *session) Close() error {
	return s.db.Close()
}

// withSession opens the configured backend, runs fn and closes the backend.
func (t *T) withSession(cmd *cobra.Command, fn func(ctx context.Context, s *session) error) (err error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := t.open(ctx, box.Options{})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); err == nil {
			err = cerr
		}
	}()
	return fn(ctx, s)
}

func (s *session) record(ctx context.Context, id string) (store.Record, error) {
	r, err := s.table.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, errors.Wrapf(store.ErrNotFound, "%s/%s", s.table.Name(), id)
	}
	return r, nil
}

func parseObject(arg string) (map[string]any, error) {
	var v map[string]any
	if err := json.Unmarshal([]byte(arg), &v); err != nil {
		return nil, errors.Wrapf(err, "invalid JSON object %q", arg)
	}
	return v, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (t *T) runInsert(cmd *cobra.Command, args []string) error {
	value, err := parseObject(args[0])
	if err != nil {
		return err
	}
	return t.withSession(cmd, func(ctx context.Context, s *session) error {
		r, err := s.box.Insert(ctx, s.table, value)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), r.ID())
		return nil
	})
}

func (t *T) runGet(cmd *cobra.Command, args []string) error {
	return t.withSession(cmd, func(ctx context.Context, s *session) error {
		r, err := s.record(ctx, args[0])
		if err != nil {
			return err
		}
		var v any
		if len(args) == 2 {
			v, err = s.box.Get(ctx, r, args[1])
		} else {
			v, err = s.box.GetFields(ctx, r)
		}
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), v)
	})
}

func (t *T) runUpdate(cmd *cobra.Command, args []string) error {
	value, err := parseObject(args[1])
	if err != nil {
		return err
	}
	return t.withSession(cmd, func(ctx context.Context, s *session) error {
		r, err := s.record(ctx, args[0])
		if err != nil {
			return err
		}
		if r, err = s.box.Update(ctx, r, value); err != nil {
			return err
		}
		fields, err := s.box.GetFields(ctx, r)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), fields)
	})
}

func (t *T) runSet(cmd *cobra.Command, args []string) error {
	var value any
	if err := json.Unmarshal([]byte(args[2]), &value); err != nil {
		return errors.Wrapf(err, "invalid JSON value %q", args[2])
	}
	return t.withSession(cmd, func(ctx context.Context, s *session) error {
		r, err := s.record(ctx, args[0])
		if err != nil {
			return err
		}
		if r, err = s.box.Set(ctx, r, args[1], value); err != nil {
			return err
		}
		fields, err := s.box.GetFields(ctx, r)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), fields)
	})
}

func (t *T) runDelete(cmd *cobra.Command, args []string) error {
	return t.withSession(cmd, func(ctx context.Context, s *session) error {
		r, err := s.record(ctx, args[0])
		if err != nil {
			return err
		}
		return s.box.DeleteRecord(ctx, r)
	})
}

func parseMatch(args []string) (map[string]any, error) {
	match := make(map[string]any, len(args))
	for _, arg := range args {
		name, value, ok := strings.Cut(arg, "=")
		if !ok || name == "" {
			return nil, errors.Newf("expected field=value, got %q", arg)
		}
		match[name] = handler.ParseMatchValue(value)
	}
	return match, nil
}

func (t *T) runQuery(cmd *cobra.Command, args []string) error {
	match, err := parseMatch(args)
	if err != nil {
		return err
	}
	return t.withSession(cmd, func(ctx context.Context, s *session) error {
		var records []store.Record
		if t.depth >= 0 {
			records, err = s.box.QueryDepth(ctx, s.table, match, t.depth)
		} else {
			records, err = s.box.Query(ctx, s.table, match)
		}
		if err != nil {
			return err
		}

		tw := tablewriter.NewWriter(cmd.OutOrStdout())
		tw.SetHeader([]string{"ID", "Depth", "Fields"})
		tw.SetAutoWrapText(false)
		for _, r := range records {
			fields, err := s.box.GetFields(ctx, r)
			if err != nil {
				return err
			}
			depth, err := r.Field(ctx, box.DepthField)
			if err != nil {
				return err
			}
			encoded, err := json.Marshal(fields)
			if err != nil {
				return err
			}
			tw.Append([]string{r.ID(), fmt.Sprint(depth), string(encoded)})
		}
		tw.Render()
		return nil
	})
}

func (t *T) runTables(cmd *cobra.Command, _ []string) error {
	return t.withSession(cmd, func(ctx context.Context, s *session) error {
		names, err := s.db.TableNames(ctx)
		if err != nil {
			return err
		}
		sort.Strings(names)

		tw := tablewriter.NewWriter(cmd.OutOrStdout())
		tw.SetHeader([]string{"Table", "Records"})
		for _, name := range names {
			records, err := s.db.Table(name).Query(ctx, map[string]any{})
			if err != nil {
				return err
			}
			tw.Append([]string{name, strconv.Itoa(len(records))})
		}
		tw.Render()
		return nil
	})
}
