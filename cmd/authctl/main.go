package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/fatih/color"
	flag "github.com/spf13/pflag"

	"pagat.app/internal/audit"
	"pagat.app/internal/auth"
	"pagat.app/internal/config"
	"pagat.app/internal/store"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "users":
		err = cmdUsers(args)
	case "approve":
		err = cmdApproval(args, true)
	case "reject":
		err = cmdApproval(args, false)
	case "role":
		err = cmdRole(args)
	case "delete":
		err = cmdDelete(args)
	case "audit":
		err = cmdAudit(args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	yellow := color.New(color.FgYellow)

	fmt.Println("Usage: authctl <command> [flags]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  users [--status pending]          List users (pending|approved|rejected|all)")
	fmt.Println("  approve <username> --as <admin>   Approve a user")
	fmt.Println("  reject <username> --as <admin>    Reject a user")
	fmt.Println("  role <username> <role> --as <admin>")
	fmt.Println("                                    Set role to user or admin")
	fmt.Println("  delete <username> --as <admin>    Delete a user and their passkeys")
	fmt.Println("  audit [--entity] [--action] [--user] [--search] [--limit]")
	fmt.Println("                                    Show recent audit entries")
	fmt.Println()
	yellow.Println("Common flags:")
	fmt.Println("  -c, --config <path>   YAML or TOML config (default $PAGAT_CONFIG)")
	fmt.Println()
}

type env struct {
	db    *store.DB
	dir   *auth.Directory
	audit *audit.Recorder
}

func newFlagSet(name string) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	configPath := fs.StringP("config", "c", os.Getenv("PAGAT_CONFIG"), "path to a YAML or TOML config file")
	return fs, configPath
}

func open(configPath string) (*env, error) {
	cfg, err := config.Read(configPath)
	if err != nil {
		return nil, err
	}
	if cfg.Database.DSN == "" {
		return nil, errors.New("missing DSN: set DATABASE_URL or database.dsn")
	}
	db, err := store.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	recorder := audit.NewRecorder(db.AuditLog())
	dir, err := auth.NewDirectory(db.Users(), recorder)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &env{db: db, dir: dir, audit: recorder}, nil
}

// actor resolves --as to an identity. The directory enforces the admin role.
func (e *env) actor(ctx context.Context, username string) (auth.Identity, error) {
	if username == "" {
		return auth.Identity{}, errors.New("--as <admin username> is required")
	}
	u, err := e.db.Users().FindByUsername(ctx, username)
	if err != nil {
		return auth.Identity{}, fmt.Errorf("acting user %q: %w", username, err)
	}
	return auth.IdentityOf(u), nil
}

func (e *env) target(ctx context.Context, username string) (*store.User, error) {
	u, err := e.db.Users().FindByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("user %q: %w", username, err)
	}
	return u, nil
}

func cmdUsers(args []string) error {
	fs, configPath := newFlagSet("users")
	status := fs.String("status", "all", "pending|approved|rejected|all")
	if err := fs.Parse(args); err != nil {
		return err
	}
	e, err := open(*configPath)
	if err != nil {
		return err
	}
	defer e.db.Close()

	users, err := e.db.Users().List(context.Background(), *status)
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Println("  Users")
	cyan.Println("  -----")
	if len(users) == 0 {
		fmt.Println("  (no users)")
		fmt.Println()
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  ID\tUSERNAME\tROLE\tSTATUS\tPROVIDER\tCREATED")
	fmt.Fprintln(w, "  --\t--------\t----\t------\t--------\t-------")
	for _, u := range users {
		fmt.Fprintf(w, "  %d\t%s\t%s\t%s\t%s\t%s\n",
			u.ID, u.Username, u.Role, statusLabel(u.Approved), u.Provider, u.CreatedAt.Format("Jan 02 15:04"))
	}
	w.Flush()
	fmt.Println()
	return nil
}

func statusLabel(approved int) string {
	switch approved {
	case store.Approved:
		return color.GreenString("approved")
	case store.Rejected:
		return color.RedString("rejected")
	default:
		return color.YellowString("pending")
	}
}

func cmdApproval(args []string, approve bool) error {
	name := "reject"
	if approve {
		name = "approve"
	}
	fs, configPath := newFlagSet(name)
	as := fs.String("as", "", "admin username performing the change")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: authctl %s <username> --as <admin>", name)
	}
	e, err := open(*configPath)
	if err != nil {
		return err
	}
	defer e.db.Close()

	ctx := context.Background()
	actor, err := e.actor(ctx, *as)
	if err != nil {
		return err
	}
	u, err := e.target(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	if approve {
		err = e.dir.Approve(ctx, actor, u.ID)
	} else {
		err = e.dir.Reject(ctx, actor, u.ID)
	}
	if err != nil {
		return err
	}
	color.New(color.FgGreen).Printf("%s: %s\n", name, u.Username)
	return nil
}

func cmdRole(args []string) error {
	fs, configPath := newFlagSet("role")
	as := fs.String("as", "", "admin username performing the change")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return errors.New("usage: authctl role <username> <user|admin> --as <admin>")
	}
	e, err := open(*configPath)
	if err != nil {
		return err
	}
	defer e.db.Close()

	ctx := context.Background()
	actor, err := e.actor(ctx, *as)
	if err != nil {
		return err
	}
	u, err := e.target(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	if err := e.dir.SetRole(ctx, actor, u.ID, fs.Arg(1)); err != nil {
		return err
	}
	color.New(color.FgGreen).Printf("%s is now %s\n", u.Username, fs.Arg(1))
	return nil
}

func cmdDelete(args []string) error {
	fs, configPath := newFlagSet("delete")
	as := fs.String("as", "", "admin username performing the change")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: authctl delete <username> --as <admin>")
	}
	e, err := open(*configPath)
	if err != nil {
		return err
	}
	defer e.db.Close()

	ctx := context.Background()
	actor, err := e.actor(ctx, *as)
	if err != nil {
		return err
	}
	u, err := e.target(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	if err := e.dir.Delete(ctx, actor, u.ID); err != nil {
		return err
	}
	color.New(color.FgGreen).Printf("deleted %s\n", u.Username)
	return nil
}

func cmdAudit(args []string) error {
	fs, configPath := newFlagSet("audit")
	var f audit.Filter
	fs.StringVar(&f.Entity, "entity", "", "entity, e.g. auth or user")
	fs.StringVar(&f.Action, "action", "", "action, e.g. login")
	fs.StringVar(&f.Username, "user", "", "acting username")
	fs.StringVar(&f.Search, "search", "", "substring of info")
	fs.IntVar(&f.Limit, "limit", store.DefaultAuditLimit, "maximum entries")
	if err := fs.Parse(args); err != nil {
		return err
	}
	f.Limit = store.ClampAuditLimit(f.Limit)
	e, err := open(*configPath)
	if err != nil {
		return err
	}
	defer e.db.Close()

	entries, err := e.audit.Query(context.Background(), f)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("  (no entries)")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  ID\tWHEN\tEVENT\tENTITY ID\tUSER\tINFO")
	for _, en := range entries {
		fmt.Fprintf(w, "  %s\t%s\t%s/%s\t%s\t%s\t%s\n",
			strconv.FormatInt(en.ID, 10), en.TS.Format("Jan 02 15:04:05"),
			en.Entity, en.Action, en.EntityID, en.Username, truncate(en.Info, 60))
	}
	w.Flush()
	return nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
