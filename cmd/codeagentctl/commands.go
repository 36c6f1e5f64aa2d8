package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/kiranshivaraju/codeagent/internal/apikey"
	"github.com/kiranshivaraju/codeagent/internal/config"
	"github.com/kiranshivaraju/codeagent/internal/plan"
	"github.com/kiranshivaraju/codeagent/internal/store"
	"github.com/kiranshivaraju/codeagent/pkg/models"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"
)

// opener connects to the store behind databaseURL. The returned func
// releases it.
type opener func(ctx context.Context, databaseURL string) (store.Store, func(), error)

func connectPostgres(ctx context.Context, databaseURL string) (store.Store, func(), error) {
	pool, err := store.Connect(ctx, config.DatabaseConfig{URL: databaseURL, MaxOpenConns: 2})
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	return store.NewPostgresStore(pool), pool.Close, nil
}

type app struct {
	out  io.Writer
	open opener
}

func newApp(out io.Writer, open opener) *cli.Command {
	a := &app{out: out, open: open}
	return &cli.Command{
		Name:   "codeagentctl",
		Usage:  "administer CodeAgent tenants, API keys and the database",
		Writer: out,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "env",
				Usage: "env file to load before running the command",
			},
			&cli.StringFlag{
				Name:  "database-url",
				Usage: "PostgreSQL URL, defaults to $DATABASE_URL",
			},
		},
		Before: loadEnv,
		Commands: []*cli.Command{
			{
				Name:   "migrate",
				Usage:  "apply pending database migrations",
				Action: a.migrate,
			},
			{
				Name:  "tenant",
				Usage: "tenant management",
				Commands: []*cli.Command{
					{
						Name:  "create",
						Usage: "create a tenant and its first API key",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "name", Usage: "unique tenant name", Required: true},
							&cli.StringFlag{Name: "plan", Usage: "starter, professional or team", Value: plan.Starter},
						},
						Action: a.createTenant,
					},
				},
			},
			{
				Name:  "key",
				Usage: "API key management",
				Commands: []*cli.Command{
					{
						Name:  "create",
						Usage: "issue an additional API key for a tenant",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "tenant", Usage: "tenant id", Required: true},
							&cli.StringFlag{Name: "name", Usage: "label for the key", Value: "default"},
						},
						Action: a.createKey,
					},
				},
			},
			{
				Name:   "plans",
				Usage:  "list subscription plans",
				Action: a.listPlans,
			},
			{
				Name:   "stats",
				Usage:  "show job counts by status",
				Action: a.stats,
			},
		},
	}
}

func loadEnv(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	path := cmd.String("env")
	if path == "" {
		return ctx, nil
	}
	if err := godotenv.Load(path); err != nil {
		return ctx, fmt.Errorf("load env file %s: %w", path, err)
	}
	return ctx, nil
}

func databaseURL(cmd *cli.Command) (string, error) {
	if u := cmd.String("database-url"); u != "" {
		return u, nil
	}
	if u := os.Getenv("DATABASE_URL"); u != "" {
		return u, nil
	}
	return "", errors.New("database URL is required: pass --database-url or set DATABASE_URL")
}

func (a *app) withStore(ctx context.Context, cmd *cli.Command, fn func(store.Store) error) error {
	u, err := databaseURL(cmd)
	if err != nil {
		return err
	}
	s, release, err := a.open(ctx, u)
	if err != nil {
		return err
	}
	defer release()
	return fn(s)
}

func (a *app) migrate(_ context.Context, cmd *cli.Command) error {
	u, err := databaseURL(cmd)
	if err != nil {
		return err
	}
	if err := store.RunMigrations(u); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "migrations applied")
	return nil
}

func (a *app) createTenant(ctx context.Context, cmd *cli.Command) error {
	name := cmd.String("name")
	tier := cmd.String("plan")
	if !plan.Valid(tier) {
		return fmt.Errorf("unknown plan %q", tier)
	}

	return a.withStore(ctx, cmd, func(s store.Store) error {
		if _, err := s.GetTenantByName(ctx, name); err == nil {
			return fmt.Errorf("tenant %q already exists", name)
		} else if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("get tenant: %w", err)
		}

		now := time.Now().UTC()
		tenant := &models.Tenant{ID: uuid.New(), Name: name, Plan: tier, CreatedAt: now, UpdatedAt: now}
		if err := s.CreateTenant(ctx, tenant); err != nil {
			return fmt.Errorf("create tenant: %w", err)
		}
		issued, err := issueKey(ctx, s, tenant.ID, "default")
		if err != nil {
			return err
		}
		return a.printKey(tenant, issued)
	})
}

func (a *app) createKey(ctx context.Context, cmd *cli.Command) error {
	id, err := uuid.Parse(cmd.String("tenant"))
	if err != nil {
		return fmt.Errorf("invalid tenant id: %w", err)
	}

	return a.withStore(ctx, cmd, func(s store.Store) error {
		tenant, err := s.GetTenant(ctx, id)
		if err != nil {
			return fmt.Errorf("get tenant: %w", err)
		}
		issued, err := issueKey(ctx, s, tenant.ID, cmd.String("name"))
		if err != nil {
			return err
		}
		return a.printKey(tenant, issued)
	})
}

func issueKey(ctx context.Context, s store.Store, tenantID uuid.UUID, name string) (apikey.Issued, error) {
	issued, err := apikey.Generate()
	if err != nil {
		return apikey.Issued{}, err
	}
	now := time.Now().UTC()
	if err := s.CreateAPIKey(ctx, &models.APIKey{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Name:      name,
		KeyHash:   issued.Hash,
		KeyPrefix: issued.Prefix,
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		return apikey.Issued{}, fmt.Errorf("create api key: %w", err)
	}
	return issued, nil
}

func (a *app) printKey(tenant *models.Tenant, issued apikey.Issued) error {
	table := tablewriter.NewWriter(a.out)
	table.Header("Tenant ID", "Name", "Plan", "API Key")
	if err := table.Append(tenant.ID.String(), tenant.Name, tenant.Plan, issued.Raw); err != nil {
		return err
	}
	if err := table.Render(); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Store the API key now. It cannot be shown again.")
	return nil
}

func (a *app) listPlans(_ context.Context, _ *cli.Command) error {
	table := tablewriter.NewWriter(a.out)
	table.Header("Plan", "Burst", "Refill/s", "Tasks/month")
	for _, p := range plan.All() {
		tasks := "unlimited"
		if p.TasksPerMonth != plan.Unlimited {
			tasks = strconv.Itoa(p.TasksPerMonth)
		}
		if err := table.Append(p.Name, strconv.Itoa(p.BurstCapacity),
			strconv.FormatFloat(p.RefillPerSec, 'f', -1, 64), tasks); err != nil {
			return err
		}
	}
	return table.Render()
}

func (a *app) stats(ctx context.Context, cmd *cli.Command) error {
	return a.withStore(ctx, cmd, func(s store.Store) error {
		st, err := s.JobStats(ctx)
		if err != nil {
			return fmt.Errorf("job stats: %w", err)
		}

		statuses := make([]string, 0, len(st.ByStatus))
		for status := range st.ByStatus {
			statuses = append(statuses, status)
		}
		sort.Strings(statuses)

		table := tablewriter.NewWriter(a.out)
		table.Header("Status", "Jobs")
		for _, status := range statuses {
			if err := table.Append(status, strconv.Itoa(st.ByStatus[status])); err != nil {
				return err
			}
		}
		if err := table.Append("total", strconv.Itoa(st.Total)); err != nil {
			return err
		}
		return table.Render()
	})
}
