// Command exclctl is the offline administration tool for the exclusions
// table: list, add, and remove gametype/player_name/server_id entries
// without touching the running daemon.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var validTypes = map[string]bool{
	"gametype":    true,
	"player_name": true,
	"server_id":   true,
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: exclctl <list|add|remove> [options]")
	}

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		return fmt.Errorf("POSTGRES_DSN is required")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer pool.Close()

	switch args[0] {
	case "list":
		return runList(ctx, pool, args[1:])
	case "add":
		return runAdd(ctx, pool, args[1:])
	case "remove":
		return runRemove(ctx, pool, args[1:])
	default:
		return fmt.Errorf("unknown subcommand %q: usage: exclctl <list|add|remove> [options]", args[0])
	}
}

func runList(ctx context.Context, pool *pgxpool.Pool, args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	typeFilter := fs.String("type", "", "only show exclusions of this type")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var rows pgx.Rows
	var err error
	if *typeFilter != "" {
		rows, err = pool.Query(ctx, `SELECT id, type, value, notes FROM exclusions WHERE type = $1 ORDER BY id`, *typeFilter)
	} else {
		rows, err = pool.Query(ctx, `SELECT id, type, value, notes FROM exclusions ORDER BY id`)
	}
	if err != nil {
		return fmt.Errorf("list exclusions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int
		var excType, value string
		var notes *string
		if err := rows.Scan(&id, &excType, &value, &notes); err != nil {
			return fmt.Errorf("scan exclusion: %w", err)
		}
		note := ""
		if notes != nil {
			note = *notes
		}
		fmt.Printf("%d\t%s\t%s\t%s\n", id, excType, value, note)
	}
	return rows.Err()
}

func runAdd(ctx context.Context, pool *pgxpool.Pool, args []string) error {
	fs := flag.NewFlagSet("add", flag.ContinueOnError)
	notes := fs.String("notes", "", "optional notes")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) < 2 {
		return fmt.Errorf("usage: exclctl add <gametype|player_name|server_id> <value> [--notes text]")
	}
	excType, value := rest[0], rest[1]
	if !validTypes[excType] {
		return fmt.Errorf("invalid type %q: must be one of gametype, player_name, server_id", excType)
	}

	_, err := pool.Exec(ctx, `INSERT INTO exclusions (type, value, notes) VALUES ($1, $2, $3)`, excType, value, nullable(*notes))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("exclusion (%s, %s) already exists", excType, value)
		}
		return fmt.Errorf("add exclusion: %w", err)
	}

	fmt.Printf("added exclusion: %s = %s\n", excType, value)
	return nil
}

func runRemove(ctx context.Context, pool *pgxpool.Pool, args []string) error {
	fs := flag.NewFlagSet("remove", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) != 1 {
		return fmt.Errorf("usage: exclctl remove <id>")
	}

	var id int
	if _, err := fmt.Sscanf(rest[0], "%d", &id); err != nil {
		return fmt.Errorf("invalid id %q: %w", rest[0], err)
	}

	tag, err := pool.Exec(ctx, `DELETE FROM exclusions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("remove exclusion: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("no exclusion with id %d", id)
	}

	fmt.Printf("removed exclusion %d\n", id)
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
