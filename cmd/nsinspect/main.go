// Package main is a small inspection CLI for a nsprovider-backed
// database: point it at a schema file and a data file/DSN, then get, put,
// scan, or delete items without writing any Go. It uses cobra package for
// cli tool implementation.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"nsprovider"
	"nsprovider/internal/fts"
	"nsprovider/internal/schemaconfig"
	"nsprovider/internal/store"
)

type rootFlags struct {
	backend string
	path    string
	schema  string
	verbose bool
}

func main() {
	flags := &rootFlags{}
	rootCmd := &cobra.Command{
		Use:   "nsinspect",
		Short: "Inspect and edit a nsprovider-backed database",
	}
	rootCmd.PersistentFlags().StringVar(&flags.backend, "backend", "sqlite", "Storage backend: sqlite, mysql, or bolt")
	rootCmd.PersistentFlags().StringVar(&flags.path, "path", "", "File path (sqlite/bolt) or DSN (mysql) (required)")
	rootCmd.PersistentFlags().StringVar(&flags.schema, "schema", "", "Path to a TOML schema file (required)")
	rootCmd.PersistentFlags().BoolVar(&flags.verbose, "verbose", false, "Enable debug logging")

	rootCmd.AddCommand(getCmd(flags))
	rootCmd.AddCommand(putCmd(flags))
	rootCmd.AddCommand(deleteCmd(flags))
	rootCmd.AddCommand(scanCmd(flags))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func parseBackend(name string) (nsprovider.Backend, error) {
	switch name {
	case "sqlite":
		return nsprovider.BackendSQLite, nil
	case "mysql":
		return nsprovider.BackendMySQL, nil
	case "bolt":
		return nsprovider.BackendBolt, nil
	default:
		return 0, fmt.Errorf("unknown backend %q", name)
	}
}

func openProvider(ctx context.Context, flags *rootFlags) (*nsprovider.Provider, error) {
	if flags.path == "" {
		return nil, fmt.Errorf("--path is required")
	}
	if flags.schema == "" {
		return nil, fmt.Errorf("--schema is required")
	}

	backend, err := parseBackend(flags.backend)
	if err != nil {
		return nil, err
	}

	declared, err := schemaconfig.LoadFile(flags.schema)
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}

	return nsprovider.Open(ctx, nsprovider.Config{
		Backend: backend,
		Path:    flags.path,
		Schema:  declared,
		Verbose: flags.verbose,
	})
}

// withStore opens a Provider, a transaction scoped to storeName, hands the
// Store to fn, and commits or rolls back depending on whether fn errored.
func withStore(flags *rootFlags, storeName string, write bool, fn func(context.Context, *store.Store) error) error {
	ctx := context.Background()
	p, err := openProvider(ctx, flags)
	if err != nil {
		return err
	}
	defer func() { _ = p.Close(ctx) }()

	tx, err := p.BeginTx(ctx, []string{storeName}, write)
	if err != nil {
		return err
	}

	s, err := tx.Store(storeName)
	if err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := fn(ctx, s); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func getCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "get <store> <pk>",
		Short: "Print one item's JSON payload by primary key",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			storeName, pk := args[0], args[1]
			var item map[string]any
			err := withStore(flags, storeName, false, func(ctx context.Context, s *store.Store) error {
				found, ok, err := s.Get(ctx, pk)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("no item %q in store %q", pk, storeName)
				}
				item = found
				return nil
			})
			if err != nil {
				return err
			}
			return printJSON(item)
		},
	}
}

func putCmd(flags *rootFlags) *cobra.Command {
	var fromFile string
	cmd := &cobra.Command{
		Use:   "put <store> [json]",
		Short: "Insert or replace one item from a JSON literal or --file",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(_ *cobra.Command, args []string) error {
			raw, err := itemSource(args, fromFile)
			if err != nil {
				return err
			}
			var item map[string]any
			if err := json.Unmarshal([]byte(raw), &item); err != nil {
				return fmt.Errorf("parse item JSON: %w", err)
			}
			return withStore(flags, args[0], true, func(ctx context.Context, s *store.Store) error {
				return s.Put(ctx, item)
			})
		},
	}
	cmd.Flags().StringVar(&fromFile, "file", "", "Read the item JSON from this file instead of an argument")
	return cmd
}

func itemSource(args []string, fromFile string) (string, error) {
	if fromFile != "" {
		data, err := os.ReadFile(fromFile)
		if err != nil {
			return "", fmt.Errorf("read %q: %w", fromFile, err)
		}
		return string(data), nil
	}
	if len(args) < 2 {
		return "", fmt.Errorf("provide the item JSON as an argument or via --file")
	}
	return args[1], nil
}

func deleteCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <store> <pk>",
		Short: "Remove one item by primary key",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			return withStore(flags, args[0], true, func(ctx context.Context, s *store.Store) error {
				return s.Remove(ctx, args[1])
			})
		},
	}
}

type scanFlags struct {
	index      string
	only       string
	lo         string
	hi         string
	reverse    bool
	limit      int
	phrase     string
	resolution string
}

func scanCmd(flags *rootFlags) *cobra.Command {
	sf := &scanFlags{}
	cmd := &cobra.Command{
		Use:   "scan <store>",
		Short: "List items via the primary key, a declared index, or a full-text search",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runScan(flags, sf, args[0])
		},
	}
	cmd.Flags().StringVar(&sf.index, "index", "", "Index name to scan (defaults to the primary key)")
	cmd.Flags().StringVar(&sf.only, "only", "", "Match exactly this key")
	cmd.Flags().StringVar(&sf.lo, "lo", "", "Range lower bound, inclusive")
	cmd.Flags().StringVar(&sf.hi, "hi", "", "Range upper bound, inclusive")
	cmd.Flags().BoolVar(&sf.reverse, "reverse", false, "Walk the range in descending order")
	cmd.Flags().IntVar(&sf.limit, "limit", 0, "Maximum number of items to print (0 = unlimited)")
	cmd.Flags().StringVar(&sf.phrase, "fts", "", "Run a full-text search against --index instead of a key scan")
	cmd.Flags().StringVar(&sf.resolution, "resolution", "or", "Full-text match resolution: and or or")
	return cmd
}

func runScan(flags *rootFlags, sf *scanFlags, storeName string) error {
	var items []map[string]any
	err := withStore(flags, storeName, false, func(ctx context.Context, s *store.Store) error {
		idx, err := openIndex(s, sf.index)
		if err != nil {
			return err
		}
		items, err = scanIndex(ctx, idx, sf)
		return err
	})
	if err != nil {
		return err
	}

	for _, item := range items {
		if err := printJSON(item); err != nil {
			return err
		}
	}
	fmt.Fprintf(os.Stderr, "%d item(s)\n", len(items))
	return nil
}

func openIndex(s *store.Store, name string) (*store.Index, error) {
	if name == "" {
		return s.OpenPrimaryKey(), nil
	}
	return s.OpenIndex(name)
}

func scanIndex(ctx context.Context, idx *store.Index, sf *scanFlags) ([]map[string]any, error) {
	limit := limitPtr(sf.limit)

	if sf.phrase != "" {
		resolution, err := fts.ParseResolution(sf.resolution)
		if err != nil {
			return nil, err
		}
		return idx.FullTextSearch(ctx, sf.phrase, resolution, limit)
	}

	if sf.only != "" {
		return idx.GetOnly(ctx, sf.only, limit, nil)
	}
	if sf.lo != "" || sf.hi != "" {
		var lo, hi any
		if sf.lo != "" {
			lo = sf.lo
		}
		if sf.hi != "" {
			hi = sf.hi
		}
		return idx.GetRange(ctx, lo, hi, false, false, sf.reverse, limit, nil)
	}
	return idx.GetAll(ctx, sf.reverse, limit, nil)
}

func limitPtr(n int) *int {
	if n <= 0 {
		return nil
	}
	return &n
}

func printJSON(item map[string]any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(item)
}
