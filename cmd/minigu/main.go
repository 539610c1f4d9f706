// Package main provides the minigu ops CLI: open/inspect a database,
// force a checkpoint, and run a small write/read benchmark. The GQL
// shell (minigu shell/execute of the embedded query language) is an
// external collaborator outside this engine's scope; this binary only
// exercises the storage engine directly.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/minigu-db/minigu/pkg/config"
	"github.com/minigu-db/minigu/pkg/minigu"
	"github.com/minigu-db/minigu/pkg/storage"
)

var version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "minigu",
		Short: "minigu - embedded transactional property-graph storage engine",
	}

	var dataDir string
	var inMemory bool
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "database directory (empty uses config defaults)")
	rootCmd.PersistentFlags().BoolVar(&inMemory, "in-memory", false, "open with no WAL or checkpointing")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("minigu v%s\n", version)
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "inspect",
		Short: "open the database and print vertex/edge counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDatabase(dataDir, inMemory)
			if err != nil {
				return err
			}
			defer db.Close()
			return runInspect(db)
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "checkpoint",
		Short: "force an immediate checkpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDatabase(dataDir, inMemory)
			if err != nil {
				return err
			}
			defer db.Close()
			file, err := db.Checkpoint()
			if err != nil {
				return err
			}
			fmt.Printf("wrote checkpoint %s\n", file)
			return nil
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "bench",
		Short: "run a small write/read transaction benchmark",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDatabase(dataDir, inMemory)
			if err != nil {
				return err
			}
			defer db.Close()
			return runBench(db)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func openDatabase(dataDir string, inMemory bool) (*minigu.Database, error) {
	cfg := config.LoadFromEnv()
	if inMemory {
		return minigu.OpenInMemory(cfg)
	}
	return minigu.Open(dataDir, cfg)
}

func runInspect(db *minigu.Database) error {
	session := db.Session()
	txn, err := session.Begin(storage.Snapshot)
	if err != nil {
		return err
	}
	defer txn.Abort()

	var vertices, edges int
	it := txn.IterVertices()
	for it.Next() {
		vertices++
	}
	it.Close()

	eit := txn.IterEdges()
	for eit.Next() {
		edges++
	}
	eit.Close()

	fmt.Printf("vertices=%d edges=%d\n", vertices, edges)
	return nil
}

func runBench(db *minigu.Database) error {
	const n = 10000
	session := db.Session()

	start := time.Now()
	txn, err := session.Begin(storage.Snapshot)
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		if _, err := txn.CreateVertex(storage.Vertex{
			VID:        storage.VertexID(i + 1),
			LabelID:    1,
			Properties: storage.PropertyRecord{storage.IntValue(int64(i))},
		}); err != nil {
			txn.Abort()
			return err
		}
	}
	if _, err := txn.Commit(); err != nil {
		return err
	}
	writeElapsed := time.Since(start)

	start = time.Now()
	readTxn, err := session.Begin(storage.Snapshot)
	if err != nil {
		return err
	}
	defer readTxn.Abort()
	count := 0
	it := readTxn.IterVertices()
	for it.Next() {
		count++
	}
	it.Close()
	readElapsed := time.Since(start)

	fmt.Printf("wrote %d vertices in %v (%.0f/s)\n", n, writeElapsed, float64(n)/writeElapsed.Seconds())
	fmt.Printf("scanned %d vertices in %v (%.0f/s)\n", count, readElapsed, float64(count)/readElapsed.Seconds())
	return nil
}
