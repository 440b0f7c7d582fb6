// Command burrow-migrate is a standalone catalog schema migration
// tool, kept separate from burrowd rather than folding migrations
// into the server process. It backs up a SQLite database file before
// touching it; PostgreSQL targets are expected to be snapshotted by
// the operator's own backup tooling.
package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"strings"

	"github.com/cuemby/burrow/pkg/catalog"
)

var (
	databaseURI = flag.String("database-uri", "sqlite:./burrow.db", "Catalog database URI (sqlite:<path> or postgres://...)")
	dryRun      = flag.Bool("dry-run", false, "Report the settings and exit without opening the database or applying changes")
	backupPath  = flag.String("backup", "", "Path to back up a SQLite database before migrating (default: <path>.backup)")
)

func main() {
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("burrow-migrate - catalog schema migration tool")
	log.Println("===============================================")
	log.Printf("Database: %s", *databaseURI)
	log.Printf("Dry run: %v", *dryRun)

	sqlitePath, isSQLite := strings.CutPrefix(*databaseURI, "sqlite:")
	if isSQLite && !*dryRun {
		if _, err := os.Stat(sqlitePath); err == nil {
			backupFile := *backupPath
			if backupFile == "" {
				backupFile = sqlitePath + ".backup"
			}
			log.Printf("Creating backup: %s", backupFile)
			if err := copyFile(sqlitePath, backupFile); err != nil {
				log.Fatalf("Failed to create backup: %v", err)
			}
			log.Println("✓ Backup created successfully")
		}
	} else if !isSQLite {
		log.Println("⚠ PostgreSQL target: no automatic backup taken; snapshot the database yourself before proceeding")
	}

	if *dryRun {
		log.Println("\n[DRY RUN] Would open the database and apply any pending schema migration.")
		log.Println("Run without --dry-run to perform the migration.")
		return
	}

	ctx := context.Background()
	store, err := catalog.Open(ctx, *databaseURI)
	if err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	defer store.Close()

	if _, err := store.EnsureRoot(ctx); err != nil {
		log.Fatalf("Failed to ensure root node: %v", err)
	}

	log.Println("\n✓ Migration completed successfully!")
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
