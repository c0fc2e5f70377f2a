package main

import (
	"errors"
	"flag"
	"log"
	"os"
	"path/filepath"

	"github.com/cuemby/ledgerdb/pkg/bstore"
	"github.com/cuemby/ledgerdb/pkg/compact"
	"github.com/cuemby/ledgerdb/pkg/crypto"
)

var (
	dataDir       = flag.String("data-dir", "/var/lib/ledgerdb", "ledgerdb data directory")
	masterKeyFile = flag.String("master-key-file", "", "Path to the 32-byte master key, if the store was opened with encryption")
	dryRun        = flag.Bool("dry-run", false, "Report what would be deleted without making changes")
	backupPath    = flag.String("backup", "", "Path to back up the database before compacting (default: <data-dir>/ledger.db.backup)")
)

func main() {
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("ledgerdb blob compaction tool")
	log.Println("==============================")

	dbPath := filepath.Join(*dataDir, "ledger.db")
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		log.Fatalf("Database not found at %s", dbPath)
	}

	log.Printf("Database: %s", dbPath)
	log.Printf("Dry run: %v", *dryRun)

	if !*dryRun {
		backupFile := *backupPath
		if backupFile == "" {
			backupFile = dbPath + ".backup"
		}
		log.Printf("Creating backup: %s", backupFile)
		if err := copyFile(dbPath, backupFile); err != nil {
			log.Fatalf("Failed to create backup: %v", err)
		}
		log.Println("Backup created successfully")
	}

	var masterKey []byte
	if *masterKeyFile != "" {
		key, err := readMasterKey(*masterKeyFile)
		if err != nil {
			log.Fatalf("Failed to read master key: %v", err)
		}
		masterKey = key
	}

	env, err := bstore.Open(bstore.Config{
		Path:              *dataDir,
		EncryptionEnabled: masterKey != nil,
		MasterKey:         masterKey,
	})
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer env.Close()

	stats, err := compact.Run(env, *dryRun)
	if err != nil {
		log.Fatalf("Compaction failed: %v", err)
	}

	log.Printf("Events scanned:       %d", stats.EventsScanned)
	log.Printf("Undecodable records:  %d", stats.UndecodableRecs)
	log.Printf("Blobs total:          %d", stats.BlobsTotal)
	log.Printf("Blobs still reachable: %d", stats.ReachableBlobs)

	if *dryRun {
		log.Printf("\n[DRY RUN] Would delete %d orphaned blobs.", stats.BlobsDeleted)
		log.Println("Run without --dry-run to perform the deletion.")
	} else {
		log.Printf("\nDeleted %d orphaned blobs.", stats.BlobsDeleted)
		log.Println("Compaction completed successfully.")
	}
}

func readMasterKey(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	for len(raw) > 0 && (raw[len(raw)-1] == '\n' || raw[len(raw)-1] == '\r') {
		raw = raw[:len(raw)-1]
	}
	if len(raw) != crypto.KeySize {
		return nil, errors.New("master key file must contain exactly 32 raw bytes")
	}
	return raw, nil
}

func copyFile(src, dst string) error {
	input, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, input, 0o600)
}
