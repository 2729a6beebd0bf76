// Command hbctl is the HiveBoard operator CLI: issue API keys, trigger an
// aggregate rebuild, or run a manual retention sweep against the data
// directory a hiveboardd instance uses, without going through HTTP. Modeled
// on the teacher's cmd/dbctl (flag-driven, single -action switch) against
// the on-disk store instead of a SQLite handle.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/hiveboard/server/internal/authctx"
	"github.com/hiveboard/server/internal/model"
	"github.com/hiveboard/server/internal/retention"
	"github.com/hiveboard/server/internal/rollup"
	"github.com/hiveboard/server/internal/storage"
)

func main() {
	dataDir := flag.String("data-dir", "./data", "HiveBoard data directory")
	action := flag.String("action", "", "Action: issue-key, rebuild-aggregates, retention-run, list-tenants")
	tenantID := flag.String("tenant", "", "Tenant ID")
	keyType := flag.String("key-type", "live", "API key type for issue-key: live, test, read")
	ownerUser := flag.String("owner", "", "Owner user ID for issue-key (optional)")
	jsonOut := flag.Bool("json", false, "Output as JSON")
	flag.Parse()

	if *action == "" {
		fmt.Fprintln(os.Stderr, "Usage: hbctl -data-dir <path> -action <action> [flags]")
		fmt.Fprintln(os.Stderr, "Actions: issue-key, rebuild-aggregates, retention-run, list-tenants")
		os.Exit(1)
	}

	store := storage.NewMemStore(*dataDir)
	ctx := context.Background()

	switch *action {
	case "list-tenants":
		tenants, err := store.ListTenants(ctx)
		fatalIf(err)
		printResult(*jsonOut, tenants, func() {
			for _, t := range tenants {
				fmt.Printf("%s\t%s\t%s\t%s\n", t.TenantID, t.Name, t.Slug, t.Plan)
			}
		})

	case "issue-key":
		if *tenantID == "" {
			fatalIf(fmt.Errorf("issue-key requires -tenant"))
		}
		raw, prefix, err := authctx.GenerateKey()
		fatalIf(err)
		key := &model.APIKey{
			KeyID:     uuid.NewString(),
			TenantID:  *tenantID,
			KeyHash:   authctx.HashKey(raw),
			KeyPrefix: prefix,
			KeyType:   model.KeyType(*keyType),
			IsActive:  true,
			OwnerUser: *ownerUser,
			CreatedAt: time.Now().UTC(),
		}
		fatalIf(store.CreateAPIKey(ctx, key))
		printResult(*jsonOut, map[string]string{"key_id": key.KeyID, "api_key": raw}, func() {
			fmt.Printf("key_id=%s\napi_key=%s\n", key.KeyID, raw)
		})

	case "rebuild-aggregates":
		if *tenantID == "" {
			fatalIf(fmt.Errorf("rebuild-aggregates requires -tenant"))
		}
		n, err := rollup.Rebuild(ctx, store, *tenantID)
		fatalIf(err)
		printResult(*jsonOut, map[string]int{"events_replayed": n}, func() {
			fmt.Printf("events_replayed=%d\n", n)
		})

	case "retention-run":
		logger := log.New(os.Stderr, "[hbctl] ", log.LstdFlags)
		sweeper := retention.New(store, 0, logger)
		sweeper.RunOnce(ctx)
		fmt.Println("retention sweep complete")

	default:
		fmt.Fprintf(os.Stderr, "unknown action: %s\n", *action)
		os.Exit(1)
	}
}

func fatalIf(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func printResult(asJSON bool, v interface{}, human func()) {
	if asJSON {
		json.NewEncoder(os.Stdout).Encode(v)
		return
	}
	human()
}
