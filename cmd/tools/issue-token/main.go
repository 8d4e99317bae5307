// Command issue-token mints an API token for the messages service and stores
// its salted hash in the datastore. The plaintext credential is printed once
// and cannot be recovered afterwards.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"hostelhub/internal/auth"
	"hostelhub/internal/storage"
)

func main() {
	dataPath := flag.String("data", "data/hostelhub.json", "path to JSON datastore")
	storageDriver := flag.String("storage-driver", "json", "datastore driver (json or postgres)")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string")
	label := flag.String("label", "", "human-readable token label")
	userID := flag.String("user", "", "user id the token authenticates as")
	flag.Parse()

	if strings.TrimSpace(*userID) == "" {
		fmt.Fprintln(os.Stderr, "error: -user is required")
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	repo, err := openRepository(ctx, strings.ToLower(*storageDriver), *dataPath, *postgresDSN)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: open datastore: %v\n", err)
		os.Exit(1)
	}
	defer repo.Close(ctx)

	plaintext, token, err := auth.Mint(*label, *userID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: mint token: %v\n", err)
		os.Exit(1)
	}
	if err := repo.InsertToken(ctx, token); err != nil {
		fmt.Fprintf(os.Stderr, "error: store token: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("token id:  %s\n", token.ID)
	if token.Label != "" {
		fmt.Printf("label:     %s\n", token.Label)
	}
	fmt.Printf("user:      %s\n", token.UserID)
	fmt.Printf("token:     %s\n", plaintext)
	fmt.Println("store this token now; it is not recoverable later")
}

func openRepository(ctx context.Context, driver, dataPath, dsn string) (storage.Repository, error) {
	switch driver {
	case "json":
		return storage.NewJSONRepository(dataPath)
	case "postgres":
		return storage.NewPostgresRepository(ctx, storage.PostgresConfig{
			DSN:             dsn,
			ApplicationName: "hostelhub-issue-token",
		})
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}
