// Seeder applies the schema and inserts demo credit accounts. Intended for
// local development and integration environments, not production.
package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

type seedAccount struct {
	userID  string
	plan    string
	balance int64
}

var seedAccounts = []seedAccount{
	{"user_free_1", "free", 5},
	{"user_base_1", "base", 20},
	{"user_plus_1", "plus", 100},
	{"user_base_drained", "base", 0},
}

func main() {
	postgresURL := os.Getenv("POSTGRES_URL")
	if postgresURL == "" {
		// Fallback to reading .env manually for local runs.
		data, _ := os.ReadFile(".env")
		for _, line := range strings.Split(string(data), "\n") {
			if strings.HasPrefix(line, "POSTGRES_URL=") {
				postgresURL = strings.TrimPrefix(line, "POSTGRES_URL=")
				break
			}
		}
	}
	if postgresURL == "" {
		log.Fatal("POSTGRES_URL not found")
	}

	db, err := sql.Open("postgres", postgresURL)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatal("Ping failed:", err)
	}
	fmt.Println("Connected to DB")

	fmt.Println("Running migrations...")
	migration, err := os.ReadFile("migrations/001_initial_schema.up.sql")
	if err != nil {
		// Try relative path when running from cmd/seeder.
		migration, err = os.ReadFile("../../migrations/001_initial_schema.up.sql")
		if err != nil {
			log.Fatal("Could not find migration file:", err)
		}
	}

	// lib/pq supports multiple statements in a single Exec.
	if _, err := db.Exec(string(migration)); err != nil {
		log.Printf("Migration warning (might be already applied): %v\n", err)
	} else {
		fmt.Println("Migrations applied successfully")
	}

	fmt.Println("Seeding accounts...")
	yesterday := time.Now().UTC().Add(-24 * time.Hour)
	for _, acct := range seedAccounts {
		_, err := db.Exec(`
			INSERT INTO credit_accounts (user_id, plan, balance, last_refreshed_at, created_at, updated_at)
			VALUES ($1, $2, $3, $4, NOW(), NOW())
			ON CONFLICT (user_id) DO NOTHING
		`, acct.userID, acct.plan, acct.balance, yesterday)
		if err != nil {
			fmt.Printf("Error seeding %s: %v\n", acct.userID, err)
			continue
		}
		fmt.Printf("Seeded %s (%s, %d credits)\n", acct.userID, acct.plan, acct.balance)
	}

	fmt.Println("Seeding complete")
}
