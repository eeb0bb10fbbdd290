// Command recount_audit compares the stored current_students counter of every
// class against a live count of its ACTIVE enrollments and reports any drift.
// With -fix it rewrites drifted counters in a single transaction. Exit code 1
// means drift was found (and, without -fix, left in place).
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

type drift struct {
	ClassID   string `db:"class_id"`
	ClassName string `db:"class_name"`
	Stored    int    `db:"stored"`
	Live      int    `db:"live"`
}

func main() {
	var (
		dsn     string
		fix     bool
		timeout time.Duration
	)

	flag.StringVar(&dsn, "dsn", os.Getenv("DATABASE_URL"), "Postgres DSN (defaults to DATABASE_URL)")
	flag.BoolVar(&fix, "fix", false, "Rewrite drifted counters instead of only reporting")
	flag.DurationVar(&timeout, "timeout", 30*time.Second, "Overall run timeout")
	flag.Parse()

	if dsn == "" {
		log.Fatal("no DSN: pass -dsn or set DATABASE_URL")
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer db.Close()

	drifts, err := findDrift(ctx, db)
	if err != nil {
		log.Fatalf("failed to audit counters: %v", err)
	}

	printReport(drifts)

	if len(drifts) == 0 {
		return
	}
	if !fix {
		os.Exit(1)
	}

	if err := repairDrift(ctx, db, drifts); err != nil {
		log.Fatalf("failed to repair counters: %v", err)
	}
	fmt.Printf("Repaired %d classes\n", len(drifts))
}

func findDrift(ctx context.Context, db *sqlx.DB) ([]drift, error) {
	const query = `
		SELECT c.id AS class_id,
		       c.name AS class_name,
		       c.current_students AS stored,
		       COUNT(e.student_id) FILTER (WHERE e.status = 'ACTIVE') AS live
		FROM classes c
		LEFT JOIN enrollments e ON e.class_id = c.id
		GROUP BY c.id, c.name, c.current_students
		HAVING c.current_students <> COUNT(e.student_id) FILTER (WHERE e.status = 'ACTIVE')
		ORDER BY c.name`

	var drifts []drift
	if err := db.SelectContext(ctx, &drifts, query); err != nil {
		return nil, err
	}
	return drifts, nil
}

func repairDrift(ctx context.Context, db *sqlx.DB, drifts []drift) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, d := range drifts {
		if _, err := tx.ExecContext(ctx,
			`UPDATE classes SET current_students = $1, updated_at = NOW() WHERE id = $2`,
			d.Live, d.ClassID); err != nil {
			return fmt.Errorf("update class %s: %w", d.ClassID, err)
		}
	}
	return tx.Commit()
}

func printReport(drifts []drift) {
	fmt.Println("Enrollment Counter Audit")
	fmt.Println("========================")
	if len(drifts) == 0 {
		fmt.Println("All counters match live enrollment counts")
		return
	}
	for _, d := range drifts {
		fmt.Printf("[DRIFT] %s (%s)\n", d.ClassName, d.ClassID)
		fmt.Printf("  stored: %d | live: %d\n", d.Stored, d.Live)
	}
	fmt.Printf("Drifted classes: %d\n", len(drifts))
}
