package integration_test

import (
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"
)

func openDB(t *testing.T, dbPath string) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("open %s: %v", dbPath, err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})
	return db
}

func loadLogMessages(t *testing.T, dbPath string) map[string]int {
	t.Helper()
	db := openDB(t, dbPath)

	rows, err := db.Query("SELECT message, COUNT(*) FROM service_logs GROUP BY message")
	if err != nil {
		t.Fatalf("query service logs: %v", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	messages := make(map[string]int)
	for rows.Next() {
		var message sql.NullString
		var count int
		if err := rows.Scan(&message, &count); err != nil {
			t.Fatalf("scan service log: %v", err)
		}
		messages[message.String] += count
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("iterate service logs: %v", err)
	}
	return messages
}

func requireLogMessages(t *testing.T, dbPath string, want []string) {
	t.Helper()
	messages := loadLogMessages(t, dbPath)
	for _, message := range want {
		if messages[message] == 0 {
			t.Fatalf("missing service log %q in %s (have %v)", message, dbPath, messages)
		}
	}
}

func countRows(t *testing.T, dbPath, table string) int {
	t.Helper()
	db := openDB(t, dbPath)
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}
