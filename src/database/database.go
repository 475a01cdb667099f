package database

import (
	"database/sql"
	stdlog "log"

	"github.com/username/sipfolio/backend/src/logger"
	_ "modernc.org/sqlite"
)

var DB *sql.DB

func InitDB(databasePath string) {
	db, err := sql.Open("sqlite", databasePath)
	if err != nil {
		stdlog.Fatalf("failed to open database at %s: %v", databasePath, err)
	}

	DB = db

	if logger.L != nil {
		logger.L.Info("Checking database migrations", "databasePath", databasePath)
	} else {
		stdlog.Println("Checking database migrations for:", databasePath)
	}
	migrateRegistrationTable()

	createTableStatement := `
	CREATE TABLE IF NOT EXISTS sip_registrations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		fund_name TEXT NOT NULL,
		nickname TEXT,
		scheme_code TEXT,
		monthly_amount TEXT NOT NULL,
		sip_day INTEGER NOT NULL,
		start_date TEXT NOT NULL,
		stepup_enabled BOOLEAN DEFAULT FALSE,
		stepup_kind TEXT,
		stepup_value TEXT,
		stepup_frequency TEXT,
		total_invested TEXT NOT NULL,
		total_units TEXT NOT NULL,
		state TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS sip_installments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		registration_id INTEGER NOT NULL,
		date TEXT NOT NULL,
		amount TEXT NOT NULL,
		units TEXT NOT NULL,
		nav TEXT,
		status TEXT NOT NULL,
		description TEXT,
		FOREIGN KEY(registration_id) REFERENCES sip_registrations(id)
	);
	`

	_, err = DB.Exec(createTableStatement)
	if err != nil {
		if logger.L != nil {
			logger.L.Error("failed to create tables", "error", err)
		}
		stdlog.Fatalf("failed to create tables: %v", err)
	}
	if logger.L != nil {
		logger.L.Info("Database tables ensured/created.")
	} else {
		stdlog.Println("Database tables ensured/created.")
	}
}

// migrateRegistrationTable adds columns introduced after the first release
// (nickname and the step-up rule) to databases created before them.
func migrateRegistrationTable() {
	var tableName string
	err := DB.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='sip_registrations'").Scan(&tableName)
	if err != nil {
		if err == sql.ErrNoRows {
			if logger.L != nil {
				logger.L.Info("'sip_registrations' table does not exist, no migration needed as table will be created.")
			} else {
				stdlog.Println("'sip_registrations' table does not exist, no migration needed as table will be created.")
			}
			return
		}
		if logger.L != nil {
			logger.L.Error("Error checking for 'sip_registrations' table", "error", err)
		} else {
			stdlog.Printf("Error checking for 'sip_registrations' table: %v", err)
		}
		return
	}

	rows, err := DB.Query("PRAGMA table_info(sip_registrations)")
	if err != nil {
		if logger.L != nil {
			logger.L.Error("Error querying table schema for 'sip_registrations'", "error", err)
		} else {
			stdlog.Printf("Error querying table schema for 'sip_registrations': %v", err)
		}
		return
	}
	defer rows.Close()

	columnExists := make(map[string]bool)
	for rows.Next() {
		var cid, pk int
		var name, dataType string
		var notnullVal int
		var dfltValue interface{}

		if err := rows.Scan(&cid, &name, &dataType, &notnullVal, &dfltValue, &pk); err != nil {
			if logger.L != nil {
				logger.L.Error("Error scanning column info for 'sip_registrations'", "error", err)
			} else {
				stdlog.Printf("Error scanning column info for 'sip_registrations': %v", err)
			}
			return
		}
		columnExists[name] = true
	}
	if err = rows.Err(); err != nil {
		if logger.L != nil {
			logger.L.Error("Error iterating over column info for 'sip_registrations'", "error", err)
		} else {
			stdlog.Printf("Error iterating over column info for 'sip_registrations': %v", err)
		}
		return
	}

	if _, ok := columnExists["nickname"]; !ok {
		_, err := DB.Exec("ALTER TABLE sip_registrations ADD COLUMN nickname TEXT")
		if err != nil {
			logger.L.Error("Error adding 'nickname' column to 'sip_registrations' table", "error", err)
		} else {
			logger.L.Info("Added 'nickname' column to 'sip_registrations' table")
		}
	}

	stepupColumns := map[string]string{
		"stepup_enabled":   "ALTER TABLE sip_registrations ADD COLUMN stepup_enabled BOOLEAN DEFAULT FALSE",
		"stepup_kind":      "ALTER TABLE sip_registrations ADD COLUMN stepup_kind TEXT",
		"stepup_value":     "ALTER TABLE sip_registrations ADD COLUMN stepup_value TEXT",
		"stepup_frequency": "ALTER TABLE sip_registrations ADD COLUMN stepup_frequency TEXT",
	}
	for column, stmt := range stepupColumns {
		if _, ok := columnExists[column]; ok {
			continue
		}
		if _, err := DB.Exec(stmt); err != nil {
			logger.L.Error("Error adding step-up column to 'sip_registrations' table", "column", column, "error", err)
		} else {
			logger.L.Info("Added step-up column to 'sip_registrations' table", "column", column)
		}
	}
}
