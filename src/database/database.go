package database

import (
	"database/sql"
	stdlog "log"

	"github.com/robertbiv/Crypto-Transaction-Tracker-sub000/src/logger"
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
	migrateTransactionsTable()
	migrateTaxLotsTable()

	createTableStatement := `
	CREATE TABLE IF NOT EXISTS transactions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TEXT NOT NULL,
		asset_symbol TEXT NOT NULL,
		action TEXT NOT NULL,
		quantity TEXT NOT NULL,
		unit_price_usd TEXT,
		price_known BOOLEAN DEFAULT TRUE,
		fee_quantity TEXT,
		fee_asset TEXT,
		source TEXT,
		destination TEXT,
		external_id TEXT,
		dedup_key TEXT NOT NULL,
		UNIQUE(dedup_key)
	);

	CREATE TABLE IF NOT EXISTS tax_lots (
		lot_id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		asset_symbol TEXT NOT NULL,
		wallet TEXT,
		opened_at TEXT NOT NULL,
		original_quantity TEXT NOT NULL,
		remaining_quantity TEXT NOT NULL,
		unit_cost_basis TEXT NOT NULL,
		origin TEXT NOT NULL,
		transferred_out TEXT NOT NULL DEFAULT '0'
	);

	CREATE TABLE IF NOT EXISTS disposal_events (
		disposal_id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		transaction_ref TEXT,
		asset_symbol TEXT NOT NULL,
		wallet TEXT,
		disposed_at TEXT NOT NULL,
		quantity TEXT NOT NULL,
		proceeds_usd TEXT NOT NULL,
		cost_basis_usd TEXT NOT NULL,
		realized_gain_loss TEXT NOT NULL,
		wash_sale_disallowed_usd TEXT NOT NULL,
		flagged_for_review BOOLEAN DEFAULT FALSE,
		review_reason TEXT
	);

	CREATE TABLE IF NOT EXISTS disposal_legs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		disposal_id TEXT NOT NULL,
		lot_id TEXT,
		acquired_at TEXT NOT NULL,
		quantity TEXT NOT NULL,
		proceeds_usd TEXT NOT NULL,
		cost_basis_usd TEXT NOT NULL,
		gain_loss_usd TEXT NOT NULL,
		holding_period TEXT NOT NULL,
		estimated BOOLEAN DEFAULT FALSE,
		FOREIGN KEY(disposal_id) REFERENCES disposal_events(disposal_id)
	);

	CREATE TABLE IF NOT EXISTS wash_sale_adjustments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		loss_disposal_ref TEXT NOT NULL,
		replacement_lot_id TEXT NOT NULL,
		replacement_quantity TEXT NOT NULL,
		disallowed_proportion TEXT NOT NULL,
		disallowed_amount_usd TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS income_events (
		event_id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		lot_id TEXT NOT NULL,
		asset_symbol TEXT NOT NULL,
		received_at TEXT NOT NULL,
		quantity TEXT NOT NULL,
		fmv_usd TEXT NOT NULL,
		value_usd TEXT NOT NULL,
		source TEXT,
		dedup_key TEXT NOT NULL,
		UNIQUE(dedup_key)
	);

	CREATE TABLE IF NOT EXISTS carryover_records (
		year INTEGER PRIMARY KEY,
		net_capital_loss TEXT NOT NULL,
		amount_applied TEXT NOT NULL,
		amount_carried_forward TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS review_queue (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		external_id TEXT,
		asset_symbol TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		quantity TEXT NOT NULL,
		reason TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS asset_prices (
		asset_symbol TEXT NOT NULL,
		price_date TEXT NOT NULL,
		unit_price_usd TEXT NOT NULL,
		PRIMARY KEY(asset_symbol, price_date)
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

func migrateTaxLotsTable() {
	var tableName string
	err := DB.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='tax_lots'").Scan(&tableName)
	if err != nil {
		return // table will be created with the current schema
	}

	rows, err := DB.Query("PRAGMA table_info(tax_lots)")
	if err != nil {
		if logger.L != nil {
			logger.L.Error("Error querying table schema for 'tax_lots'", "error", err)
		} else {
			stdlog.Printf("Error querying table schema for 'tax_lots': %v", err)
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
			return
		}
		columnExists[name] = true
	}
	if rows.Err() != nil {
		return
	}

	if _, ok := columnExists["transferred_out"]; !ok {
		_, err := DB.Exec("ALTER TABLE tax_lots ADD COLUMN transferred_out TEXT NOT NULL DEFAULT '0'")
		if err != nil {
			logger.L.Error("Error adding 'transferred_out' column to 'tax_lots' table", "error", err)
		} else {
			logger.L.Info("Added 'transferred_out' column to 'tax_lots' table")
		}
	}
}

func migrateTransactionsTable() {
	var tableName string
	err := DB.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='transactions'").Scan(&tableName)
	if err != nil {
		if err == sql.ErrNoRows {
			if logger.L != nil {
				logger.L.Info("'transactions' table does not exist, no migration needed as table will be created.")
			} else {
				stdlog.Println("'transactions' table does not exist, no migration needed as table will be created.")
			}
			return
		}
		if logger.L != nil {
			logger.L.Error("Error checking for 'transactions' table", "error", err)
		} else {
			stdlog.Printf("Error checking for 'transactions' table: %v", err)
		}
		return
	}

	rows, err := DB.Query("PRAGMA table_info(transactions)")
	if err != nil {
		if logger.L != nil {
			logger.L.Error("Error querying table schema for 'transactions'", "error", err)
		} else {
			stdlog.Printf("Error querying table schema for 'transactions': %v", err)
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
				logger.L.Error("Error scanning column info for 'transactions'", "error", err)
			} else {
				stdlog.Printf("Error scanning column info for 'transactions': %v", err)
			}
			return
		}
		columnExists[name] = true
	}
	if err = rows.Err(); err != nil {
		if logger.L != nil {
			logger.L.Error("Error iterating over column info for 'transactions'", "error", err)
		} else {
			stdlog.Printf("Error iterating over column info for 'transactions': %v", err)
		}
		return
	}

	if _, ok := columnExists["price_known"]; !ok {
		_, err := DB.Exec("ALTER TABLE transactions ADD COLUMN price_known BOOLEAN DEFAULT TRUE")
		if err != nil {
			logger.L.Error("Error adding 'price_known' column to 'transactions' table", "error", err)
		} else {
			logger.L.Info("Added 'price_known' column to 'transactions' table")
		}
	}
	if _, ok := columnExists["destination"]; !ok {
		_, err := DB.Exec("ALTER TABLE transactions ADD COLUMN destination TEXT")
		if err != nil {
			logger.L.Error("Error adding 'destination' column to 'transactions' table", "error", err)
		} else {
			logger.L.Info("Added 'destination' column to 'transactions' table")
		}
	}
}
