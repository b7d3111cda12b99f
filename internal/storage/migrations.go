// File: internal/storage/migrations.go
package storage

// Migration represents a database migration
type Migration struct {
	Version     string
	Description string
	SQL         string
}

// GetSQLiteMigrations returns SQLite migration scripts
func GetSQLiteMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "Create pending_products table",
			SQL: `
				CREATE TABLE IF NOT EXISTS pending_products (
					id TEXT PRIMARY KEY,
					name TEXT NOT NULL,
					brand_name TEXT NOT NULL,
					flavor TEXT DEFAULT '',
					year TEXT DEFAULT '',
					status TEXT NOT NULL DEFAULT 'pending',
					submitted_by TEXT NOT NULL,
					reviewed_by TEXT DEFAULT '',
					rejection_reason TEXT DEFAULT '',
					created_at DATETIME NOT NULL,
					updated_at DATETIME NOT NULL,
					processed_at DATETIME
				);

				CREATE INDEX IF NOT EXISTS idx_pending_products_status ON pending_products(status);
				CREATE INDEX IF NOT EXISTS idx_pending_products_created_at ON pending_products(created_at);
				CREATE UNIQUE INDEX IF NOT EXISTS idx_pending_products_identity ON pending_products(name, brand_name, flavor, year);
			`,
		},
		{
			Version:     "002",
			Description: "Create products table",
			SQL: `
				CREATE TABLE IF NOT EXISTS products (
					id TEXT PRIMARY KEY,
					name TEXT NOT NULL,
					brand_name TEXT NOT NULL,
					flavor TEXT DEFAULT '',
					year TEXT DEFAULT '',
					approved_by TEXT NOT NULL,
					created_at DATETIME NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_products_brand ON products(brand_name);
				CREATE UNIQUE INDEX IF NOT EXISTS idx_products_identity ON products(name, brand_name, flavor, year);
			`,
		},
		{
			Version:     "003",
			Description: "Create governance_audit table",
			SQL: `
				CREATE TABLE IF NOT EXISTS governance_audit (
					id TEXT PRIMARY KEY,
					request_id TEXT NOT NULL,
					requester_id TEXT NOT NULL,
					request_type TEXT NOT NULL,
					outcome TEXT NOT NULL,
					detail TEXT DEFAULT '',
					created_at DATETIME NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_governance_audit_request ON governance_audit(request_id);
				CREATE INDEX IF NOT EXISTS idx_governance_audit_created_at ON governance_audit(created_at);
			`,
		},
	}
}

// GetPostgreSQLMigrations returns PostgreSQL migration scripts
func GetPostgreSQLMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "Create pending_products table",
			SQL: `
				CREATE TABLE IF NOT EXISTS pending_products (
					id TEXT PRIMARY KEY,
					name TEXT NOT NULL,
					brand_name TEXT NOT NULL,
					flavor TEXT DEFAULT '',
					year TEXT DEFAULT '',
					status TEXT NOT NULL DEFAULT 'pending',
					submitted_by TEXT NOT NULL,
					reviewed_by TEXT DEFAULT '',
					rejection_reason TEXT DEFAULT '',
					created_at TIMESTAMPTZ NOT NULL,
					updated_at TIMESTAMPTZ NOT NULL,
					processed_at TIMESTAMPTZ
				);

				CREATE INDEX IF NOT EXISTS idx_pending_products_status ON pending_products(status);
				CREATE INDEX IF NOT EXISTS idx_pending_products_created_at ON pending_products(created_at);
				CREATE UNIQUE INDEX IF NOT EXISTS idx_pending_products_identity ON pending_products(name, brand_name, flavor, year);
			`,
		},
		{
			Version:     "002",
			Description: "Create products table",
			SQL: `
				CREATE TABLE IF NOT EXISTS products (
					id TEXT PRIMARY KEY,
					name TEXT NOT NULL,
					brand_name TEXT NOT NULL,
					flavor TEXT DEFAULT '',
					year TEXT DEFAULT '',
					approved_by TEXT NOT NULL,
					created_at TIMESTAMPTZ NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_products_brand ON products(brand_name);
				CREATE UNIQUE INDEX IF NOT EXISTS idx_products_identity ON products(name, brand_name, flavor, year);
			`,
		},
		{
			Version:     "003",
			Description: "Create governance_audit table",
			SQL: `
				CREATE TABLE IF NOT EXISTS governance_audit (
					id TEXT PRIMARY KEY,
					request_id TEXT NOT NULL,
					requester_id TEXT NOT NULL,
					request_type TEXT NOT NULL,
					outcome TEXT NOT NULL,
					detail TEXT DEFAULT '',
					created_at TIMESTAMPTZ NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_governance_audit_request ON governance_audit(request_id);
				CREATE INDEX IF NOT EXISTS idx_governance_audit_created_at ON governance_audit(created_at);
			`,
		},
	}
}
