package database

// Column is one expected column. Since is the schema version that introduced
// it; columns added after version 1 are always nullable so they can be added
// to an existing file with ALTER TABLE.
type Column struct {
	Name  string
	Type  string
	Since int
}

type Table struct {
	Name    string
	Create  string
	Columns []Column
	Indexes []string
}

const SchemaVersion = 3

var tables = []Table{
	{
		Name: "products",
		Create: `CREATE TABLE IF NOT EXISTS products (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			price TEXT NOT NULL DEFAULT '0',
			category TEXT,
			active INTEGER NOT NULL DEFAULT 1,
			image_ref TEXT,
			stock_quantity INTEGER,
			updated_at TEXT,
			last_synced_at TEXT
		)`,
		Columns: []Column{
			{"id", "TEXT", 1}, {"name", "TEXT", 1}, {"price", "TEXT", 1}, {"category", "TEXT", 1},
			{"active", "INTEGER", 1}, {"updated_at", "TEXT", 1}, {"last_synced_at", "TEXT", 1},
			{"image_ref", "TEXT", 2}, {"stock_quantity", "INTEGER", 3},
		},
	},
	{
		Name: "staff",
		Create: `CREATE TABLE IF NOT EXISTS staff (
			id TEXT PRIMARY KEY,
			branch_id TEXT,
			name TEXT NOT NULL,
			role TEXT,
			active INTEGER NOT NULL DEFAULT 1,
			updated_at TEXT
		)`,
		Columns: []Column{
			{"id", "TEXT", 1}, {"branch_id", "TEXT", 1}, {"name", "TEXT", 1}, {"role", "TEXT", 1},
			{"active", "INTEGER", 1}, {"updated_at", "TEXT", 1},
		},
	},
	{
		Name: "branches",
		Create: `CREATE TABLE IF NOT EXISTS branches (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			address TEXT,
			active INTEGER NOT NULL DEFAULT 1,
			updated_at TEXT
		)`,
		Columns: []Column{
			{"id", "TEXT", 1}, {"name", "TEXT", 1}, {"address", "TEXT", 1}, {"active", "INTEGER", 1},
			{"updated_at", "TEXT", 1},
		},
	},
	{
		Name: "dining_tables",
		Create: `CREATE TABLE IF NOT EXISTS dining_tables (
			id TEXT PRIMARY KEY,
			branch_id TEXT,
			name TEXT NOT NULL,
			seats INTEGER,
			active INTEGER NOT NULL DEFAULT 1,
			updated_at TEXT
		)`,
		Columns: []Column{
			{"id", "TEXT", 1}, {"branch_id", "TEXT", 1}, {"name", "TEXT", 1}, {"seats", "INTEGER", 1},
			{"active", "INTEGER", 1}, {"updated_at", "TEXT", 1},
		},
	},
	{
		Name: "clients",
		Create: `CREATE TABLE IF NOT EXISTS clients (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			document TEXT,
			phone TEXT,
			email TEXT,
			synced INTEGER NOT NULL DEFAULT 0,
			updated_at TEXT
		)`,
		Columns: []Column{
			{"id", "TEXT", 1}, {"name", "TEXT", 1}, {"document", "TEXT", 1}, {"phone", "TEXT", 1},
			{"email", "TEXT", 1}, {"synced", "INTEGER", 1}, {"updated_at", "TEXT", 1},
		},
	},
	{
		Name: "shifts",
		Create: `CREATE TABLE IF NOT EXISTS shifts (
			id TEXT PRIMARY KEY,
			branch_id TEXT NOT NULL,
			operator_id TEXT NOT NULL,
			terminal_id TEXT NOT NULL,
			started_at TEXT NOT NULL,
			ended_at TEXT,
			initial_cash TEXT NOT NULL,
			final_cash TEXT,
			expected_cash TEXT,
			status TEXT NOT NULL CHECK (status IN ('open', 'closed')),
			closing_metadata TEXT,
			synced INTEGER NOT NULL DEFAULT 0,
			updated_at TEXT
		)`,
		Columns: []Column{
			{"id", "TEXT", 1}, {"branch_id", "TEXT", 1}, {"operator_id", "TEXT", 1}, {"terminal_id", "TEXT", 1},
			{"started_at", "TEXT", 1}, {"ended_at", "TEXT", 1}, {"initial_cash", "TEXT", 1},
			{"final_cash", "TEXT", 1}, {"status", "TEXT", 1}, {"synced", "INTEGER", 1}, {"updated_at", "TEXT", 1},
			{"expected_cash", "TEXT", 2}, {"closing_metadata", "TEXT", 2},
		},
		Indexes: []string{
			`CREATE UNIQUE INDEX IF NOT EXISTS ux_shifts_open_terminal ON shifts (terminal_id) WHERE status = 'open'`,
			`CREATE INDEX IF NOT EXISTS idx_shifts_started ON shifts (terminal_id, started_at)`,
		},
	},
	{
		Name: "orders",
		Create: `CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			table_id TEXT,
			shift_id TEXT NOT NULL REFERENCES shifts (id),
			branch_id TEXT NOT NULL,
			operator_id TEXT NOT NULL,
			customer_name TEXT,
			status TEXT NOT NULL CHECK (status IN ('pending', 'completed', 'cancelled')),
			total TEXT NOT NULL DEFAULT '0',
			synced INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT
		)`,
		Columns: []Column{
			{"id", "TEXT", 1}, {"table_id", "TEXT", 1}, {"shift_id", "TEXT", 1}, {"branch_id", "TEXT", 1},
			{"operator_id", "TEXT", 1}, {"customer_name", "TEXT", 1}, {"status", "TEXT", 1}, {"total", "TEXT", 1},
			{"synced", "INTEGER", 1}, {"created_at", "TEXT", 1}, {"updated_at", "TEXT", 1},
		},
	},
	{
		Name: "order_items",
		Create: `CREATE TABLE IF NOT EXISTS order_items (
			id TEXT PRIMARY KEY,
			order_id TEXT NOT NULL REFERENCES orders (id) ON DELETE CASCADE,
			product_id TEXT NOT NULL,
			quantity INTEGER NOT NULL CHECK (quantity > 0),
			unit_price TEXT NOT NULL,
			total_price TEXT NOT NULL
		)`,
		Columns: []Column{
			{"id", "TEXT", 1}, {"order_id", "TEXT", 1}, {"product_id", "TEXT", 1}, {"quantity", "INTEGER", 1},
			{"unit_price", "TEXT", 1}, {"total_price", "TEXT", 1},
		},
		Indexes: []string{`CREATE INDEX IF NOT EXISTS idx_order_items_order ON order_items (order_id)`},
	},
	{
		Name: "sales",
		Create: `CREATE TABLE IF NOT EXISTS sales (
			id TEXT PRIMARY KEY,
			branch_id TEXT NOT NULL,
			shift_id TEXT REFERENCES shifts (id),
			order_id TEXT,
			client_id TEXT,
			operator_id TEXT NOT NULL,
			total_amount TEXT NOT NULL,
			cash_amount TEXT,
			payment_method TEXT NOT NULL CHECK (payment_method IN ('cash', 'card', 'transfer', 'rappi', 'mixed')),
			status TEXT NOT NULL CHECK (status IN ('completed', 'voided', 'pending')),
			channel TEXT,
			notes TEXT,
			synced INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		)`,
		Columns: []Column{
			{"id", "TEXT", 1}, {"branch_id", "TEXT", 1}, {"shift_id", "TEXT", 1}, {"order_id", "TEXT", 1},
			{"operator_id", "TEXT", 1}, {"total_amount", "TEXT", 1}, {"payment_method", "TEXT", 1},
			{"status", "TEXT", 1}, {"notes", "TEXT", 1}, {"synced", "INTEGER", 1}, {"created_at", "TEXT", 1},
			{"client_id", "TEXT", 2}, {"channel", "TEXT", 2}, {"cash_amount", "TEXT", 2},
		},
		Indexes: []string{`CREATE INDEX IF NOT EXISTS idx_sales_shift ON sales (shift_id)`},
	},
	{
		Name: "sale_items",
		Create: `CREATE TABLE IF NOT EXISTS sale_items (
			id TEXT PRIMARY KEY,
			sale_id TEXT NOT NULL REFERENCES sales (id) ON DELETE CASCADE,
			product_id TEXT NOT NULL,
			product_name TEXT,
			quantity INTEGER NOT NULL CHECK (quantity > 0),
			unit_price TEXT NOT NULL,
			total_price TEXT NOT NULL
		)`,
		Columns: []Column{
			{"id", "TEXT", 1}, {"sale_id", "TEXT", 1}, {"product_id", "TEXT", 1}, {"quantity", "INTEGER", 1},
			{"unit_price", "TEXT", 1}, {"total_price", "TEXT", 1}, {"product_name", "TEXT", 2},
		},
		Indexes: []string{`CREATE INDEX IF NOT EXISTS idx_sale_items_sale ON sale_items (sale_id)`},
	},
	{
		Name: "expenses",
		Create: `CREATE TABLE IF NOT EXISTS expenses (
			id TEXT PRIMARY KEY,
			shift_id TEXT NOT NULL REFERENCES shifts (id),
			branch_id TEXT NOT NULL,
			operator_id TEXT NOT NULL,
			amount TEXT NOT NULL,
			category TEXT,
			description TEXT,
			payment_method TEXT NOT NULL DEFAULT 'cash',
			synced INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		)`,
		Columns: []Column{
			{"id", "TEXT", 1}, {"shift_id", "TEXT", 1}, {"branch_id", "TEXT", 1}, {"operator_id", "TEXT", 1},
			{"amount", "TEXT", 1}, {"category", "TEXT", 1}, {"description", "TEXT", 1},
			{"payment_method", "TEXT", 1}, {"synced", "INTEGER", 1}, {"created_at", "TEXT", 1},
		},
	},
	{
		Name: "tip_distributions",
		Create: `CREATE TABLE IF NOT EXISTS tip_distributions (
			id TEXT PRIMARY KEY,
			shift_id TEXT NOT NULL REFERENCES shifts (id),
			employee_id TEXT NOT NULL,
			amount TEXT NOT NULL,
			payment_method TEXT NOT NULL DEFAULT 'cash',
			notes TEXT,
			synced INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		)`,
		Columns: []Column{
			{"id", "TEXT", 1}, {"shift_id", "TEXT", 1}, {"employee_id", "TEXT", 1}, {"amount", "TEXT", 1},
			{"payment_method", "TEXT", 1}, {"notes", "TEXT", 1}, {"synced", "INTEGER", 1}, {"created_at", "TEXT", 1},
		},
	},
	{
		Name: "deliveries",
		Create: `CREATE TABLE IF NOT EXISTS deliveries (
			id TEXT PRIMARY KEY,
			branch_id TEXT NOT NULL,
			shift_id TEXT,
			channel TEXT NOT NULL CHECK (channel IN ('delivery', 'rappi')),
			external_order_id TEXT,
			customer_name TEXT,
			address TEXT,
			phone TEXT,
			status TEXT NOT NULL,
			total TEXT NOT NULL DEFAULT '0',
			payment_method TEXT,
			synced INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT
		)`,
		Columns: []Column{
			{"id", "TEXT", 1}, {"branch_id", "TEXT", 1}, {"shift_id", "TEXT", 1}, {"channel", "TEXT", 1},
			{"external_order_id", "TEXT", 1}, {"customer_name", "TEXT", 1}, {"address", "TEXT", 1},
			{"phone", "TEXT", 1}, {"status", "TEXT", 1}, {"total", "TEXT", 1}, {"payment_method", "TEXT", 1},
			{"synced", "INTEGER", 1}, {"created_at", "TEXT", 1}, {"updated_at", "TEXT", 1},
		},
	},
	{
		Name: "delivery_items",
		Create: `CREATE TABLE IF NOT EXISTS delivery_items (
			id TEXT PRIMARY KEY,
			delivery_id TEXT NOT NULL REFERENCES deliveries (id) ON DELETE CASCADE,
			product_id TEXT NOT NULL,
			quantity INTEGER NOT NULL CHECK (quantity > 0),
			unit_price TEXT NOT NULL,
			total_price TEXT NOT NULL
		)`,
		Columns: []Column{
			{"id", "TEXT", 1}, {"delivery_id", "TEXT", 1}, {"product_id", "TEXT", 1}, {"quantity", "INTEGER", 1},
			{"unit_price", "TEXT", 1}, {"total_price", "TEXT", 1},
		},
	},
	{
		Name: "stock_reservations",
		Create: `CREATE TABLE IF NOT EXISTS stock_reservations (
			id TEXT PRIMARY KEY,
			product_id TEXT NOT NULL,
			quantity INTEGER NOT NULL CHECK (quantity >= 0),
			source_type TEXT NOT NULL CHECK (source_type IN ('order', 'delivery', 'rappi')),
			source_id TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			UNIQUE (source_type, source_id, product_id)
		)`,
		Columns: []Column{
			{"id", "TEXT", 1}, {"product_id", "TEXT", 1}, {"quantity", "INTEGER", 1}, {"source_type", "TEXT", 1},
			{"source_id", "TEXT", 1}, {"created_at", "TEXT", 1}, {"updated_at", "TEXT", 1},
		},
		Indexes: []string{`CREATE INDEX IF NOT EXISTS idx_reservations_product ON stock_reservations (product_id)`},
	},
	{
		Name: "stock_movements",
		Create: `CREATE TABLE IF NOT EXISTS stock_movements (
			id TEXT PRIMARY KEY,
			product_id TEXT NOT NULL,
			quantity INTEGER NOT NULL,
			reason TEXT NOT NULL,
			source_type TEXT,
			source_id TEXT,
			synced INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		)`,
		Columns: []Column{
			{"id", "TEXT", 1}, {"product_id", "TEXT", 1}, {"quantity", "INTEGER", 1}, {"reason", "TEXT", 1},
			{"source_type", "TEXT", 1}, {"source_id", "TEXT", 1}, {"synced", "INTEGER", 1}, {"created_at", "TEXT", 1},
		},
	},
	{
		Name: "sync_transactions",
		Create: `CREATE TABLE IF NOT EXISTS sync_transactions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			created_at TEXT NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			permanent_failures INTEGER NOT NULL DEFAULT 0,
			last_error TEXT,
			last_attempt_at TEXT
		)`,
		Columns: []Column{
			{"id", "INTEGER", 1}, {"created_at", "TEXT", 1}, {"attempts", "INTEGER", 1},
			{"last_error", "TEXT", 1}, {"last_attempt_at", "TEXT", 1}, {"permanent_failures", "INTEGER", 2},
		},
	},
	{
		Name: "sync_operations",
		Create: `CREATE TABLE IF NOT EXISTS sync_operations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			tx_id INTEGER NOT NULL REFERENCES sync_transactions (id) ON DELETE CASCADE,
			op TEXT NOT NULL CHECK (op IN ('insert', 'update', 'delete')),
			table_name TEXT NOT NULL,
			row_id TEXT NOT NULL,
			payload TEXT
		)`,
		Columns: []Column{
			{"id", "INTEGER", 1}, {"tx_id", "INTEGER", 1}, {"op", "TEXT", 1}, {"table_name", "TEXT", 1},
			{"row_id", "TEXT", 1}, {"payload", "TEXT", 1},
		},
		Indexes: []string{
			`CREATE INDEX IF NOT EXISTS idx_sync_operations_tx ON sync_operations (tx_id)`,
			`CREATE INDEX IF NOT EXISTS idx_sync_operations_row ON sync_operations (table_name, row_id)`,
		},
	},
	{
		Name: "sync_dead_letter",
		Create: `CREATE TABLE IF NOT EXISTS sync_dead_letter (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			tx_id INTEGER NOT NULL,
			operations TEXT NOT NULL,
			reason TEXT NOT NULL,
			attempts INTEGER NOT NULL,
			failed_at TEXT NOT NULL
		)`,
		Columns: []Column{
			{"id", "INTEGER", 1}, {"tx_id", "INTEGER", 1}, {"operations", "TEXT", 1}, {"reason", "TEXT", 1},
			{"attempts", "INTEGER", 1}, {"failed_at", "TEXT", 1},
		},
	},
	{
		Name: "sync_state",
		Create: `CREATE TABLE IF NOT EXISTS sync_state (
			table_name TEXT PRIMARY KEY,
			last_remote_ts TEXT,
			rows_synced INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'idle',
			error_message TEXT,
			updated_at TEXT
		)`,
		Columns: []Column{
			{"table_name", "TEXT", 1}, {"last_remote_ts", "TEXT", 1}, {"rows_synced", "INTEGER", 1},
			{"status", "TEXT", 1}, {"error_message", "TEXT", 1}, {"updated_at", "TEXT", 1},
		},
	},
	{
		Name: "sync_history",
		Create: `CREATE TABLE IF NOT EXISTS sync_history (
			id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			completed_at TEXT,
			uploaded INTEGER NOT NULL DEFAULT 0,
			downloaded INTEGER NOT NULL DEFAULT 0,
			failed INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			error_message TEXT
		)`,
		Columns: []Column{
			{"id", "TEXT", 1}, {"started_at", "TEXT", 1}, {"completed_at", "TEXT", 1}, {"uploaded", "INTEGER", 1},
			{"downloaded", "INTEGER", 1}, {"failed", "INTEGER", 1}, {"status", "TEXT", 1}, {"error_message", "TEXT", 1},
		},
	},
}

var tableIndex = func() map[string]*Table {
	m := make(map[string]*Table, len(tables))
	for i := range tables {
		m[tables[i].Name] = &tables[i]
	}
	return m
}()

// LookupTable returns the definition of a known table.
func LookupTable(name string) (*Table, bool) {
	t, ok := tableIndex[name]
	return t, ok
}

func (t *Table) HasColumn(name string) bool {
	for _, c := range t.Columns {
		if c.Name == name {
			return true
		}
	}
	return false
}
