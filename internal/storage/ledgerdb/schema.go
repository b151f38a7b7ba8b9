package ledgerdb

// schemaSQL creates every logical table of the ledger file. Monetary
// columns are NUMERIC and bound as decimal strings; rate columns carry six
// fractional digits. Dimension-absent keys use 0 as the sentinel so the
// balance index is keyed uniformly.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS accounts (
  code TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  level INTEGER NOT NULL DEFAULT 1,
  parent_code TEXT,
  type TEXT NOT NULL,
  direction TEXT NOT NULL,
  cash_flow TEXT NOT NULL DEFAULT 'none',
  is_enabled INTEGER NOT NULL DEFAULT 1,
  is_system INTEGER NOT NULL DEFAULT 0,
  is_revaluable INTEGER NOT NULL DEFAULT 0,
  created_at TEXT DEFAULT CURRENT_TIMESTAMP,
  FOREIGN KEY (parent_code) REFERENCES accounts(code)
);

CREATE INDEX IF NOT EXISTS idx_accounts_type ON accounts(type);

CREATE TABLE IF NOT EXISTS dimensions (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  type TEXT NOT NULL,
  code TEXT NOT NULL,
  name TEXT NOT NULL,
  parent_id INTEGER,
  extra TEXT,
  is_enabled INTEGER NOT NULL DEFAULT 1,
  created_at TEXT DEFAULT CURRENT_TIMESTAMP,
  UNIQUE(type, code)
);

CREATE INDEX IF NOT EXISTS idx_dimensions_type ON dimensions(type);

CREATE TABLE IF NOT EXISTS vouchers (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  voucher_no TEXT UNIQUE,
  date TEXT NOT NULL,
  period TEXT NOT NULL,
  description TEXT,
  status TEXT NOT NULL DEFAULT 'draft',
  entry_type TEXT NOT NULL DEFAULT 'normal',
  source_template TEXT,
  source_event_id TEXT,
  void_reason TEXT,
  void_of INTEGER,
  created_at TEXT DEFAULT CURRENT_TIMESTAMP,
  reviewed_at TEXT,
  confirmed_at TEXT,
  voided_at TEXT,
  FOREIGN KEY (void_of) REFERENCES vouchers(id)
);

CREATE INDEX IF NOT EXISTS idx_vouchers_period ON vouchers(period);
CREATE INDEX IF NOT EXISTS idx_vouchers_status ON vouchers(status);
CREATE INDEX IF NOT EXISTS idx_vouchers_event ON vouchers(source_event_id);

CREATE TABLE IF NOT EXISTS voucher_entries (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  voucher_id INTEGER NOT NULL,
  line_no INTEGER NOT NULL,
  account_code TEXT NOT NULL,
  account_name TEXT,
  description TEXT,
  debit_amount NUMERIC NOT NULL DEFAULT 0,
  credit_amount NUMERIC NOT NULL DEFAULT 0,
  currency_code TEXT NOT NULL DEFAULT '',
  fx_rate NUMERIC NOT NULL DEFAULT 1,
  foreign_debit NUMERIC NOT NULL DEFAULT 0,
  foreign_credit NUMERIC NOT NULL DEFAULT 0,
  dept_id INTEGER NOT NULL DEFAULT 0,
  project_id INTEGER NOT NULL DEFAULT 0,
  customer_id INTEGER NOT NULL DEFAULT 0,
  supplier_id INTEGER NOT NULL DEFAULT 0,
  employee_id INTEGER NOT NULL DEFAULT 0,
  FOREIGN KEY (voucher_id) REFERENCES vouchers(id) ON DELETE CASCADE,
  FOREIGN KEY (account_code) REFERENCES accounts(code)
);

CREATE INDEX IF NOT EXISTS idx_entries_voucher ON voucher_entries(voucher_id);
CREATE INDEX IF NOT EXISTS idx_entries_account ON voucher_entries(account_code);

CREATE TABLE IF NOT EXISTS balances (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  account_code TEXT NOT NULL,
  period TEXT NOT NULL,
  dept_id INTEGER NOT NULL DEFAULT 0,
  project_id INTEGER NOT NULL DEFAULT 0,
  customer_id INTEGER NOT NULL DEFAULT 0,
  supplier_id INTEGER NOT NULL DEFAULT 0,
  employee_id INTEGER NOT NULL DEFAULT 0,
  opening_balance NUMERIC NOT NULL DEFAULT 0,
  debit_amount NUMERIC NOT NULL DEFAULT 0,
  credit_amount NUMERIC NOT NULL DEFAULT 0,
  closing_balance NUMERIC NOT NULL DEFAULT 0,
  currency_code TEXT NOT NULL DEFAULT '',
  foreign_opening NUMERIC NOT NULL DEFAULT 0,
  foreign_debit NUMERIC NOT NULL DEFAULT 0,
  foreign_credit NUMERIC NOT NULL DEFAULT 0,
  foreign_closing NUMERIC NOT NULL DEFAULT 0,
  updated_at TEXT DEFAULT CURRENT_TIMESTAMP,
  UNIQUE(account_code, period, dept_id, project_id, customer_id, supplier_id, employee_id)
);

CREATE INDEX IF NOT EXISTS idx_balances_period ON balances(period);
CREATE INDEX IF NOT EXISTS idx_balances_account ON balances(account_code);

CREATE TABLE IF NOT EXISTS void_vouchers (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  original_voucher_id INTEGER NOT NULL,
  void_voucher_id INTEGER NOT NULL,
  reason TEXT,
  created_at TEXT DEFAULT CURRENT_TIMESTAMP,
  FOREIGN KEY (original_voucher_id) REFERENCES vouchers(id),
  FOREIGN KEY (void_voucher_id) REFERENCES vouchers(id)
);

CREATE TABLE IF NOT EXISTS periods (
  period TEXT PRIMARY KEY,
  status TEXT NOT NULL DEFAULT 'open',
  opened_at TEXT,
  closed_at TEXT
);

CREATE TABLE IF NOT EXISTS period_closings (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  period TEXT NOT NULL,
  template_code TEXT NOT NULL,
  voucher_id INTEGER NOT NULL,
  created_at TEXT DEFAULT CURRENT_TIMESTAMP,
  reversed_at TEXT,
  UNIQUE(period, template_code),
  FOREIGN KEY (voucher_id) REFERENCES vouchers(id)
);

CREATE TABLE IF NOT EXISTS closing_templates (
  code TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  rule_json TEXT NOT NULL,
  is_active INTEGER NOT NULL DEFAULT 1,
  created_at TEXT DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS voucher_templates (
  code TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  rule_json TEXT NOT NULL,
  is_active INTEGER NOT NULL DEFAULT 1,
  created_at TEXT DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS voucher_events (
  event_id TEXT PRIMARY KEY,
  template_code TEXT NOT NULL,
  voucher_id INTEGER NOT NULL,
  created_at TEXT DEFAULT CURRENT_TIMESTAMP,
  FOREIGN KEY (voucher_id) REFERENCES vouchers(id)
);

CREATE TABLE IF NOT EXISTS currencies (
  code TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  symbol TEXT,
  precision INTEGER NOT NULL DEFAULT 2,
  is_active INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS exchange_rates (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  currency TEXT NOT NULL,
  date TEXT NOT NULL,
  rate NUMERIC NOT NULL,
  rate_type TEXT NOT NULL DEFAULT 'spot',
  source TEXT,
  created_at TEXT DEFAULT CURRENT_TIMESTAMP,
  UNIQUE(currency, date, rate_type)
);

CREATE TABLE IF NOT EXISTS ar_items (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  customer_id INTEGER NOT NULL,
  voucher_id INTEGER NOT NULL,
  date TEXT NOT NULL,
  amount NUMERIC NOT NULL,
  settled_amount NUMERIC NOT NULL DEFAULT 0,
  status TEXT NOT NULL DEFAULT 'open',
  created_at TEXT DEFAULT CURRENT_TIMESTAMP,
  FOREIGN KEY (voucher_id) REFERENCES vouchers(id)
);

CREATE TABLE IF NOT EXISTS ap_items (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  supplier_id INTEGER NOT NULL,
  voucher_id INTEGER NOT NULL,
  date TEXT NOT NULL,
  amount NUMERIC NOT NULL,
  settled_amount NUMERIC NOT NULL DEFAULT 0,
  status TEXT NOT NULL DEFAULT 'open',
  created_at TEXT DEFAULT CURRENT_TIMESTAMP,
  FOREIGN KEY (voucher_id) REFERENCES vouchers(id)
);

CREATE TABLE IF NOT EXISTS settlements (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  item_type TEXT NOT NULL,
  item_id INTEGER NOT NULL,
  amount NUMERIC NOT NULL,
  voucher_id INTEGER NOT NULL,
  date TEXT NOT NULL,
  created_at TEXT DEFAULT CURRENT_TIMESTAMP,
  FOREIGN KEY (voucher_id) REFERENCES vouchers(id)
);

CREATE TABLE IF NOT EXISTS bad_debt_provisions (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  period TEXT NOT NULL,
  customer_id INTEGER NOT NULL,
  amount NUMERIC NOT NULL,
  voucher_id INTEGER NOT NULL,
  created_at TEXT DEFAULT CURRENT_TIMESTAMP,
  FOREIGN KEY (voucher_id) REFERENCES vouchers(id)
);

CREATE TABLE IF NOT EXISTS inventory_items (
  sku TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  unit TEXT NOT NULL DEFAULT 'ea',
  costing_method TEXT NOT NULL DEFAULT 'moving_average',
  created_at TEXT DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS inventory_batches (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  sku TEXT NOT NULL,
  batch_no TEXT,
  qty NUMERIC NOT NULL,
  remaining_qty NUMERIC NOT NULL,
  unit_cost NUMERIC NOT NULL,
  warehouse_id INTEGER NOT NULL DEFAULT 0,
  status TEXT NOT NULL DEFAULT 'open',
  created_at TEXT DEFAULT CURRENT_TIMESTAMP,
  FOREIGN KEY (sku) REFERENCES inventory_items(sku)
);

CREATE INDEX IF NOT EXISTS idx_inventory_batches_sku ON inventory_batches(sku);

CREATE TABLE IF NOT EXISTS inventory_moves (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  sku TEXT NOT NULL,
  direction TEXT NOT NULL,
  qty NUMERIC NOT NULL,
  unit_cost NUMERIC NOT NULL,
  total_cost NUMERIC NOT NULL,
  voucher_id INTEGER NOT NULL,
  date TEXT NOT NULL,
  warehouse_id INTEGER NOT NULL DEFAULT 0,
  pending_cost_adjustment NUMERIC NOT NULL DEFAULT 0,
  created_at TEXT DEFAULT CURRENT_TIMESTAMP,
  FOREIGN KEY (sku) REFERENCES inventory_items(sku),
  FOREIGN KEY (voucher_id) REFERENCES vouchers(id)
);

CREATE INDEX IF NOT EXISTS idx_inventory_moves_sku ON inventory_moves(sku);

CREATE TABLE IF NOT EXISTS standard_costs (
  sku TEXT NOT NULL,
  period TEXT NOT NULL,
  cost NUMERIC NOT NULL,
  variance_account TEXT,
  UNIQUE(sku, period)
);

CREATE TABLE IF NOT EXISTS fixed_assets (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  name TEXT NOT NULL,
  cost NUMERIC NOT NULL,
  salvage NUMERIC NOT NULL DEFAULT 0,
  life_months INTEGER NOT NULL,
  method TEXT NOT NULL DEFAULT 'straight_line',
  accum_depreciation NUMERIC NOT NULL DEFAULT 0,
  accum_impairment NUMERIC NOT NULL DEFAULT 0,
  acquired_at TEXT NOT NULL,
  dept_id INTEGER NOT NULL DEFAULT 0,
  project_id INTEGER NOT NULL DEFAULT 0,
  status TEXT NOT NULL DEFAULT 'active',
  created_at TEXT DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS fixed_asset_changes (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  asset_id INTEGER NOT NULL,
  change_type TEXT NOT NULL,
  period TEXT NOT NULL,
  amount NUMERIC NOT NULL,
  voucher_id INTEGER,
  created_at TEXT DEFAULT CURRENT_TIMESTAMP,
  FOREIGN KEY (asset_id) REFERENCES fixed_assets(id)
);

CREATE INDEX IF NOT EXISTS idx_fixed_asset_changes_asset ON fixed_asset_changes(asset_id);

CREATE TABLE IF NOT EXISTS cip_projects (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  name TEXT NOT NULL,
  cost NUMERIC NOT NULL DEFAULT 0,
  transferred NUMERIC NOT NULL DEFAULT 0,
  status TEXT NOT NULL DEFAULT 'ongoing',
  created_at TEXT DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS cip_transfers (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  project_id INTEGER NOT NULL,
  asset_id INTEGER NOT NULL,
  amount NUMERIC NOT NULL,
  date TEXT NOT NULL,
  voucher_id INTEGER,
  created_at TEXT DEFAULT CURRENT_TIMESTAMP,
  FOREIGN KEY (project_id) REFERENCES cip_projects(id),
  FOREIGN KEY (asset_id) REFERENCES fixed_assets(id)
);

CREATE TABLE IF NOT EXISTS audit_logs (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  request_id TEXT NOT NULL,
  action TEXT NOT NULL,
  target_type TEXT,
  target_id TEXT,
  detail TEXT,
  created_at TEXT DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_audit_logs_action ON audit_logs(action);
`
