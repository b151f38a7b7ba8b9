// Package coa holds the chart of accounts and the five auxiliary
// dimensions. Accounts are keyed by a stable hierarchical code; the absent
// dimension reference is the sentinel id 0, never NULL, so balance keys
// stay uniform.
package coa

// Account types.
const (
	TypeAsset     = "asset"
	TypeLiability = "liability"
	TypeEquity    = "equity"
	TypeRevenue   = "revenue"
	TypeExpense   = "expense"
)

// Normal sides.
const (
	DirectionDebit  = "debit"
	DirectionCredit = "credit"
)

// Cash-flow categories.
const (
	CashFlowOperating = "operating"
	CashFlowInvesting = "investing"
	CashFlowFinancing = "financing"
	CashFlowNone      = "none"
)

// Dimension types, in the fixed order used by balance keys.
const (
	DimDepartment = "department"
	DimProject    = "project"
	DimCustomer   = "customer"
	DimSupplier   = "supplier"
	DimEmployee   = "employee"
)

// DimensionTypes lists the five dimension types in key order.
var DimensionTypes = []string{DimDepartment, DimProject, DimCustomer, DimSupplier, DimEmployee}

// Account is one node of the chart.
type Account struct {
	Code       string `json:"code"`
	Name       string `json:"name"`
	Level      int    `json:"level"`
	ParentCode string `json:"parent_code,omitempty"`
	Type       string `json:"type"`
	Direction  string `json:"direction"`
	CashFlow   string `json:"cash_flow"`
	Enabled    bool   `json:"enabled"`
	System     bool   `json:"system"`
	Revaluable bool   `json:"revaluable"`
}

// IsDebitNatured reports whether the account accumulates on the debit side.
func (a Account) IsDebitNatured() bool { return a.Direction == DirectionDebit }

// Dimension is one member of a typed dimension namespace.
type Dimension struct {
	ID      int64  `json:"id"`
	Type    string `json:"type"`
	Code    string `json:"code"`
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

// DimensionSet references one dimension per type by id; 0 means absent.
type DimensionSet struct {
	DeptID     int64 `json:"dept_id"`
	ProjectID  int64 `json:"project_id"`
	CustomerID int64 `json:"customer_id"`
	SupplierID int64 `json:"supplier_id"`
	EmployeeID int64 `json:"employee_id"`
}

// IsZero reports whether no dimension is referenced.
func (d DimensionSet) IsZero() bool {
	return d == DimensionSet{}
}
