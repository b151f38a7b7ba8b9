package config

import "github.com/spf13/viper"

// setDefaults installs the built-in configuration, the lowest-priority
// layer. Account codes follow the seeded chart of accounts.
func setDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "ledger.db")
	v.SetDefault("database.busy_timeout_ms", 5000)
	v.SetDefault("database.foreign_keys", true)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("accounts.cash", []string{"1001", "1002"})
	v.SetDefault("accounts.receivable", "1122")
	v.SetDefault("accounts.payable", "2202")
	v.SetDefault("accounts.inventory", "1403")
	v.SetDefault("accounts.cost_of_sales", "6401")
	v.SetDefault("accounts.bad_debt_expense", "6701")
	v.SetDefault("accounts.bad_debt_provision", "1231")
	v.SetDefault("accounts.current_year_profit", "4103")
	v.SetDefault("accounts.retained_earnings", "4104")
	v.SetDefault("accounts.fixed_asset", "1601")
	v.SetDefault("accounts.accum_depreciation", "1602")
	v.SetDefault("accounts.depreciation_expense", "6602")
	v.SetDefault("accounts.impairment", "1603")
	v.SetDefault("accounts.impairment_loss", "6701")
	v.SetDefault("accounts.cip", "1604")
	v.SetDefault("accounts.disposal_gain_loss", "6711")

	v.SetDefault("fx.functional_currency", "CNY")
	v.SetDefault("fx.gain_account", "6061")
	v.SetDefault("fx.loss_account", "6061")
	v.SetDefault("fx.revaluable_accounts", []string{"1002", "1122", "2202"})
	v.SetDefault("fx.rate_cache_size", 256)

	v.SetDefault("ar.provision_rates", map[string]float64{
		"0-30":  0,
		"31-60": 5,
		"61-90": 10,
		"90+":   50,
	})

	v.SetDefault("inventory.negative_policy", "reject")

	v.SetDefault("report.mapping_path", "")

	v.SetDefault("model.max_iterations", 50)
	v.SetDefault("model.tolerance", 0.01)
}
