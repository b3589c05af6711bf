package capture

// category groups hosts that are never recorded while the built-in
// denylist is enabled.
type category struct {
	name  string
	hosts []string
}

var sensitive = []category{
	{"finance", []string{
		"chase.com", "bankofamerica.com", "wellsfargo.com", "citi.com",
		"capitalone.com", "usbank.com", "pnc.com", "truist.com",
		"navyfederal.org", "schwab.com", "fidelity.com", "vanguard.com",
		"etrade.com", "robinhood.com", "paypal.com", "venmo.com",
	}},
	{"crypto", []string{
		"coinbase.com", "binance.com", "kraken.com", "gemini.com",
	}},
	{"passwords", []string{
		"1password.com", "lastpass.com", "bitwarden.com",
		"dashlane.com", "keepersecurity.com",
	}},
	{"identity", []string{
		"accounts.google.com", "login.microsoftonline.com", "login.live.com",
		"okta.com", "auth0.com", "login.gov", "id.me",
	}},
	{"health", []string{
		"mychart.com", "kp.org", "healthcare.gov", "medicare.gov",
		"member.uhc.com", "member.aetna.com", "member.cigna.com",
	}},
	{"government", []string{
		"irs.gov", "ssa.gov", "turbotax.intuit.com",
	}},
	{"payroll", []string{
		"workday.com", "adp.com", "gusto.com", "paychex.com",
	}},
}

// SensitiveCategory returns the built-in category host falls under, matching
// the same way as configured deny domains.
func SensitiveCategory(host string) (string, bool) {
	for _, c := range sensitive {
		if matchesAny(host, c.hosts) {
			return c.name, true
		}
	}
	return "", false
}
