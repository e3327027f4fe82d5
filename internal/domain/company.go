package domain

import "strings"

// CompanyOther is the av_company value for unrecognized manufacturers.
const CompanyOther = "other"

// companyAliases is checked in order; the first alias contained in the input
// wins. Short aliases go last so they do not shadow longer names.
var companyAliases = []struct {
	alias   string
	company string
}{
	{"waymo", "waymo"},
	{"alphabet", "waymo"},
	{"google", "waymo"},
	{"cruise", "cruise"},
	{"general motors", "cruise"},
	{"zoox", "zoox"},
	{"amazon", "zoox"},
	{"tesla", "tesla"},
	{"nuro", "nuro"},
	{"aurora", "aurora"},
	{"motional", "motional"},
	{"mercedes", "mercedes"},
	{"daimler", "mercedes"},
	{"weride", "weride"},
	{"pony", "pony.ai"},
	{"gm", "cruise"},
}

// MapCompany normalizes a free-text manufacturer or operator name by
// case-insensitive substring match. Unmatched input maps to CompanyOther.
func MapCompany(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" || isSentinel(n) {
		return CompanyOther
	}
	for _, a := range companyAliases {
		if strings.Contains(n, a.alias) {
			return a.company
		}
	}
	return CompanyOther
}
