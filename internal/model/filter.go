package model

import (
	"sort"
	"strings"
)

// Filter restricts a snapshot by user, role, warehouse and database
// before analysis. An empty set for a dimension passes every record;
// non-empty sets are conjunctive across dimensions.
type Filter struct {
	Users      []string `json:"users,omitempty"`
	Roles      []string `json:"roles,omitempty"`
	Warehouses []string `json:"warehouses,omitempty"`
	Databases  []string `json:"databases,omitempty"`
}

// IsEmpty reports whether no dimension restricts anything.
func (f Filter) IsEmpty() bool {
	return len(f.Users) == 0 && len(f.Roles) == 0 &&
		len(f.Warehouses) == 0 && len(f.Databases) == 0
}

// Match reports whether the record passes every non-empty dimension.
func (f Filter) Match(r *ExecutionRecord) bool {
	return matchDimension(f.Users, r.UserName) &&
		matchDimension(f.Roles, r.RoleName) &&
		matchDimension(f.Warehouses, r.WarehouseName) &&
		matchDimension(f.Databases, r.DatabaseName)
}

// Key returns a canonical string form of the filter, used as a
// memoization key. Order of values within a dimension does not matter.
func (f Filter) Key() string {
	var sb strings.Builder
	for _, dim := range [][]string{f.Users, f.Roles, f.Warehouses, f.Databases} {
		values := make([]string, len(dim))
		copy(values, dim)
		sort.Strings(values)
		sb.WriteString(strings.Join(values, ","))
		sb.WriteByte(';')
	}
	return sb.String()
}

func matchDimension(allowed []string, value string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, v := range allowed {
		if v == value {
			return true
		}
	}
	return false
}
