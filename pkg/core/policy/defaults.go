//
//  Copyright © Manetu Inc. All rights reserved.
//

package policy

// UnknownResource is applied to resource types absent from the policy.
var UnknownResource = ResourceRule{MinTrust: 60}

var allRoles = []string{"ceo", "cto", "hr_manager", "sales_manager", "developer", "analyst"}

// DefaultPolicy returns a fresh copy of the built-in policy.
func DefaultPolicy() *Policy {
	executive := []string{"ceo", "cto"}

	return &Policy{
		IPWhitelist: []string{
			"172.28.1.100",
			"172.28.1.50",
			"172.28.4.0/24",
			"172.28.5.0/24",
			"172.28.2.0/24",
			"172.28.3.0/24",
		},
		IPBlacklist: []string{
			"172.28.1.200",
			"172.28.1.250",
			"172.28.1.60",
		},
		RolesPermissions: map[string]Permissions{
			"ceo":           {Read: true, Write: true, Delete: true, Admin: true},
			"cto":           {Read: true, Write: true, Delete: true, Admin: true},
			"hr_manager":    {Read: true, Write: true},
			"sales_manager": {Read: true, Write: true},
			"developer":     {Read: true},
			"analyst":       {Read: true},
		},
		ResourceAccess: map[string]ResourceRule{
			"employees": {MinTrust: 50, Roles: []string{"ceo", "cto", "hr_manager", "developer", "analyst"}},
			"customers": {MinTrust: 60, Roles: []string{"ceo", "cto", "sales_manager", "analyst"}},
			"orders":    {MinTrust: 60, Roles: []string{"ceo", "cto", "sales_manager", "analyst"}},
			"projects":  {MinTrust: 50, Roles: []string{"ceo", "cto", "developer", "analyst"}},
			"audit":     {MinTrust: 80, Roles: executive},
			"stats":     {MinTrust: 40, Roles: append([]string(nil), allRoles...)},
		},
		TrustThresholds: Thresholds{Full: 80, Standard: 60, Limited: 40, Denied: 0},
		TimeRestrictions: TimeRestrictions{
			BusinessHours:       BusinessHours{Start: 8, End: 20},
			WeekendAllowedRoles: append([]string(nil), executive...),
		},
		RoleTrust: map[string]float64{
			"ceo":           100,
			"cto":           95,
			"hr_manager":    85,
			"sales_manager": 80,
			"developer":     75,
			"analyst":       70,
		},
		DefaultTrust: 50,
		Networks: Networks{
			Zones: []Zone{
				{Name: "production", Prefix: "172.28.4.0/24", Adjustment: 30},
				{Name: "development", Prefix: "172.28.5.0/24", Adjustment: 25},
				{Name: "internal", Prefix: "172.28.2.0/24", Adjustment: 20},
				{Name: "dmz", Prefix: "172.28.3.0/24", Adjustment: 15},
			},
			External: External{
				Prefix:            "172.28.1.0/24",
				TrustedAdjustment: -15,
				UnknownAdjustment: -40,
			},
		},
	}
}
