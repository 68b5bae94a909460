//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package policy holds the static access policy consulted by the decision
// pipeline: address allow/deny lists, role permissions, per-resource trust
// minimums, trust bands and time restrictions.
//
// A [Store] is built once at startup, either from the built-in defaults or
// from a YAML document, and is read-only afterwards. It is shared by every
// evaluation without locking.
package policy

import "strings"

// Action names understood by [Permissions.Grants].
const (
	ActionRead   = "read"
	ActionWrite  = "write"
	ActionDelete = "delete"
	ActionAdmin  = "admin"
)

// Access levels attached to allow decisions.
const (
	AccessFull     = "full"
	AccessStandard = "standard"
	AccessLimited  = "limited"
)

// Permissions is the action grant table of a single role.
type Permissions struct {
	Read   bool `yaml:"read" json:"read"`
	Write  bool `yaml:"write" json:"write"`
	Delete bool `yaml:"delete" json:"delete"`
	Admin  bool `yaml:"admin" json:"admin"`
}

// Grants reports whether the named action is permitted. Unknown actions are
// never granted.
func (p Permissions) Grants(action string) bool {
	switch action {
	case ActionRead:
		return p.Read
	case ActionWrite:
		return p.Write
	case ActionDelete:
		return p.Delete
	case ActionAdmin:
		return p.Admin
	default:
		return false
	}
}

// ResourceRule gates a resource type. An empty Roles list places no role
// restriction on the resource.
type ResourceRule struct {
	MinTrust float64  `yaml:"min_trust" json:"min_trust"`
	Roles    []string `yaml:"roles" json:"roles"`
}

// Allows reports whether any of roles is in the rule's allowed set, treating
// an empty set as unrestricted.
func (r ResourceRule) Allows(roles []string) bool {
	if len(r.Roles) == 0 {
		return true
	}
	for _, role := range roles {
		for _, allowed := range r.Roles {
			if role == allowed {
				return true
			}
		}
	}
	return false
}

// Thresholds are the trust bands mapped to access levels.
type Thresholds struct {
	Full     float64 `yaml:"full" json:"full"`
	Standard float64 `yaml:"standard" json:"standard"`
	Limited  float64 `yaml:"limited" json:"limited"`
	Denied   float64 `yaml:"denied" json:"denied"`
}

// BusinessHours is an inclusive range of wall-clock hours.
type BusinessHours struct {
	Start int `yaml:"start" json:"start"`
	End   int `yaml:"end" json:"end"`
}

// TimeRestrictions describe when a reduced context score applies.
type TimeRestrictions struct {
	BusinessHours       BusinessHours `yaml:"business_hours" json:"business_hours"`
	WeekendAllowedRoles []string      `yaml:"weekend_allowed_roles" json:"weekend_allowed_roles"`
}

// Zone is a trusted network segment and the context adjustment it earns.
type Zone struct {
	Name       string  `yaml:"name" json:"name"`
	Prefix     string  `yaml:"prefix" json:"prefix"`
	Adjustment float64 `yaml:"adjustment" json:"adjustment"`
}

// External describes the untrusted address family. Single-host whitelist
// entries inside Prefix earn TrustedAdjustment; any other address in it earns
// UnknownAdjustment.
type External struct {
	Prefix            string  `yaml:"prefix" json:"prefix"`
	TrustedAdjustment float64 `yaml:"trusted_adjustment" json:"trusted_adjustment"`
	UnknownAdjustment float64 `yaml:"unknown_adjustment" json:"unknown_adjustment"`
}

// Networks lists zones in match priority order followed by the external family.
type Networks struct {
	Zones    []Zone   `yaml:"zones" json:"zones"`
	External External `yaml:"external" json:"external"`
}

// Policy is the serializable policy document.
type Policy struct {
	IPWhitelist      []string                `yaml:"ip_whitelist" json:"ip_whitelist"`
	IPBlacklist      []string                `yaml:"ip_blacklist" json:"ip_blacklist"`
	RolesPermissions map[string]Permissions  `yaml:"roles_permissions" json:"roles_permissions"`
	ResourceAccess   map[string]ResourceRule `yaml:"resource_access" json:"resource_access"`
	TrustThresholds  Thresholds              `yaml:"trust_thresholds" json:"trust_thresholds"`
	TimeRestrictions TimeRestrictions        `yaml:"time_restrictions" json:"time_restrictions"`
	RoleTrust        map[string]float64      `yaml:"role_trust" json:"role_trust"`
	DefaultTrust     float64                 `yaml:"default_trust" json:"default_trust"`
	Networks         Networks                `yaml:"networks" json:"networks"`
}

func normalizeRoles(roles []string) []string {
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}
