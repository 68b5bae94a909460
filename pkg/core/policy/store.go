//
//  Copyright © Manetu Inc. All rights reserved.
//

package policy

import (
	"fmt"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/manetu/zerotrust/internal/logging"
	"github.com/mohae/deepcopy"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

var logger = logging.GetLogger("policy")

const agent = "policy"

// ZoneExternal names the untrusted address family in a [Network] result.
const ZoneExternal = "external"

type zone struct {
	name       string
	prefix     netip.Prefix
	adjustment float64
}

// Store is the compiled, immutable form of a [Policy].
type Store struct {
	doc *Policy

	whitelist []netip.Prefix
	blacklist []netip.Prefix
	zones     []zone
	external  netip.Prefix
	trusted   map[netip.Addr]struct{}
	weekend   map[string]struct{}
}

// Network is the classification of a source address.
type Network struct {
	Zone        string
	Adjustment  float64
	Blacklisted bool
}

func parsePrefix(s string) (netip.Prefix, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return netip.Prefix{}, err
		}
		return p.Masked(), nil
	}
	a, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, err
	}
	return netip.PrefixFrom(a, a.BitLen()), nil
}

func parsePrefixes(field string, entries []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(entries))
	for _, e := range entries {
		p, err := parsePrefix(e)
		if err != nil {
			return nil, fmt.Errorf("%s entry %q: %w", field, e, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// New compiles p into a Store. The Store keeps its own copy of p.
func New(p *Policy) (*Store, error) {
	doc := deepcopy.Copy(p).(*Policy)

	s := &Store{
		doc:     doc,
		trusted: make(map[netip.Addr]struct{}),
		weekend: make(map[string]struct{}),
	}

	var err error
	if s.whitelist, err = parsePrefixes("ip_whitelist", doc.IPWhitelist); err != nil {
		return nil, err
	}
	if s.blacklist, err = parsePrefixes("ip_blacklist", doc.IPBlacklist); err != nil {
		return nil, err
	}

	for _, z := range doc.Networks.Zones {
		p, err := parsePrefix(z.Prefix)
		if err != nil {
			return nil, fmt.Errorf("network zone %q: %w", z.Name, err)
		}
		s.zones = append(s.zones, zone{name: z.Name, prefix: p, adjustment: z.Adjustment})
	}

	if doc.Networks.External.Prefix != "" {
		if s.external, err = parsePrefix(doc.Networks.External.Prefix); err != nil {
			return nil, fmt.Errorf("external network: %w", err)
		}
		for _, w := range s.whitelist {
			if w.IsSingleIP() && s.external.Contains(w.Addr()) {
				s.trusted[w.Addr()] = struct{}{}
			}
		}
	}

	for _, r := range normalizeRoles(doc.TimeRestrictions.WeekendAllowedRoles) {
		s.weekend[r] = struct{}{}
	}

	if doc.DefaultTrust == 0 {
		doc.DefaultTrust = 50
	}

	return s, nil
}

// Default returns a Store over the built-in policy.
func Default() *Store {
	s, err := New(DefaultPolicy())
	if err != nil {
		// the built-in policy is static; failing here is a programming error
		panic(err)
	}
	return s
}

// Load reads a YAML policy document. Sections omitted from the file keep
// their built-in values; maps present in the file are merged key by key.
func Load(path string) (*Store, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- operator supplied path
	if err != nil {
		return nil, errors.Wrapf(err, "reading policy %s", path)
	}

	doc := DefaultPolicy()
	if err := yaml.Unmarshal(data, doc); err != nil {
		return nil, errors.Wrapf(err, "parsing policy %s", path)
	}

	s, err := New(doc)
	if err != nil {
		return nil, errors.Wrapf(err, "compiling policy %s", path)
	}

	logger.SysInfof("loaded policy from %s: %d resources, %d roles", path, len(doc.ResourceAccess), len(doc.RolesPermissions))
	return s, nil
}

// Snapshot returns a deep copy of the policy document, safe to hand to callers.
func (s *Store) Snapshot() *Policy {
	return deepcopy.Copy(s.doc).(*Policy)
}

func contains(prefixes []netip.Prefix, a netip.Addr) bool {
	for _, p := range prefixes {
		if p.Contains(a) {
			return true
		}
	}
	return false
}

func parseAddr(addr string) (netip.Addr, bool) {
	a, err := netip.ParseAddr(strings.TrimSpace(addr))
	if err != nil {
		return netip.Addr{}, false
	}
	return a.Unmap(), true
}

// IsBlacklisted reports whether addr falls in the deny list. Unparseable
// addresses, including "unknown", are never blacklisted.
func (s *Store) IsBlacklisted(addr string) bool {
	a, ok := parseAddr(addr)
	return ok && contains(s.blacklist, a)
}

// IsWhitelisted reports whether addr falls in the allow list.
func (s *Store) IsWhitelisted(addr string) bool {
	a, ok := parseAddr(addr)
	return ok && contains(s.whitelist, a)
}

// Classify places addr in the network map. Zones are tried in order and the
// first match wins; the external family is tried last. A blacklisted address
// is reported as such whatever its zone.
func (s *Store) Classify(addr string) Network {
	a, ok := parseAddr(addr)
	if !ok {
		return Network{}
	}

	if contains(s.blacklist, a) {
		return Network{Zone: ZoneExternal, Blacklisted: true}
	}

	for _, z := range s.zones {
		if z.prefix.Contains(a) {
			return Network{Zone: z.name, Adjustment: z.adjustment}
		}
	}

	if s.external.IsValid() && s.external.Contains(a) {
		ext := s.doc.Networks.External
		if _, ok := s.trusted[a]; ok {
			return Network{Zone: ZoneExternal, Adjustment: ext.TrustedAdjustment}
		}
		return Network{Zone: ZoneExternal, Adjustment: ext.UnknownAdjustment}
	}

	logger.Debugf(agent, "classify", "address %s matches no known network", addr)
	return Network{}
}

// Resource returns the rule for a resource type, falling back to
// [UnknownResource] when the type is not in the policy.
func (s *Store) Resource(resourceType string) (ResourceRule, bool) {
	if r, ok := s.doc.ResourceAccess[resourceType]; ok {
		return r, true
	}
	return UnknownResource, false
}

// BaseTrust is the highest role trust among roles, or the default trust when
// no role is mapped.
func (s *Store) BaseTrust(roles []string) float64 {
	best := s.doc.DefaultTrust
	for i, r := range roles {
		t, ok := s.doc.RoleTrust[r]
		if !ok {
			t = s.doc.DefaultTrust
		}
		if i == 0 || t > best {
			best = t
		}
	}
	return best
}

// Grants reports whether any of roles is permitted to perform action.
func (s *Store) Grants(roles []string, action string) bool {
	for _, r := range roles {
		if s.doc.RolesPermissions[r].Grants(action) {
			return true
		}
	}
	return false
}

// OutsideBusinessHours reports whether t falls before the start hour or after
// the end hour.
func (s *Store) OutsideBusinessHours(t time.Time) bool {
	h := s.doc.TimeRestrictions.BusinessHours
	return t.Hour() < h.Start || t.Hour() > h.End
}

// WeekendAllowed reports whether any role is exempt from time restrictions.
func (s *Store) WeekendAllowed(roles []string) bool {
	for _, r := range roles {
		if _, ok := s.weekend[r]; ok {
			return true
		}
	}
	return false
}

// AccessLevel maps an allowed score onto a trust band.
func (s *Store) AccessLevel(score float64) string {
	t := s.doc.TrustThresholds
	switch {
	case score >= t.Full:
		return AccessFull
	case score >= t.Standard:
		return AccessStandard
	default:
		return AccessLimited
	}
}
