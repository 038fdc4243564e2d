package dispatch

import (
	"net/netip"
	"regexp"
	"strings"

	"github.com/duke-git/lancet/v2/slice"
)

// maxExpand caps how many addresses one range or CIDR line expands to.
// Larger blocks are kept as a single literal target.
const maxExpand = 1 << 16

// NormalizeTargets strips http(s) prefixes and surrounding whitespace,
// drops blank lines, expands IPv4 ranges and CIDR blocks and removes
// duplicates, keeping first occurrences.
func NormalizeTargets(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, t := range raw {
		t = strings.TrimSpace(t)
		t = strings.TrimPrefix(t, "http://")
		t = strings.TrimPrefix(t, "https://")
		t = strings.TrimSpace(t)
		if t != "" {
			out = append(out, ExpandTarget(t)...)
		}
	}
	return slice.Unique(out)
}

// ExpandTarget turns "a.b.c.d-a.b.c.e" into every address of the range and
// a CIDR block into its host addresses. Anything else, including malformed
// or oversized ranges, is returned unchanged.
func ExpandTarget(target string) []string {
	if start, end, ok := strings.Cut(target, "-"); ok {
		if ips, ok := ipRange(strings.TrimSpace(start), strings.TrimSpace(end)); ok {
			return ips
		}
		return []string{target}
	}
	if strings.Contains(target, "/") {
		if ips, ok := cidrHosts(target); ok {
			return ips
		}
	}
	return []string{target}
}

func ipRange(from, to string) ([]string, bool) {
	start, err := netip.ParseAddr(from)
	if err != nil || !start.Is4() {
		return nil, false
	}
	end, err := netip.ParseAddr(to)
	if err != nil || !end.Is4() || end.Less(start) {
		return nil, false
	}
	var out []string
	for ip := start; ; ip = ip.Next() {
		if len(out) == maxExpand {
			return nil, false
		}
		out = append(out, ip.String())
		if ip == end {
			return out, true
		}
	}
}

// cidrHosts drops the network and broadcast addresses when the block
// has at least two addresses.
func cidrHosts(block string) ([]string, bool) {
	prefix, err := netip.ParsePrefix(block)
	if err != nil || !prefix.Addr().Is4() || 32-prefix.Bits() > 16 {
		return nil, false
	}
	prefix = prefix.Masked()
	var out []string
	for ip := prefix.Addr(); prefix.Contains(ip); ip = ip.Next() {
		out = append(out, ip.String())
	}
	if len(out) >= 2 {
		out = out[1 : len(out)-1]
	}
	return out, true
}

// IgnoreRules drops targets listed in a job's ignore field. Lines containing
// '*' are wildcards, everything else must match exactly.
type IgnoreRules struct {
	exact    map[string]struct{}
	patterns []*regexp.Regexp
}

// ParseIgnore builds rules from a newline-delimited ignore list.
func ParseIgnore(ignore string) *IgnoreRules {
	r := &IgnoreRules{exact: make(map[string]struct{})}
	for _, line := range NormalizeTargets(strings.Split(ignore, "\n")) {
		if !strings.Contains(line, "*") {
			r.exact[line] = struct{}{}
			continue
		}
		expr := strings.ReplaceAll(regexp.QuoteMeta(line), `\*`, ".*")
		r.patterns = append(r.patterns, regexp.MustCompile(expr))
	}
	return r
}

// Ignored reports whether target should be skipped.
func (r *IgnoreRules) Ignored(target string) bool {
	if _, ok := r.exact[target]; ok {
		return true
	}
	for _, p := range r.patterns {
		if p.MatchString(target) {
			return true
		}
	}
	return false
}

// Filter returns targets that are not ignored.
func (r *IgnoreRules) Filter(targets []string) []string {
	return slice.Filter(targets, func(_ int, t string) bool {
		return !r.Ignored(t)
	})
}
