package dedup

import (
	"github.com/Autumn-27/ScopeSentry-sub000/internal/store"
)

// Rule is one mark-and-sweep pass over a collection.
type Rule struct {
	Name       string
	Collection string
	Spec       store.GroupSpec
}

// Collection names with registered rules.
const (
	CollectionAsset                = "asset"
	CollectionSubdomain            = "subdomain"
	CollectionDirScanResult        = "DirScanResult"
	CollectionSubdomainTakerResult = "SubdomainTakerResult"
	CollectionUrlScan              = "UrlScan"
	CollectionCrawler              = "crawler"
	CollectionVulnerability        = "vulnerability"
)

var notOther = store.Condition{Field: "type", Op: store.OpNe, Value: "other"}
var isOther = store.Condition{Field: "type", Op: store.OpEq, Value: "other"}

// rules is the registration table. Passes of one collection run in order.
var rules = []Rule{
	{
		Name:       "asset-http",
		Collection: CollectionAsset,
		Spec: store.GroupSpec{
			Filter: []store.Condition{notOther},
			Keys:   []string{"url", "statuscode", "hashes.body_mmh3"},
		},
	},
	{
		Name:       "asset-other",
		Collection: CollectionAsset,
		Spec: store.GroupSpec{
			Filter: []store.Condition{isOther},
			Keys:   []string{"host", "ip", "protocol"},
		},
	},
	{
		Name:       "subdomain",
		Collection: CollectionSubdomain,
		Spec: store.GroupSpec{
			Keys:      []string{"host", "type", "sorted_ip"},
			Transform: []store.SortedCopy{{Source: "ip", As: "sorted_ip"}},
		},
	},
	{
		Name:       "dirscan",
		Collection: CollectionDirScanResult,
		Spec:       store.GroupSpec{Keys: []string{"url", "status", "msg"}},
	},
	{
		Name:       "takeover",
		Collection: CollectionSubdomainTakerResult,
		Spec:       store.GroupSpec{Keys: []string{"input", "value"}},
	},
	{
		Name:       "urlscan",
		Collection: CollectionUrlScan,
		Spec:       store.GroupSpec{Keys: []string{"output"}},
	},
	{
		Name:       "crawler",
		Collection: CollectionCrawler,
		Spec:       store.GroupSpec{Keys: []string{"url", "body"}},
	},
	{
		Name:       "vulnerability",
		Collection: CollectionVulnerability,
		Spec:       store.GroupSpec{Keys: []string{"url", "vulnid", "matched"}},
	},
}

// Rules returns a copy of the registration table.
func Rules() []Rule {
	out := make([]Rule, len(rules))
	copy(out, rules)
	return out
}

// RulesFor returns the passes registered for collection, in order.
func RulesFor(collection string) []Rule {
	var out []Rule
	for _, r := range rules {
		if r.Collection == collection {
			out = append(out, r)
		}
	}
	return out
}

// Collections lists every collection with at least one rule.
func Collections() []string {
	var out []string
	seen := make(map[string]bool)
	for _, r := range rules {
		if !seen[r.Collection] {
			seen[r.Collection] = true
			out = append(out, r.Collection)
		}
	}
	return out
}
