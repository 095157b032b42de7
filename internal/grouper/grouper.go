// Package grouper turns a flat day of content items into topic groups for
// summarization.
package grouper

import (
	"sort"
	"strings"

	"github.com/TobiSchelling/AIDigest/internal/content"
)

const (
	MiscellaneousLabel = "Miscellaneous"
	CryptoMarketLabel  = "crypto market"
)

// blockedTopics never form a bucket of their own.
var blockedTopics = map[string]bool{
	"open source": true,
}

// Group is a set of items sharing a topic. AllTopics lists the lower-cased
// topics the group claimed when it was accepted.
type Group struct {
	Topic     string
	Items     []content.Item
	AllTopics []string
}

type bucket struct {
	key     string
	members []int
}

// GroupItems buckets items by key, then accepts buckets largest first. A bucket
// with a single item goes to Miscellaneous. A larger bucket is accepted only
// when none of its topics were claimed by an earlier accepted bucket, and is
// otherwise dropped. The returned slice always ends with the Miscellaneous
// group, which may be empty.
func GroupItems(items []content.Item) []Group {
	buckets := bucketize(items)
	sort.SliceStable(buckets, func(i, j int) bool {
		return len(buckets[i].members) > len(buckets[j].members)
	})

	claimed := make(map[string]bool)
	misc := Group{Topic: MiscellaneousLabel}
	inMisc := make(map[int]bool)
	var groups []Group

	for _, b := range buckets {
		if len(b.members) <= 1 {
			for _, idx := range b.members {
				if !inMisc[idx] {
					inMisc[idx] = true
					misc.Items = append(misc.Items, items[idx])
				}
			}
			continue
		}

		overlaps := claimed[b.key]
		var allTopics []string
		seen := make(map[string]bool)
		for _, idx := range b.members {
			for _, t := range items[idx].Topics {
				t = strings.ToLower(strings.TrimSpace(t))
				if t == "" || seen[t] {
					continue
				}
				seen[t] = true
				if claimed[t] {
					overlaps = true
					continue
				}
				allTopics = append(allTopics, t)
			}
		}
		if overlaps {
			continue
		}

		claimed[b.key] = true
		for _, t := range allTopics {
			claimed[t] = true
		}
		g := Group{Topic: b.key, AllTopics: allTopics}
		for _, idx := range b.members {
			g.Items = append(g.Items, items[idx])
		}
		groups = append(groups, g)
	}

	return append(groups, misc)
}

// bucketize files item indices under their keys, preserving first-seen key
// order so equal-sized buckets keep a stable order.
func bucketize(items []content.Item) []*bucket {
	var order []*bucket
	byKey := make(map[string]*bucket)
	add := func(key string, idx int) {
		b, ok := byKey[key]
		if !ok {
			b = &bucket{key: key}
			byKey[key] = b
			order = append(order, b)
		}
		if n := len(b.members); n > 0 && b.members[n-1] == idx {
			return
		}
		b.members = append(b.members, idx)
	}

	for i, it := range items {
		for _, key := range Keys(it) {
			add(key, i)
		}
	}
	return order
}

// Keys returns the bucket keys an item is filed under.
func Keys(it content.Item) []string {
	source := strings.ToLower(it.Source)
	switch {
	case strings.Contains(source, "github"):
		return []string{githubKey(it.Type)}
	case strings.Contains(source, "token_analytics"):
		return []string{CryptoMarketLabel}
	}

	var keys []string
	for _, t := range it.Topics {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || blockedTopics[t] {
			continue
		}
		keys = append(keys, t)
	}
	return keys
}

// githubKey maps repository activity onto the three fixed buckets. The daily
// repository summary describes mostly code changes and shares the commit
// bucket, as does any activity type added later.
func githubKey(itemType string) string {
	switch itemType {
	case "githubPullRequestContributor":
		return "pull_request"
	case "githubIssueContributor":
		return "issue"
	case "githubCommitContributor", "githubSummary":
		return "commit"
	default:
		return "commit"
	}
}
