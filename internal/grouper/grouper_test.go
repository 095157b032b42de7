package grouper

import (
	"fmt"
	"testing"

	"github.com/TobiSchelling/AIDigest/internal/content"
)

func item(cid, source string, topics ...string) content.Item {
	return content.Item{CID: cid, Source: source, Type: "tweet", Topics: topics}
}

func groupCIDs(g Group) map[string]bool {
	out := make(map[string]bool, len(g.Items))
	for _, it := range g.Items {
		out[it.CID] = true
	}
	return out
}

func findGroup(groups []Group, topic string) *Group {
	for i := range groups {
		if groups[i].Topic == topic {
			return &groups[i]
		}
	}
	return nil
}

func TestGroupItemsEmpty(t *testing.T) {
	groups := GroupItems(nil)
	if len(groups) != 1 || groups[0].Topic != MiscellaneousLabel {
		t.Fatalf("expected only Miscellaneous, got %+v", groups)
	}
	if len(groups[0].Items) != 0 {
		t.Errorf("expected empty Miscellaneous, got %d items", len(groups[0].Items))
	}
}

func TestGroupItemsMiscellaneousIsLast(t *testing.T) {
	var items []content.Item
	for i := 0; i < 3; i++ {
		items = append(items, item(fmt.Sprintf("a%d", i), "twitter", "AI"))
		items = append(items, item(fmt.Sprintf("b%d", i), "twitter", "Rust"))
	}
	items = append(items, item("solo", "twitter", "gardening"))

	groups := GroupItems(items)
	if len(groups) != 3 {
		t.Fatalf("expected 2 groups + Miscellaneous, got %d", len(groups))
	}
	if groups[len(groups)-1].Topic != MiscellaneousLabel {
		t.Errorf("expected trailing Miscellaneous, got %q", groups[len(groups)-1].Topic)
	}
	if groups[0].Topic != "ai" || groups[1].Topic != "rust" {
		t.Errorf("expected equal-sized groups in first-seen order, got %q, %q", groups[0].Topic, groups[1].Topic)
	}
}

func TestGroupItemsSingletonsGoToMiscellaneous(t *testing.T) {
	items := []content.Item{
		item("a1", "twitter", "ai"),
		item("a2", "twitter", "ai"),
		// Claimed topic, but a single-item bucket still lands in Miscellaneous.
		item("x", "twitter", "ai", "quantum"),
		item("y", "twitter", "biology"),
	}
	groups := GroupItems(items)

	misc := groups[len(groups)-1]
	got := groupCIDs(misc)
	if !got["x"] || !got["y"] {
		t.Errorf("expected x and y in Miscellaneous, got %v", got)
	}
	if findGroup(groups, "quantum") != nil || findGroup(groups, "biology") != nil {
		t.Error("single-item buckets must not become groups")
	}
}

func TestGroupItemsMiscellaneousHasNoDuplicates(t *testing.T) {
	items := []content.Item{item("x", "twitter", "alpha", "beta", "gamma")}
	groups := GroupItems(items)
	if n := len(groups[0].Items); n != 1 {
		t.Errorf("expected item once in Miscellaneous, got %d", n)
	}
}

func TestGroupItemsDropsSubsumedBucket(t *testing.T) {
	var items []content.Item
	for i := 0; i < 5; i++ {
		items = append(items, item(fmt.Sprintf("ai%d", i), "twitter", "ai"))
	}
	items = append(items, item("bridge", "twitter", "ai", "infra"))
	items = append(items, item("infra1", "twitter", "infra"))
	items = append(items, item("infra2", "twitter", "infra"))

	groups := GroupItems(items)

	ai := findGroup(groups, "ai")
	if ai == nil || len(ai.Items) != 6 {
		t.Fatalf("expected ai group of 6, got %+v", ai)
	}
	if findGroup(groups, "infra") != nil {
		t.Error("expected infra bucket to be dropped")
	}
	for _, g := range groups {
		ids := groupCIDs(g)
		if ids["infra1"] || ids["infra2"] {
			t.Errorf("dropped bucket item found in group %q", g.Topic)
		}
	}
}

func TestGroupItemsClaimsAllTopics(t *testing.T) {
	items := []content.Item{
		item("a", "twitter", "ai", "agents"),
		item("b", "twitter", "AI"),
		item("c", "twitter", "ai"),
	}
	groups := GroupItems(items)
	ai := findGroup(groups, "ai")
	if ai == nil {
		t.Fatal("expected ai group")
	}
	want := map[string]bool{"ai": true, "agents": true}
	if len(ai.AllTopics) != len(want) {
		t.Fatalf("expected allTopics %v, got %v", want, ai.AllTopics)
	}
	for _, tp := range ai.AllTopics {
		if !want[tp] {
			t.Errorf("unexpected topic %q", tp)
		}
	}
}

func TestGroupItemsBlockedTopic(t *testing.T) {
	items := []content.Item{
		item("a", "twitter", "Open Source"),
		item("b", "twitter", "open source"),
	}
	groups := GroupItems(items)
	if len(groups) != 1 {
		t.Fatalf("expected only Miscellaneous, got %d groups", len(groups))
	}
	if len(groups[0].Items) != 0 {
		t.Error("items with only blocked topics have no key and appear nowhere")
	}
}

func TestKeysSourceSpecificBuckets(t *testing.T) {
	tests := []struct {
		it   content.Item
		want string
	}{
		{content.Item{Source: "elizaos-github", Type: "githubPullRequestContributor", Topics: []string{"ai"}}, "pull_request"},
		{content.Item{Source: "elizaos-github", Type: "githubIssueContributor"}, "issue"},
		{content.Item{Source: "elizaos-github", Type: "githubCommitContributor"}, "commit"},
		{content.Item{Source: "elizaos-github", Type: "githubSummary"}, "commit"},
		{content.Item{Source: "solana_token_analytics", Type: "solanaTokenAnalytics", Topics: []string{"sol"}}, CryptoMarketLabel},
	}
	for _, tt := range tests {
		keys := Keys(tt.it)
		if len(keys) != 1 || keys[0] != tt.want {
			t.Errorf("%s/%s: expected [%s], got %v", tt.it.Source, tt.it.Type, tt.want, keys)
		}
	}
}

func TestGroupItemsGithubIgnoresTopics(t *testing.T) {
	items := []content.Item{
		{CID: "c1", Source: "github", Type: "githubCommitContributor", Topics: []string{"ai"}},
		{CID: "c2", Source: "github", Type: "githubCommitContributor"},
	}
	groups := GroupItems(items)
	if findGroup(groups, "commit") == nil {
		t.Error("expected commit group")
	}
	if findGroup(groups, "ai") != nil {
		t.Error("github items must not be filed by topic")
	}
}
