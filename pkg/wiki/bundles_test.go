package wiki

import (
	"testing"
	"time"

	"github.com/Sternrassler/mediawiki-client/pkg/request"
)

func paramText(t *testing.T, req *request.Request, name string) string {
	t.Helper()
	v, ok := req.Get(name)
	if !ok {
		t.Fatalf("parameter %s not set", name)
	}
	return v.Text()
}

func TestCategoryMembers_Params(t *testing.T) {
	req := request.FromBundle(CategoryMembers{
		Title: "Physics",
		Limit: LimitMax,
		Type:  []string{"page", "subcat"},
	}).Build()

	if req.Action() != "query" {
		t.Errorf("Action() = %s, want query", req.Action())
	}
	checks := map[string]string{
		"list":    "categorymembers",
		"cmtitle": "Category:Physics",
		"cmlimit": "max",
		"cmtype":  "page|subcat",
	}
	for name, want := range checks {
		if got := paramText(t, req, name); got != want {
			t.Errorf("%s = %q, want %q", name, got, want)
		}
	}
	if _, ok := req.Get("cmprop"); ok {
		t.Error("Empty prop list should not be sent")
	}

	prefixed := request.FromBundle(CategoryMembers{Title: "Category:Physics", Limit: 10}).Build()
	if got := paramText(t, prefixed, "cmtitle"); got != "Category:Physics" {
		t.Errorf("Prefix doubled: %q", got)
	}
	if got := paramText(t, prefixed, "cmlimit"); got != "10" {
		t.Errorf("cmlimit = %q, want 10", got)
	}
}

func TestRecentChanges_Params(t *testing.T) {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("CEST", 2*3600))
	req := request.FromBundle(RecentChanges{
		Start:      start,
		End:        start.Add(-time.Hour),
		Limit:      50,
		Prop:       []string{"title", "ids"},
		Namespaces: []int{0, 14},
	}).Build()

	checks := map[string]string{
		"list":        "recentchanges",
		"rcstart":     "2024-05-01T10:00:00Z",
		"rcend":       "2024-05-01T09:00:00Z",
		"rclimit":     "50",
		"rcprop":      "title|ids",
		"rcnamespace": "0|14",
	}
	for name, want := range checks {
		if got := paramText(t, req, name); got != want {
			t.Errorf("%s = %q, want %q", name, got, want)
		}
	}
	if _, ok := req.Get("rctype"); ok {
		t.Error("rctype should be omitted when unset")
	}
}

func TestSearchAndRevisions_Params(t *testing.T) {
	search := request.FromBundle(Search{Query: "gravity", Limit: 20, Namespaces: []int{0}}).Build()
	if got := paramText(t, search, "srsearch"); got != "gravity" {
		t.Errorf("srsearch = %q", got)
	}
	if got := paramText(t, search, "srnamespace"); got != "0" {
		t.Errorf("srnamespace = %q", got)
	}

	revs := request.FromBundle(Revisions{Titles: []string{"A", "B"}}).Build()
	if got := paramText(t, revs, "titles"); got != "A|B" {
		t.Errorf("titles = %q", got)
	}
	if got := paramText(t, revs, "rvprop"); got != "content|ids|timestamp" {
		t.Errorf("default rvprop = %q", got)
	}
	if got := paramText(t, revs, "rvslots"); got != "main" {
		t.Errorf("rvslots = %q", got)
	}
}

func TestTokens_Params(t *testing.T) {
	req := request.FromBundle(Tokens{Types: []request.TokenKind{request.TokenCSRF, request.TokenPatrol}}).Build()
	if got := paramText(t, req, "meta"); got != "tokens" {
		t.Errorf("meta = %q", got)
	}
	if got := paramText(t, req, "type"); got != "csrf|patrol" {
		t.Errorf("type = %q", got)
	}
}

func TestUserInfo_Params(t *testing.T) {
	req := request.FromBundle(UserInfo{Prop: []string{"rights", "blockinfo"}}).Build()
	if got := paramText(t, req, "meta"); got != "userinfo" {
		t.Errorf("meta = %q, want userinfo", got)
	}
	if got := paramText(t, req, "uiprop"); got != "rights|blockinfo" {
		t.Errorf("uiprop = %q, want rights|blockinfo", got)
	}
	if _, ok := request.FromBundle(UserInfo{}).Build().Get("uiprop"); ok {
		t.Error("Empty prop list should not be sent")
	}
}
