package wiki

import (
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/mediawiki-client/pkg/request"
)

// Limit is a result limit. LimitMax asks the server for its maximum.
type Limit int

// LimitMax requests the largest batch the server allows.
const LimitMax Limit = -1

func (l Limit) set(p *request.Params, name string) {
	switch {
	case l == LimitMax:
		p.SetString(name, "max")
	case l > 0:
		p.Set(name, request.Int(int(l)))
	}
}

func setList(p *request.Params, name string, values []string) {
	if len(values) > 0 {
		p.SetString(name, strings.Join(values, "|"))
	}
}

func setTime(p *request.Params, name string, t time.Time) {
	if !t.IsZero() {
		p.SetString(name, t.UTC().Format(time.RFC3339))
	}
}

// CategoryMembers lists the pages in a category (list=categorymembers).
type CategoryMembers struct {
	// Title is the category, with or without the "Category:" prefix.
	Title string
	Limit Limit
	// Type filters members: page, subcat, file.
	Type []string
	Prop []string
}

func (CategoryMembers) Action() string { return "query" }

func (b CategoryMembers) AppendParams(p *request.Params) {
	p.SetString("list", "categorymembers")
	title := b.Title
	if !strings.HasPrefix(title, "Category:") {
		title = "Category:" + title
	}
	p.SetString("cmtitle", title)
	b.Limit.set(p, "cmlimit")
	setList(p, "cmtype", b.Type)
	setList(p, "cmprop", b.Prop)
}

// RecentChanges lists recent changes (list=recentchanges). The server
// enumerates newest first, so Start is the later bound.
type RecentChanges struct {
	Start time.Time
	End   time.Time
	Limit Limit
	Prop  []string
	// Type filters change kinds: edit, new, log, external, categorize.
	Type []string
	// Namespaces restricts changes to these namespaces.
	Namespaces []int
}

func (RecentChanges) Action() string { return "query" }

func (b RecentChanges) AppendParams(p *request.Params) {
	p.SetString("list", "recentchanges")
	setTime(p, "rcstart", b.Start)
	setTime(p, "rcend", b.End)
	b.Limit.set(p, "rclimit")
	setList(p, "rcprop", b.Prop)
	setList(p, "rctype", b.Type)
	setList(p, "rcnamespace", intList(b.Namespaces))
}

// Search runs a full-text search (list=search).
type Search struct {
	Query      string
	Limit      Limit
	Namespaces []int
	Prop       []string
	Info       []string
}

func (Search) Action() string { return "query" }

func (b Search) AppendParams(p *request.Params) {
	p.SetString("list", "search")
	p.SetString("srsearch", b.Query)
	b.Limit.set(p, "srlimit")
	setList(p, "srnamespace", intList(b.Namespaces))
	setList(p, "srprop", b.Prop)
	setList(p, "srinfo", b.Info)
}

// Revisions fetches revisions of pages (prop=revisions).
type Revisions struct {
	Titles []string
	// Prop defaults to content|ids|timestamp.
	Prop  []string
	Limit Limit
}

func (Revisions) Action() string { return "query" }

func (b Revisions) AppendParams(p *request.Params) {
	p.SetString("prop", "revisions")
	setList(p, "titles", b.Titles)
	prop := b.Prop
	if len(prop) == 0 {
		prop = []string{"content", "ids", "timestamp"}
	}
	setList(p, "rvprop", prop)
	p.SetString("rvslots", "main")
	b.Limit.set(p, "rvlimit")
}

// Tokens requests tokens of the given kinds (meta=tokens).
type Tokens struct {
	Types []request.TokenKind
}

func (Tokens) Action() string { return "query" }

func (b Tokens) AppendParams(p *request.Params) {
	p.SetString("meta", "tokens")
	types := make([]string, 0, len(b.Types))
	for _, k := range b.Types {
		types = append(types, string(k))
	}
	setList(p, "type", types)
}

// UserInfo describes the current user (meta=userinfo).
type UserInfo struct {
	// Prop selects extra fields: rights, groups, blockinfo, editcount, ...
	Prop []string
}

func (UserInfo) Action() string { return "query" }

func (b UserInfo) AppendParams(p *request.Params) {
	p.SetString("meta", "userinfo")
	setList(p, "uiprop", b.Prop)
}

func intList(ns []int) []string {
	out := make([]string, len(ns))
	for i, n := range ns {
		out[i] = strconv.Itoa(n)
	}
	return out
}
