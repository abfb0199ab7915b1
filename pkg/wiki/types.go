package wiki

import "slices"

// CategoryMember is one entry of list=categorymembers.
type CategoryMember struct {
	PageID        int64  `json:"pageid"`
	NS            int    `json:"ns"`
	Title         string `json:"title"`
	SortKey       string `json:"sortkey,omitempty"`
	SortKeyPrefix string `json:"sortkeyprefix,omitempty"`
	Type          string `json:"type,omitempty"`
	Timestamp     string `json:"timestamp,omitempty"`
}

// RecentChange is one entry of list=recentchanges.
type RecentChange struct {
	Type      string `json:"type"`
	NS        int    `json:"ns"`
	Title     string `json:"title"`
	PageID    int64  `json:"pageid,omitempty"`
	RevID     int64  `json:"revid,omitempty"`
	OldRevID  int64  `json:"old_revid,omitempty"`
	RCID      int64  `json:"rcid,omitempty"`
	User      string `json:"user,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Comment   string `json:"comment,omitempty"`
	Bot       bool   `json:"bot,omitempty"`
	Minor     bool   `json:"minor,omitempty"`
	New       bool   `json:"new,omitempty"`
	OldLen    int    `json:"oldlen,omitempty"`
	NewLen    int    `json:"newlen,omitempty"`
}

// SearchHit is one entry of list=search.
type SearchHit struct {
	NS        int    `json:"ns"`
	Title     string `json:"title"`
	PageID    int64  `json:"pageid"`
	Size      int    `json:"size,omitempty"`
	WordCount int    `json:"wordcount,omitempty"`
	Snippet   string `json:"snippet,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// LoginResult is the outcome of a successful login.
type LoginResult struct {
	UserID   int64  `json:"lguserid"`
	UserName string `json:"lgusername"`
}

// EditResult is the outcome of action=edit.
type EditResult struct {
	Result    string `json:"result"`
	PageID    int64  `json:"pageid"`
	Title     string `json:"title"`
	OldRevID  int64  `json:"oldrevid"`
	NewRevID  int64  `json:"newrevid"`
	NoChange  bool   `json:"nochange"`
	New       bool   `json:"new"`
	Timestamp string `json:"newtimestamp"`
}

// UploadResult is the outcome of action=upload.
type UploadResult struct {
	Result   string         `json:"result"`
	Filename string         `json:"filename"`
	Warnings map[string]any `json:"warnings,omitempty"`
}

// CurrentUser is the meta=userinfo result for the session user.
type CurrentUser struct {
	ID        int64    `json:"id"`
	Name      string   `json:"name"`
	Anon      bool     `json:"anon,omitempty"`
	Groups    []string `json:"groups,omitempty"`
	Rights    []string `json:"rights,omitempty"`
	EditCount int      `json:"editcount,omitempty"`
	BlockID   int64    `json:"blockid,omitempty"`
}

// HasRight reports whether the user holds right. Rights are only present
// when fetched with the rights prop.
func (u *CurrentUser) HasRight(right string) bool {
	return slices.Contains(u.Rights, right)
}
