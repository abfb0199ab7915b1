package wiki

import (
	"context"
	"fmt"

	"github.com/Sternrassler/mediawiki-client/pkg/client"
	"github.com/Sternrassler/mediawiki-client/pkg/pagination"
	"github.com/Sternrassler/mediawiki-client/pkg/request"
	"github.com/rs/zerolog/log"
)

// Executor executes one logical request. *client.Client implements it.
type Executor interface {
	Execute(ctx context.Context, req *request.Request) (*client.Response, error)
}

// Login authenticates with a bot password. After a successful login the
// executor drops every cached token, since they belonged to the old session.
func Login(ctx context.Context, exec Executor, username, password string) (*LoginResult, error) {
	req := request.NewBuilder("login").
		SetString("lgname", username).
		SetString("lgpassword", password).
		Write().
		NeedsToken(request.TokenLogin).
		Build()

	resp, err := exec.Execute(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}

	var body struct {
		Login struct {
			Result string `json:"result"`
			Reason string `json:"reason"`
			LoginResult
		} `json:"login"`
	}
	if err := resp.Decode(&body); err != nil {
		return nil, fmt.Errorf("decode login response: %w", err)
	}
	if body.Login.Result != "Success" {
		return nil, &LoginError{Result: body.Login.Result, Reason: body.Login.Reason}
	}

	log.Info().
		Str("username", body.Login.UserName).
		Msg("Successfully logged in")
	return &body.Login.LoginResult, nil
}

// EditParams describes an action=edit call.
type EditParams struct {
	Title   string
	Text    string
	Summary string
	Minor   bool
	Bot     bool
	// BaseTimestamp enables edit conflict detection.
	BaseTimestamp string
	// CreateOnly fails if the page exists; NoCreate fails if it does not.
	CreateOnly bool
	NoCreate   bool
}

// Edit replaces the text of a page.
func Edit(ctx context.Context, exec Executor, params EditParams) (*EditResult, error) {
	if params.Title == "" {
		return nil, fmt.Errorf("title is required")
	}

	b := request.NewBuilder("edit").
		SetString("title", params.Title).
		SetString("text", params.Text).
		Write().
		NeedsToken(request.TokenCSRF)
	if params.Summary != "" {
		b.SetString("summary", params.Summary)
	}
	if params.BaseTimestamp != "" {
		b.SetString("basetimestamp", params.BaseTimestamp)
	}
	flags := []struct {
		name string
		on   bool
	}{
		{"minor", params.Minor},
		{"bot", params.Bot},
		{"createonly", params.CreateOnly},
		{"nocreate", params.NoCreate},
	}
	for _, f := range flags {
		if f.on {
			b.Set(f.name, request.Bool())
		}
	}

	resp, err := exec.Execute(ctx, b.Build())
	if err != nil {
		return nil, fmt.Errorf("edit %q: %w", params.Title, err)
	}

	var body struct {
		Edit EditResult `json:"edit"`
	}
	if err := resp.Decode(&body); err != nil {
		return nil, fmt.Errorf("decode edit response: %w", err)
	}
	if body.Edit.Result != "Success" {
		detail, _ := resp.Lookup("edit")
		m, _ := detail.(map[string]any)
		return nil, &ResultError{Action: "edit", Result: body.Edit.Result, Detail: m}
	}
	return &body.Edit, nil
}

// UploadParams describes an action=upload call with a file payload.
type UploadParams struct {
	// Filename is the target name on the wiki, without "File:".
	Filename string
	File     request.File
	Comment  string
	// Text is the initial page text for new files.
	Text           string
	IgnoreWarnings bool
}

// Upload uploads a file as a multipart request.
func Upload(ctx context.Context, exec Executor, params UploadParams) (*UploadResult, error) {
	if params.Filename == "" {
		return nil, fmt.Errorf("filename is required")
	}
	if len(params.File.Data) == 0 {
		return nil, fmt.Errorf("file data is required")
	}

	file := params.File
	if file.Name == "" {
		file.Name = params.Filename
	}
	b := request.NewBuilder("upload").
		SetString("filename", params.Filename).
		Write().
		NeedsToken(request.TokenCSRF)
	if params.Comment != "" {
		b.SetString("comment", params.Comment)
	}
	if params.Text != "" {
		b.SetString("text", params.Text)
	}
	if params.IgnoreWarnings {
		b.Set("ignorewarnings", request.Bool())
	}
	b.Set("file", request.FileValue(file))

	resp, err := exec.Execute(ctx, b.Build())
	if err != nil {
		return nil, fmt.Errorf("upload %q: %w", params.Filename, err)
	}

	var body struct {
		Upload UploadResult `json:"upload"`
	}
	if err := resp.Decode(&body); err != nil {
		return nil, fmt.Errorf("decode upload response: %w", err)
	}
	if body.Upload.Result != "Success" {
		return nil, &ResultError{Action: "upload", Result: body.Upload.Result, Detail: body.Upload.Warnings}
	}
	return &body.Upload, nil
}

// FetchContent returns the current wikitext of a page.
func FetchContent(ctx context.Context, exec Executor, title string) (string, error) {
	req := request.FromBundle(Revisions{Titles: []string{title}, Prop: []string{"content"}}).Build()
	resp, err := exec.Execute(ctx, req)
	if err != nil {
		return "", fmt.Errorf("fetch %q: %w", title, err)
	}

	var body struct {
		Query struct {
			Pages []struct {
				Title     string `json:"title"`
				Missing   bool   `json:"missing"`
				Invalid   bool   `json:"invalid"`
				Revisions []struct {
					Slots struct {
						Main struct {
							Content string `json:"content"`
						} `json:"main"`
					} `json:"slots"`
				} `json:"revisions"`
			} `json:"pages"`
		} `json:"query"`
	}
	if err := resp.Decode(&body); err != nil {
		return "", fmt.Errorf("decode revisions response: %w", err)
	}
	if len(body.Query.Pages) == 0 {
		return "", &client.APIError{Class: client.ErrorClassProtocol, Message: "no pages in revisions response"}
	}
	page := body.Query.Pages[0]
	if page.Missing || page.Invalid || len(page.Revisions) == 0 {
		return "", fmt.Errorf("%q: %w", title, ErrPageMissing)
	}
	return page.Revisions[0].Slots.Main.Content, nil
}

// FetchUserInfo returns the user the session acts as. Without a login that
// is the anonymous user of the client's IP.
func FetchUserInfo(ctx context.Context, exec Executor, prop ...string) (*CurrentUser, error) {
	resp, err := exec.Execute(ctx, request.FromBundle(UserInfo{Prop: prop}).Build())
	if err != nil {
		return nil, fmt.Errorf("userinfo: %w", err)
	}
	var body struct {
		Query struct {
			UserInfo *CurrentUser `json:"userinfo"`
		} `json:"query"`
	}
	if err := resp.Decode(&body); err != nil {
		return nil, fmt.Errorf("decode userinfo: %w", err)
	}
	if body.Query.UserInfo == nil {
		return nil, &client.APIError{Class: client.ErrorClassProtocol, Message: "no userinfo in response"}
	}
	return body.Query.UserInfo, nil
}

// CategoryMembersPager returns a pagination session over a category.
func CategoryMembersPager(exec Executor, b CategoryMembers) *pagination.Paginator {
	return pagination.Paginate(exec, request.FromBundle(b).Build())
}

// CategoryMembersFrom extracts the members of one page.
func CategoryMembersFrom(resp *client.Response) ([]CategoryMember, error) {
	var body struct {
		Query struct {
			Members []CategoryMember `json:"categorymembers"`
		} `json:"query"`
	}
	if err := resp.Decode(&body); err != nil {
		return nil, fmt.Errorf("decode categorymembers: %w", err)
	}
	return body.Query.Members, nil
}

// AllCategoryMembers fetches every member of a category.
func AllCategoryMembers(ctx context.Context, exec Executor, b CategoryMembers) ([]CategoryMember, error) {
	return pagination.Collect(ctx, CategoryMembersPager(exec, b), CategoryMembersFrom)
}

// RecentChangesPager returns a pagination session over recent changes.
func RecentChangesPager(exec Executor, b RecentChanges) *pagination.Paginator {
	return pagination.Paginate(exec, request.FromBundle(b).Build())
}

// RecentChangesFrom extracts the changes of one page.
func RecentChangesFrom(resp *client.Response) ([]RecentChange, error) {
	var body struct {
		Query struct {
			Changes []RecentChange `json:"recentchanges"`
		} `json:"query"`
	}
	if err := resp.Decode(&body); err != nil {
		return nil, fmt.Errorf("decode recentchanges: %w", err)
	}
	return body.Query.Changes, nil
}

// SearchPager returns a pagination session over search results.
func SearchPager(exec Executor, b Search) *pagination.Paginator {
	return pagination.Paginate(exec, request.FromBundle(b).Build())
}

// SearchHitsFrom extracts the hits of one page.
func SearchHitsFrom(resp *client.Response) ([]SearchHit, error) {
	var body struct {
		Query struct {
			Search []SearchHit `json:"search"`
		} `json:"query"`
	}
	if err := resp.Decode(&body); err != nil {
		return nil, fmt.Errorf("decode search: %w", err)
	}
	return body.Query.Search, nil
}
