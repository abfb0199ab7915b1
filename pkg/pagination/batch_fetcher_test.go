package pagination

import (
	"context"
	"net/http"
	"net/url"
	"testing"

	"github.com/Sternrassler/mediawiki-client/internal/testutil"
	"github.com/Sternrassler/mediawiki-client/pkg/request"
)

func TestNewBatchFetcher_Defaults(t *testing.T) {
	bf := NewBatchFetcher(nil, Config{})
	if bf.config.MaxConcurrency != 4 {
		t.Errorf("Expected default concurrency 4, got %d", bf.config.MaxConcurrency)
	}
}

func TestBatchFetcher_FetchAll(t *testing.T) {
	mock := testutil.NewMockWiki()
	defer mock.Close()
	mock.Handle("query", func(w http.ResponseWriter, r *http.Request, form url.Values) {
		if form.Get("cmtitle") == "Category:Broken" {
			testutil.WriteAPIError(w, "invalidcategory", "bad title")
			return
		}
		twoPageHandler(w, r, form)
	})

	reqs := []*request.Request{
		membersRequest("Category:A"),
		membersRequest("Category:Broken"),
		membersRequest("Category:B"),
	}
	bf := NewBatchFetcher(newTestClient(t, mock), Config{MaxConcurrency: 2})
	results, err := bf.FetchAll(context.Background(), reqs)
	if err == nil {
		t.Fatal("Expected error for the broken session")
	}
	if len(results) != 3 {
		t.Fatalf("Expected 3 results, got %d", len(results))
	}

	for _, i := range []int{0, 2} {
		r := results[i]
		if r.Index != i || r.Error != nil || len(r.Pages) != 2 || !r.State.Exhausted {
			t.Errorf("Session %d: unexpected result %+v", i, r)
		}
	}
	if results[1].Error == nil || len(results[1].Pages) != 0 {
		t.Errorf("Broken session should fail without pages: %+v", results[1])
	}
}

func TestBatchFetcher_MaxPages(t *testing.T) {
	mock := testutil.NewMockWiki()
	defer mock.Close()
	mock.Handle("query", twoPageHandler)

	bf := NewBatchFetcher(newTestClient(t, mock), Config{MaxConcurrency: 1, MaxPages: 1})
	results, err := bf.FetchAll(context.Background(), []*request.Request{membersRequest("Category:A")})
	if err != nil {
		t.Fatalf("FetchAll failed: %v", err)
	}
	r := results[0]
	if len(r.Pages) != 1 || r.State.Exhausted || r.State.Continue == nil {
		t.Errorf("Expected a resumable stop after one page, got %+v", r.State)
	}
}

func TestBatchFetcher_Empty(t *testing.T) {
	results, err := NewBatchFetcher(nil, DefaultConfig()).FetchAll(context.Background(), nil)
	if err != nil || len(results) != 0 {
		t.Errorf("Expected empty result, got %v, %v", results, err)
	}
}
