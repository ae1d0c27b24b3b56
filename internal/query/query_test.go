package query_test

import (
	"context"
	"net/url"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/outbackwave/cdxindex/internal/canon"
	"github.com/outbackwave/cdxindex/internal/kvstore"
	"github.com/outbackwave/cdxindex/internal/query"
	"github.com/outbackwave/cdxindex/internal/record"
)

func newTestIndex(t *testing.T) (*kvstore.Index, *canon.Canonicalizer) {
	return kvstore.OpenMemory(t, "test"), canon.New(canon.DefaultConfig())
}

func putCapture(t *testing.T, idx *kvstore.Index, c record.Capture) {
	t.Helper()
	ctx := context.Background()
	b, err := idx.BeginUpdate(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Discard()
	if err := b.PutCapture(c); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Commit(ctx); err != nil {
		t.Fatal(err)
	}
}

func runQuery(t *testing.T, idx *kvstore.Index, c *canon.Canonicalizer, vals url.Values) *query.Result {
	t.Helper()
	q, err := query.Parse(query.ParamsFromValues(vals))
	if err != nil {
		t.Fatal(err)
	}
	res, err := query.Execute(context.Background(), idx, c, q, false)
	if err != nil {
		t.Fatal(err)
	}
	return res
}

// S1 — exact query returns all three captures in timestamp-ascending order.
func TestS1ExactQuery(t *testing.T) {
	idx, c := newTestIndex(t)
	key, err := c.Surt("http://example.com/")
	if err != nil {
		t.Fatal(err)
	}
	for _, ts := range []int64{20200101000000, 20200102000000, 20200103000000} {
		putCapture(t, idx, record.Capture{URLKey: key, Timestamp: ts, Filename: "f.warc.gz", OriginalURL: "http://example.com/"})
	}

	res := runQuery(t, idx, c, url.Values{"url": {"http://example.com/"}})
	if len(res.Captures) != 3 {
		t.Fatalf("got %d captures, want 3", len(res.Captures))
	}
	for i, want := range []int64{20200101000000, 20200102000000, 20200103000000} {
		if res.Captures[i].Timestamp != want {
			t.Fatalf("captures[%d].Timestamp = %d, want %d", i, res.Captures[i].Timestamp, want)
		}
	}
}

// S2 — prefix query returns only captures under the matching host.
func TestS2PrefixQuery(t *testing.T) {
	idx, c := newTestIndex(t)
	for _, u := range []string{"http://example.com/a", "http://example.com/b", "http://other.com/a"} {
		key, err := c.Surt(u)
		if err != nil {
			t.Fatal(err)
		}
		putCapture(t, idx, record.Capture{URLKey: key, Timestamp: 20200101000000, Filename: "f.warc.gz", OriginalURL: u})
	}

	res := runQuery(t, idx, c, url.Values{"url": {"http://example.com/*"}, "matchType": {"prefix"}})
	if len(res.Captures) != 2 {
		t.Fatalf("got %d captures, want 2: %+v", len(res.Captures), res.Captures)
	}
}

// A domain match on *.example.com must include the apex example.com
// itself, not just its subdomains.
func TestDomainQueryIncludesApex(t *testing.T) {
	idx, c := newTestIndex(t)
	for _, u := range []string{"http://example.com/", "http://sub.example.com/", "http://other.com/"} {
		key, err := c.Surt(u)
		if err != nil {
			t.Fatal(err)
		}
		putCapture(t, idx, record.Capture{URLKey: key, Timestamp: 20200101000000, Filename: "f.warc.gz", OriginalURL: u})
	}

	res := runQuery(t, idx, c, url.Values{"url": {"*.example.com"}})
	if len(res.Captures) != 2 {
		t.Fatalf("got %d captures, want 2 (apex + subdomain): %+v", len(res.Captures), res.Captures)
	}
	var sawApex, sawSub bool
	for _, capture := range res.Captures {
		switch capture.OriginalURL {
		case "http://example.com/":
			sawApex = true
		case "http://sub.example.com/":
			sawSub = true
		}
	}
	if !sawApex {
		t.Errorf("domain query missed the apex capture: %+v", res.Captures)
	}
	if !sawSub {
		t.Errorf("domain query missed the subdomain capture: %+v", res.Captures)
	}
}

// S3 — closest orders by |timestamp - closest| ascending, ties toward the
// earlier timestamp.
func TestS3Closest(t *testing.T) {
	idx, c := newTestIndex(t)
	key, err := c.Surt("http://example.com/")
	if err != nil {
		t.Fatal(err)
	}
	for _, ts := range []int64{20200101000000, 20200102000000, 20200103000000} {
		putCapture(t, idx, record.Capture{URLKey: key, Timestamp: ts, Filename: "f.warc.gz", OriginalURL: "http://example.com/"})
	}

	res := runQuery(t, idx, c, url.Values{
		"url": {"http://example.com/"}, "sort": {"closest"}, "closest": {"20200102120000"},
	})
	want := []int64{20200102000000, 20200103000000, 20200101000000}
	if len(res.Captures) != len(want) {
		t.Fatalf("got %d captures, want %d", len(res.Captures), len(want))
	}
	for i, w := range want {
		if res.Captures[i].Timestamp != w {
			t.Fatalf("captures[%d].Timestamp = %d, want %d (full: %+v)", i, res.Captures[i].Timestamp, w, res.Captures)
		}
	}
}

// S4 — collapseToLast keeps the last capture of each run of equal digests.
func TestS4CollapseToLast(t *testing.T) {
	idx, c := newTestIndex(t)
	key, err := c.Surt("http://example.com/")
	if err != nil {
		t.Fatal(err)
	}
	digests := []string{"d1", "d1", "d2", "d2", "d2"}
	for i, d := range digests {
		ts := int64(20200101000000 + i)
		putCapture(t, idx, record.Capture{URLKey: key, Timestamp: ts, Filename: "f.warc.gz", Digest: d, OriginalURL: "http://example.com/"})
	}

	res := runQuery(t, idx, c, url.Values{"url": {"http://example.com/"}, "collapseToLast": {"digest"}})
	if len(res.Captures) != 2 {
		t.Fatalf("got %d captures, want 2: %+v", len(res.Captures), res.Captures)
	}
	if res.Captures[0].Timestamp != 20200101000001 || res.Captures[1].Timestamp != 20200101000004 {
		t.Fatalf("got %+v, want #2 and #5", res.Captures)
	}
}

// S5 — querying the alias url returns the target's captures unchanged.
func TestS5Alias(t *testing.T) {
	idx, c := newTestIndex(t)
	targetKey, err := c.Surt("http://example.com/")
	if err != nil {
		t.Fatal(err)
	}
	aliasKey, err := c.Surt("http://www.example.com/")
	if err != nil {
		t.Fatal(err)
	}

	putCapture(t, idx, record.Capture{URLKey: targetKey, Timestamp: 20200101000000, Filename: "f.warc.gz", OriginalURL: "http://example.com/"})

	ctx := context.Background()
	b, err := idx.BeginUpdate(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.PutAlias(record.Alias{AliasSURT: aliasKey, TargetSURT: targetKey}); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Commit(ctx); err != nil {
		t.Fatal(err)
	}

	res := runQuery(t, idx, c, url.Values{"url": {"http://www.example.com/"}})
	if len(res.Captures) != 1 {
		t.Fatalf("got %d captures, want 1", len(res.Captures))
	}
	if res.Captures[0].Timestamp != 20200101000000 {
		t.Fatalf("got %+v, want the target's capture", res.Captures[0])
	}
}

func TestCollapseToFirst(t *testing.T) {
	idx, c := newTestIndex(t)
	key, _ := c.Surt("http://example.com/")
	digests := []string{"d1", "d1", "d2", "d2", "d2"}
	for i, d := range digests {
		putCapture(t, idx, record.Capture{URLKey: key, Timestamp: int64(20200101000000 + i), Filename: "f.warc.gz", Digest: d, OriginalURL: "http://example.com/"})
	}
	res := runQuery(t, idx, c, url.Values{"url": {"http://example.com/"}, "collapse": {"digest"}})
	if len(res.Captures) != 2 {
		t.Fatalf("got %d captures, want 2", len(res.Captures))
	}
	if res.Captures[0].Timestamp != 20200101000000 || res.Captures[1].Timestamp != 20200101000002 {
		t.Fatalf("got %+v, want #1 and #3", res.Captures)
	}
}

func TestFilterExcludesNonMatching(t *testing.T) {
	idx, c := newTestIndex(t)
	key, _ := c.Surt("http://example.com/")
	putCapture(t, idx, record.Capture{URLKey: key, Timestamp: 20200101000000, Filename: "f.warc.gz", Status: 200, OriginalURL: "http://example.com/"})
	putCapture(t, idx, record.Capture{URLKey: key, Timestamp: 20200101000001, Filename: "f.warc.gz", Status: 404, OriginalURL: "http://example.com/"})

	res := runQuery(t, idx, c, url.Values{"url": {"http://example.com/"}, "filter": {"status:200"}})
	if len(res.Captures) != 1 || res.Captures[0].Status != 200 {
		t.Fatalf("got %+v, want only the 200", res.Captures)
	}
}

func TestFilterNegated(t *testing.T) {
	idx, c := newTestIndex(t)
	key, _ := c.Surt("http://example.com/")
	putCapture(t, idx, record.Capture{URLKey: key, Timestamp: 20200101000000, Filename: "f.warc.gz", Status: 200, OriginalURL: "http://example.com/"})
	putCapture(t, idx, record.Capture{URLKey: key, Timestamp: 20200101000001, Filename: "f.warc.gz", Status: 404, OriginalURL: "http://example.com/"})

	res := runQuery(t, idx, c, url.Values{"url": {"http://example.com/"}, "filter": {"!status:200"}})
	if len(res.Captures) != 1 || res.Captures[0].Status != 404 {
		t.Fatalf("got %+v, want only the 404", res.Captures)
	}
}

// A plugin filter factory sees the raw parameter map and, if it declines
// to opine (no recognized param), contributes no predicate.
func onlyDigestPlugin(raw url.Values) (query.Predicate, error) {
	want := raw.Get("plugin.digest")
	if want == "" {
		return nil, nil
	}
	return func(c record.Capture) bool {
		return c.Digest == want
	}, nil
}

func TestPluginFilterAppliesAfterBuiltins(t *testing.T) {
	idx, c := newTestIndex(t)
	key, _ := c.Surt("http://example.com/")
	putCapture(t, idx, record.Capture{URLKey: key, Timestamp: 20200101000000, Filename: "f.warc.gz", Status: 200, Digest: "d1", OriginalURL: "http://example.com/"})
	putCapture(t, idx, record.Capture{URLKey: key, Timestamp: 20200101000001, Filename: "f.warc.gz", Status: 200, Digest: "d2", OriginalURL: "http://example.com/"})

	vals := url.Values{"url": {"http://example.com/"}, "plugin.digest": {"d2"}}
	q, err := query.Parse(query.ParamsFromValues(vals), onlyDigestPlugin)
	if err != nil {
		t.Fatal(err)
	}
	res, err := query.Execute(context.Background(), idx, c, q, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Captures) != 1 || res.Captures[0].Digest != "d2" {
		t.Fatalf("got %+v, want only the d2 capture", res.Captures)
	}
}

func TestPluginFilterAbsentParamContributesNoPredicate(t *testing.T) {
	idx, c := newTestIndex(t)
	key, _ := c.Surt("http://example.com/")
	putCapture(t, idx, record.Capture{URLKey: key, Timestamp: 20200101000000, Filename: "f.warc.gz", Digest: "d1", OriginalURL: "http://example.com/"})

	vals := url.Values{"url": {"http://example.com/"}}
	q, err := query.Parse(query.ParamsFromValues(vals), onlyDigestPlugin)
	if err != nil {
		t.Fatal(err)
	}
	res, err := query.Execute(context.Background(), idx, c, q, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Captures) != 1 {
		t.Fatalf("got %d captures, want 1 (plugin should be a no-op without its param)", len(res.Captures))
	}
}

func TestOmitSelfRedirects(t *testing.T) {
	idx, c := newTestIndex(t)
	key, _ := c.Surt("http://example.com/")
	putCapture(t, idx, record.Capture{URLKey: key, Timestamp: 20200101000000, Filename: "f.warc.gz", RedirectURL: "http://example.com/", OriginalURL: "http://example.com/"})
	putCapture(t, idx, record.Capture{URLKey: key, Timestamp: 20200101000001, Filename: "f.warc.gz", RedirectURL: "http://example.com/other", OriginalURL: "http://example.com/"})

	res := runQuery(t, idx, c, url.Values{"url": {"http://example.com/"}, "omitSelfRedirects": {"1"}})
	if len(res.Captures) != 1 || res.Captures[0].Timestamp != 20200101000001 {
		t.Fatalf("got %+v, want only the non-self redirect", res.Captures)
	}
}

func TestReverseSort(t *testing.T) {
	idx, c := newTestIndex(t)
	key, _ := c.Surt("http://example.com/")
	for _, ts := range []int64{20200101000000, 20200102000000, 20200103000000} {
		putCapture(t, idx, record.Capture{URLKey: key, Timestamp: ts, Filename: "f.warc.gz", OriginalURL: "http://example.com/"})
	}
	res := runQuery(t, idx, c, url.Values{"url": {"http://example.com/"}, "matchType": {"exact"}, "sort": {"reverse"}})
	want := []int64{20200103000000, 20200102000000, 20200101000000}
	for i, w := range want {
		if res.Captures[i].Timestamp != w {
			t.Fatalf("got %+v, want descending order", res.Captures)
		}
	}
}

func TestRangeQuery(t *testing.T) {
	idx, c := newTestIndex(t)
	for _, u := range []string{"http://a.com/", "http://b.com/", "http://z.com/"} {
		key, _ := c.Surt(u)
		putCapture(t, idx, record.Capture{URLKey: key, Timestamp: 20200101000000, Filename: "f.warc.gz", OriginalURL: u})
	}
	res := runQuery(t, idx, c, url.Values{
		"matchType": {"range"}, "from": {"http://a.com/"}, "to": {"http://z.com/"},
	})
	if len(res.Captures) != 2 {
		t.Fatalf("got %d captures, want 2 (a and b, z excluded): %+v", len(res.Captures), res.Captures)
	}
}

func TestLimit(t *testing.T) {
	idx, c := newTestIndex(t)
	key, _ := c.Surt("http://example.com/")
	for i := 0; i < 5; i++ {
		putCapture(t, idx, record.Capture{URLKey: key, Timestamp: int64(20200101000000 + i), Filename: "f.warc.gz", OriginalURL: "http://example.com/"})
	}
	res := runQuery(t, idx, c, url.Values{"url": {"http://example.com/"}, "limit": {"2"}})
	if len(res.Captures) != 2 {
		t.Fatalf("got %d captures, want 2", len(res.Captures))
	}
}

func TestParseRejectsBothURLAndURLKey(t *testing.T) {
	_, err := query.Parse(query.Params{URL: "http://example.com/", URLKey: "com,example)/"})
	if err == nil {
		t.Fatal("expected error when both url and urlkey are set")
	}
}

func TestParseRejectsNeitherURLNorURLKey(t *testing.T) {
	_, err := query.Parse(query.Params{})
	if err == nil {
		t.Fatal("expected error when neither url nor urlkey is set")
	}
}

func TestParseRejectsClosestWithoutExact(t *testing.T) {
	_, err := query.Parse(query.Params{URL: "http://example.com/*", Sort: "closest", Closest: "20200101000000"})
	if err == nil {
		t.Fatal("expected error: sort=closest requires matchType=exact")
	}
}

func TestParseDowngradesEmptyClosest(t *testing.T) {
	q, err := query.Parse(query.Params{URL: "http://example.com/", Sort: "closest", Closest: ""})
	if err != nil {
		t.Fatal(err)
	}
	if q.Sort == query.SortClosest {
		t.Fatal("expected sort=closest with empty closest to downgrade to default")
	}
}

func TestParseRejectsBareCollapse(t *testing.T) {
	_, err := query.Parse(query.Params{URL: "http://example.com/", Collapse: ""})
	if err != nil {
		t.Fatal(err)
	}
	// An explicit but empty field name (collapse=:5) must be rejected.
	_, err = query.Parse(query.Params{URL: "http://example.com/", Collapse: ":5"})
	if err == nil {
		t.Fatal("expected error for collapse with empty field name")
	}
}

func TestCDXPlusWorkaroundRetriesOnce(t *testing.T) {
	idx, c := newTestIndex(t)
	key, err := c.Surt("http://example.com/a+b")
	if err != nil {
		t.Fatal(err)
	}
	putCapture(t, idx, record.Capture{URLKey: key, Timestamp: 20200101000000, Filename: "f.warc.gz", OriginalURL: "http://example.com/a+b"})

	q, err := query.Parse(query.ParamsFromValues(url.Values{"url": {"http://example.com/a%20b"}}))
	if err != nil {
		t.Fatal(err)
	}
	res, err := query.Execute(context.Background(), idx, c, q, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Captures) != 1 || !res.Retried {
		t.Fatalf("expected the %%20->+ retry to find the capture, got %+v", res)
	}
}
