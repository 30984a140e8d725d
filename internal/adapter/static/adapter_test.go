package static

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/regdata/harvester/internal/harvest"
)

const listingRow = `<tr>
	<td>%d</td>
	<td><a href="/detail/%s">%s</a></td>
	<td>%s</td>
	<td>%s</td>
</tr>`

func listingPage(rows string) string {
	return fmt.Sprintf(`<html><body><table>%s</table></body></html>`, rows)
}

func newServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func newAdapter(t *testing.T, cfg Config) *Adapter {
	t.Helper()
	a, err := New(cfg, nil, zap.NewNop())
	require.NoError(t, err)
	return a
}

func TestDiscoverPaginatesUntilEmptyPage(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("page") {
		case "1":
			fmt.Fprint(w, listingPage(
				fmt.Sprintf(listingRow, 1, "H001", "阿司匹林片", "国药准字H001", "某某制药")+
					fmt.Sprintf(listingRow, 2, "H002", "阿司匹林胶囊", "国药准字H002", "另一制药")))
		case "2":
			fmt.Fprint(w, listingPage(fmt.Sprintf(listingRow, 3, "H003", "阿司匹林肠溶片", "国药准字H003", "第三制药")))
		default:
			fmt.Fprint(w, listingPage(""))
		}
	})

	a := newAdapter(t, Config{BaseURL: srv.URL})
	candidates, err := a.Discover(context.Background(), "阿司匹林", harvest.RunOptions{})
	require.NoError(t, err)

	require.Len(t, candidates, 3)
	assert.Equal(t, "国药准字H001", candidates[0].Key)
	assert.Equal(t, "阿司匹林片", candidates[0].Field("drug_name"))
	assert.Equal(t, "某某制药", candidates[0].Field("manufacturer"))
	assert.Equal(t, "阿司匹林", candidates[0].Field("term"))
	assert.Equal(t, srv.URL+"/detail/H001", candidates[0].Field("detail_url"))
	assert.Equal(t, "国药准字H003", candidates[2].Key)
}

func TestDiscoverHonorsPageRange(t *testing.T) {
	var pagesServed []string
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		pagesServed = append(pagesServed, page)
		fmt.Fprint(w, listingPage(fmt.Sprintf(listingRow, 1, "H"+page, "p"+page, "国药准字H"+page, "厂")))
	})

	a := newAdapter(t, Config{BaseURL: srv.URL})
	candidates, err := a.Discover(context.Background(), "term", harvest.RunOptions{StartPage: 2, EndPage: 3})
	require.NoError(t, err)

	assert.Equal(t, []string{"2", "3"}, pagesServed)
	require.Len(t, candidates, 2)
	assert.Equal(t, "国药准字H2", candidates[0].Key)
}

func TestEnrichMapsLabelVariants(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><table>
			<tr><th>药品名称：</th><td>阿司匹林片</td></tr>
			<tr><th>批准文号:</th><td>国药准字H001</td></tr>
			<tr><th>上市许可持有人</th><td>某某制药</td></tr>
			<tr><th>剂型</th><td>片剂</td></tr>
			<tr><th>无关栏目</th><td>忽略</td></tr>
		</table></body></html>`)
	})

	a := newAdapter(t, Config{BaseURL: srv.URL})
	record, err := a.Enrich(context.Background(), harvest.Candidate{
		Key: "国药准字H001",
		Fields: map[string]string{
			"term":       "阿司匹林",
			"detail_url": srv.URL + "/detail/H001",
		},
	})
	require.NoError(t, err)

	assert.Equal(t, harvest.StatusSuccess, record.Status)
	assert.Equal(t, "阿司匹林", record.Term)
	assert.Equal(t, "阿司匹林片", record.Fields["drug_name"])
	assert.Equal(t, "国药准字H001", record.Fields["approval_number"])
	assert.Equal(t, "某某制药", record.Fields["manufacturer"])
	assert.Equal(t, "片剂", record.Fields["dosage_form"])
	assert.Equal(t, "100%", record.Fields["completeness"])
	assert.NotContains(t, record.Fields, "missing_fields")
	assert.False(t, record.CapturedAt.IsZero())
}

func TestEnrichAnnotatesMissingRequiredFields(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><dl>
			<dt>药品名称</dt><dd>阿司匹林片</dd>
		</dl></body></html>`)
	})

	a := newAdapter(t, Config{BaseURL: srv.URL})
	record, err := a.Enrich(context.Background(), harvest.Candidate{
		Key:    "国药准字H001",
		Fields: map[string]string{"term": "阿司匹林", "detail_url": srv.URL + "/d"},
	})
	require.NoError(t, err)

	assert.Equal(t, harvest.StatusSuccess, record.Status)
	// approval_number falls back to the candidate key, so only
	// manufacturer is missing of the three required fields.
	assert.Equal(t, "66%", record.Fields["completeness"])
	assert.Equal(t, "manufacturer", record.Fields["missing_fields"])
}

func TestEnrichReturnsNoDataForUnrecognizedPage(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><p>maintenance notice</p></body></html>`)
	})

	a := newAdapter(t, Config{BaseURL: srv.URL})
	record, err := a.Enrich(context.Background(), harvest.Candidate{
		Key:    "H001",
		Fields: map[string]string{"term": "t", "detail_url": srv.URL + "/d"},
	})
	require.NoError(t, err)

	assert.Equal(t, harvest.StatusNoData, record.Status)
	assert.Equal(t, "H001", record.Fields["approval_number"])
}

func TestEnrichSkipsExistingItems(t *testing.T) {
	var hits int
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		hits++
	})

	a := newAdapter(t, Config{
		BaseURL:     srv.URL,
		AlreadyHave: func(key string) bool { return key == "H001" },
	})
	record, err := a.Enrich(context.Background(), harvest.Candidate{
		Key:    "H001",
		Fields: map[string]string{"term": "t", "detail_url": srv.URL + "/d"},
	})
	require.NoError(t, err)

	assert.Equal(t, harvest.StatusSkipped, record.Status)
	assert.Zero(t, hits, "skipped items must not hit the source")
}

func TestEnrichServerErrorIsTransient(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	})

	a := newAdapter(t, Config{BaseURL: srv.URL})
	_, err := a.Enrich(context.Background(), harvest.Candidate{
		Key:    "H001",
		Fields: map[string]string{"term": "t", "detail_url": srv.URL + "/d"},
	})
	require.Error(t, err)

	var te *harvest.TransientError
	assert.ErrorAs(t, err, &te)
}

func TestEnrichRequiresDetailURL(t *testing.T) {
	a := newAdapter(t, Config{BaseURL: "http://unused.invalid"})
	_, err := a.Enrich(context.Background(), harvest.Candidate{Key: "H001"})
	require.Error(t, err)
}

func TestNormalizeLabel(t *testing.T) {
	assert.Equal(t, "批准文号", normalizeLabel(" 批准文号： "))
	assert.Equal(t, "批准文号", normalizeLabel("批准文号:"))
	assert.Equal(t, "Approval Number", normalizeLabel("Approval Number"))
}

func TestMapLabelsFirstVariantWins(t *testing.T) {
	fields := mapLabels([]labelValue{
		{label: "产品名称", value: "second choice"},
		{label: "药品名称", value: "first choice"},
	})
	assert.Equal(t, "first choice", fields["drug_name"])
}
