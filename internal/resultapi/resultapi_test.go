package resultapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/graphql-go/graphql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidb-dataframe/internal/action"
	"tidb-dataframe/internal/hist"
	"tidb-dataframe/internal/pipeline"
)

func sampleReport() *pipeline.Report {
	return &pipeline.Report{
		RunID:   "run-1",
		Passes:  1,
		Slots:   4,
		Elapsed: "12ms",
		Filters: []pipeline.FilterReport{
			{Name: "pt_cut", Accepted: 5_000_000_000, Rejected: 1, Pass: 0.9999999998},
		},
		Actions: []pipeline.ActionReport{
			{Name: "events", Kind: "Count", Signature: "Count", Value: uint64(5_000_000_000)},
			{Name: "flavors", Kind: "Take", Signature: "Take<string>", Columns: []string{"flavor"}, Value: []string{"e", "mu"}},
			{
				Name: "pt", Kind: "Histo1D", Signature: "Histo1D<float64>", Columns: []string{"pt"},
				Histogram: &pipeline.HistogramReport{
					Name:    "pt",
					Entries: 3,
					Mean:    []float64{0.5},
					StdDev:  []float64{0.25},
					Axes:    []hist.Axis{{Bins: 2, Min: 0, Max: 2}},
					Cells: []pipeline.CellReport{
						{Bins: []int{1}, Low: []float64{0}, High: []float64{1}, Content: 3, Error: 1.7320508075688772},
						{Bins: []int{2}, Low: []float64{1}, High: []float64{2}},
					},
				},
			},
			{Name: "broken", Kind: "Fill", Signature: "Fill<float64>", Error: "target takes 2 values per fill, 1 columns given"},
		},
	}
}

func execute(t *testing.T, store *Store, query string) map[string]any {
	t.Helper()
	schema, err := NewSchema(store, nil)
	require.NoError(t, err)
	res := graphql.Do(graphql.Params{Schema: schema, RequestString: query})
	require.Empty(t, res.Errors)
	data, err := json.Marshal(res.Data)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestQuery_BeforeFirstRun(t *testing.T) {
	got := execute(t, &Store{}, `{ report { runId } completedAt }`)
	assert.Nil(t, got["report"])
	assert.Nil(t, got["completedAt"])
}

func TestQuery_Report(t *testing.T) {
	store := &Store{}
	store.Set(sampleReport())

	got := execute(t, store, `{
		report {
			runId
			slots
			filters { name accepted rejected }
			actions { name signature value error }
		}
	}`)
	want := map[string]any{
		"report": map[string]any{
			"runId": "run-1",
			"slots": 4.0,
			"filters": []any{
				map[string]any{"name": "pt_cut", "accepted": "5000000000", "rejected": "1"},
			},
			"actions": []any{
				map[string]any{"name": "events", "signature": "Count", "value": "5000000000", "error": nil},
				map[string]any{"name": "flavors", "signature": "Take<string>", "value": `["e","mu"]`, "error": nil},
				map[string]any{"name": "pt", "signature": "Histo1D<float64>", "value": nil, "error": nil},
				map[string]any{"name": "broken", "signature": "Fill<float64>", "value": nil, "error": "target takes 2 values per fill, 1 columns given"},
			},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("report mismatch (-want +got):\n%s", diff)
	}
}

func TestQuery_HistogramCells(t *testing.T) {
	store := &Store{}
	store.Set(sampleReport())

	got := execute(t, store, `{
		action(name: "pt") {
			histogram {
				entries
				axes { bins min max }
				all: cells { bins }
				filled: cells(nonEmpty: true) { bins content }
			}
		}
	}`)
	h := got["action"].(map[string]any)["histogram"].(map[string]any)
	assert.Equal(t, "3", h["entries"])
	assert.Equal(t, []any{map[string]any{"bins": 2.0, "min": 0.0, "max": 2.0}}, h["axes"])
	assert.Len(t, h["all"], 2)
	assert.Equal(t, []any{map[string]any{"bins": []any{1.0}, "content": 3.0}}, h["filled"])
}

func TestQuery_ActionsByKind(t *testing.T) {
	store := &Store{}
	store.Set(sampleReport())

	got := execute(t, store, `{ report { actions(kind: "take") { name } } }`)
	actions := got["report"].(map[string]any)["actions"]
	assert.Equal(t, []any{map[string]any{"name": "flavors"}}, actions)
}

func TestQuery_UnknownAction(t *testing.T) {
	store := &Store{}
	store.Set(sampleReport())
	schema, err := NewSchema(store, nil)
	require.NoError(t, err)

	res := graphql.Do(graphql.Params{Schema: schema, RequestString: `{ action(name: "nope") { name } }`})
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0].Message, `no action named "nope"`)
}

func TestQuery_Signatures(t *testing.T) {
	got := execute(t, &Store{}, `{ signatures }`)
	sigs := got["signatures"].([]any)
	assert.Contains(t, sigs, "Histo1D<float64>")
	assert.Contains(t, sigs, "Take<string>")
	assert.Len(t, sigs, len(action.DefaultRegistry().Signatures()))
}

func TestHandler(t *testing.T) {
	store := &Store{}
	store.Set(sampleReport())
	h, err := NewHandler(store, nil, false)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/graphql", strings.NewReader(`{"query":"{ report { passes } }"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Data struct {
			Report struct {
				Passes int `json:"passes"`
			} `json:"report"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Data.Report.Passes)
}
