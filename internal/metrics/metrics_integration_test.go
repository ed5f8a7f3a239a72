package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mohammed-shakir/gridlight/internal/core/observability"
)

func assertHasMetricLine(t *testing.T, body, metric string, wantLabels ...string) {
	t.Helper()
	for ln := range strings.SplitSeq(body, "\n") {
		if !strings.HasPrefix(ln, metric+"{") {
			continue
		}
		ok := true
		for _, s := range wantLabels {
			if !strings.Contains(ln, s) {
				ok = false
				break
			}
		}
		if ok && (len(ln) > 0 && ln[len(ln)-1] >= '0' && ln[len(ln)-1] <= '9') {
			return
		}
	}
	t.Fatalf("expected a %s line with labels %v; got:\n%s", metric, wantLabels, body)
}

func Test_AppMetrics_CustomRegistry_Smoke(t *testing.T) {
	p := Init(Config{Build: BuildInfo{Version: "test"}})
	observability.Init(p.Registerer(), true)
	observability.SetLayer("countries")

	observability.ObserveHTTP(http.MethodGet, "/overlay", http.StatusOK, 0.004)
	observability.IncTransform("applied")
	observability.IncTileURL("rendered")
	observability.ObserveComposite(0.001, 7)
	observability.ObserveGridStoreOp("mget", errors.New("down"), 0.002)
	observability.IncGridLookup("lru", "hit")
	observability.ObserveUpstreamFetch("not_found", 0.01)
	observability.IncTileEventDropped()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	p.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	body := rr.Body.String()
	mustContain := []string{
		`http_request_duration_seconds_bucket`,
		`redis_operation_duration_seconds_count{op="mget"}`,
		`overlay_composite_duration_seconds_count{layer="countries"} `,
		`overlay_cells_painted_total{layer="countries"} `,
		`gridstore_op_total{op="mget",result="error"} `,
		`upstream_grid_fetch_duration_seconds_count{outcome="not_found"} `,
		`tile_events_dropped_total `,
	}
	for _, s := range mustContain {
		if !strings.Contains(body, s) {
			t.Fatalf("expected metrics to contain %q;\n---\n%s", s, body)
		}
	}

	assertHasMetricLine(t, body, "http_requests_total",
		`method="GET"`, `route="/overlay"`, `status="200"`, `layer="countries"`)
	assertHasMetricLine(t, body, "crs_transforms_total", `outcome="applied"`)
	assertHasMetricLine(t, body, "tile_urls_total", `outcome="rendered"`, `layer="countries"`)
	assertHasMetricLine(t, body, "grid_lookups_total", `tier="lru"`, `outcome="hit"`)
	assertHasMetricLine(t, body, "app_build_info", `version="test"`)
}
