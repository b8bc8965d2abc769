package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/freeeve/pgnzst/internal/classify"
	"github.com/freeeve/pgnzst/internal/job"
	"github.com/freeeve/pgnzst/internal/metrics"
	"github.com/freeeve/pgnzst/internal/pool"
)

type fakeSource struct {
	running []job.Progress
	done    []pool.Completion
	queued  int
}

func (f *fakeSource) Progress() []job.Progress     { return f.running }
func (f *fakeSource) Completed() []pool.Completion { return f.done }
func (f *fakeSource) Queued() int                  { return f.queued }

func newTestServer(t *testing.T, m *metrics.Metrics) *httptest.Server {
	t.Helper()
	p := job.Progress{
		Job:       job.Job{Name: "jan", Path: "/in/jan.pgn.zst"},
		RunID:     "r1",
		Size:      400,
		BytesRead: 100,
		Elapsed:   2 * time.Second,
		Total:     50,
		Accepted:  20,
	}
	p.Rejected[classify.NoIncrement] = 30
	src := &fakeSource{
		running: []job.Progress{p},
		done: []pool.Completion{
			{Name: "dec", RunID: "r0", Accepted: 7, Total: 9},
			{Name: "nov", RunID: "r2", Failed: true, Err: errors.New("boom")},
		},
		queued: 3,
	}
	srv := httptest.NewServer(NewRouter(zerolog.Nop(), src, m))
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, url string, hdr map[string]string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, string(body)
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, nil)
	resp, body := get(t, srv.URL+"/healthz", nil)
	if resp.StatusCode != http.StatusOK || body != "ok" {
		t.Errorf("healthz = %d %q", resp.StatusCode, body)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("no request id assigned")
	}

	resp, _ = get(t, srv.URL+"/healthz", map[string]string{"X-Request-ID": "abc123"})
	if got := resp.Header.Get("X-Request-ID"); got != "abc123" {
		t.Errorf("request id = %q, want the client's", got)
	}
}

func TestStatus(t *testing.T) {
	srv := newTestServer(t, nil)
	resp, body := get(t, srv.URL+"/v1/status", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var st StatusResponse
	if err := json.Unmarshal([]byte(body), &st); err != nil {
		t.Fatalf("decode %q: %v", body, err)
	}
	if st.Queued != 3 || len(st.Running) != 1 || len(st.Completed) != 2 {
		t.Fatalf("status = %+v", st)
	}
	r := st.Running[0]
	if r.Name != "jan" || r.Pct != 25 || r.GamesPerSec != 25 || r.Rejected["no_increment"] != 30 {
		t.Errorf("running = %+v", r)
	}
	if st.Completed[1].Error != "boom" || !st.Completed[1].Failed || st.Completed[0].Accepted != 7 {
		t.Errorf("completed = %+v", st.Completed)
	}
}

func TestStatusMethod(t *testing.T) {
	srv := newTestServer(t, nil)
	resp, err := http.Post(srv.URL+"/v1/status", "text/plain", strings.NewReader("x"))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("POST status = %d", resp.StatusCode)
	}
}

func TestMetrics(t *testing.T) {
	m := metrics.New("pgnzst")
	m.AddMalformed(4)
	srv := newTestServer(t, m)
	resp, body := get(t, srv.URL+"/metrics", nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, "pgnzst_games_malformed_total 4") {
		t.Errorf("metrics = %d\n%s", resp.StatusCode, body)
	}

	srv = newTestServer(t, nil)
	if resp, _ := get(t, srv.URL+"/metrics", nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("metrics without registry = %d, want 404", resp.StatusCode)
	}
}
