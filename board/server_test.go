/*
Copyright 2025 The Edward Authors. All Rights Reserved.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package board

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edward-ml/edward/event"
	"github.com/edward-ml/edward/op"
	"github.com/edward-ml/edward/summary"
)

// newTestServer builds a logdir holding one fully populated run named
// "train" and a server that has loaded it.
func newTestServer(t *testing.T) (*Server, *httptest.Server, string) {
	t.Helper()
	logdir := t.TempDir()

	w, err := summary.NewWriter(filepath.Join(logdir, "train"), nil)
	require.NoError(t, err)
	for i := 1; i <= 3; i++ {
		require.NoError(t, w.Scalar("loss", float64(4-i), int64(i)))
		require.NoError(t, w.Histogram("weights", []float64{0.1, 0.2, 0.3}, int64(i)))
	}
	s := op.NewScope()
	c := op.Const(s.SubScope("bias"), 1.0)
	op.Neg(s.SubScope("neg"), c)
	g, err := s.Finalize()
	require.NoError(t, err)
	require.NoError(t, w.Graph(g))
	require.NoError(t, w.Hparams(map[string]any{"lr": 0.05}))
	require.NoError(t, w.SessionLog(&event.SessionLog{
		Status:         event.StatusCheckpoint,
		CheckpointPath: "ckpt/train.edw",
	}, 3))
	require.NoError(t, w.Close())

	srv, err := NewServer(Config{Logdir: logdir})
	require.NoError(t, err)
	_, err = srv.Reload()
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts, logdir
}

func get(t *testing.T, ts *httptest.Server, path string) (int, []byte) {
	t.Helper()
	res, err := http.Get(ts.URL + path)
	require.NoError(t, err)
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res.StatusCode, body
}

func TestServerRequiresLogdir(t *testing.T) {
	_, err := NewServer(Config{})
	assert.Error(t, err)
}

func TestAPIRuns(t *testing.T) {
	_, ts, _ := newTestServer(t)
	status, body := get(t, ts, "/api/runs")
	require.Equal(t, http.StatusOK, status)

	var runs []struct {
		Name           string   `json:"name"`
		ID             string   `json:"id"`
		ScalarTags     []string `json:"scalarTags"`
		HistogramTags  []string `json:"histogramTags"`
		HasGraph       bool     `json:"hasGraph"`
		LastCheckpoint string   `json:"lastCheckpoint"`
	}
	require.NoError(t, json.Unmarshal(body, &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "train", runs[0].Name)
	assert.NotEmpty(t, runs[0].ID)
	assert.Equal(t, []string{"loss"}, runs[0].ScalarTags)
	assert.Equal(t, []string{"weights"}, runs[0].HistogramTags)
	assert.True(t, runs[0].HasGraph)
	assert.Equal(t, "ckpt/train.edw", runs[0].LastCheckpoint)
}

func TestAPIScalars(t *testing.T) {
	_, ts, _ := newTestServer(t)
	status, body := get(t, ts, "/api/scalars?run=train&tag=loss")
	require.Equal(t, http.StatusOK, status)

	var triples [][3]float64
	require.NoError(t, json.Unmarshal(body, &triples))
	require.Len(t, triples, 3)
	for i, tr := range triples {
		assert.Greater(t, tr[0], 0.0)
		assert.Equal(t, float64(i+1), tr[1])
		assert.Equal(t, float64(3-i), tr[2])
	}
}

func TestAPIScalarsCSV(t *testing.T) {
	_, ts, _ := newTestServer(t)
	res, err := http.Get(ts.URL + "/api/scalars?run=train&tag=loss&format=csv")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, res.Header.Get("Content-Type"), "text/csv")

	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "wall_time,step,value", lines[0])
	assert.True(t, strings.HasSuffix(lines[1], ",1,3"))
	assert.True(t, strings.HasSuffix(lines[3], ",3,1"))
}

func TestAPINotFound(t *testing.T) {
	_, ts, _ := newTestServer(t)

	status, body := get(t, ts, "/api/scalars?run=nope&tag=loss")
	assert.Equal(t, http.StatusNotFound, status)
	var e apiError
	require.NoError(t, json.Unmarshal(body, &e))
	assert.False(t, e.Success)
	assert.Equal(t, "RUN_NOT_FOUND", e.Error.Code)

	status, body = get(t, ts, "/api/scalars?run=train&tag=nope")
	assert.Equal(t, http.StatusNotFound, status)
	require.NoError(t, json.Unmarshal(body, &e))
	assert.Equal(t, "TAG_NOT_FOUND", e.Error.Code)

	status, _ = get(t, ts, "/api/histograms?run=train&tag=nope")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAPIHistograms(t *testing.T) {
	_, ts, _ := newTestServer(t)
	status, body := get(t, ts, "/api/histograms?run=train&tag=weights")
	require.Equal(t, http.StatusOK, status)

	var histos []struct {
		Step    int64     `json:"step"`
		Num     float64   `json:"num"`
		Buckets []float64 `json:"buckets"`
	}
	require.NoError(t, json.Unmarshal(body, &histos))
	require.Len(t, histos, 3)
	assert.Equal(t, int64(1), histos[0].Step)
	assert.Equal(t, 3.0, histos[0].Num)
	assert.NotEmpty(t, histos[0].Buckets)
}

func TestAPIGraph(t *testing.T) {
	_, ts, _ := newTestServer(t)
	status, body := get(t, ts, "/api/graph?run=train")
	require.Equal(t, http.StatusOK, status)

	var g struct {
		Nodes []struct {
			Name string `json:"name"`
			Op   string `json:"op"`
		} `json:"nodes"`
		Edges []struct {
			Source string `json:"source"`
			Target string `json:"target"`
		} `json:"edges"`
	}
	require.NoError(t, json.Unmarshal(body, &g))

	names := make(map[string]string)
	for _, n := range g.Nodes {
		names[n.Name] = n.Op
	}
	assert.Equal(t, "Const", names["bias/Const"])
	assert.Equal(t, "Neg", names["neg/Neg"])

	foundEdge := false
	for _, e := range g.Edges {
		if e.Source == "bias/Const" && e.Target == "neg/Neg" {
			foundEdge = true
		}
	}
	assert.True(t, foundEdge)
}

func TestAPIHparams(t *testing.T) {
	_, ts, _ := newTestServer(t)
	status, body := get(t, ts, "/api/hparams?run=train")
	require.Equal(t, http.StatusOK, status)

	var h struct {
		ID      string            `json:"id"`
		Hparams map[string]string `json:"hparams"`
	}
	require.NoError(t, json.Unmarshal(body, &h))
	assert.NotEmpty(t, h.ID)
	assert.Equal(t, "0.05", h.Hparams["lr"])
}

func TestAPIHealthAndLogdir(t *testing.T) {
	_, ts, logdir := newTestServer(t)

	status, body := get(t, ts, "/api/health")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), `"status":"ok"`)

	status, body = get(t, ts, "/api/logdir")
	require.Equal(t, http.StatusOK, status)
	var ld map[string]string
	require.NoError(t, json.Unmarshal(body, &ld))
	assert.Equal(t, logdir, ld["logdir"])
}

func TestAPIReload(t *testing.T) {
	srv, ts, logdir := newTestServer(t)

	writeEvents(t, filepath.Join(logdir, "run2"), scalarEvent("loss", 1, 100, 1))
	res, err := http.Post(ts.URL+"/api/reload", "application/json", nil)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"reloaded":true`)
	assert.Equal(t, []string{"run2", "train"}, srv.Multiplexer().Runs())
}

func TestIndexPage(t *testing.T) {
	_, ts, _ := newTestServer(t)
	res, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, res.Header.Get("Content-Type"), "text/html")
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "Edward Board")
}

func TestWebSocketUpdates(t *testing.T) {
	srv, ts, logdir := newTestServer(t)
	go srv.hub.Run()
	defer srv.hub.Stop()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Give the hub a moment to register the client.
	time.Sleep(100 * time.Millisecond)

	writeEvents(t, filepath.Join(logdir, "run2"), scalarEvent("loss", 1, 100, 1))
	_, err = srv.Reload()
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(msg), `"type":"reload"`)
	assert.Contains(t, string(msg), "run-added")
	assert.Contains(t, string(msg), "run2")
}
