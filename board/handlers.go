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
	"encoding/csv"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	ed "github.com/edward-ml/edward"
)

// apiError is the JSON error envelope. Successful responses carry their
// payload bare, so scalar series stay consumable by standard dashboards.
type apiError struct {
	Success bool `json:"success"`
	Error   struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Timestamp string `json:"timestamp"`
}

func respond(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	var e apiError
	e.Error.Code = code
	e.Error.Message = message
	e.Timestamp = time.Now().UTC().Format(time.RFC3339)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(e)
}

// runInfo describes one run in the /api/runs listing.
type runInfo struct {
	Name           string   `json:"name"`
	ID             string   `json:"id,omitempty"`
	FirstWallTime  float64  `json:"firstWallTime,omitempty"`
	LastWallTime   float64  `json:"lastWallTime,omitempty"`
	ScalarTags     []string `json:"scalarTags"`
	HistogramTags  []string `json:"histogramTags"`
	HasGraph       bool     `json:"hasGraph"`
	LastCheckpoint string   `json:"lastCheckpoint,omitempty"`
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexHTML)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.start).Round(time.Second).String(),
		"runs":   len(s.mplex.Runs()),
	})
}

func (s *Server) handleLogdir(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, map[string]string{"logdir": s.mplex.Logdir()})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	names := s.mplex.Runs()
	infos := make([]runInfo, 0, len(names))
	for _, name := range names {
		acc, ok := s.mplex.Run(name)
		if !ok {
			continue
		}
		first, last := acc.Times()
		info := runInfo{
			Name:           name,
			FirstWallTime:  first,
			LastWallTime:   last,
			ScalarTags:     acc.ScalarTags(),
			HistogramTags:  acc.HistogramTags(),
			LastCheckpoint: acc.LastCheckpoint(),
		}
		_, info.HasGraph = acc.GraphDef()
		if m, ok := acc.Manifest(); ok {
			info.ID = m.ID
		}
		infos = append(infos, info)
	}
	respond(w, http.StatusOK, infos)
}

func (s *Server) run(w http.ResponseWriter, r *http.Request) (*Accumulator, bool) {
	name := r.URL.Query().Get("run")
	acc, ok := s.mplex.Run(name)
	if !ok {
		respondError(w, http.StatusNotFound, "RUN_NOT_FOUND", "unknown run "+strconv.Quote(name))
		return nil, false
	}
	return acc, true
}

func (s *Server) handleScalars(w http.ResponseWriter, r *http.Request) {
	acc, ok := s.run(w, r)
	if !ok {
		return
	}
	tag := r.URL.Query().Get("tag")
	points, ok := acc.Scalars(tag)
	if !ok {
		respondError(w, http.StatusNotFound, "TAG_NOT_FOUND", "unknown scalar tag "+strconv.Quote(tag))
		return
	}

	if r.URL.Query().Get("format") == "csv" {
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		cw := csv.NewWriter(w)
		cw.Write([]string{"wall_time", "step", "value"})
		for _, p := range points {
			cw.Write([]string{
				strconv.FormatFloat(p.WallTime, 'f', -1, 64),
				strconv.FormatInt(p.Step, 10),
				strconv.FormatFloat(p.Value, 'g', -1, 64),
			})
		}
		cw.Flush()
		return
	}

	triples := make([][3]interface{}, len(points))
	for i, p := range points {
		triples[i] = [3]interface{}{p.WallTime, p.Step, p.Value}
	}
	respond(w, http.StatusOK, triples)
}

// histogramJSON is one histogram step in the /api/histograms response.
type histogramJSON struct {
	WallTime     float64   `json:"wallTime"`
	Step         int64     `json:"step"`
	Min          float64   `json:"min"`
	Max          float64   `json:"max"`
	Num          float64   `json:"num"`
	Sum          float64   `json:"sum"`
	SumSquares   float64   `json:"sumSquares"`
	BucketLimits []float64 `json:"bucketLimits"`
	Buckets      []float64 `json:"buckets"`
}

func (s *Server) handleHistograms(w http.ResponseWriter, r *http.Request) {
	acc, ok := s.run(w, r)
	if !ok {
		return
	}
	tag := r.URL.Query().Get("tag")
	points, ok := acc.Histograms(tag)
	if !ok {
		respondError(w, http.StatusNotFound, "TAG_NOT_FOUND", "unknown histogram tag "+strconv.Quote(tag))
		return
	}
	out := make([]histogramJSON, len(points))
	for i, p := range points {
		out[i] = histogramJSON{
			WallTime:     p.WallTime,
			Step:         p.Step,
			Min:          p.Histo.Min,
			Max:          p.Histo.Max,
			Num:          p.Histo.Num,
			Sum:          p.Histo.Sum,
			SumSquares:   p.Histo.SumSquares,
			BucketLimits: p.Histo.BucketLimit,
			Buckets:      p.Histo.Bucket,
		}
	}
	respond(w, http.StatusOK, out)
}

type graphNode struct {
	Name   string `json:"name"`
	Op     string `json:"op"`
	Device string `json:"device,omitempty"`
}

type graphEdge struct {
	Source  string `json:"source"`
	Target  string `json:"target"`
	Control bool   `json:"control,omitempty"`
}

type graphJSON struct {
	Nodes []graphNode `json:"nodes"`
	Edges []graphEdge `json:"edges"`
}

func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	acc, ok := s.run(w, r)
	if !ok {
		return
	}
	def, ok := acc.GraphDef()
	if !ok {
		respondError(w, http.StatusNotFound, "GRAPH_NOT_FOUND", "run has no logged graph")
		return
	}
	nodes, err := ed.GraphDefNodes(def)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "GRAPH_DECODE", err.Error())
		return
	}
	g := graphJSON{Nodes: make([]graphNode, len(nodes))}
	for i, n := range nodes {
		g.Nodes[i] = graphNode{Name: n.Name, Op: n.Op, Device: n.Device}
		for _, in := range n.Inputs {
			src, control := strings.CutPrefix(in, "^")
			src, _, _ = strings.Cut(src, ":")
			g.Edges = append(g.Edges, graphEdge{Source: src, Target: n.Name, Control: control})
		}
	}
	respond(w, http.StatusOK, g)
}

func (s *Server) handleHparams(w http.ResponseWriter, r *http.Request) {
	acc, ok := s.run(w, r)
	if !ok {
		return
	}
	m, ok := acc.Manifest()
	if !ok {
		respondError(w, http.StatusNotFound, "HPARAMS_NOT_FOUND", "run has no manifest")
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{
		"id":      m.ID,
		"hparams": m.Hparams,
	})
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	n, err := s.Reload()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "RELOAD_FAILED", err.Error())
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{
		"reloaded": true,
		"changes":  n,
	})
}
