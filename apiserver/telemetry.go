package apiserver

import "net/http"

// telemetrySnapshotView is the wire shape of a telemetry.Snapshot.
type telemetrySnapshotView struct {
	Histograms []histogramView   `json:"histograms"`
	InFlight   map[string]int64  `json:"inFlight"`
	Previews   map[string]string `json:"previews"`
}

type histogramView struct {
	CallKey string    `json:"callKey"`
	Bounds  []float64 `json:"bounds"`
	Counts  []uint64  `json:"counts"`
	Sum     float64   `json:"sum"`
	Count   uint64    `json:"count"`
}

// getTelemetry reports the current call-latency histograms, in-flight call
// counts, and response previews recorded by the LLM-call transports every
// collaborator was wrapped with. Telemetry disabled (nil Sink) reports an
// empty snapshot rather than an error, since it is a valid, documented
// configuration rather than a server fault.
func (h *handlers) getTelemetry(w http.ResponseWriter, r *http.Request) {
	if h.deps.Telemetry == nil {
		respondJSON(w, telemetrySnapshotView{}, http.StatusOK)
		return
	}

	snap := h.deps.Telemetry.Snapshot(r.Context())
	view := telemetrySnapshotView{
		InFlight: snap.InFlight,
		Previews: snap.Previews,
	}
	for _, hist := range snap.Histograms {
		view.Histograms = append(view.Histograms, histogramView{
			CallKey: hist.CallKey,
			Bounds:  hist.Bounds,
			Counts:  hist.Counts,
			Sum:     hist.Sum,
			Count:   hist.Count,
		})
	}
	respondJSON(w, view, http.StatusOK)
}
