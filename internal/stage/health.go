// Package stage holds the contract shared by lane handlers and the health
// record the daemon reports for them.
package stage

import "sort"

// Health summarizes the readiness of a lane handler or collaborator.
type Health struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// Healthy constructs a ready Health record.
func Healthy(name string) Health {
	return Health{Name: name, Ready: true}
}

// Unhealthy constructs an unhealthy Health record with context detail.
func Unhealthy(name, detail string) Health {
	return Health{Name: name, Ready: false, Detail: detail}
}

// Summarize sorts records by name and reports whether all are ready.
func Summarize(records []Health) ([]Health, bool) {
	out := append([]Health(nil), records...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	ready := true
	for _, h := range out {
		if !h.Ready {
			ready = false
		}
	}
	return out, ready
}
