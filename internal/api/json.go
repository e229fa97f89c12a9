package api

import (
	"encoding/json"
	"net/http"
	"strings"
)

// problemBase prefixes the type URI of every problem response; the slug is
// derived from the title ("Route not found" -> route-not-found).
const problemBase = "https://drivenav.dev/problems/"

// Problem represents an RFC7807 problem details response body.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, status int, title, detail, instance string) {
	writeJSON(w, status, Problem{
		Type:     problemBase + problemSlug(title),
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: instance,
	})
}

func problemSlug(title string) string {
	s := strings.ToLower(strings.TrimSpace(title))
	return strings.ReplaceAll(s, " ", "-")
}
