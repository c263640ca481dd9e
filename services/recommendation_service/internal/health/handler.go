package health

import (
	"encoding/json"
	"net/http"
)

// Handler reports liveness together with the catalog version being served.
func Handler(status string, catalogVersion func() uint64) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":          status,
			"catalog_version": catalogVersion(),
		})
	})
}
