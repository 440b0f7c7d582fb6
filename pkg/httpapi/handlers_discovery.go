package httpapi

import (
	"net/http"
)

// discoveryDocument is the root response: enough for a client to find
// the rest of the surface without hardcoding paths.
type discoveryDocument struct {
	APIVersion    string    `json:"api_version"`
	Endpoints     endpoints `json:"endpoints"`
	ScopeUniverse []string  `json:"scope_universe"`
	Providers     []string  `json:"providers"`
}

type endpoints struct {
	Metadata       string `json:"metadata"`
	Search         string `json:"search"`
	Distinct       string `json:"distinct"`
	ArrayBlock     string `json:"array_block"`
	ArrayFull      string `json:"array_full"`
	TablePartition string `json:"table_partition"`
	TableFull      string `json:"table_full"`
	Revisions      string `json:"revisions"`
	Auth           string `json:"auth"`
}

func (d *Deps) handleRoot(w http.ResponseWriter, r *http.Request) {
	universe := make([]string, 0, len(d.ScopeUniverse))
	for s := range d.ScopeUniverse {
		universe = append(universe, string(s))
	}
	var providers []string
	if d.Auth != nil {
		for name := range d.Auth.PasswordProviders {
			providers = append(providers, name)
		}
		for name := range d.Auth.CodeProviders {
			providers = append(providers, name)
		}
	}
	writeJSON(w, http.StatusOK, discoveryDocument{
		APIVersion: "v1",
		Endpoints: endpoints{
			Metadata:       "/api/v1/metadata/{path}",
			Search:         "/api/v1/search/{path}",
			Distinct:       "/api/v1/distinct/{path}",
			ArrayBlock:     "/api/v1/array/block/{path}",
			ArrayFull:      "/api/v1/array/full/{path}",
			TablePartition: "/api/v1/table/partition/{path}",
			TableFull:      "/api/v1/table/full/{path}",
			Revisions:      "/api/v1/revisions/{path}",
			Auth:           "/api/v1/auth",
		},
		ScopeUniverse: universe,
		Providers:     providers,
	})
}
