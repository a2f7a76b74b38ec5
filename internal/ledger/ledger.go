package ledger

import (
	"context"
	"sort"
	"time"
)

// Credential is a bouncer identity issued by the engine. The key is only
// ever stored sealed.
type Credential struct {
	AppUUID      string    `json:"app_uuid"`
	BouncerName  string    `json:"bouncer_name"`
	EncryptedKey string    `json:"encrypted_key"`
	LAPIURL      string    `json:"lapi_url"`
	CreatedAt    time.Time `json:"created_at"`
}

// ServerState is the runtime state of a host, owned by the orchestrator.
type ServerState struct {
	Name             string    `json:"name"`
	Installed        bool      `json:"installed"`
	Available        bool      `json:"available"`
	LoggingInstalled bool      `json:"logging_installed"`
	LAPIURL          string    `json:"lapi_url"`
	EncryptedAPIKey  string    `json:"encrypted_api_key"`
	CheckedAt        time.Time `json:"checked_at"`
}

// Store remembers what was deployed where, so later pushes can remove
// files that are no longer part of an application's bundle. Files are
// recorded per server, so moving an application never loses track of the
// files it left on the previous one.
type Store interface {
	Files(ctx context.Context, server, appUUID string) ([]string, error)
	SaveFiles(ctx context.Context, server, appUUID string, files []string) error
	// Placements lists the servers still holding files of appUUID.
	Placements(ctx context.Context, appUUID string) ([]string, error)
	Credential(ctx context.Context, appUUID string) (Credential, bool, error)
	SaveCredential(ctx context.Context, c Credential) error
	DeleteCredential(ctx context.Context, appUUID string) error
	Server(ctx context.Context, name string) (ServerState, bool, error)
	SaveServer(ctx context.Context, s ServerState) error
	Close() error
}

// Union returns the sorted distinct paths of a and b.
func Union(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	for _, p := range a {
		seen[p] = struct{}{}
	}
	for _, p := range b {
		seen[p] = struct{}{}
	}
	return sortedKeys(seen)
}

// Difference returns the sorted paths in previous that are absent from next.
func Difference(previous, next []string) []string {
	keep := make(map[string]struct{}, len(next))
	for _, p := range next {
		keep[p] = struct{}{}
	}
	stale := map[string]struct{}{}
	for _, p := range previous {
		if _, ok := keep[p]; !ok {
			stale[p] = struct{}{}
		}
	}
	return sortedKeys(stale)
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
