package registry

import (
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"

	"vellum/internal/logging"
	"vellum/internal/services"
)

// Resource is a versioned, URL-identified unit of canonical metadata.
type Resource struct {
	URL     string `json:"url"`
	Version string `json:"version"`
	Kind    string `json:"kind"`
	Payload []byte `json:"payload,omitempty"`

	// SequenceID is assigned by the registry at insertion and orders
	// resources stably across lists.
	SequenceID int64 `json:"sequence_id"`
}

type resourceKey struct {
	url     string
	version string
}

// Registry is the deduplicated, versioned resource index for one processing
// run. All methods are safe for concurrent use.
type Registry struct {
	logger *slog.Logger

	mu         sync.RWMutex
	nextSeq    int64
	generation uint64
	bySeq      map[int64]Resource
	byKey      map[resourceKey]int64
	byURL      map[string]map[string]int64 // url -> version -> sequence id

	// names is the cached sorted-URL view, valid while namesGen matches
	// generation.
	names      []string
	namesGen   uint64
	namesValid bool
}

// New constructs an empty registry.
func New(logger *slog.Logger) *Registry {
	return &Registry{
		logger: logging.NewComponentLogger(logger, "registry"),
		bySeq:  make(map[int64]Resource),
		byKey:  make(map[resourceKey]int64),
		byURL:  make(map[string]map[string]int64),
	}
}

// See inserts the resource, replacing any existing resource with the same
// (url, version). It returns the assigned sequence id. Replacement retires
// the previous sequence id; last write wins.
func (r *Registry) See(res Resource) int64 {
	key := resourceKey{url: res.URL, version: res.Version}

	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.byKey[key]; ok {
		delete(r.bySeq, old)
		r.logger.Debug("replaced resource",
			logging.String(logging.FieldResource, res.URL),
			logging.String(logging.FieldVersion, res.Version),
			logging.Int64("retired_sequence_id", old))
	}

	r.nextSeq++
	res.SequenceID = r.nextSeq
	r.bySeq[res.SequenceID] = res
	r.byKey[key] = res.SequenceID
	versions := r.byURL[res.URL]
	if versions == nil {
		versions = make(map[string]int64)
		r.byURL[res.URL] = versions
	}
	versions[res.Version] = res.SequenceID

	r.generation++
	return res.SequenceID
}

// Drop removes the resource with the given sequence id. Unknown ids produce a
// NotFound error and leave the registry (and its generation) untouched.
func (r *Registry) Drop(id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, ok := r.bySeq[id]
	if !ok {
		return services.Wrap(services.ErrNotFound, "registry", "drop", fmt.Sprintf("sequence id %d", id), nil)
	}

	delete(r.bySeq, id)
	delete(r.byKey, resourceKey{url: res.URL, version: res.Version})
	if versions := r.byURL[res.URL]; versions != nil {
		delete(versions, res.Version)
		if len(versions) == 0 {
			delete(r.byURL, res.URL)
		}
	}

	r.generation++
	return nil
}

// List returns the resources for a URL, or all resources when url is empty,
// in insertion (sequence id) order. The result never contains two resources
// with the same (url, version) because the indices are keyed on that pair.
func (r *Registry) List(url string) []Resource {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Resource
	if url == "" {
		out = make([]Resource, 0, len(r.bySeq))
		for _, res := range r.bySeq {
			out = append(out, res)
		}
	} else {
		versions := r.byURL[url]
		out = make([]Resource, 0, len(versions))
		for _, id := range versions {
			out = append(out, r.bySeq[id])
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].SequenceID < out[j].SequenceID
	})
	return out
}

// Versions returns the resources registered under a URL ordered most
// specific first (highest version down).
func (r *Registry) Versions(url string) []Resource {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions := r.byURL[url]
	out := make([]Resource, 0, len(versions))
	for _, id := range versions {
		out = append(out, r.bySeq[id])
	}
	sort.Slice(out, func(i, j int) bool {
		return compareVersions(out[i].Version, out[j].Version) > 0
	})
	return out
}

// Lookup returns the resource with the exact (url, version), or the highest
// registered version when version is empty.
func (r *Registry) Lookup(url, version string) (Resource, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if version != "" {
		id, ok := r.byKey[resourceKey{url: url, version: version}]
		if !ok {
			return Resource{}, false
		}
		return r.bySeq[id], true
	}

	versions := r.byURL[url]
	if len(versions) == 0 {
		return Resource{}, false
	}
	best := Resource{}
	found := false
	for _, id := range versions {
		res := r.bySeq[id]
		if !found || compareVersions(res.Version, best.Version) > 0 {
			best = res
			found = true
		}
	}
	return best, found
}

// Names returns the sorted distinct URLs in the registry. The view is cached
// and recomputed only when the generation counter has advanced since the last
// computation.
func (r *Registry) Names() []string {
	r.mu.RLock()
	if r.namesValid && r.namesGen == r.generation {
		out := make([]string, len(r.names))
		copy(out, r.names)
		r.mu.RUnlock()
		return out
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.namesValid || r.namesGen != r.generation {
		names := make([]string, 0, len(r.byURL))
		for url := range r.byURL {
			names = append(names, url)
		}
		sort.Strings(names)
		r.names = names
		r.namesGen = r.generation
		r.namesValid = true
	}
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Generation returns the current generation counter. It advances on every
// See and successful Drop, never on reads.
func (r *Registry) Generation() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.generation
}

// Len returns the number of resources currently registered.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bySeq)
}

// Stats summarizes registry state for diagnostics.
type Stats struct {
	Resources  int
	URLs       int
	Generation uint64
}

// Snapshot returns current registry statistics.
func (r *Registry) Snapshot() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Stats{
		Resources:  len(r.bySeq),
		URLs:       len(r.byURL),
		Generation: r.generation,
	}
}

// compareVersions orders version strings. Dot-separated numeric segments
// compare numerically; anything else falls back to string comparison, so
// "10.0.1" sorts above "9.2" and "2023a" above "2022b".
func compareVersions(a, b string) int {
	if a == b {
		return 0
	}
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for i := 0; i < len(as) && i < len(bs); i++ {
		if as[i] == bs[i] {
			continue
		}
		an, aerr := strconv.Atoi(as[i])
		bn, berr := strconv.Atoi(bs[i])
		if aerr == nil && berr == nil {
			if an < bn {
				return -1
			}
			return 1
		}
		if as[i] < bs[i] {
			return -1
		}
		return 1
	}
	if len(as) < len(bs) {
		return -1
	}
	if len(as) > len(bs) {
		return 1
	}
	return 0
}
