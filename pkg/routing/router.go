package routing

import (
	"sync/atomic"

	"github.com/hervehildenbrand/kill-radar/pkg/models"
)

// table is one immutable routing state. A refresh builds a new table and
// publishes it with a single pointer swap.
type table struct {
	graph       Graph
	distance    map[int32]int
	predecessor map[int32]int32
	aliases     map[int32]string
}

// Router answers route queries against the latest topology.
type Router struct {
	root     int32
	security SecurityLookup
	current  atomic.Pointer[table]
}

// NewRouter creates a router rooted at root. Until the first Rebuild only the
// root itself is reachable.
func NewRouter(root int32, security SecurityLookup) *Router {
	r := &Router{root: root, security: security}
	r.current.Store(&table{
		graph:       Graph{},
		distance:    map[int32]int{root: 0},
		predecessor: map[int32]int32{},
		aliases:     map[int32]string{},
	})
	return r
}

// Root returns the configured root system.
func (r *Router) Root() int32 {
	return r.root
}

// RebuildStats summarizes a rebuild for logging.
type RebuildStats struct {
	Systems   int // systems present in the graph
	Reachable int // systems reachable from the root, root included
}

// Rebuild replaces the graph, the BFS tables and the alias table.
func (r *Router) Rebuild(snap models.TopologySnapshot) RebuildStats {
	g := BuildGraph(snap.Connections)
	distance, predecessor := BFS(g, r.root)

	aliases := make(map[int32]string, len(snap.Systems))
	for _, s := range snap.Systems {
		aliases[s.ID] = s.Alias
	}

	r.current.Store(&table{
		graph:       g,
		distance:    distance,
		predecessor: predecessor,
		aliases:     aliases,
	})
	return RebuildStats{Systems: len(g), Reachable: len(distance)}
}

// Distance returns the hop count from the root, or models.Unreachable.
func (r *Router) Distance(target int32) int {
	if d, ok := r.current.Load().distance[target]; ok {
		return d
	}
	return models.Unreachable
}

// Alias returns the map alias of a system, or "" if it has none.
func (r *Router) Alias(id int32) string {
	return r.current.Load().aliases[id]
}

// ShortestRoute returns the route from the root to target.
func (r *Router) ShortestRoute(target int32) models.RouteResult {
	return r.ShortestRouteFrom(r.root, target)
}

// ShortestRouteFrom walks the BFS tree back from target until it meets
// source. The route excludes source and ends with target. A source that does
// not lie on the root's path to target yields an unreachable result.
func (r *Router) ShortestRouteFrom(source, target int32) models.RouteResult {
	t := r.current.Load()

	d, ok := t.distance[target]
	if !ok {
		return models.RouteResult{Distance: models.Unreachable}
	}
	if d == 0 || source == target {
		return models.RouteResult{Distance: 0, Route: []int32{}}
	}

	var route []int32
	next := target
	for {
		route = append(route, next)
		prev, ok := t.predecessor[next]
		if !ok {
			// Walked past the root without meeting source.
			return models.RouteResult{Distance: models.Unreachable}
		}
		if prev == source {
			break
		}
		next = prev
	}

	for i, j := 0, len(route)-1; i < j; i, j = i+1, j-1 {
		route[i], route[j] = route[j], route[i]
	}
	return models.RouteResult{Distance: len(route), Route: route}
}
