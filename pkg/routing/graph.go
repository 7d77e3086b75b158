// Package routing computes shortest routes from a single root system over
// the monitored map and renders them with the map's naming scheme.
package routing

import (
	"sort"

	"github.com/hervehildenbrand/kill-radar/pkg/models"
)

// Graph is an undirected adjacency list: systemID -> set of neighbors.
type Graph map[int32]map[int32]struct{}

// BuildGraph creates a symmetric adjacency list from a connection list.
func BuildGraph(conns []models.Connection) Graph {
	g := make(Graph)
	for _, c := range conns {
		g.add(c.A, c.B)
		g.add(c.B, c.A)
	}
	return g
}

func (g Graph) add(from, to int32) {
	adj, ok := g[from]
	if !ok {
		adj = make(map[int32]struct{})
		g[from] = adj
	}
	adj[to] = struct{}{}
}

// Neighbors returns the neighbors of id in ascending order.
func (g Graph) Neighbors(id int32) []int32 {
	adj := g[id]
	out := make([]int32, 0, len(adj))
	for n := range adj {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// BFS runs a breadth first search from root and returns the hop distance and
// predecessor of every reachable system. The root has distance 0 and no
// predecessor.
//
// A system can sit in the queue several times before it is marked visited.
// Assignment is first-come: a later encounter never overwrites an existing
// distance or predecessor.
func BFS(g Graph, root int32) (map[int32]int, map[int32]int32) {
	distance := map[int32]int{root: 0}
	predecessor := make(map[int32]int32)
	visited := make(map[int32]bool)

	queue := []int32{root}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if visited[cur] {
			continue
		}

		for _, n := range g.Neighbors(cur) {
			if visited[n] {
				continue
			}
			if _, assigned := distance[n]; !assigned {
				predecessor[n] = cur
				distance[n] = distance[cur] + 1
			}
			queue = append(queue, n)
		}
		visited[cur] = true
	}
	return distance, predecessor
}
