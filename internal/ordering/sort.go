package ordering

import (
	"fmt"
	"strings"

	"enrollsync/internal/notification"
	apperrors "enrollsync/pkg/errors"
)

// ErrOrderingCycle matches every CycleError.
var ErrOrderingCycle = apperrors.NewError("ORDERING_CYCLE", "ordering cycle in bucket", 422)

// CycleError lists the events left over when the precedence graph of a
// bucket has no topological order.
type CycleError struct {
	Bucket notification.BucketID
	Events []*notification.Event
}

func (e *CycleError) Error() string {
	names := make([]string, len(e.Events))
	for i, ev := range e.Events {
		names[i] = ev.String()
	}
	return fmt.Sprintf("ordering cycle in bucket %s between %s", e.Bucket, strings.Join(names, ", "))
}

func (e *CycleError) Unwrap() error {
	return ErrOrderingCycle
}

// graph is the precedence relation over one bucket: edges[i] holds every j
// that node i must precede.
type graph struct {
	nodes    []*notification.Event
	edges    [][]int
	indegree []int
}

func buildGraph(events []*notification.Event) *graph {
	g := &graph{
		nodes:    events,
		edges:    make([][]int, len(events)),
		indegree: make([]int, len(events)),
	}
	for i := 0; i < len(events); i++ {
		for j := i + 1; j < len(events); j++ {
			switch Compare(events[i].View(), events[j].View()) {
			case -1:
				g.addEdge(i, j)
			case 1:
				g.addEdge(j, i)
			}
		}
	}
	return g
}

func (g *graph) addEdge(from, to int) {
	g.edges[from] = append(g.edges[from], to)
	g.indegree[to]++
}

// Sort orders events with Kahn's algorithm. Among events that are ready at
// the same time the one with the lowest position goes first, so the result
// is deterministic for unordered pairs.
func Sort(bucket notification.BucketID, events []*notification.Event) ([]*notification.Event, error) {
	g := buildGraph(events)
	indegree := append([]int(nil), g.indegree...)
	done := make([]bool, len(events))
	out := make([]*notification.Event, 0, len(events))

	for len(out) < len(events) {
		next := -1
		for i, e := range g.nodes {
			if done[i] || indegree[i] > 0 {
				continue
			}
			if next < 0 || e.Position() < g.nodes[next].Position() {
				next = i
			}
		}
		if next < 0 {
			return nil, &CycleError{Bucket: bucket, Events: remaining(g.nodes, done)}
		}

		done[next] = true
		out = append(out, g.nodes[next])
		for _, j := range g.edges[next] {
			indegree[j]--
		}
	}

	return out, nil
}

func remaining(nodes []*notification.Event, done []bool) []*notification.Event {
	var out []*notification.Event
	for i, e := range nodes {
		if !done[i] {
			out = append(out, e)
		}
	}
	return out
}
