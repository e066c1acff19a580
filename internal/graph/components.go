package graph

import (
	"context"
	"sort"

	"kgxops/internal/storage"

	"go.uber.org/zap"
)

// ComponentResult reports the small-component sweep.
type ComponentResult struct {
	MinSize int
	// Components is the number of connected components found among nodes
	// with at least one edge.
	Components int
	// Archived is the number of components below MinSize that were moved.
	Archived int
	Nodes    int64
	Edges    int64
}

// disjointSet is a union-find over dense integer ids.
type disjointSet struct {
	parent []int
	size   []int
}

func (d *disjointSet) add() int {
	d.parent = append(d.parent, len(d.parent))
	d.size = append(d.size, 1)
	return len(d.parent) - 1
}

func (d *disjointSet) find(x int) int {
	for d.parent[x] != x {
		d.parent[x] = d.parent[d.parent[x]]
		x = d.parent[x]
	}
	return x
}

func (d *disjointSet) union(a, b int) {
	ra, rb := d.find(a), d.find(b)
	if ra == rb {
		return
	}
	if d.size[ra] < d.size[rb] {
		ra, rb = rb, ra
	}
	d.parent[rb] = ra
	d.size[ra] += d.size[rb]
}

// pruneComponents moves the nodes and edges of connected components with
// fewer than minSize nodes into the small_component tables. Nodes without
// edges are left to the singleton policy. Edges must already be free of
// dangling endpoints.
func (e *Engine) pruneComponents(ctx context.Context, tx storage.Store, minSize int) (ComponentResult, error) {
	res := ComponentResult{MinSize: minSize}
	var (
		ds    disjointSet
		index = map[string]int{}
		ids   []string
	)
	node := func(id string) int {
		if i, ok := index[id]; ok {
			return i
		}
		i := ds.add()
		index[id] = i
		ids = append(ids, id)
		return i
	}
	err := tx.Scan(ctx, storage.TableEdges, []string{"subject", "object"}, func(r storage.Row) error {
		s, sok := r["subject"].(string)
		o, ook := r["object"].(string)
		if !sok || !ook {
			return nil
		}
		ds.union(node(s), node(o))
		return nil
	})
	if err != nil {
		return res, err
	}

	roots := map[int]struct{}{}
	for i := range ids {
		roots[ds.find(i)] = struct{}{}
	}
	res.Components = len(roots)

	small := map[int]struct{}{}
	for r := range roots {
		if ds.size[r] < minSize {
			small[r] = struct{}{}
		}
	}
	res.Archived = len(small)
	if len(small) == 0 {
		return res, nil
	}

	var keys []string
	for i, id := range ids {
		if _, ok := small[ds.find(i)]; ok {
			keys = append(keys, id)
		}
	}
	sort.Strings(keys)

	if res.Nodes, err = tx.MoveByKeys(ctx, storage.MoveByKeys{
		Table: storage.TableNodes, Archive: storage.TableSmallCompNodes, Column: "id", Keys: keys,
	}); err != nil {
		return res, err
	}
	// Both endpoints of an edge share its component, so the subject decides.
	if res.Edges, err = tx.MoveByKeys(ctx, storage.MoveByKeys{
		Table: storage.TableEdges, Archive: storage.TableSmallCompEdges, Column: "subject", Keys: keys,
	}); err != nil {
		return res, err
	}
	e.log.Info("small components archived",
		zap.Int("min_size", minSize),
		zap.Int("components", res.Components),
		zap.Int("archived", res.Archived),
		zap.Int64("nodes", res.Nodes),
		zap.Int64("edges", res.Edges))
	return res, nil
}
