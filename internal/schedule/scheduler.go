// Package schedule runs the build scheduler of spec.md §4.H over a
// change-detection subgraph: a small worker pool picks the lowest-index
// node whose outgoing dependency edges are all complete, invokes the
// studio driver selected for that node, and propagates failure to
// reverse neighbours. Grounded on cmd/autobuilder/autobuilder.go's
// prefixed per-job logger and stamp-file idiom, generalized from a single
// sequential job runner to a guarded worker pool per spec.md §5.
package schedule

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/habpkg/autobuild/internal/artifact"
	"github.com/habpkg/autobuild/internal/cache"
	"github.com/habpkg/autobuild/internal/change"
	"github.com/habpkg/autobuild/internal/depgraph"
	"golang.org/x/xerrors"
)

// Driver builds one node and returns the resulting artifact's filesystem
// path on success, or a BuildFailure on a non-zero exit.
type Driver interface {
	Build(ctx context.Context, n *depgraph.Node) (artifactPath string, err error)
}

// BuildFailure is the structured failure record a driver attaches to a
// non-zero exit, per spec.md §4.H.
type BuildFailure struct {
	Kind    string
	LogPath string
}

func (f *BuildFailure) Error() string {
	return fmt.Sprintf("build failed (%s), log at %s", f.Kind, f.LogPath)
}

// DriverSelector picks the driver for a node: native recipes get the
// native driver, non-native recipes get the driver of whichever studio
// their Studio edge names.
type DriverSelector func(g *depgraph.Graph, n *depgraph.Node) (Driver, error)

// Result is the outcome of one Run: which nodes built, which were
// unbuildable, and in what order they completed.
type Result struct {
	Built       []depgraph.NodeID
	Unbuildable map[depgraph.NodeID]error
}

// scheduler holds the guarded state shared by workers, per spec.md §5
// "completed and in_progress, both guarded".
type scheduler struct {
	mu          sync.Mutex
	g           *depgraph.Graph
	subgraph    map[depgraph.NodeID]bool
	order       []depgraph.NodeID // reverse-topological, index = priority
	completed   map[depgraph.NodeID]bool
	inProgress  map[depgraph.NodeID]bool
	unbuildable map[depgraph.NodeID]error
	built       []depgraph.NodeID

	known    *cache.Cache
	selector DriverSelector
	log      *log.Logger
}

// Run schedules and builds every node named in result.Causes, using up to
// workers concurrent workers. On a build error for a node, that node and
// everything reachable via reverse Runtime/Build/Studio edges within the
// subgraph is marked unbuildable and skipped.
func Run(ctx context.Context, g *depgraph.Graph, result *change.Result, known *cache.Cache, selector DriverSelector, workers int, logger *log.Logger) (*Result, error) {
	if workers <= 0 {
		workers = 4
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[scheduler] ", log.LstdFlags)
	}

	subgraph := map[depgraph.NodeID]bool{}
	for id := range result.Causes {
		subgraph[id] = true
	}

	order := reverseTopoOrder(g, subgraph)

	s := &scheduler{
		g:           g,
		subgraph:    subgraph,
		order:       order,
		completed:   map[depgraph.NodeID]bool{},
		inProgress:  map[depgraph.NodeID]bool{},
		unbuildable: map[depgraph.NodeID]error{},
		known:       known,
		selector:    selector,
		log:         logger,
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			s.workerLoop(ctx, worker)
		}(i)
	}
	wg.Wait()

	return &Result{Built: s.built, Unbuildable: s.unbuildable}, nil
}

func (s *scheduler) workerLoop(ctx context.Context, worker int) {
	for {
		if ctx.Err() != nil {
			return
		}
		id, ok := s.nextReady()
		if !ok {
			if s.done() {
				return
			}
			time.Sleep(50 * time.Millisecond)
			continue
		}

		n := s.g.Nodes[id]
		s.log.Printf("worker %d: building %s/%s", worker, id.Origin, id.Name)

		driver, err := s.selector(s.g, n)
		if err != nil {
			s.fail(id, xerrors.Errorf("select driver for %s/%s: %w", id.Origin, id.Name, err))
			continue
		}
		artifactPath, err := driver.Build(ctx, n)
		if err != nil {
			s.log.Printf("worker %d: %s/%s failed: %v", worker, id.Origin, id.Name, err)
			s.fail(id, err)
			continue
		}

		ac, err := artifact.Read(artifactPath, artifact.Options{})
		if err != nil {
			s.fail(id, xerrors.Errorf("reread produced artifact %s: %w", artifactPath, err))
			continue
		}
		if err := s.known.Insert(ctx, ac); err != nil {
			s.fail(id, xerrors.Errorf("insert artifact into cache: %w", err))
			continue
		}
		s.complete(id)
	}
}

// nextReady returns the lowest-index subgraph node whose outgoing
// Runtime/Build/Studio neighbours (restricted to the subgraph) are all
// complete, atomically marking it in-progress.
func (s *scheduler) nextReady() (depgraph.NodeID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.order {
		if s.completed[id] || s.inProgress[id] || s.unbuildable[id] != nil {
			continue
		}
		ready := true
		for _, e := range s.g.Out[id] {
			if e.Kind != depgraph.Runtime && e.Kind != depgraph.Build && e.Kind != depgraph.Studio {
				continue
			}
			if !s.subgraph[e.Dst] {
				continue // neighbour isn't stale, treated as already satisfied
			}
			if !s.completed[e.Dst] {
				ready = false
				break
			}
		}
		if ready {
			s.inProgress[id] = true
			return id, true
		}
	}
	return depgraph.NodeID{}, false
}

func (s *scheduler) complete(id depgraph.NodeID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inProgress, id)
	s.completed[id] = true
	s.built = append(s.built, id)
}

// fail marks id and every reverse neighbour reachable within the
// subgraph as unbuildable, per spec.md §4.H.
func (s *scheduler) fail(id depgraph.NodeID, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inProgress, id)
	queue := []depgraph.NodeID{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if s.unbuildable[cur] != nil {
			continue
		}
		s.unbuildable[cur] = err
		for _, e := range s.g.In[cur] {
			if !s.subgraph[e.Src] {
				continue
			}
			if e.Kind == depgraph.Runtime || e.Kind == depgraph.Build || e.Kind == depgraph.Studio {
				queue = append(queue, e.Src)
			}
		}
	}
}

func (s *scheduler) done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.completed)+len(s.unbuildable) >= len(s.subgraph)
}

// reverseTopoOrder orders the subgraph's nodes so dependencies sort
// before dependents, reversed so workers prefer leaves first; ties break
// by identity for determinism.
func reverseTopoOrder(g *depgraph.Graph, subgraph map[depgraph.NodeID]bool) []depgraph.NodeID {
	nodes := g.Transitive(nodePtrs(g, subgraph), map[depgraph.EdgeKind]bool{
		depgraph.Runtime: true, depgraph.Build: true, depgraph.Studio: true,
	}, depgraph.Forward, true, true)

	var out []depgraph.NodeID
	seen := map[depgraph.NodeID]bool{}
	for _, n := range nodes {
		if subgraph[n.ID] && !seen[n.ID] {
			out = append(out, n.ID)
			seen[n.ID] = true
		}
	}
	// Any subgraph nodes Transitive's closure didn't reach (disconnected
	// from the traversal roots) are appended deterministically.
	var leftover []depgraph.NodeID
	for id := range subgraph {
		if !seen[id] {
			leftover = append(leftover, id)
		}
	}
	sort.Slice(leftover, func(i, j int) bool {
		return fmt.Sprint(leftover[i]) < fmt.Sprint(leftover[j])
	})
	return append(out, leftover...)
}

func nodePtrs(g *depgraph.Graph, subgraph map[depgraph.NodeID]bool) []*depgraph.Node {
	var out []*depgraph.Node
	for id := range subgraph {
		out = append(out, g.Nodes[id])
	}
	return out
}
