// Package safety implements the Safety Manager: a SafetyContext tree
// tracking recursion depth, cumulative step
// counts, wall-clock, and the ancestor pipeline-id chain, plus the
// pre-execution and periodic checks of spec.md §4.9.
//
// Grounded on the teacher's utils/worktree/manager.go (ephemeral
// per-run workspace directories with unique names, cleaned up on
// exit) generalized into the full SafetyContext tree; unique names use
// github.com/google/uuid rather than the teacher's own ad hoc suffix.
package safety

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Limits bundles the configurable safety thresholds.
type Limits struct {
	MaxDepth       int
	MaxTotalSteps  int
	MemoryLimitMB  int
	TimeoutSeconds int
}

// DefaultLimits are the spec.md §4.9 defaults.
var DefaultLimits = Limits{
	MaxDepth:       10,
	MaxTotalSteps:  1000,
	MemoryLimitMB:  1024,
	TimeoutSeconds: 300,
}

// Context is one record in the ancestor chain. A new Context is
// created on entry to a nested pipeline; Parent links back up the
// chain. Depth, PipelineID, InstanceID and Parent do not change after
// construction, but StepCount is incremented in place by the executor
// as steps complete at this level.
type Context struct {
	Depth        int
	PipelineID   string // workflow identity; used for the circular-dependency check
	InstanceID   string // unique per in-flight invocation; used as the registry key
	Parent       *Context
	StepCount    int // steps executed directly within this pipeline level
	StartTime    time.Time
	WorkspaceDir string
	Limits       Limits
}

// Root returns the top-level SafetyContext for a fresh execution.
// pipelineID identifies the running workflow (its name or file path)
// so a later nested_pipeline step that re-enters the same workflow can
// be detected as circular.
func Root(pipelineID string, limits Limits) *Context {
	return &Context{
		Depth:      0,
		PipelineID: pipelineID,
		InstanceID: uuid.NewString(),
		StartTime:  time.Now(),
		Limits:     limits,
	}
}

// Chain returns the ancestor pipeline ids from root to this context,
// inclusive, by walking Parent links.
func (c *Context) Chain() []string {
	var ids []string
	for cur := c; cur != nil; cur = cur.Parent {
		ids = append([]string{cur.PipelineID}, ids...)
	}
	return ids
}

// CumulativeSteps sums StepCount along the chain from root to this context.
func (c *Context) CumulativeSteps() int {
	total := 0
	for cur := c; cur != nil; cur = cur.Parent {
		total += cur.StepCount
	}
	return total
}

// Violation describes a safety-check failure, per spec.md §4.9/§7's
// `recursion`/`resource` error kinds.
type Violation struct {
	Kind    string // "circular", "depth", "step_count", "memory", "timeout"
	Message string
}

func (v *Violation) Error() string {
	chain := ""
	return fmt.Sprintf("recursion: %s: %s%s", v.Kind, v.Message, chain)
}

// Registry is the process-wide map instance id -> *Context used so a
// nested pipeline can locate its parent chain; all access is
// serialized by the embedded mutex.
type Registry struct {
	mu   sync.Mutex
	byID map[string]*Context
}

// NewRegistry returns an empty safety registry.
func NewRegistry() *Registry {
	return &Registry{byID: map[string]*Context{}}
}

// Register records ctx under its unique instance id.
func (r *Registry) Register(ctx *Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[ctx.InstanceID] = ctx
}

// Unregister removes ctx, used on clean exit from a nested pipeline.
func (r *Registry) Unregister(ctx *Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, ctx.InstanceID)
}

// Lookup returns the context registered under instanceID, if any.
func (r *Registry) Lookup(instanceID string) (*Context, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[instanceID]
	return c, ok
}

// MemoryMB and WallTime are overridable hooks so tests can simulate
// resource pressure without actually consuming memory or time.
type ResourceProbe struct {
	MemoryMB func() int
	WallTime func(start time.Time) time.Duration
}

// DefaultProbe reports zero memory usage (no real tracking without a
// platform-specific sampler) and real elapsed wall-clock.
var DefaultProbe = ResourceProbe{
	MemoryMB: func() int { return 0 },
	WallTime: func(start time.Time) time.Duration { return time.Since(start) },
}

// Enter runs the four pre-execution checks of spec.md §4.9 in order —
// circular dependency, depth, cumulative step count, resource — and,
// if they pass, returns a new child Context one level deeper than
// parent, registered in reg. pipelineID identifies the nested
// workflow being entered (its name or file path): a nested_pipeline
// step that (directly or transitively) invokes a workflow already on
// the ancestor chain is a circular dependency, detected purely by
// walking the immutable parent chain rather than a graph traversal.
func Enter(reg *Registry, parent *Context, pipelineID string, probe ResourceProbe) (*Context, error) {
	// 1. Circular dependency: reject if pipelineID already appears on
	// the ancestor chain.
	for cur := parent; cur != nil; cur = cur.Parent {
		if cur.PipelineID == pipelineID {
			chain := []string{}
			if parent != nil {
				chain = parent.Chain()
			}
			return nil, &Violation{Kind: "circular", Message: fmt.Sprintf("pipeline %q already in ancestor chain [%s]", pipelineID, strings.Join(append(chain, pipelineID), " -> "))}
		}
	}

	depth := 0
	limits := DefaultLimits
	if parent != nil {
		depth = parent.Depth + 1
		limits = parent.Limits
	}

	// 2. Depth.
	if depth > limits.MaxDepth {
		chain := []string{}
		if parent != nil {
			chain = parent.Chain()
		}
		return nil, &Violation{Kind: "depth", Message: fmt.Sprintf("depth %d exceeds max_depth %d; ancestor chain: %s", depth, limits.MaxDepth, strings.Join(append(chain, pipelineID), " -> "))}
	}

	// 3. Cumulative step count.
	if parent != nil {
		if cum := parent.CumulativeSteps(); cum > limits.MaxTotalSteps {
			return nil, &Violation{Kind: "step_count", Message: fmt.Sprintf("cumulative step count %d exceeds max_total_steps %d", cum, limits.MaxTotalSteps)}
		}
	}

	// 4. Resource: memory and elapsed wall-clock.
	start := time.Now()
	if parent != nil {
		start = parent.StartTime
	}
	if probe.MemoryMB != nil {
		if mb := probe.MemoryMB(); mb > limits.MemoryLimitMB {
			return nil, &Violation{Kind: "memory", Message: fmt.Sprintf("memory usage %dMB exceeds memory_limit_mb %d", mb, limits.MemoryLimitMB)}
		}
	}
	if probe.WallTime != nil {
		if elapsed := probe.WallTime(start); elapsed > time.Duration(limits.TimeoutSeconds)*time.Second {
			return nil, &Violation{Kind: "timeout", Message: fmt.Sprintf("elapsed %s exceeds timeout_seconds %d", elapsed, limits.TimeoutSeconds)}
		}
	}

	child := &Context{
		Depth:      depth,
		PipelineID: pipelineID,
		InstanceID: uuid.NewString(),
		Parent:     parent,
		StartTime:  time.Now(),
		Limits:     limits,
	}
	reg.Register(child)
	return child, nil
}

// NewWorkspaceDirName returns a unique workspace directory name of the
// form `<pipeline_id>_<timestamp>_<random>`, per spec.md §4.9.
func NewWorkspaceDirName(pipelineID string) string {
	return fmt.Sprintf("%s_%d_%s", pipelineID, time.Now().UnixNano(), uuid.NewString()[:8])
}

// Recheck re-runs the periodic checks (cumulative step count and
// resource) against an already-entered context, for use during a long
// running nested pipeline or loop.
func Recheck(ctx *Context, probe ResourceProbe) error {
	if cum := ctx.CumulativeSteps(); cum > ctx.Limits.MaxTotalSteps {
		return &Violation{Kind: "step_count", Message: fmt.Sprintf("cumulative step count %d exceeds max_total_steps %d", cum, ctx.Limits.MaxTotalSteps)}
	}
	if probe.MemoryMB != nil {
		if mb := probe.MemoryMB(); mb > ctx.Limits.MemoryLimitMB {
			return &Violation{Kind: "memory", Message: fmt.Sprintf("memory usage %dMB exceeds memory_limit_mb %d", mb, ctx.Limits.MemoryLimitMB)}
		}
	}
	if probe.WallTime != nil {
		if elapsed := probe.WallTime(ctx.StartTime); elapsed > time.Duration(ctx.Limits.TimeoutSeconds)*time.Second {
			return &Violation{Kind: "timeout", Message: fmt.Sprintf("elapsed %s exceeds timeout_seconds %d", elapsed, ctx.Limits.TimeoutSeconds)}
		}
	}
	return nil
}
