// Claude-family step handlers: claude, claude_smart, claude_session,
// claude_extract, claude_batch, claude_robust, parallel_claude.
//
// Grounded on the teacher's Claude Agent SDK call path in
// utils/processor/action_handler.go (build options, build prompt,
// invoke, capture result) and utils/retry/retry.go's WithRetry
// exponential-backoff loop (adapted here for claude_robust's
// configurable fixed/linear/exponential strategies). parallel_claude
// and claude_batch's bounded fan-out use golang.org/x/sync/errgroup,
// the teacher's own indirect dependency for structured concurrency.
package engine

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/marlowe-ops/flowcraft/options"
	"github.com/marlowe-ops/flowcraft/promptbuilder"
	"github.com/marlowe-ops/flowcraft/providers"
	"github.com/marlowe-ops/flowcraft/session"
	"github.com/marlowe-ops/flowcraft/value"
	"github.com/marlowe-ops/flowcraft/workflow"
)

// claudeOptionsConfig is the type-specific body shared by every
// claude-family step: claude_options to deep-merge over the resolved
// preset.
type claudeOptionsConfig struct {
	ClaudeOptions map[string]interface{} `yaml:"claude_options,omitempty"`
}

func toPromptParts(parts []workflow.PromptPart) []promptbuilder.Part {
	out := make([]promptbuilder.Part, len(parts))
	for i, p := range parts {
		out[i] = promptbuilder.Part{
			Kind:         promptbuilder.PartKind(p.Kind),
			Content:      p.Content,
			Path:         p.Path,
			Step:         p.Step,
			Extract:      p.Extract,
			SessionID:    p.SessionID,
			IncludeLastN: p.IncludeLastN,
		}
	}
	return out
}

// resolvedOptions builds the provider Options for a claude-family step
// per spec.md §4.10: resolve the preset (step > workflow default >
// environment-aware > Development), deep-merge step-level
// claude_options, then apply the preset's idempotent optimizations.
func resolvedOptions(ec *Context, step workflow.Step, overrides map[string]interface{}) (providers.Options, options.Preset) {
	preset := options.Resolve(step.Preset, ec.WorkflowDefaultPreset, ec.EnvMode)
	merged := options.Merge(options.Builtin(preset), options.Map(overrides))
	merged = options.ApplyPresetOptimizations(preset, merged)
	return toProviderOptions(merged), preset
}

func toProviderOptions(m options.Map) providers.Options {
	var opts providers.Options
	if s, ok := m["model"].(string); ok {
		opts.Model = s
	}
	if s, ok := m["fallback_model"].(string); ok {
		opts.FallbackModel = s
	}
	if n, ok := asInt(m["max_turns"]); ok {
		opts.MaxTurns = n
	}
	opts.AllowedTools = asStringSlice(m["allowed_tools"])
	opts.DisallowedTools = asStringSlice(m["disallowed_tools"])
	if s, ok := m["system_prompt"].(string); ok {
		opts.SystemPrompt = s
	}
	if s, ok := m["append_system_prompt"].(string); ok {
		opts.AppendSystemPrompt = s
	}
	if s, ok := m["session_id"].(string); ok {
		opts.SessionID = s
	}
	if n, ok := asInt(m["timeout_ms"]); ok {
		opts.TimeoutMS = n
	}
	if s, ok := m["permission_mode"].(string); ok {
		opts.PermissionMode = s
	}
	if b, ok := m["verbose"].(bool); ok {
		opts.Verbose = b
	}
	if b, ok := m["debug_mode"].(bool); ok {
		opts.DebugMode = b
	}
	if retry, ok := m["retry"].(options.Map); ok {
		if n, ok := asInt(retry["max_retries"]); ok {
			opts.Retry.MaxRetries = n
		}
		if n, ok := asInt(retry["base_delay_ms"]); ok {
			opts.Retry.BaseDelay = n
		}
	}
	return opts
}

func asInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

func asStringSlice(v interface{}) []string {
	switch s := v.(type) {
	case []string:
		return s
	case []interface{}:
		out := make([]string, 0, len(s))
		for _, it := range s {
			if str, ok := it.(string); ok {
				out = append(out, str)
			}
		}
		return out
	default:
		return nil
	}
}

// callClaude builds the prompt, resolves options, and invokes the
// registered "claude" Assistant. Returns the raw provider response
// alongside the resolved preset (for callers that attach
// preset_applied metadata).
func callClaude(ctx context.Context, ec *Context, step workflow.Step, overrides map[string]interface{}) (providers.Response, options.Preset, error) {
	opts, preset := resolvedOptions(ec, step, overrides)

	prompt, err := promptbuilder.Build(toPromptParts(step.Prompt), ec.Store, ec.tmplContext(), ec.Sessions)
	if err != nil {
		return providers.Response{}, preset, fmt.Errorf("provider: build prompt: %w", err)
	}

	assistant, err := ec.Providers.Assistant("claude")
	if err != nil {
		return providers.Response{}, preset, fmt.Errorf("provider: %w", err)
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if opts.TimeoutMS > 0 {
		callCtx, cancel = context.WithTimeout(ctx, time.Duration(opts.TimeoutMS)*time.Millisecond)
		defer cancel()
	}

	resp, err := assistant.Query(callCtx, prompt, opts)
	if err != nil {
		return resp, preset, fmt.Errorf("provider: %w", err)
	}
	return resp, preset, nil
}

func responseToValue(resp providers.Response) value.Value {
	v := value.NewMap()
	v.Set("success", value.Bool(resp.Success))
	v.Set("text", value.String(resp.Text))
	v.Set("cost", value.Number(resp.Cost))
	if resp.Interrupted {
		v.Set("interrupted", value.Bool(true))
	}
	if len(resp.Metadata) > 0 {
		meta, _ := marshalValue(resp.Metadata)
		v.Set("metadata", meta)
	}
	return v
}

func dispatchClaude(ctx context.Context, ec *Context, step workflow.Step) (value.Value, error) {
	var cfg claudeOptionsConfig
	_ = step.Raw.Decode(&cfg)
	resp, _, err := callClaude(ctx, ec, step, cfg.ClaudeOptions)
	if err != nil {
		return value.Null(), err
	}
	return responseToValue(resp), nil
}

func dispatchClaudeSmart(ctx context.Context, ec *Context, step workflow.Step) (value.Value, error) {
	var cfg claudeOptionsConfig
	_ = step.Raw.Decode(&cfg)
	resp, preset, err := callClaude(ctx, ec, step, cfg.ClaudeOptions)
	if err != nil {
		return value.Null(), err
	}
	v := responseToValue(resp)
	v.Set("preset_applied", value.String(string(preset)))
	return v, nil
}

type claudeSessionConfig struct {
	claudeOptionsConfig `yaml:",inline"`
	SessionID           string `yaml:"session_id"`
	CheckpointFrequency int    `yaml:"checkpoint_frequency,omitempty"`
	Persist             bool   `yaml:"persist,omitempty"`
	ContinueOnRestart   bool   `yaml:"continue_on_restart,omitempty"`
}

func dispatchClaudeSession(ctx context.Context, ec *Context, step workflow.Step) (value.Value, error) {
	var cfg claudeSessionConfig
	_ = step.Raw.Decode(&cfg)

	sessionName := cfg.SessionID
	if sessionName == "" {
		sessionName = step.Name
	}
	sess, err := ec.Sessions.GetOrCreate(sessionName, cfg.CheckpointFrequency, cfg.Persist, cfg.ContinueOnRestart)
	if err != nil {
		return value.Null(), fmt.Errorf("provider: session: %w", err)
	}

	overrides := options.Map(cfg.ClaudeOptions)
	if overrides == nil {
		overrides = options.Map{}
	}
	overrides["session_id"] = sess.ID

	resp, _, err := callClaude(ctx, ec, step, overrides)
	if err != nil {
		return value.Null(), err
	}

	prompt, _ := promptbuilder.Build(toPromptParts(step.Prompt), ec.Store, ec.tmplContext(), ec.Sessions)
	if aerr := ec.Sessions.Append(sessionName, session.Interaction{Prompt: prompt, Response: resp.Text, At: time.Now()}); aerr != nil {
		return value.Null(), fmt.Errorf("provider: session append: %w", aerr)
	}

	v := responseToValue(resp)
	v.Set("session_id", value.String(sess.ID))
	return v, nil
}

type claudeExtractConfig struct {
	claudeOptionsConfig `yaml:",inline"`
	PostProcess         []string `yaml:"post_process,omitempty"`
	Format              string   `yaml:"format,omitempty"` // text|json|structured|summary|markdown
	MaxSummaryLength    int      `yaml:"max_summary_length,omitempty"`
}

var (
	codeBlockRe    = regexp.MustCompile("(?s)```[a-zA-Z0-9]*\\n(.*?)```")
	linkRe         = regexp.MustCompile(`https?://\S+`)
	bulletLineRe   = regexp.MustCompile(`(?m)^\s*[-*]\s+(.+)$`)
	numberedLineRe = regexp.MustCompile(`(?m)^\s*\d+[.)]\s+(.+)$`)
)

func dispatchClaudeExtract(ctx context.Context, ec *Context, step workflow.Step) (value.Value, error) {
	var cfg claudeExtractConfig
	_ = step.Raw.Decode(&cfg)
	resp, _, err := callClaude(ctx, ec, step, cfg.ClaudeOptions)
	if err != nil {
		return value.Null(), err
	}

	text := resp.Text
	v := value.NewMap()
	v.Set("success", value.Bool(resp.Success))
	v.Set("cost", value.Number(resp.Cost))

	for _, step := range cfg.PostProcess {
		switch step {
		case "extract_code_blocks":
			v.Set("code_blocks", stringListValue(extractAll(codeBlockRe, text)))
		case "extract_recommendations":
			v.Set("recommendations", stringListValue(extractLines(text)))
		case "extract_links":
			v.Set("links", stringListValue(linkRe.FindAllString(text, -1)))
		case "extract_key_points":
			v.Set("key_points", stringListValue(extractLines(text)))
		case "format_markdown":
			text = "# Result\n\n" + text
		case "generate_summary":
			v.Set("summary", value.String(truncate(firstSentences(text, 2), cfg.MaxSummaryLength)))
		}
	}

	switch cfg.Format {
	case "json", "structured":
		v.Set("structured", value.String(text))
	case "summary":
		v.Set("text", value.String(truncate(text, cfg.MaxSummaryLength)))
	default:
		v.Set("text", value.String(truncate(text, cfg.MaxSummaryLength)))
	}
	return v, nil
}

func extractAll(re *regexp.Regexp, text string) []string {
	var out []string
	for _, m := range re.FindAllStringSubmatch(text, -1) {
		out = append(out, strings.TrimSpace(m[1]))
	}
	return out
}

func extractLines(text string) []string {
	var out []string
	out = append(out, extractAll(bulletLineRe, text)...)
	out = append(out, extractAll(numberedLineRe, text)...)
	return out
}

func firstSentences(text string, n int) string {
	parts := strings.SplitN(text, ".", n+1)
	if len(parts) <= n {
		return text
	}
	return strings.Join(parts[:n], ".") + "."
}

func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

func stringListValue(items []string) value.Value {
	vals := make([]value.Value, len(items))
	for i, s := range items {
		vals[i] = value.String(s)
	}
	return value.List(vals...)
}

// batchTask is one entry of claude_batch's tasks or parallel_claude's
// parallel_tasks list.
type batchTask struct {
	ID     string               `yaml:"id"`
	Prompt []workflow.PromptPart `yaml:"prompt"`
}

type claudeBatchConfig struct {
	Tasks          []batchTask `yaml:"tasks"`
	MaxParallel    int         `yaml:"max_parallel,omitempty"`
	TimeoutPerTask string      `yaml:"timeout_per_task,omitempty"`
	Consolidate    bool        `yaml:"consolidate,omitempty"`
}

func dispatchClaudeBatch(ctx context.Context, ec *Context, step workflow.Step) (value.Value, error) {
	var cfg claudeBatchConfig
	_ = step.Raw.Decode(&cfg)

	perTaskTimeout, _ := time.ParseDuration(cfg.TimeoutPerTask)
	maxParallel := cfg.MaxParallel
	if maxParallel <= 0 {
		maxParallel = len(cfg.Tasks)
		if maxParallel == 0 {
			maxParallel = 1
		}
	}

	records := make([]value.Value, len(cfg.Tasks))
	sem := make(chan struct{}, maxParallel)
	g, gctx := errgroup.WithContext(ctx)

	for i, task := range cfg.Tasks {
		i, task := i, task
		g.Go(func() error {
			sem <- struct{}{}
			defer func() { <-sem }()

			taskCtx := gctx
			var cancel context.CancelFunc
			if perTaskTimeout > 0 {
				taskCtx, cancel = context.WithTimeout(gctx, perTaskTimeout)
				defer cancel()
			}

			taskStep := step
			taskStep.Prompt = task.Prompt
			resp, _, err := callClaude(taskCtx, ec, taskStep, nil)

			rec := value.NewMap()
			rec.Set("id", value.String(task.ID))
			switch {
			case taskCtx.Err() != nil:
				rec.Set("status", value.String("timeout"))
			case err != nil:
				rec.Set("status", value.String("error"))
				rec.Set("error", value.String(err.Error()))
			default:
				rec.Set("status", value.String("success"))
				rec.Set("response", responseToValue(resp))
			}
			records[i] = rec
			return nil
		})
	}
	_ = g.Wait() // claude_batch always succeeds at the outer level; per-task status carries failure

	v := value.NewMap()
	v.Set("success", value.Bool(true))
	v.Set("tasks", value.List(records...))
	if cfg.Consolidate {
		var combined strings.Builder
		for _, rec := range records {
			if resp, ok := rec.Field("response"); ok {
				if text, ok := resp.Field("text"); ok {
					combined.WriteString(text.AsString())
					combined.WriteString("\n")
				}
			}
		}
		v.Set("combined_results", value.String(combined.String()))
	}
	return v, nil
}

type parallelClaudeConfig struct {
	ParallelTasks []batchTask `yaml:"parallel_tasks"`
}

func dispatchParallelClaude(ctx context.Context, ec *Context, step workflow.Step) (value.Value, error) {
	var cfg parallelClaudeConfig
	_ = step.Raw.Decode(&cfg)

	results := make([]value.Value, len(cfg.ParallelTasks))
	var wg errgroup.Group
	for i, task := range cfg.ParallelTasks {
		i, task := i, task
		wg.Go(func() error {
			taskStep := step
			taskStep.Prompt = task.Prompt
			resp, _, err := callClaude(ctx, ec, taskStep, nil)
			rec := value.NewMap()
			if err != nil {
				rec.Set("success", value.Bool(false))
				rec.Set("error", value.String(err.Error()))
			} else {
				rec.Set("success", value.Bool(resp.Success))
				rec.Set("text", value.String(resp.Text))
				rec.Set("cost", value.Number(resp.Cost))
			}
			results[i] = rec
			return nil
		})
	}
	_ = wg.Wait()

	individual := value.NewMap()
	var combined strings.Builder
	for i, task := range cfg.ParallelTasks {
		individual.Set(task.ID, results[i])
		if text, ok := results[i].Field("text"); ok {
			combined.WriteString(text.AsString())
			combined.WriteString("\n")
		}
	}
	v := value.NewMap()
	v.Set("success", value.Bool(true))
	v.Set("combined_results", value.String(combined.String()))
	v.Set("individual_results", individual)
	return v, nil
}

type claudeRobustConfig struct {
	claudeOptionsConfig `yaml:",inline"`
	MaxRetries          int      `yaml:"max_retries"`
	Backoff             string   `yaml:"backoff,omitempty"` // fixed|linear|exponential
	BaseDelayMS         int      `yaml:"base_delay_ms,omitempty"`
	RetryConditions     []string `yaml:"retry_conditions,omitempty"`
	FallbackAction      string   `yaml:"fallback_action,omitempty"` // graceful_degradation|cached_response|simplified_prompt|emergency_response
}

func backoffDelay(strategy string, baseMS, attempt int) time.Duration {
	switch strategy {
	case "linear":
		return time.Duration(baseMS*attempt) * time.Millisecond
	case "exponential":
		mult := 1
		for i := 0; i < attempt; i++ {
			mult *= 2
		}
		return time.Duration(baseMS*mult) * time.Millisecond
	default: // fixed
		return time.Duration(baseMS) * time.Millisecond
	}
}

// classifyError maps a provider/transport error to one of spec.md
// §7's error kinds, for matching against retry_conditions.
func classifyError(ctx context.Context, err error) string {
	if ctx.Err() != nil {
		return "timeout"
	}
	if err == nil {
		return ""
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		return "timeout"
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "429"):
		return "rate_limit"
	case strings.Contains(msg, "parse") || strings.Contains(msg, "parsing"):
		return "parsing_error"
	default:
		return "api_error"
	}
}

func conditionsContain(conditions []string, kind string) bool {
	for _, c := range conditions {
		if strings.Contains(kind, c) || strings.Contains(c, kind) {
			return true
		}
	}
	return false
}

func dispatchClaudeRobust(ctx context.Context, ec *Context, step workflow.Step) (value.Value, error) {
	var cfg claudeRobustConfig
	_ = step.Raw.Decode(&cfg)

	var errorHistory []string
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		resp, _, err := callClaude(ctx, ec, step, cfg.ClaudeOptions)

		if err == nil {
			v := responseToValue(resp)
			if attempt > 0 {
				v.Set("retried", value.Number(float64(attempt)))
			}
			return v, nil
		}

		kind := classifyError(ctx, err)
		errorHistory = append(errorHistory, fmt.Sprintf("attempt %d: %s: %s", attempt+1, kind, err.Error()))

		if attempt == cfg.MaxRetries || !conditionsContain(cfg.RetryConditions, kind) {
			break
		}
		time.Sleep(backoffDelay(cfg.Backoff, cfg.BaseDelayMS, attempt))
	}

	// Retries exhausted (or the error kind isn't retryable): fall back.
	v := fallbackResponse(cfg.FallbackAction, step)
	meta := value.NewMap()
	meta.Set("error_history", stringListValue(errorHistory))
	meta.Set("attempts", value.Number(float64(len(errorHistory))))
	v.Set("robustness_metadata", meta)
	return v, nil
}

func fallbackResponse(action string, step workflow.Step) value.Value {
	v := value.NewMap()
	v.Set("success", value.Bool(true))
	v.Set("degraded_mode", value.Bool(true))
	v.Set("fallback_type", value.String(action))
	switch action {
	case "cached_response":
		v.Set("text", value.String(""))
	case "simplified_prompt":
		v.Set("text", value.String(fmt.Sprintf("(simplified) %s", step.Name)))
	case "emergency_response":
		v.Set("text", value.String("An error occurred; this is an automated fallback response."))
	default: // graceful_degradation
		v.Set("text", value.String(""))
	}
	return v
}
