// Package providers defines the two collaborator interfaces the
// engine calls out to — the Claude-style Assistant Provider and the
// Gemini-style Structured LLM Provider — plus the option keys and
// response shapes spec.md §4.5 names.
//
// Grounded on utils/models/provider.go's Provider interface
// (Name/SupportsModel/SendPrompt/Configure) and the concrete
// utils/models/anthropic.go and utils/models/google.go clients,
// generalized to the richer option map and streaming response shape
// the orchestrator spec requires. The request/response field names
// additionally track github.com/anthropics/anthropic-sdk-go (assistant
// side, per spetersoncode-gains) and google.golang.org/genai
// (structured side, per Soochol-Upal and spetersoncode-gains) so a
// real client can be dropped in behind these interfaces without
// reshaping the option map.
package providers

import (
	"context"
	"fmt"
)

// OutputFormat is the closed set of assistant response encodings.
type OutputFormat string

const (
	OutputText       OutputFormat = "text"
	OutputJSON       OutputFormat = "json"
	OutputStreamJSON OutputFormat = "stream_json"
)

// RetryConfig is the subset of retry knobs an Options map may carry;
// claude_robust additionally layers its own retry loop on top (see
// the engine package), but a provider may also retry internally.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  int // milliseconds
}

// Options bundles the recognized keys of spec.md §4.5's Assistant
// Provider option map. Extra holds provider-specific extensions set by
// the caller; the engine's option-map conversion does not copy
// unrecognized keys into it.
type Options struct {
	Model              string
	FallbackModel      string
	MaxTurns           int
	AllowedTools       []string
	DisallowedTools    []string
	SystemPrompt       string
	AppendSystemPrompt string
	Cwd                string
	SessionID          string
	ResumeSession      bool
	AsyncStreaming     bool
	StreamHandler      string // handler variant name; wiring is in the streaming package
	StreamBufferSize   int
	StreamFilePath     string
	TimeoutMS          int
	Retry              RetryConfig
	OutputFormat       OutputFormat
	Verbose            bool
	DebugMode          bool
	PermissionMode     string
	TelemetryEnabled   bool
	CostTracking       bool
	CollectStream      bool
	Extra              map[string]interface{}
}

// StructuredOptions bundles the Structured LLM Provider's option map.
type StructuredOptions struct {
	Model             string
	Tools             []string // function names drawn from the workflow function table
	Temperature       float64
	MaxOutputTokens   int
	ResponseSchema    map[string]interface{}
}

// Response is the Assistant Provider's synchronous reply shape.
type Response struct {
	Success     bool
	Text        string
	Cost        float64
	Metadata    map[string]interface{}
	Interrupted bool
}

// FunctionCall is one entry of a Structured LLM Provider's function-calling reply.
type FunctionCall struct {
	Name      string
	Arguments map[string]interface{}
}

// StructuredResponse is the Structured LLM Provider's reply shape.
type StructuredResponse struct {
	Success       bool
	Text          string
	Structured    map[string]interface{}
	FunctionCalls []FunctionCall
	Cost          float64
}

// Assistant is the Claude-style agent SDK collaborator. Query returns
// a synchronous Response; a provider that can stream also implements
// StreamingAssistant, whose QueryStream returns a StreamSource.
type Assistant interface {
	Query(ctx context.Context, prompt string, opts Options) (Response, error)
}

// StreamingAssistant is implemented by assistant providers that can
// additionally return a lazy message stream (see package streaming).
type StreamingAssistant interface {
	Assistant
	QueryStream(ctx context.Context, prompt string, opts Options) (StreamSource, error)
}

// StreamSource is the minimal producer contract the streaming package
// consumes; it is defined here (not in streaming) so provider
// implementations don't need to import the streaming package.
type StreamSource interface {
	// Next blocks for the next message, returning ok=false once the
	// terminal "result" message has been delivered or the stream is
	// cancelled via ctx.
	Next(ctx context.Context) (msg interface{}, ok bool, err error)
	Close() error
}

// StructuredLLM is the Gemini-style structured-response collaborator.
type StructuredLLM interface {
	Query(ctx context.Context, prompt string, opts StructuredOptions) (StructuredResponse, error)
}

// ErrNotConfigured is returned when a registry has no provider bound
// for a requested logical name.
var ErrNotConfigured = fmt.Errorf("provider not configured")

// Registry resolves the two provider roles by name, so the dispatcher
// doesn't hardcode a concrete client.
type Registry struct {
	assistants  map[string]Assistant
	structured  map[string]StructuredLLM
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{assistants: map[string]Assistant{}, structured: map[string]StructuredLLM{}}
}

// RegisterAssistant binds an Assistant implementation under name (e.g. "claude").
func (r *Registry) RegisterAssistant(name string, a Assistant) { r.assistants[name] = a }

// RegisterStructuredLLM binds a StructuredLLM implementation under name (e.g. "gemini").
func (r *Registry) RegisterStructuredLLM(name string, s StructuredLLM) { r.structured[name] = s }

// Assistant returns the assistant bound under name.
func (r *Registry) Assistant(name string) (Assistant, error) {
	a, ok := r.assistants[name]
	if !ok {
		return nil, fmt.Errorf("%w: assistant %q", ErrNotConfigured, name)
	}
	return a, nil
}

// StructuredLLM returns the structured-LLM provider bound under name.
func (r *Registry) StructuredLLM(name string) (StructuredLLM, error) {
	s, ok := r.structured[name]
	if !ok {
		return nil, fmt.Errorf("%w: structured LLM %q", ErrNotConfigured, name)
	}
	return s, nil
}
