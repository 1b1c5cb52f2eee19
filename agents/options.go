package agents

import (
	"context"
	"time"

	"github.com/promptops/mcpagent/chatmodel"
	"github.com/promptops/mcpagent/pkg/llms"
	"github.com/promptops/mcpagent/store"
)

const (
	// DefaultMaxToolCalls bounds the total number of tool invocations in a run.
	DefaultMaxToolCalls = 10
	// DefaultMaxMessages bounds the history length in a run.
	DefaultMaxMessages = 100
	// DefaultMaxContentSize bounds the total content bytes sent per completion.
	DefaultMaxContentSize = 512 * 1024
	// DefaultMaxRetries bounds retries on empty completion responses.
	DefaultMaxRetries = 3
	// DefaultMaxNotFound bounds consecutive unknown tool requests.
	DefaultMaxNotFound = 3
)

// Option is a function that can be used to modify the agent Config.
type Option func(*Config)

// Config controls the agent run loop.
// A zero value for a limit means the default applies.
type Config struct {
	// Model is the model to use in an LLM call.
	Model    string
	modelSet bool

	// MaxTokens is the maximum number of tokens to generate in an LLM call.
	MaxTokens    int
	maxTokensSet bool

	// Temperature is the sampling temperature, between 0 and 1.
	Temperature    float64
	temperatureSet bool

	// StopWords is a list of words to stop on in an LLM call.
	StopWords    []string
	stopWordsSet bool

	// TopK is the number of tokens to consider for top-k sampling.
	TopK    int
	topkSet bool

	// TopP is the cumulative probability for top-p sampling.
	TopP    float64
	toppSet bool

	// Seed is a seed for deterministic sampling.
	Seed    int
	seedSet bool

	// ToolChoice can be "none", "auto" or a specific tool.
	ToolChoice    any
	toolChoiceSet bool

	JSONMode bool

	// StreamingFunc is called for each chunk of a streaming response.
	// Return an error to stop streaming early.
	StreamingFunc func(ctx context.Context, chunk []byte) error

	//
	// Below are the options for the agent loop, not related to the LLM call.
	//

	// CallbackHandler receives run lifecycle events.
	CallbackHandler Callback

	// Store persists the conversation history between runs.
	// No store is used by default.
	Store store.MessageStore

	// MaxToolCalls bounds the total tool invocations in a run.
	MaxToolCalls int
	// MaxMessages bounds the history length in a run.
	MaxMessages int
	// MaxContentSize bounds the content bytes sent per completion.
	MaxContentSize uint64

	// ConcurrentToolCalls executes the tool calls of one assistant turn
	// in parallel. Results are still reported in the request order.
	ConcurrentToolCalls bool

	// ToolCallTimeout bounds a single tool invocation.
	ToolCallTimeout time.Duration
	// RunTimeout bounds the whole run.
	RunTimeout time.Duration

	// AbortOnUnknownTool fails the run on the first unknown tool request
	// instead of reporting it back to the model.
	AbortOnUnknownTool bool
	// AbortOnToolError fails the run on the first tool failure instead
	// of reporting the failure back to the model.
	AbortOnToolError bool

	PromptInput        map[string]any
	Examples           chatmodel.FewShotExamples
	SkipMessageHistory bool
	SkipToolHistory    bool
	IsGeneric          bool
}

// NewConfig creates a Config with the given options applied.
func NewConfig(opts ...Option) *Config {
	cfg := &Config{}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Apply returns a copy of the config with the given options applied.
func (c *Config) Apply(opts ...Option) *Config {
	cfg := *c
	for _, opt := range opts {
		opt(&cfg)
	}
	return &cfg
}

// WithModel is an option for the LLM call.
func WithModel(model string) Option {
	return func(o *Config) {
		o.Model = model
		o.modelSet = true
	}
}

// WithMaxTokens is an option for the LLM call.
func WithMaxTokens(maxTokens int) Option {
	return func(o *Config) {
		o.MaxTokens = maxTokens
		o.maxTokensSet = true
	}
}

// WithTemperature is an option for the LLM call.
func WithTemperature(temperature float64) Option {
	return func(o *Config) {
		o.Temperature = temperature
		o.temperatureSet = true
	}
}

// WithStopWords is an option for setting the stop words for the LLM call.
func WithStopWords(stopWords []string) Option {
	return func(o *Config) {
		o.StopWords = stopWords
		o.stopWordsSet = true
	}
}

// WithTopK will add an option to use top-k sampling for the LLM call.
func WithTopK(topK int) Option {
	return func(o *Config) {
		o.TopK = topK
		o.topkSet = true
	}
}

// WithTopP will add an option to use top-p sampling for the LLM call.
func WithTopP(topP float64) Option {
	return func(o *Config) {
		o.TopP = topP
		o.toppSet = true
	}
}

// WithSeed will add an option to use deterministic sampling for the LLM call.
func WithSeed(seed int) Option {
	return func(o *Config) {
		o.Seed = seed
		o.seedSet = true
	}
}

// WithToolChoice is an option for the LLM call.
func WithToolChoice(choice any) Option {
	return func(o *Config) {
		o.ToolChoice = choice
		o.toolChoiceSet = true
	}
}

// WithJSONMode is an option that requests JSON output from the LLM.
func WithJSONMode(jsonMode bool) Option {
	return func(o *Config) {
		o.JSONMode = jsonMode
	}
}

// WithStreamingFunc is an option that allows streaming responses.
func WithStreamingFunc(streamingFunc func(ctx context.Context, chunk []byte) error) Option {
	return func(o *Config) {
		o.StreamingFunc = streamingFunc
	}
}

// WithCallback allows setting a custom callback handler.
func WithCallback(callbackHandler Callback) Option {
	return func(o *Config) {
		o.CallbackHandler = callbackHandler
	}
}

// WithStore sets the message store for conversation history.
func WithStore(s store.MessageStore) Option {
	return func(o *Config) {
		o.Store = s
	}
}

// WithMaxToolCalls bounds the total tool invocations in a run.
func WithMaxToolCalls(limit int) Option {
	return func(o *Config) {
		o.MaxToolCalls = limit
	}
}

// WithMaxMessages bounds the history length in a run.
func WithMaxMessages(limit int) Option {
	return func(o *Config) {
		o.MaxMessages = limit
	}
}

// WithMaxContentSize bounds the content bytes sent per completion.
func WithMaxContentSize(limit uint64) Option {
	return func(o *Config) {
		o.MaxContentSize = limit
	}
}

// WithConcurrentToolCalls executes the tool calls of one assistant turn
// in parallel.
func WithConcurrentToolCalls(concurrent bool) Option {
	return func(o *Config) {
		o.ConcurrentToolCalls = concurrent
	}
}

// WithToolCallTimeout bounds a single tool invocation.
func WithToolCallTimeout(timeout time.Duration) Option {
	return func(o *Config) {
		o.ToolCallTimeout = timeout
	}
}

// WithRunTimeout bounds the whole run.
func WithRunTimeout(timeout time.Duration) Option {
	return func(o *Config) {
		o.RunTimeout = timeout
	}
}

// WithAbortOnUnknownTool fails the run on the first unknown tool request.
func WithAbortOnUnknownTool(abort bool) Option {
	return func(o *Config) {
		o.AbortOnUnknownTool = abort
	}
}

// WithAbortOnToolError fails the run on the first tool failure.
func WithAbortOnToolError(abort bool) Option {
	return func(o *Config) {
		o.AbortOnToolError = abort
	}
}

// WithPromptInput is an option that allows the user to specify the system prompt input.
func WithPromptInput(input map[string]any) Option {
	return func(o *Config) {
		o.PromptInput = input
	}
}

// WithExamples is an option that allows to specify the few-shot examples for the system prompt.
func WithExamples(examples chatmodel.FewShotExamples) Option {
	return func(o *Config) {
		o.Examples = examples
	}
}

// WithSkipMessageHistory is an option that allows to skip adding agent messages to history.
func WithSkipMessageHistory(skip bool) Option {
	return func(o *Config) {
		o.SkipMessageHistory = skip
	}
}

// WithSkipToolHistory is an option that allows to skip adding tool exchanges to history.
func WithSkipToolHistory(skip bool) Option {
	return func(o *Config) {
		o.SkipToolHistory = skip
	}
}

// WithGenericRole marks run messages with the generic role, used when the
// agent participates in a multi-agent conversation.
func WithGenericRole(generic bool) Option {
	return func(o *Config) {
		o.IsGeneric = generic
	}
}

// GetCallOptions converts the config to LLM call options.
func (c *Config) GetCallOptions(extra ...llms.CallOption) []llms.CallOption {
	var callOpts []llms.CallOption
	if c.modelSet {
		callOpts = append(callOpts, llms.WithModel(c.Model))
	}
	if c.maxTokensSet {
		callOpts = append(callOpts, llms.WithMaxTokens(c.MaxTokens))
	}
	if c.temperatureSet {
		callOpts = append(callOpts, llms.WithTemperature(c.Temperature))
	}
	if c.stopWordsSet {
		callOpts = append(callOpts, llms.WithStopWords(c.StopWords))
	}
	if c.topkSet {
		callOpts = append(callOpts, llms.WithTopK(c.TopK))
	}
	if c.toppSet {
		callOpts = append(callOpts, llms.WithTopP(c.TopP))
	}
	if c.seedSet {
		callOpts = append(callOpts, llms.WithSeed(c.Seed))
	}
	if c.toolChoiceSet {
		callOpts = append(callOpts, llms.WithToolChoice(c.ToolChoice))
	}
	if c.JSONMode {
		callOpts = append(callOpts, llms.WithJSONMode())
	}
	if c.StreamingFunc != nil {
		callOpts = append(callOpts, llms.WithStreamingFunc(c.StreamingFunc))
	}
	callOpts = append(callOpts, extra...)
	return callOpts
}
