package upstream

// Phase tags each upstream frame with the kind of content it carries.
type Phase string

const (
	PhaseThinking Phase = "thinking"
	PhaseAnswer   Phase = "answer"
	PhaseToolCall Phase = "tool_call"
	PhaseOther    Phase = "other"
)

// Usage is the token accounting reported by the upstream, when present.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// FrameError is the inline error the upstream may attach to a frame.
type FrameError struct {
	Detail string `json:"detail"`
}

// Frame is one decoded SSE event from the upstream chat service.
type Frame struct {
	Phase        Phase       `json:"phase"`
	DeltaContent string      `json:"delta_content"`
	EditContent  string      `json:"edit_content"`
	Usage        *Usage      `json:"usage,omitempty"`
	Done         bool        `json:"done"`
	Error        *FrameError `json:"error,omitempty"`
}

// envelope is the outer object on each upstream data: line; the frame sits
// in its nested data field.
type envelope struct {
	Type string `json:"type"`
	Data Frame  `json:"data"`
}

// FrameResult carries either a frame or a terminal stream error on the
// parser channel. After a result with Err != nil the channel is closed.
type FrameResult struct {
	Frame Frame
	Err   error
}

// Message is one chat message in the upstream request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Features toggles upstream behaviors per request.
type Features struct {
	ImageGeneration bool `json:"image_generation"`
	WebSearch       bool `json:"web_search"`
	AutoWebSearch   bool `json:"auto_web_search"`
	PreviewMode     bool `json:"preview_mode"`
	EnableThinking  bool `json:"enable_thinking"`
}

// Request is the common-form chat request sent to the upstream. Params holds
// client fields outside the common form; the client grafts them into the wire
// body at the top level rather than nesting them.
type Request struct {
	Stream    bool                   `json:"stream"`
	ChatID    string                 `json:"chat_id"`
	ID        string                 `json:"id"`
	Model     string                 `json:"model"`
	Messages  []Message              `json:"messages"`
	Params    map[string]interface{} `json:"-"`
	Features  Features               `json:"features"`
	Variables map[string]string      `json:"variables,omitempty"`
	ModelItem map[string]interface{} `json:"model_item"`
	Tools     []interface{}          `json:"tools,omitempty"`

	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	MaxTokens   *int64   `json:"max_tokens,omitempty"`
}

// Model is one entry of the upstream model catalog.
type Model struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Info struct {
		IsActive  *bool `json:"is_active"`
		CreatedAt int64 `json:"created_at"`
	} `json:"info"`
}

// ModelsResponse is the upstream model catalog document.
type ModelsResponse struct {
	Data []Model `json:"data"`
}
