package pipeline

type (
	// Role identifies the author of a message.
	Role string

	// Message is one turn of a conversation. Messages are immutable for the
	// duration of a run; stages that need to amend history publish a new
	// state with a new slice.
	Message struct {
		// Role is the message author: user, assistant, system, or tool.
		Role Role

		// Content is the message text.
		Content string
	}

	// Request carries the conversation and caller-supplied metadata through a
	// run. Metadata values are opaque to the engine; bundled stages read
	// well-known keys such as "userId" and "sessionId".
	Request struct {
		Messages []Message
		Metadata map[string]any
	}

	// Failure describes a terminal stage outcome. Its presence on a state
	// stops the plan. Message is a stable, user-safe string; verbose fault
	// text lives in Details and is populated only when the pipeline is
	// configured to include error details.
	Failure struct {
		// Message is safe for end-user display.
		Message string

		// StatusCode classifies the failure using HTTP status semantics
		// (400 validation, 429 rate limited, 499 cancelled, 500 unexpected).
		StatusCode int

		// RetryAfter suggests a client back-off in seconds. Zero means no
		// suggestion. Set by the rate-limit stage.
		RetryAfter int

		// Step names the stage that produced the failure. The executor fills
		// it in when the stage left it empty.
		Step string

		// Details carries the raw fault text for operators. Omitted in
		// production configurations.
		Details string
	}

	// State is the record threaded through a plan execution. Stages never
	// mutate their input; they derive a successor with Clone, WithExt, or
	// WithFailure and return it. Ext is an open namespace: bundled stages
	// write the conventional keys declared below and unknown keys propagate
	// untouched.
	State struct {
		Request Request
		Failure *Failure
		Ext     map[string]any
	}
)

// Message roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Conventional extension keys written by the bundled stages. User extensions
// may use any other key.
const (
	// ExtModeration holds the moderation verdict.
	ExtModeration = "contentModeration"

	// ExtRateLimit holds the rate limiter verdict.
	ExtRateLimit = "rateLimit"

	// ExtIntent holds the resolved intent result.
	ExtIntent = "intent"

	// ExtPromptContext holds the assembled context selection.
	ExtPromptContext = "promptContext"

	// ExtResponse holds the model generation outcome.
	ExtResponse = "aiResponse"
)

// NewState returns a state over req with an empty extension map.
func NewState(req Request) *State {
	return &State{
		Request: req,
		Ext:     make(map[string]any),
	}
}

// Clone returns a copy of s safe for independent mutation. The message slice
// and both maps are copied; message contents and extension values are shared,
// matching the shallow copy-on-write contract stages rely on.
func (s *State) Clone() *State {
	c := &State{
		Request: Request{
			Messages: make([]Message, len(s.Request.Messages)),
			Metadata: make(map[string]any, len(s.Request.Metadata)),
		},
		Failure: s.Failure,
		Ext:     make(map[string]any, len(s.Ext)),
	}
	copy(c.Request.Messages, s.Request.Messages)
	for k, v := range s.Request.Metadata {
		c.Request.Metadata[k] = v
	}
	for k, v := range s.Ext {
		c.Ext[k] = v
	}
	return c
}

// WithExt returns a clone of s with key set to value.
func (s *State) WithExt(key string, value any) *State {
	c := s.Clone()
	c.Ext[key] = value
	return c
}

// WithFailure returns a clone of s carrying f. The clone is terminal for the
// plan.
func (s *State) WithFailure(f *Failure) *State {
	c := s.Clone()
	c.Failure = f
	return c
}

// Value returns the extension stored under key.
func (s *State) Value(key string) (any, bool) {
	v, ok := s.Ext[key]
	return v, ok
}

// LastMessage returns the most recent message, if any.
func (s *State) LastMessage() (Message, bool) {
	if len(s.Request.Messages) == 0 {
		return Message{}, false
	}
	return s.Request.Messages[len(s.Request.Messages)-1], true
}

// Metadata returns the request metadata value stored under key.
func (s *State) Metadata(key string) (any, bool) {
	v, ok := s.Request.Metadata[key]
	return v, ok
}

// MetadataString returns the request metadata value under key when it is a
// non-empty string.
func (s *State) MetadataString(key string) (string, bool) {
	v, ok := s.Request.Metadata[key]
	if !ok {
		return "", false
	}
	str, ok := v.(string)
	if !ok || str == "" {
		return "", false
	}
	return str, true
}
