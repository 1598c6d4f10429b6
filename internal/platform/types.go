package platform

// Event envelope delivered by the gateway bridge.
type Event struct {
	Type        string            `json:"type"`
	Message     *MessageEvent     `json:"message,omitempty"`
	Interaction *InteractionEvent `json:"interaction,omitempty"`
}

const (
	EventMessage     = "message"
	EventInteraction = "interaction"
)

// MessageEvent is an inbound chat message (guild channel or direct message).
type MessageEvent struct {
	ID          string       `json:"id"`
	ChannelID   string       `json:"channel_id"`
	GuildID     string       `json:"guild_id,omitempty"`
	UserID      string       `json:"user_id"`
	Username    string       `json:"username"`
	Content     string       `json:"content"`
	DM          bool         `json:"dm"`
	Bot         bool         `json:"bot,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Attachment describes a file attached to a message. The payload itself is
// fetched separately via Client.Download.
type Attachment struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	URL      string `json:"url"`
}

// InteractionEvent is a structured UI event (button press or select choice).
type InteractionEvent struct {
	ID        string   `json:"id"`
	Token     string   `json:"token"`
	GuildID   string   `json:"guild_id,omitempty"`
	ChannelID string   `json:"channel_id"`
	MessageID string   `json:"message_id,omitempty"`
	UserID    string   `json:"user_id"`
	Username  string   `json:"username"`
	CustomID  string   `json:"custom_id"`
	Values    []string `json:"values,omitempty"`
}

// Component is a minimal interactive UI element attached to an outbound message.
type Component struct {
	Type        string         `json:"type"` // "button" | "select"
	CustomID    string         `json:"custom_id"`
	Label       string         `json:"label,omitempty"`
	Style       string         `json:"style,omitempty"`
	Placeholder string         `json:"placeholder,omitempty"`
	Options     []SelectOption `json:"options,omitempty"`
}

type SelectOption struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// File is an outbound attachment; Data is carried base64-encoded on the wire.
type File struct {
	Name string
	Data []byte
}

// Wire payloads for the REST bridge.

type sendMessageRequest struct {
	ChannelID  string      `json:"channel_id"`
	Content    string      `json:"content,omitempty"`
	Components []Component `json:"components,omitempty"`
	Files      []wireFile  `json:"files,omitempty"`
}

type wireFile struct {
	Name string `json:"name"`
	Data string `json:"data"` // base64
}

type sendDMRequest struct {
	UserID     string      `json:"user_id"`
	Content    string      `json:"content,omitempty"`
	Components []Component `json:"components,omitempty"`
}

type interactionResponseRequest struct {
	InteractionID string      `json:"interaction_id"`
	Token         string      `json:"token"`
	Content       string      `json:"content,omitempty"`
	Components    []Component `json:"components,omitempty"`
	Ephemeral     bool        `json:"ephemeral,omitempty"`
	// Update edits the message the component was attached to instead of
	// sending a new reply.
	Update bool `json:"update,omitempty"`
}

type memberResponse struct {
	UserID   string   `json:"user_id"`
	Username string   `json:"username"`
	Roles    []string `json:"roles"`
}
