package realtime

// Server-to-client event names.
const (
	EventProjectCreated  = "project_created"
	EventTaskCreated     = "task_created"
	EventTaskUpdated     = "task_updated"
	EventStatusUpdated   = "status_updated"
	EventNotificationNew = "notification_new"
	EventPong            = "pong"
)

// Client-to-server frame types.
const (
	FrameAuth                 = "auth"
	FrameSubscribeWorkspace   = "subscribe_workspace"
	FrameUnsubscribeWorkspace = "unsubscribe_workspace"
	FrameSubscribeProject     = "subscribe_project"
	FrameUnsubscribeProject   = "unsubscribe_project"
	FramePing                 = "ping"
)

// Envelope is the wire shape of every server-to-client message. Data is
// always present and is null for events without a payload.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}
