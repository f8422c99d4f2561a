package transfer

// Push-channel event names.
const (
	EventConnected   = "connected"
	EventUploadStart = "uploadStart"
	EventProgress    = "uploadDataUpdate"
	EventDone        = "uploadDone"
	EventFailed      = "uploadFailed"
)

// ProgressEvent reports bytes acknowledged by the object store so far.
type ProgressEvent struct {
	ID       string `json:"id"`
	Part     int    `json:"part"`
	Loaded   int64  `json:"loaded"`
	Total    int64  `json:"total"`
	Filename string `json:"filename"`
}

// DoneEvent is sent once the media record is committed.
type DoneEvent struct {
	ID      string `json:"id"`
	MediaID int64  `json:"mediaId"`
}

// FailedEvent is sent when either the store write or the metadata commit fails.
type FailedEvent struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// StartRequest is what a client sends to claim a session.
type StartRequest struct {
	ID string `json:"id"`
}

type ConnectedEvent struct {
	ChannelID string `json:"channelId"`
}
