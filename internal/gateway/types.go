package gateway

import (
	"errors"
	"fmt"
)

var (
	// ErrRemoteWrite marks a failed command. The optimistic local change stays.
	ErrRemoteWrite = errors.New("remote write failed")
	// ErrRemoteRead marks a failed fetch. Callers keep their previous data.
	ErrRemoteRead = errors.New("remote read failed")
)

// RemoteError is a non-success answer or transport failure from the backend
type RemoteError struct {
	Op         string
	StatusCode int
	Message    string
	err        error
	cause      error
}

func (e *RemoteError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Message != "":
		return fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.StatusCode, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: HTTP %d", e.Op, e.StatusCode)
	case e.cause != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.cause)
	case e.err != nil:
		return e.Op + ": " + e.err.Error()
	default:
		return e.Op + ": remote error"
	}
}

// Unwrap exposes both the sentinel and the transport cause
func (e *RemoteError) Unwrap() []error {
	if e.cause != nil {
		return []error{e.err, e.cause}
	}
	return []error{e.err}
}

// CommandKind is the backend's name for a write action
type CommandKind string

const (
	KindCreate         CommandKind = "Campaign Creation"
	KindDesignUpload   CommandKind = "Design Upload"
	KindReview         CommandKind = "Project Review"
	KindCaption        CommandKind = "Caption"
	KindDelete         CommandKind = "Delete"
	KindNewDesigner    CommandKind = "NewDesigner"
	KindRegisterUser   CommandKind = "RegisterUser"
	KindUpdatePassword CommandKind = "UpdatePassword"
	KindSync           CommandKind = "Sync"
)

// Attachment is a binary asset sent with a design upload
type Attachment struct {
	Field       string
	FileName    string
	ContentType string
	Data        []byte
}

// Command is a write sent to the backend
type Command struct {
	Kind        CommandKind
	CampaignID  string
	Fields      map[string]any
	Attachments []Attachment
}

// CommandResult is what the backend answered. ID is set when the response
// names the record it wrote, which is how temporary ids get confirmed.
type CommandResult struct {
	StatusCode int
	ID         string
	Body       any
}

// CaptionRequest asks the backend for an AI caption
type CaptionRequest struct {
	CampaignID   string
	CampaignName string
	Brief        string
	DesignURL    string
}
