// Package lifecycle holds the campaign state machine. Every status change in
// the system goes through Next or Apply; nothing else assigns Campaign.Status.
package lifecycle

import (
	"errors"
	"fmt"
	"strings"

	"github.com/foxzi/reviewdesk/internal/campaign"
)

// Action is a user-triggered operation on a campaign
type Action string

const (
	ActionSubmitDesign Action = "submit_design"
	ActionApprove      Action = "approve"
	ActionReject       Action = "reject"
	ActionDelete       Action = "delete"
	ActionEditCaption  Action = "edit_caption"
)

// ParseAction accepts the canonical names and a few camelCase aliases
func ParseAction(s string) (Action, bool) {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.NewReplacer("_", "", "-", "", " ", "").Replace(key)

	switch key {
	case "submitdesign", "upload", "uploaddesign":
		return ActionSubmitDesign, true
	case "approve":
		return ActionApprove, true
	case "reject":
		return ActionReject, true
	case "delete":
		return ActionDelete, true
	case "editcaption", "caption":
		return ActionEditCaption, true
	default:
		return "", false
	}
}

var (
	// ErrInvalidTransition is returned for any action not allowed from the current status
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrInvalidPayload is returned when an allowed action is missing required data.
	// It wraps ErrInvalidTransition.
	ErrInvalidPayload = fmt.Errorf("%w: invalid payload", ErrInvalidTransition)
)

// TransitionError describes a rejected action
type TransitionError struct {
	From   campaign.Status
	Action Action
	Reason string
	err    error
}

func (e *TransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("cannot %s campaign in status %q: %s", e.Action, e.From, e.Reason)
	}
	return fmt.Sprintf("cannot %s campaign in status %q", e.Action, e.From)
}

func (e *TransitionError) Unwrap() error {
	return e.err
}

// Payload carries the action-specific data
type Payload struct {
	DesignURL     string   `json:"design_url,omitempty"`
	Files         []string `json:"files,omitempty"`
	ThumbnailURL  string   `json:"thumbnail_url,omitempty"`
	ThumbnailFile string   `json:"thumbnail_file,omitempty"`
	Feedback      string   `json:"feedback,omitempty"`
	Caption       string   `json:"caption,omitempty"`
	Hashtags      string   `json:"hashtags,omitempty"`
}

// HasDesign reports whether a link or at least one file was supplied
func (p Payload) HasDesign() bool {
	return strings.TrimSpace(p.DesignURL) != "" || len(p.Files) > 0
}

// HasThumbnail reports whether a thumbnail link or file was supplied
func (p Payload) HasThumbnail() bool {
	return strings.TrimSpace(p.ThumbnailURL) != "" || strings.TrimSpace(p.ThumbnailFile) != ""
}

type edge struct {
	from   campaign.Status
	action Action
}

var transitions = map[edge]campaign.Status{
	{campaign.StatusNew, ActionSubmitDesign}:       campaign.StatusDesignUploaded,
	{campaign.StatusRejected, ActionSubmitDesign}:  campaign.StatusDesignUploaded,
	{campaign.StatusDesignUploaded, ActionApprove}: campaign.StatusApproved,
	{campaign.StatusDesignUploaded, ActionReject}:  campaign.StatusRejected,
	{campaign.StatusApproved, ActionEditCaption}:   campaign.StatusApproved,
	{campaign.StatusNew, ActionDelete}:             campaign.StatusDeleted,
	{campaign.StatusDesignUploaded, ActionDelete}:  campaign.StatusDeleted,
	{campaign.StatusApproved, ActionDelete}:        campaign.StatusDeleted,
	{campaign.StatusRejected, ActionDelete}:        campaign.StatusDeleted,
}

// Next computes the status reached by applying action from status
func Next(from campaign.Status, action Action, p Payload) (campaign.Status, error) {
	to, ok := transitions[edge{from, action}]
	if !ok {
		return from, &TransitionError{From: from, Action: action, err: ErrInvalidTransition}
	}

	if reason := checkPayload(action, p); reason != "" {
		return from, &TransitionError{From: from, Action: action, Reason: reason, err: ErrInvalidPayload}
	}

	return to, nil
}

func checkPayload(action Action, p Payload) string {
	switch action {
	case ActionSubmitDesign:
		if !p.HasDesign() {
			return "design link or file is required"
		}
		if !p.HasThumbnail() {
			return "thumbnail is required"
		}
	case ActionReject:
		if strings.TrimSpace(p.Feedback) == "" {
			return "feedback is required"
		}
	}
	return ""
}

// Apply returns a copy of c with the action applied. c is never modified.
func Apply(c campaign.Campaign, action Action, p Payload) (campaign.Campaign, error) {
	to, err := Next(c.Status, action, p)
	if err != nil {
		return c, err
	}

	out := c.Clone()
	out.Status = to

	switch action {
	case ActionSubmitDesign:
		design := strings.TrimSpace(p.DesignURL)
		if design == "" {
			design = campaign.PlaceholderURL(p.Files[0])
		}
		thumb := strings.TrimSpace(p.ThumbnailURL)
		if thumb == "" {
			thumb = campaign.PlaceholderURL(p.ThumbnailFile)
		}
		out.DesignURL = &design
		out.ThumbnailURL = &thumb
		out.Feedback = nil
	case ActionReject:
		feedback := p.Feedback
		out.Feedback = &feedback
	case ActionEditCaption:
		out.Caption = p.Caption
		out.Hashtags = p.Hashtags
	}

	return out, nil
}

// Allowed lists the actions accepted from status
func Allowed(status campaign.Status) []Action {
	var out []Action
	for _, a := range []Action{ActionSubmitDesign, ActionApprove, ActionReject, ActionEditCaption, ActionDelete} {
		if _, ok := transitions[edge{status, a}]; ok {
			out = append(out, a)
		}
	}
	return out
}
