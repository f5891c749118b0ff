package lifecycle

import (
	"errors"
	"testing"

	"github.com/foxzi/reviewdesk/internal/campaign"
)

var allStatuses = []campaign.Status{
	campaign.StatusNew,
	campaign.StatusDesignUploaded,
	campaign.StatusApproved,
	campaign.StatusRejected,
	campaign.StatusDeleted,
}

var allActions = []Action{
	ActionSubmitDesign,
	ActionApprove,
	ActionReject,
	ActionDelete,
	ActionEditCaption,
}

func fullPayload() Payload {
	return Payload{
		DesignURL:    "https://cdn.example.com/design.png",
		ThumbnailURL: "https://cdn.example.com/thumb.png",
		Feedback:     "needs more contrast",
		Caption:      "caption",
		Hashtags:     "#tag",
	}
}

func campaignIn(status campaign.Status) campaign.Campaign {
	c := campaign.Campaign{ID: "C-1", CampaignName: "Spring", Status: status}
	switch status {
	case campaign.StatusDesignUploaded, campaign.StatusApproved:
		c.DesignURL = campaign.StringPtr("https://cdn.example.com/old.png")
	case campaign.StatusRejected:
		c.DesignURL = campaign.StringPtr("https://cdn.example.com/old.png")
		c.Feedback = campaign.StringPtr("too dark")
	}
	return c
}

func TestTransitionTable(t *testing.T) {
	want := map[campaign.Status]map[Action]campaign.Status{
		campaign.StatusNew: {
			ActionSubmitDesign: campaign.StatusDesignUploaded,
			ActionDelete:       campaign.StatusDeleted,
		},
		campaign.StatusDesignUploaded: {
			ActionApprove: campaign.StatusApproved,
			ActionReject:  campaign.StatusRejected,
			ActionDelete:  campaign.StatusDeleted,
		},
		campaign.StatusApproved: {
			ActionEditCaption: campaign.StatusApproved,
			ActionDelete:      campaign.StatusDeleted,
		},
		campaign.StatusRejected: {
			ActionSubmitDesign: campaign.StatusDesignUploaded,
			ActionDelete:       campaign.StatusDeleted,
		},
		campaign.StatusDeleted: {},
	}

	for _, from := range allStatuses {
		for _, action := range allActions {
			to, err := Next(from, action, fullPayload())
			expected, ok := want[from][action]
			if ok {
				if err != nil {
					t.Errorf("Next(%q, %s) error = %v", from, action, err)
				}
				if to != expected {
					t.Errorf("Next(%q, %s) = %q, want %q", from, action, to, expected)
				}
				continue
			}
			if !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("Next(%q, %s) error = %v, want ErrInvalidTransition", from, action, err)
			}
			if to != from {
				t.Errorf("Next(%q, %s) = %q, status must be unchanged", from, action, to)
			}
		}
	}
}

func TestApplyInvalidLeavesCampaignUnchanged(t *testing.T) {
	for _, from := range allStatuses {
		for _, action := range allActions {
			if _, ok := transitions[edge{from, action}]; ok {
				continue
			}
			c := campaignIn(from)
			got, err := Apply(c, action, fullPayload())
			if !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("Apply(%q, %s) error = %v", from, action, err)
			}
			if got.Status != from || campaign.Deref(got.DesignURL) != campaign.Deref(c.DesignURL) {
				t.Errorf("Apply(%q, %s) mutated campaign: %+v", from, action, got)
			}
		}
	}
}

func TestSubmitDesignRequiresThumbnail(t *testing.T) {
	c := campaignIn(campaign.StatusNew)
	got, err := Apply(c, ActionSubmitDesign, Payload{DesignURL: "https://cdn.example.com/a.png"})
	if !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("Apply() error = %v, want ErrInvalidPayload", err)
	}
	if !errors.Is(err, ErrInvalidTransition) {
		t.Error("ErrInvalidPayload should also match ErrInvalidTransition")
	}
	if got.Status != campaign.StatusNew {
		t.Errorf("Status = %q, want New", got.Status)
	}
	if got.DesignURL != nil {
		t.Errorf("DesignURL = %q, want nil", *got.DesignURL)
	}
}

func TestSubmitDesignRequiresDesign(t *testing.T) {
	_, err := Next(campaign.StatusNew, ActionSubmitDesign, Payload{ThumbnailURL: "t"})
	if !errors.Is(err, ErrInvalidPayload) {
		t.Errorf("Next() error = %v, want ErrInvalidPayload", err)
	}
}

func TestSubmitDesignWithFilesUsesPlaceholder(t *testing.T) {
	c := campaignIn(campaign.StatusNew)
	got, err := Apply(c, ActionSubmitDesign, Payload{Files: []string{"reel.mp4"}, ThumbnailFile: "thumb.jpg"})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if got.Status != campaign.StatusDesignUploaded {
		t.Errorf("Status = %q", got.Status)
	}
	if !campaign.IsPlaceholderURL(got.DesignURL) {
		t.Errorf("DesignURL = %q, want placeholder", campaign.Deref(got.DesignURL))
	}
	if campaign.Deref(got.ThumbnailURL) == "" {
		t.Error("ThumbnailURL should be set")
	}
}

func TestReject(t *testing.T) {
	c := campaignIn(campaign.StatusDesignUploaded)

	for _, feedback := range []string{"", "   "} {
		got, err := Apply(c, ActionReject, Payload{Feedback: feedback})
		if !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("reject(%q) error = %v", feedback, err)
		}
		if got.Status != campaign.StatusDesignUploaded || got.Feedback != nil {
			t.Errorf("reject(%q) mutated campaign", feedback)
		}
	}

	got, err := Apply(c, ActionReject, Payload{Feedback: "needs more contrast"})
	if err != nil {
		t.Fatalf("reject() error = %v", err)
	}
	if got.Status != campaign.StatusRejected {
		t.Errorf("Status = %q, want Rejected", got.Status)
	}
	if campaign.Deref(got.Feedback) != "needs more contrast" {
		t.Errorf("Feedback = %q", campaign.Deref(got.Feedback))
	}
}

func TestResubmitClearsFeedback(t *testing.T) {
	c := campaignIn(campaign.StatusRejected)
	got, err := Apply(c, ActionSubmitDesign, Payload{DesignURL: "https://cdn.example.com/v2.png", ThumbnailURL: "https://cdn.example.com/t2.png"})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if got.Status != campaign.StatusDesignUploaded {
		t.Errorf("Status = %q", got.Status)
	}
	if got.Feedback != nil {
		t.Errorf("Feedback = %q, want nil", *got.Feedback)
	}
	if campaign.Deref(got.DesignURL) != "https://cdn.example.com/v2.png" {
		t.Errorf("DesignURL = %q", campaign.Deref(got.DesignURL))
	}
	if err := got.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	c := campaignIn(campaign.StatusRejected)
	if _, err := Apply(c, ActionSubmitDesign, fullPayload()); err != nil {
		t.Fatal(err)
	}
	if c.Status != campaign.StatusRejected || campaign.Deref(c.Feedback) != "too dark" {
		t.Errorf("input campaign was mutated: %+v", c)
	}
}

func TestEditCaptionKeepsStatus(t *testing.T) {
	c := campaignIn(campaign.StatusApproved)
	got, err := Apply(c, ActionEditCaption, Payload{Caption: "Hello", Hashtags: "#a #b"})
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != campaign.StatusApproved || got.Caption != "Hello" || got.Hashtags != "#a #b" {
		t.Errorf("got %+v", got)
	}
}

func TestDeletedIsTerminal(t *testing.T) {
	if got := Allowed(campaign.StatusDeleted); len(got) != 0 {
		t.Errorf("Allowed(Deleted) = %v, want none", got)
	}
}

func TestTransitionErrorMessage(t *testing.T) {
	_, err := Next(campaign.StatusNew, ActionApprove, Payload{})
	var te *TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("error %T is not *TransitionError", err)
	}
	if te.From != campaign.StatusNew || te.Action != ActionApprove {
		t.Errorf("TransitionError = %+v", te)
	}
	if err.Error() != `cannot approve campaign in status "New"` {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestParseAction(t *testing.T) {
	tests := map[string]Action{
		"submitDesign":  ActionSubmitDesign,
		"submit_design": ActionSubmitDesign,
		"approve":       ActionApprove,
		"Reject":        ActionReject,
		"delete":        ActionDelete,
		"editCaption":   ActionEditCaption,
	}
	for in, want := range tests {
		got, ok := ParseAction(in)
		if !ok || got != want {
			t.Errorf("ParseAction(%q) = %q, %v", in, got, ok)
		}
	}
	if _, ok := ParseAction("publish"); ok {
		t.Error("ParseAction(publish) should fail")
	}
}
