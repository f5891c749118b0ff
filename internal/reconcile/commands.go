package reconcile

import (
	"time"

	"github.com/foxzi/reviewdesk/internal/campaign"
	"github.com/foxzi/reviewdesk/internal/gateway"
	"github.com/foxzi/reviewdesk/internal/lifecycle"
)

// commandFor maps a lifecycle action to the backend command. c is the
// campaign as it was before the optimistic write.
func commandFor(c campaign.Campaign, action lifecycle.Action, p lifecycle.Payload, files []gateway.Attachment, now time.Time) gateway.Command {
	ts := now.UTC().Format(time.RFC3339)

	switch action {
	case lifecycle.ActionSubmitDesign:
		fields := map[string]any{
			"campaignName": c.CampaignName,
			"uploadedAt":   ts,
		}
		if p.DesignURL != "" {
			fields["designUrl"] = p.DesignURL
		}
		if p.ThumbnailURL != "" {
			fields["thumbnailUrl"] = p.ThumbnailURL
		}
		return gateway.Command{
			Kind:        gateway.KindDesignUpload,
			CampaignID:  c.ID,
			Fields:      fields,
			Attachments: files,
		}

	case lifecycle.ActionApprove:
		return gateway.Command{
			Kind:       gateway.KindReview,
			CampaignID: c.ID,
			Fields: map[string]any{
				"status":     string(campaign.StatusApproved),
				"feedback":   "",
				"reviewedAt": ts,
			},
		}

	case lifecycle.ActionReject:
		return gateway.Command{
			Kind:       gateway.KindReview,
			CampaignID: c.ID,
			Fields: map[string]any{
				"status":     string(campaign.StatusRejected),
				"feedback":   p.Feedback,
				"reviewedAt": ts,
			},
		}

	case lifecycle.ActionDelete:
		return gateway.Command{
			Kind:       gateway.KindDelete,
			CampaignID: c.ID,
			Fields: map[string]any{
				"campaignName": c.CampaignName,
				"status":       string(campaign.StatusDeleted),
				"deletedAt":    ts,
			},
		}

	case lifecycle.ActionEditCaption:
		return gateway.Command{
			Kind:       gateway.KindCaption,
			CampaignID: c.ID,
			Fields: map[string]any{
				"caption":   p.Caption,
				"hashtags":  p.Hashtags,
				"updatedAt": ts,
			},
		}
	}

	return gateway.Command{Kind: gateway.CommandKind(action), CampaignID: c.ID}
}

// creationCommand uses the sheet headers the backend writes rows with
func creationCommand(c campaign.Campaign) gateway.Command {
	return gateway.Command{
		Kind: gateway.KindCreate,
		Fields: map[string]any{
			"Unique ID":         c.ID,
			"Campaign":          c.CampaignName,
			"Brief":             c.Brief,
			"Deadline":          c.Deadline,
			"Status":            string(c.Status),
			"Post Type":         string(c.PostType),
			"Upload Date":       c.UploadDate,
			"Upload Time":       c.UploadTime,
			"Designer Assigned": c.DesignerName,
			"Designer Email":    c.DesignerEmail,
			"Client":            c.ClientName,
		},
	}
}
