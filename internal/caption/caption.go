// Package caption suggests social media copy for a finished design.
package caption

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/foxzi/reviewdesk/internal/campaign"
	"github.com/foxzi/reviewdesk/internal/gateway"
	"github.com/foxzi/reviewdesk/internal/normalize"
)

// Source tells where a suggestion came from
type Source string

const (
	SourceRemote   Source = "remote"
	SourceFallback Source = "fallback"
)

// DefaultHashtags are used by the fallback template
const DefaultHashtags = "#Trending #Viral #Automation"

// Suggestion is a caption proposal. It is never applied automatically.
type Suggestion struct {
	Caption  string `json:"caption"`
	Hashtags string `json:"hashtags"`
	Source   Source `json:"source"`
}

var resultSchema = normalize.Schema{
	{Field: "caption", Fragments: []string{"caption", "text"}},
	{Field: "hashtags", Fragments: []string{"hashtags", "hashtag", "tags"}},
}

// Generator asks the backend for a caption and falls back to a template
type Generator struct {
	gw     gateway.Gateway
	logger *slog.Logger
}

// New creates a caption generator
func New(gw gateway.Gateway, logger *slog.Logger) *Generator {
	return &Generator{
		gw:     gw,
		logger: logger.With("component", "caption"),
	}
}

// Generate returns a suggestion for c. It does not fail: a backend error
// or an empty answer yields the template.
func (g *Generator) Generate(ctx context.Context, c campaign.Campaign) Suggestion {
	tree, err := g.gw.GenerateCaption(ctx, gateway.CaptionRequest{
		CampaignID:   c.ID,
		CampaignName: c.CampaignName,
		Brief:        c.Brief,
		DesignURL:    campaign.Deref(c.DesignURL),
	})
	if err != nil {
		g.logger.Warn("caption generation failed, using template", "campaign_id", c.ID, "error", err)
		return Fallback(c)
	}

	s, ok := fromTree(tree)
	if !ok {
		g.logger.Debug("backend returned no caption, using template", "campaign_id", c.ID)
		return Fallback(c)
	}
	return s
}

func fromTree(tree any) (Suggestion, bool) {
	records := normalize.Flatten(tree)
	if len(records) == 0 {
		return Suggestion{}, false
	}

	r := resultSchema.Resolve(records[0])
	text := r.String("caption")
	if text == "" {
		return Suggestion{}, false
	}
	return Suggestion{Caption: text, Hashtags: r.String("hashtags"), Source: SourceRemote}, true
}

// Fallback builds the deterministic template for c
func Fallback(c campaign.Campaign) Suggestion {
	media := "this image"
	if isVideo(c) {
		media = "this reel"
	}

	text := fmt.Sprintf("Check out %s for %s!\n\n%s\n\nWe are excited to share this update with you. Let us know what you think in the comments below!",
		media, c.CampaignName, c.Brief)

	return Suggestion{Caption: text, Hashtags: DefaultHashtags, Source: SourceFallback}
}

func isVideo(c campaign.Campaign) bool {
	if c.PostType.IsVideo() {
		return true
	}
	u := strings.ToLower(campaign.Deref(c.DesignURL))
	return strings.Contains(u, ".mp4") || strings.Contains(u, "reel")
}
