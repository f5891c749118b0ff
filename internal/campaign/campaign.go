package campaign

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle status of a campaign
type Status string

const (
	StatusNew            Status = "New"
	StatusDesignUploaded Status = "Design Uploaded"
	StatusApproved       Status = "Approved"
	StatusRejected       Status = "Rejected"
	StatusDeleted        Status = "Deleted"
)

// statusInitiated is the backend's label for a freshly created row
const statusInitiated = "initiated"

// ParseStatus maps a remote status label to a Status.
// Unknown labels report ok=false.
func ParseStatus(s string) (Status, bool) {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.NewReplacer("_", "", "-", "", " ", "").Replace(key)

	switch key {
	case "new", statusInitiated, "pending":
		return StatusNew, true
	case "designuploaded", "uploaded":
		return StatusDesignUploaded, true
	case "approved":
		return StatusApproved, true
	case "rejected":
		return StatusRejected, true
	case "deleted":
		return StatusDeleted, true
	default:
		return "", false
	}
}

// PostType is the kind of social media asset a campaign produces
type PostType string

const (
	PostStatic     PostType = "Static"
	PostCarousel   PostType = "Carousel"
	PostReel       PostType = "Reel"
	PostStoryImage PostType = "Story-Image"
	PostStoryReel  PostType = "Story-Reel"
)

// ParsePostType is lenient and falls back to Static
func ParsePostType(s string) PostType {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.NewReplacer("_", "", "-", "", " ", "").Replace(key)

	switch key {
	case "carousel":
		return PostCarousel
	case "reel", "reels", "video":
		return PostReel
	case "storyimage", "story":
		return PostStoryImage
	case "storyreel", "storyvideo":
		return PostStoryReel
	default:
		return PostStatic
	}
}

// IsVideo reports whether the post type is a moving format
func (p PostType) IsVideo() bool {
	return p == PostReel || p == PostStoryReel
}

// Campaign is the unit of design work tracked through the lifecycle
type Campaign struct {
	ID            string    `json:"id"`
	CampaignName  string    `json:"campaign_name"`
	Brief         string    `json:"brief"`
	PostType      PostType  `json:"post_type"`
	Deadline      string    `json:"deadline,omitempty"`
	UploadDate    string    `json:"upload_date,omitempty"`
	UploadTime    string    `json:"upload_time,omitempty"`
	DesignerID    string    `json:"designer_id,omitempty"`
	DesignerName  string    `json:"designer_name,omitempty"`
	DesignerEmail string    `json:"designer_email,omitempty"`
	ClientName    string    `json:"client_name,omitempty"`
	Status        Status    `json:"status"`
	DesignURL     *string   `json:"design_url"`
	ThumbnailURL  *string   `json:"thumbnail_url"`
	Feedback      *string   `json:"feedback"`
	Caption       string    `json:"caption,omitempty"`
	Hashtags      string    `json:"hashtags,omitempty"`
	CreatedAt     time.Time `json:"created_at,omitempty"`
}

// Clone returns a deep copy of the campaign
func (c Campaign) Clone() Campaign {
	out := c
	out.DesignURL = cloneString(c.DesignURL)
	out.ThumbnailURL = cloneString(c.ThumbnailURL)
	out.Feedback = cloneString(c.Feedback)
	return out
}

// Validate checks the data invariants that hold for every stored campaign
func (c Campaign) Validate() error {
	if c.ID == "" {
		return errors.New("campaign id is required")
	}
	switch c.Status {
	case StatusDesignUploaded, StatusApproved, StatusRejected:
		if c.DesignURL == nil {
			return fmt.Errorf("campaign %s: status %q requires a design url", c.ID, c.Status)
		}
	case StatusNew:
		if c.DesignURL != nil {
			return fmt.Errorf("campaign %s: new campaign must not carry a design url", c.ID)
		}
	}
	if c.Feedback != nil && c.Status != StatusRejected {
		return fmt.Errorf("campaign %s: feedback is only valid while rejected", c.ID)
	}
	return nil
}

// Designer is a creative assigned to campaigns
type Designer struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Role is the access level of an authenticated user
type Role string

const (
	RoleClient   Role = "client"
	RoleDesigner Role = "designer"
	RoleAdmin    Role = "admin"
)

// ParseRole defaults to client
func ParseRole(s string) Role {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "designer":
		return RoleDesigner
	case "admin", "administrator":
		return RoleAdmin
	default:
		return RoleClient
	}
}

// User is an identity returned by the remote credential store
type User struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	Name         string         `json:"name"`
	Role         Role           `json:"role"`
	IsFirstLogin bool           `json:"is_first_login"`
	Password     string         `json:"-"`
	Extra        map[string]any `json:"extra,omitempty"`
}

const (
	placeholderScheme = "uploading://"
	tempIDPrefix      = "temp-"
)

// PlaceholderURL returns the optimistic design url for a file still in transit
func PlaceholderURL(fileName string) string {
	return placeholderScheme + fileName
}

// IsPlaceholderURL reports whether the url is empty or an optimistic placeholder
func IsPlaceholderURL(u *string) bool {
	if u == nil {
		return true
	}
	s := strings.TrimSpace(*u)
	return s == "" || strings.HasPrefix(s, placeholderScheme)
}

// NewTempID generates a local id for an unconfirmed campaign
func NewTempID() string {
	return tempIDPrefix + uuid.NewString()
}

// IsTempID reports whether id was generated locally
func IsTempID(id string) bool {
	return strings.HasPrefix(id, tempIDPrefix)
}

// StringPtr returns nil for blank strings
func StringPtr(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

// Deref returns the empty string for nil
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
