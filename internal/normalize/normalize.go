// Package normalize turns schema-flexible backend responses into canonical
// campaign, designer and user records. Nothing here returns an error:
// malformed input degrades to an empty result.
package normalize

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/foxzi/reviewdesk/internal/campaign"
)

// wrapperKeys hold collections that replace their parent object
var wrapperKeys = []string{"json", "data", "tasks", "users", "designers", "items", "records", "rows"}

// Decode parses a response body. Invalid JSON yields nil.
func Decode(data []byte) any {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil
	}
	return v
}

// Flatten extracts flat records from an arbitrarily nested tree.
// Objects that only wrap a collection are unwrapped; scalars are dropped.
func Flatten(tree any) []Record {
	var out []Record
	flatten(tree, &out, 0)
	return out
}

const maxDepth = 32

func flatten(node any, out *[]Record, depth int) {
	if depth > maxDepth {
		return
	}

	switch v := node.(type) {
	case []any:
		for _, item := range v {
			flatten(item, out, depth+1)
		}
	case []map[string]any:
		for _, item := range v {
			flatten(item, out, depth+1)
		}
	case map[string]any:
		if inner, ok := unwrap(v); ok {
			flatten(inner, out, depth+1)
			return
		}
		if len(v) > 0 {
			*out = append(*out, Record(v))
		}
	case Record:
		flatten(map[string]any(v), out, depth)
	}
}

// unwrap returns the wrapped collection of an envelope object
func unwrap(m map[string]any) (any, bool) {
	for _, wk := range wrapperKeys {
		for k, v := range m {
			if normalizeKey(k) != wk {
				continue
			}
			switch inner := v.(type) {
			case []any:
				return inner, true
			case map[string]any:
				if wk == "json" || wk == "data" {
					return inner, true
				}
			}
		}
	}
	return nil, false
}

var campaignSchema = Schema{
	{Field: "id", Fragments: []string{"unique id", "uniqueid", "campaign id", "id"}, ExactOnly: true},
	{Field: "row", Fragments: []string{"row number", "rownumber", "row"}, ExactOnly: true},
	{Field: "designer_email", Fragments: []string{"designer email"}},
	{Field: "designer_id", Fragments: []string{"designer id"}},
	{Field: "designer", Fragments: []string{"designer assigned", "designer name", "designer"}},
	{Field: "campaign", Fragments: []string{"campaign", "campaign name", "name", "title"}, Exclude: []string{"client"}},
	{Field: "brief", Fragments: []string{"brief", "description"}},
	{Field: "deadline", Fragments: []string{"deadline", "due"}},
	{Field: "status", Fragments: []string{"status"}},
	{Field: "decision", Fragments: []string{"decision"}},
	{Field: "thumbnail", Fragments: []string{"thumbnail", "thumb"}},
	{Field: "link", Fragments: []string{"link", "design url", "designurl", "design"}, Exclude: []string{"designer"}},
	{Field: "feedback", Fragments: []string{"reason", "feedback", "comment"}},
	{Field: "upload_date", Fragments: []string{"upload date"}},
	{Field: "upload_time", Fragments: []string{"upload time"}},
	{Field: "post_type", Fragments: []string{"post type", "posttype", "type"}},
	{Field: "caption", Fragments: []string{"caption"}},
	{Field: "hashtags", Fragments: []string{"hashtags", "hashtag", "tags"}},
	{Field: "client", Fragments: []string{"client"}},
	{Field: "created", Fragments: []string{"created at", "created", "timestamp"}},
}

var designerSchema = Schema{
	{Field: "id", Fragments: []string{"id", "unique id"}, ExactOnly: true},
	{Field: "email", Fragments: []string{"email", "mail"}},
	{Field: "role", Fragments: []string{"role", "type"}},
	{Field: "name", Fragments: []string{"name", "full name", "designer"}, Exclude: []string{"user"}},
}

var userSchema = Schema{
	{Field: "id", Fragments: []string{"id", "unique id", "user id"}, ExactOnly: true},
	{Field: "email", Fragments: []string{"email", "username", "user"}},
	{Field: "password", Fragments: []string{"password", "pwd", "pass"}},
	{Field: "first_login", Fragments: []string{"isfirstlogin", "is first login", "first login", "firstlogin"}},
	{Field: "role", Fragments: []string{"role", "type", "access"}},
	{Field: "name", Fragments: []string{"name", "full name", "display name"}},
}

// Campaigns normalizes campaign rows. Records whose status is Deleted are
// left out of the active list.
func Campaigns(tree any) []campaign.Campaign {
	records := Flatten(tree)
	out := make([]campaign.Campaign, 0, len(records))
	seen := make(map[string]bool, len(records))

	for _, rec := range records {
		c := toCampaign(rec)
		if c.Status == campaign.StatusDeleted || seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		out = append(out, c)
	}
	return out
}

func toCampaign(rec Record) campaign.Campaign {
	r := campaignSchema.Resolve(rec)

	link := r.String("link")
	status := DeriveStatus(r.String("status"), link, r.String("decision"))

	c := campaign.Campaign{
		ID:            recordID(r, rec),
		CampaignName:  orDefault(r.String("campaign"), "Untitled Campaign"),
		Brief:         r.String("brief"),
		PostType:      campaign.ParsePostType(r.String("post_type")),
		Deadline:      r.String("deadline"),
		UploadDate:    r.String("upload_date"),
		UploadTime:    r.String("upload_time"),
		DesignerID:    r.String("designer_id"),
		DesignerName:  orDefault(r.String("designer"), "Unassigned"),
		DesignerEmail: r.String("designer_email"),
		ClientName:    orDefault(r.String("client"), "Client"),
		Status:        status,
		DesignURL:     campaign.StringPtr(link),
		ThumbnailURL:  campaign.StringPtr(r.String("thumbnail")),
		Caption:       r.String("caption"),
		Hashtags:      r.String("hashtags"),
		CreatedAt:     parseTime(r.String("created")),
	}
	if status == campaign.StatusRejected {
		c.Feedback = campaign.StringPtr(r.String("feedback"))
	}
	return c
}

// DeriveStatus applies the backend status rules: Initiated reads as New,
// a New record with a design link is DesignUploaded because the backend
// status lags the upload, and an Approved/Rejected decision overrides both.
func DeriveStatus(rawStatus, link, decision string) campaign.Status {
	status, ok := campaign.ParseStatus(rawStatus)
	if !ok {
		status = campaign.StatusNew
	}

	if strings.TrimSpace(link) != "" && status == campaign.StatusNew {
		status = campaign.StatusDesignUploaded
	}

	if d, ok := campaign.ParseStatus(decision); ok && (d == campaign.StatusApproved || d == campaign.StatusRejected) {
		status = d
	}

	return status
}

// Designers normalizes designer rows. When any row carries a role only
// rows with role "designer" are kept.
func Designers(tree any) []campaign.Designer {
	records := Flatten(tree)
	resolved := make([]Resolved, 0, len(records))
	hasRole := false
	for _, rec := range records {
		r := designerSchema.Resolve(rec)
		if r.Has("role") {
			hasRole = true
		}
		resolved = append(resolved, r)
	}

	out := make([]campaign.Designer, 0, len(resolved))
	seen := make(map[string]bool)
	for _, r := range resolved {
		if hasRole && strings.ToLower(r.String("role")) != "designer" {
			continue
		}
		d := campaign.Designer{
			ID:    r.String("id"),
			Name:  orDefault(r.String("name"), "Unknown Designer"),
			Email: r.String("email"),
		}
		if d.ID == "" {
			d.ID = contentID(r.rec)
		}
		if seen[d.ID] {
			continue
		}
		seen[d.ID] = true
		out = append(out, d)
	}
	return out
}

// Users normalizes identity rows
func Users(tree any) []campaign.User {
	records := Flatten(tree)
	out := make([]campaign.User, 0, len(records))
	for _, rec := range records {
		r := userSchema.Resolve(rec)
		u := campaign.User{
			ID:           r.String("id"),
			Email:        strings.ToLower(r.String("email")),
			Name:         r.String("name"),
			Role:         campaign.ParseRole(r.String("role")),
			IsFirstLogin: r.Bool("first_login"),
			Password:     r.String("password"),
			Extra:        r.Rest(),
		}
		if u.ID == "" {
			u.ID = contentID(rec)
		}
		out = append(out, u)
	}
	return out
}

var idSchema = Schema{campaignSchema[0]}

// FirstID returns the id of the first record that carries one
func FirstID(tree any) string {
	for _, rec := range Flatten(tree) {
		if id := idSchema.Resolve(rec).String("id"); id != "" {
			return id
		}
	}
	return ""
}

func recordID(r Resolved, rec Record) string {
	if id := r.String("id"); id != "" {
		return id
	}
	if row := r.String("row"); row != "" {
		return "row-" + row
	}
	return contentID(rec)
}

// contentID derives a stable id from the record content so that refreshing
// an unchanged dataset yields identical ids.
func contentID(rec Record) string {
	data, err := json.Marshal(map[string]any(rec))
	if err != nil {
		return uuid.NewString()
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, data).String()
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

var timeLayouts = []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"}

func parseTime(s string) time.Time {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
