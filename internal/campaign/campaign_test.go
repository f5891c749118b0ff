package campaign

import (
	"testing"
)

func TestParseStatus(t *testing.T) {
	tests := []struct {
		in     string
		want   Status
		wantOK bool
	}{
		{"New", StatusNew, true},
		{"Initiated", StatusNew, true},
		{" initiated ", StatusNew, true},
		{"Design Uploaded", StatusDesignUploaded, true},
		{"design_uploaded", StatusDesignUploaded, true},
		{"DesignUploaded", StatusDesignUploaded, true},
		{"APPROVED", StatusApproved, true},
		{"Rejected", StatusRejected, true},
		{"Deleted", StatusDeleted, true},
		{"something", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseStatus(tt.in)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("ParseStatus(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestParsePostType(t *testing.T) {
	tests := []struct {
		in   string
		want PostType
	}{
		{"Static", PostStatic},
		{"carousel", PostCarousel},
		{"Reel", PostReel},
		{"Story-Image", PostStoryImage},
		{"story reel", PostStoryReel},
		{"", PostStatic},
		{"unknown", PostStatic},
	}

	for _, tt := range tests {
		if got := ParsePostType(tt.in); got != tt.want {
			t.Errorf("ParsePostType(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestIsPlaceholderURL(t *testing.T) {
	link := "https://cdn.example.com/a.png"
	blank := "  "
	ph := PlaceholderURL("a.png")

	tests := []struct {
		name string
		in   *string
		want bool
	}{
		{"nil", nil, true},
		{"blank", &blank, true},
		{"placeholder", &ph, true},
		{"real", &link, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsPlaceholderURL(tt.in); got != tt.want {
				t.Errorf("IsPlaceholderURL() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTempID(t *testing.T) {
	id := NewTempID()
	if !IsTempID(id) {
		t.Errorf("IsTempID(%q) = false", id)
	}
	if IsTempID("C-998") {
		t.Error("IsTempID(C-998) = true")
	}
	if NewTempID() == id {
		t.Error("NewTempID() returned duplicate ids")
	}
}

func TestCloneIsDeep(t *testing.T) {
	c := Campaign{ID: "1", Status: StatusRejected, DesignURL: StringPtr("u"), Feedback: StringPtr("f")}
	cp := c.Clone()
	*cp.Feedback = "changed"
	if *c.Feedback != "f" {
		t.Errorf("Clone shares feedback pointer")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		c       Campaign
		wantErr bool
	}{
		{"new without url", Campaign{ID: "1", Status: StatusNew}, false},
		{"new with url", Campaign{ID: "1", Status: StatusNew, DesignURL: StringPtr("u")}, true},
		{"uploaded without url", Campaign{ID: "1", Status: StatusDesignUploaded}, true},
		{"rejected with feedback", Campaign{ID: "1", Status: StatusRejected, DesignURL: StringPtr("u"), Feedback: StringPtr("x")}, false},
		{"approved with feedback", Campaign{ID: "1", Status: StatusApproved, DesignURL: StringPtr("u"), Feedback: StringPtr("x")}, true},
		{"missing id", Campaign{Status: StatusNew}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.c.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseRole(t *testing.T) {
	if ParseRole("Designer") != RoleDesigner {
		t.Error("expected designer")
	}
	if ParseRole("Admin") != RoleAdmin {
		t.Error("expected admin")
	}
	if ParseRole("") != RoleClient {
		t.Error("expected client default")
	}
}
