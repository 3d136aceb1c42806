package textutil

import (
	"reflect"
	"strings"
	"testing"
)

func TestRenderMarkdown(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		contains    []string // Strings that should appear in output
		notContains []string // Strings that should NOT appear in output
	}{
		{
			name:     "bold text",
			input:    "A **fierce** little beast",
			contains: []string{"<strong>", "fierce", "</strong>"},
		},
		{
			name:     "unordered list",
			input:    "- Claws\n- Teeth",
			contains: []string{"<ul>", "<li>", "Claws", "Teeth", "</ul>"},
		},
		{
			name:        "script tag",
			input:       "Cute <script>alert('x')</script> critter",
			contains:    []string{"Cute", "critter"},
			notContains: []string{"<script>", "alert("},
		},
		{
			name:        "javascript link",
			input:       "[click](javascript:alert(1))",
			notContains: []string{"javascript:"},
		},
		{
			name:        "event handler attribute",
			input:       `<img src="x.png" onerror="alert(1)">`,
			notContains: []string{"onerror"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RenderMarkdown(tt.input)
			for _, want := range tt.contains {
				if !strings.Contains(got, want) {
					t.Errorf("RenderMarkdown() missing %q in %q", want, got)
				}
			}
			for _, bad := range tt.notContains {
				if strings.Contains(got, bad) {
					t.Errorf("RenderMarkdown() contains %q in %q", bad, got)
				}
			}
		})
	}
}

func TestPlainText(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Sparkle  Fox", "Sparkle Fox"},
		{"<b>Ember</b> Cat", "Ember Cat"},
		{"<script>alert(1)</script>Moss", "Moss"},
		{"  \n\t ", ""},
		{"Fox's den & burrow", "Fox's den & burrow"},
	}
	for _, tt := range tests {
		if got := PlainText(tt.in); got != tt.want {
			t.Errorf("PlainText(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCleanList(t *testing.T) {
	got := CleanList([]string{"Fire breath", "", "fire  breath", "<i>Glide</i>", "Burrow", "Dig"}, 3)
	want := []string{"Fire breath", "Glide", "Burrow"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("CleanList() = %v, want %v", got, want)
	}

	if got := CleanList(nil, 0); len(got) != 0 {
		t.Errorf("CleanList(nil) = %v", got)
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("héllo world", 5); got != "héllo" {
		t.Errorf("Truncate = %q", got)
	}
	if got := Truncate("short", 10); got != "short" {
		t.Errorf("Truncate = %q", got)
	}
}
