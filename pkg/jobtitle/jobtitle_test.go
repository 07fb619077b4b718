package jobtitle

import "testing"

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		title   string
		company string
	}{
		{"at separator", "Product Manager at Acme Corp", "Product Manager", "Acme Corp"},
		{"at separator mixed case", "Engineer AT Stripe", "Engineer", "Stripe"},
		{"ampersat separator", "Designer @ Figma", "Designer", "Figma"},
		{"comma separator", "CTO, Initech", "CTO", "Initech"},
		{"bare company", "Stripe", "", "Stripe"},
		{"bare role", "Software Engineer", "Software Engineer", ""},
		{"bare role single word", "Founder", "Founder", ""},
		{"empty", "", "", ""},
		{"whitespace only", "   ", "", ""},
		{"trailing punctuation role", "Senior Manager.", "Senior Manager.", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.input)
			if got.Title != tt.title || got.Company != tt.company {
				t.Errorf("Parse(%q) = {%q, %q}, want {%q, %q}",
					tt.input, got.Title, got.Company, tt.title, tt.company)
			}
		})
	}
}

func TestParseDeterministic(t *testing.T) {
	a := Parse("Jane Doe at Acme at Beta")
	b := Parse("Jane Doe at Acme at Beta")
	if a != b {
		t.Fatalf("Parse is not deterministic: %v vs %v", a, b)
	}
	if a.Title != "Jane Doe" || a.Company != "Acme at Beta" {
		t.Errorf("first separator should win: got {%q, %q}", a.Title, a.Company)
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		title, company, want string
	}{
		{"Product Manager", "Acme Corp", "Product Manager at Acme Corp"},
		{"Product Manager", "", "Product Manager"},
		{"", "Acme Corp", "Acme Corp"},
		{"", "", ""},
	}

	for _, tt := range tests {
		if got := Format(tt.title, tt.company); got != tt.want {
			t.Errorf("Format(%q, %q) = %q, want %q", tt.title, tt.company, got, tt.want)
		}
	}
}
