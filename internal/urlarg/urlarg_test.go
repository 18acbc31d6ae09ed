package urlarg

import (
	"reflect"
	"testing"
)

func TestIsURL(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"https://issues.example.com/repositories/10/issues/42", true},
		{"https://issues.example.com/issues/42", true},
		{"http://localhost:3000/api/repositories/10", true},
		{"https://issues.example.com/users/5", false},
		{"https://issues.example.com/issues/abc", false},
		{"123", false},
		{"#42", false},
		{"issues/42", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := IsURL(tt.input); got != tt.want {
				t.Errorf("IsURL(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  *Parsed
	}{
		{
			name:  "issue in repository",
			input: "https://issues.example.com/repositories/10/issues/42",
			want:  &Parsed{Host: "issues.example.com", RepositoryID: "10", IssueID: "42"},
		},
		{
			name:  "API issue URL with prefix",
			input: "https://api.example.com/v1/issues/42",
			want:  &Parsed{Host: "api.example.com", IssueID: "42"},
		},
		{
			name:  "repository issue listing",
			input: "https://issues.example.com/repositories/10/issues/",
			want:  &Parsed{Host: "issues.example.com", RepositoryID: "10"},
		},
		{
			name:  "short repos segment with query and fragment",
			input: "http://localhost:3000/repos/7?tab=open#top",
			want:  &Parsed{Host: "localhost:3000", RepositoryID: "7"},
		},
		{
			name:  "zero ID is not an ID",
			input: "https://issues.example.com/issues/0",
			want:  nil,
		},
		{
			name:  "not a URL",
			input: "42",
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.input)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Parse(%q) = %+v, want %+v", tt.input, got, tt.want)
			}
		})
	}
}

func TestExtractID(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"https://issues.example.com/repositories/10/issues/42", "42"},
		{"https://issues.example.com/repositories/10", "https://issues.example.com/repositories/10"},
		{"42", "42"},
		{"#42", "#42"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ExtractID(tt.input); got != tt.want {
				t.Errorf("ExtractID(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestExtractRepositoryID(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"https://issues.example.com/repositories/10/issues/42", "10"},
		{"https://issues.example.com/repositories/10", "10"},
		{"https://issues.example.com/issues/42", "https://issues.example.com/issues/42"},
		{"10", "10"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ExtractRepositoryID(tt.input); got != tt.want {
				t.Errorf("ExtractRepositoryID(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestExtractIDs(t *testing.T) {
	got := ExtractIDs([]string{"1", "https://issues.example.com/issues/2", "#3"})
	want := []string{"1", "2", "#3"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ExtractIDs = %v, want %v", got, want)
	}
}
