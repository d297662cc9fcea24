package drivers

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultProfileIsValid(t *testing.T) {
	if err := DefaultProfile().Validate(); err != nil {
		t.Errorf("default profile should validate, got: %v", err)
	}
}

func TestLoadProfile(t *testing.T) {
	content := `name: testcounty
search_url: "https://records.example.test/search"
selectors:
  disclaimer_button: "#agree"
  number_input: "#num"
  street_input: "#street"
  directional_select: "#dir"
  search_button: "#go"
  result_link: ".result"
  record_heading: "#heading"
  section_heading: ".label"
  section_data: ".value"
  next_record: "#next"
`
	dir := t.TempDir()
	path := filepath.Join(dir, "profile.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	p, err := LoadProfile(path)
	if err != nil {
		t.Fatalf("LoadProfile: %v", err)
	}
	if p.Name != "testcounty" {
		t.Errorf("name = %q, want testcounty", p.Name)
	}
	if p.SearchURL != "https://records.example.test/search" {
		t.Errorf("search_url = %q", p.SearchURL)
	}
	if p.Selectors.StreetInput != "#street" {
		t.Errorf("street_input = %q, want #street", p.Selectors.StreetInput)
	}
	if p.Selectors.NextRecord != "#next" {
		t.Errorf("next_record = %q, want #next", p.Selectors.NextRecord)
	}
}

func TestLoadProfileMissingRequiredSelector(t *testing.T) {
	content := `name: broken
search_url: "https://records.example.test/search"
selectors:
  search_button: "#go"
  record_heading: "#heading"
`
	dir := t.TempDir()
	path := filepath.Join(dir, "profile.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadProfile(path); err == nil {
		t.Error("expected validation error for missing street_input")
	}
}

func TestLoadProfileMissingFile(t *testing.T) {
	if _, err := LoadProfile("/nonexistent/profile.yaml"); err == nil {
		t.Error("expected error for missing file")
	}
}
