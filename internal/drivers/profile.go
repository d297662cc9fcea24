package drivers

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Profile describes one county records site: the search entry point and the
// selectors the driver needs to work the form and the record pages. Record
// page tabs are located by their visible label, so they need no selectors.
type Profile struct {
	Name      string    `yaml:"name"`
	SearchURL string    `yaml:"search_url"`
	Selectors Selectors `yaml:"selectors"`
}

// Selectors holds the CSS selectors for the search and scrape flow.
type Selectors struct {
	DisclaimerButton  string `yaml:"disclaimer_button"` // optional interstitial
	NumberInput       string `yaml:"number_input"`
	StreetInput       string `yaml:"street_input"`
	DirectionalSelect string `yaml:"directional_select"`
	SearchButton      string `yaml:"search_button"`
	ResultLink        string `yaml:"result_link"`    // first link in a result list
	ResultsBanner     string `yaml:"results_banner"` // present on list pages only
	RecordHeading     string `yaml:"record_heading"`
	SectionHeading    string `yaml:"section_heading"` // label cells in page tables
	SectionData       string `yaml:"section_data"`    // value cells in page tables
	NextRecord        string `yaml:"next_record"`     // advance to the next result
}

// DefaultProfile matches the county site the service was built against.
func DefaultProfile() Profile {
	return Profile{
		Name:      "ncpub",
		SearchURL: "https://www.ncpub.org/_web/Search/Disclaimer.aspx?FromUrl=../search/commonsearch.aspx?mode=address",
		Selectors: Selectors{
			DisclaimerButton:  "#btAgree",
			NumberInput:       "#inpNumber",
			StreetInput:       "#inpStreet",
			DirectionalSelect: "#Select1",
			SearchButton:      "#btSearch",
			ResultLink:        ".SearchResults",
			ResultsBanner:     ".BannerTabsTextSelected",
			RecordHeading:     "#datalet_header_row",
			SectionHeading:    ".DataletSideHeading",
			SectionData:       ".DataletData",
			NextRecord:        "#DTLNavigator_imageNext",
		},
	}
}

// LoadProfile reads a site profile from a YAML file.
func LoadProfile(path string) (Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("read profile: %w", err)
	}
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Profile{}, fmt.Errorf("parse profile: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// Validate checks that the selectors the search flow cannot work without are
// present.
func (p Profile) Validate() error {
	if p.SearchURL == "" {
		return fmt.Errorf("profile %q: search_url is required", p.Name)
	}
	if p.Selectors.StreetInput == "" {
		return fmt.Errorf("profile %q: selectors.street_input is required", p.Name)
	}
	if p.Selectors.SearchButton == "" {
		return fmt.Errorf("profile %q: selectors.search_button is required", p.Name)
	}
	if p.Selectors.RecordHeading == "" {
		return fmt.Errorf("profile %q: selectors.record_heading is required", p.Name)
	}
	return nil
}
