// Package records defines the property-record domain model shared by the
// scrape drivers, the task scheduler, and the HTTP gateway.
package records

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MaxResults is the hard ceiling on records per scrape. Requests asking for
// more are clamped, not rejected.
const MaxResults = 10

// Page names a county-site record page that can be scraped for a result.
const (
	PageParcel      = "Parcel"
	PageOwner       = "Owner"
	PageMultiOwner  = "Multi-Owner"
	PageResidential = "Residential"
	PageLand        = "Land"
	PageValues      = "Values"
	PageHomestead   = "Homestead"
	PageSales       = "Sales"
)

// AllPages lists every scrapable page in site order.
var AllPages = []string{
	PageParcel,
	PageOwner,
	PageMultiOwner,
	PageResidential,
	PageLand,
	PageValues,
	PageHomestead,
	PageSales,
}

// ValidPage reports whether name is a member of the page enumeration.
func ValidPage(name string) bool {
	for _, p := range AllPages {
		if p == name {
			return true
		}
	}
	return false
}

// ErrInvalidQuery marks query validation failures. Callers match it with
// errors.Is to map onto a 400 response.
var ErrInvalidQuery = errors.New("invalid scrape query")

// Address is a street address search key. Its JSON form is the 3-element
// array [number, street, directional] used by the scrape API.
type Address struct {
	Number      int
	Street      string
	Directional string
}

// MarshalJSON encodes the address as [number, street, directional].
func (a Address) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{a.Number, a.Street, a.Directional})
}

// UnmarshalJSON decodes the [number, street, directional] array form,
// rejecting wrong lengths and element types.
func (a *Address) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("address must be an array: %w", err)
	}
	if len(raw) != 3 {
		return fmt.Errorf("address must have exactly 3 elements, got %d", len(raw))
	}
	if err := json.Unmarshal(raw[0], &a.Number); err != nil {
		return fmt.Errorf("address[0] must be an integer: %w", err)
	}
	if err := json.Unmarshal(raw[1], &a.Street); err != nil {
		return fmt.Errorf("address[1] must be a string: %w", err)
	}
	if err := json.Unmarshal(raw[2], &a.Directional); err != nil {
		return fmt.Errorf("address[2] must be a string: %w", err)
	}
	return nil
}

// String renders the address the way the county search form expects it.
func (a Address) String() string {
	if a.Directional == "" {
		return fmt.Sprintf("%d %s", a.Number, a.Street)
	}
	return fmt.Sprintf("%d %s %s", a.Number, a.Street, a.Directional)
}

// Query is the immutable input of one scrape task.
type Query struct {
	Address    Address  `json:"address"`
	Pages      []string `json:"pages"`
	NumResults int      `json:"num_results"`
}

// Validate checks the query against the domain rules and clamps NumResults
// to MaxResults. It mutates the receiver only for the clamp.
func (q *Query) Validate() error {
	if q.Address.Number < 0 {
		return fmt.Errorf("%w: address number must be >= 0, got %d", ErrInvalidQuery, q.Address.Number)
	}
	for _, p := range q.Pages {
		if !ValidPage(p) {
			return fmt.Errorf("%w: unknown page %q", ErrInvalidQuery, p)
		}
	}
	if q.NumResults <= 0 {
		return fmt.Errorf("%w: num_results must be a positive integer, got %d", ErrInvalidQuery, q.NumResults)
	}
	if q.NumResults > MaxResults {
		q.NumResults = MaxResults
	}
	return nil
}

// PageData holds the scraped label/value tables, one field per page.
// Only the pages requested by the query are populated.
type PageData struct {
	Parcel      map[string]string `json:"parcel,omitempty"`
	Owner       map[string]string `json:"owner,omitempty"`
	MultiOwner  map[string]string `json:"multi_owner,omitempty"`
	Residential map[string]string `json:"residential,omitempty"`
	Land        map[string]string `json:"land,omitempty"`
	Values      map[string]string `json:"values,omitempty"`
	Homestead   map[string]string `json:"homestead,omitempty"`
	Sales       map[string]string `json:"sales,omitempty"`
}

// Set stores data under the field matching the given page name.
// Unknown names are ignored; validation happens before scraping.
func (p *PageData) Set(page string, data map[string]string) {
	switch page {
	case PageParcel:
		p.Parcel = data
	case PageOwner:
		p.Owner = data
	case PageMultiOwner:
		p.MultiOwner = data
	case PageResidential:
		p.Residential = data
	case PageLand:
		p.Land = data
	case PageValues:
		p.Values = data
	case PageHomestead:
		p.Homestead = data
	case PageSales:
		p.Sales = data
	}
}

// Get returns the stored data for a page name, or nil.
func (p *PageData) Get(page string) map[string]string {
	switch page {
	case PageParcel:
		return p.Parcel
	case PageOwner:
		return p.Owner
	case PageMultiOwner:
		return p.MultiOwner
	case PageResidential:
		return p.Residential
	case PageLand:
		return p.Land
	case PageValues:
		return p.Values
	case PageHomestead:
		return p.Homestead
	case PageSales:
		return p.Sales
	}
	return nil
}

// Record is one scraped property record: the result heading shown in the
// county search results plus the page tables pulled for it.
type Record struct {
	Heading  string   `json:"heading"`
	PageData PageData `json:"page_data"`
}
