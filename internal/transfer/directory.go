package transfer

import "strings"

// Rate is the USD conversion multiplier for a destination country.
type Rate struct {
	Rate     float64
	Currency string
}

// Directory is the static reference data the tools operate on.
type Directory struct {
	Contacts  []Contact
	Countries []string
	Rates     map[string]Rate
}

// DefaultDirectory returns the built-in contact list, destinations and rates.
func DefaultDirectory() *Directory {
	return &Directory{
		Contacts: []Contact{
			{ID: "B001", Name: "John Smith", Country: "Brazil"},
			{ID: "B002", Name: "John Smith", Country: "Mexico"},
			{ID: "B003", Name: "Maria Garcia", Country: "Spain"},
			{ID: "B004", Name: "Carlos Rodriguez", Country: "Argentina"},
			{ID: "B005", Name: "Ana Silva", Country: "Portugal"},
		},
		Countries: []string{
			"Brazil", "Mexico", "Spain", "Argentina", "Portugal",
			"United Kingdom", "Canada", "India", "Philippines", "Colombia",
		},
		Rates: map[string]Rate{
			"Brazil":         {Rate: 5.25, Currency: "BRL"},
			"Mexico":         {Rate: 18.50, Currency: "MXN"},
			"Spain":          {Rate: 0.92, Currency: "EUR"},
			"Argentina":      {Rate: 350.00, Currency: "ARS"},
			"Portugal":       {Rate: 0.92, Currency: "EUR"},
			"United Kingdom": {Rate: 0.79, Currency: "GBP"},
			"Canada":         {Rate: 1.35, Currency: "CAD"},
			"India":          {Rate: 83.20, Currency: "INR"},
			"Philippines":    {Rate: 56.50, Currency: "PHP"},
			"Colombia":       {Rate: 4100.00, Currency: "COP"},
		},
	}
}

// ContactByID returns the contact with the exact id.
func (d *Directory) ContactByID(id string) (Contact, bool) {
	for _, c := range d.Contacts {
		if c.ID == id {
			return c, true
		}
	}
	return Contact{}, false
}

// SearchContacts returns every contact whose name contains query,
// case-insensitively, in table order.
func (d *Directory) SearchContacts(query string) []Contact {
	q := strings.ToLower(query)
	var matches []Contact
	for _, c := range d.Contacts {
		if strings.Contains(strings.ToLower(c.Name), q) {
			matches = append(matches, c)
		}
	}
	return matches
}
