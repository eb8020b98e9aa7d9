// Package transfer holds the structured money-transfer domain: the per-session
// transfer state, the reference directory, the tool executor, and the
// clarification resolver.
package transfer

// FieldBeneficiary is the clarification tag used when several contacts match.
const FieldBeneficiary = "beneficiary"

// DefaultCurrency is the source-side currency of every transfer.
const DefaultCurrency = "USD"

// Contact is a beneficiary entry in the reference directory.
type Contact struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Country string `json:"country"`
}

// ClarificationOption is one candidate offered back to the user when a prior
// reference was ambiguous. Value is a stable selector (the contact id).
type ClarificationOption struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Value string `json:"value"`
}

// State tracks the progress of a single transfer request.
type State struct {
	BeneficiaryName      *string               `json:"beneficiary_name"`
	BeneficiaryID        *string               `json:"beneficiary_id"`
	DestinationCountry   *string               `json:"destination_country"`
	Amount               *float64              `json:"amount"`
	Currency             string                `json:"currency"`
	DeliveryMethod       *string               `json:"delivery_method"`
	NeedsClarification   bool                  `json:"needs_clarification"`
	ClarificationOptions []ClarificationOption `json:"clarification_options"`
	LastAskedField       *string               `json:"last_asked_field"`
}

// NewState returns the default state for a fresh session.
func NewState() State {
	return State{
		Currency:             DefaultCurrency,
		ClarificationOptions: []ClarificationOption{},
	}
}

// SelectBeneficiary commits the contact as the beneficiary and drops any
// pending clarification.
func (s *State) SelectBeneficiary(c Contact) {
	s.BeneficiaryName = stringPtr(c.Name)
	s.BeneficiaryID = stringPtr(c.ID)
	s.DestinationCountry = stringPtr(c.Country)
	s.ClearClarification()
}

// AskClarification records that field needs the user to pick one of options.
// An empty option list clears the clarification instead.
func (s *State) AskClarification(field string, options []ClarificationOption) {
	if len(options) == 0 {
		s.ClearClarification()
		return
	}
	s.NeedsClarification = true
	s.ClarificationOptions = append([]ClarificationOption(nil), options...)
	s.LastAskedField = stringPtr(field)
}

// ClearClarification resets every clarification field.
func (s *State) ClearClarification() {
	s.NeedsClarification = false
	s.ClarificationOptions = []ClarificationOption{}
	s.LastAskedField = nil
}

// AskedField returns the clarification tag, or "" when none is pending.
func (s State) AskedField() string {
	if s.LastAskedField == nil {
		return ""
	}
	return *s.LastAskedField
}

// Valid reports whether the clarification fields are mutually consistent.
func (s State) Valid() bool {
	if s.NeedsClarification != (len(s.ClarificationOptions) > 0) {
		return false
	}
	return s.NeedsClarification == (s.LastAskedField != nil)
}

// Clone returns a deep copy.
func (s State) Clone() State {
	out := s
	out.BeneficiaryName = clonePtr(s.BeneficiaryName)
	out.BeneficiaryID = clonePtr(s.BeneficiaryID)
	out.DestinationCountry = clonePtr(s.DestinationCountry)
	out.Amount = clonePtr(s.Amount)
	out.DeliveryMethod = clonePtr(s.DeliveryMethod)
	out.LastAskedField = clonePtr(s.LastAskedField)
	out.ClarificationOptions = append([]ClarificationOption{}, s.ClarificationOptions...)
	return out
}

func stringPtr(v string) *string {
	return &v
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
