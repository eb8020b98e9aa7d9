package transfer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
)

// Tool names exposed to the model.
const (
	ToolSearchContacts         = "search_contacts"
	ToolGetSupportedCountries  = "get_supported_countries"
	ToolCalculateFXRate        = "calculate_fx_rate"
	sourceCurrency             = DefaultCurrency
	destinationAmountPrecision = 100
)

// SchemaType is a JSON-schema primitive type.
type SchemaType string

const (
	TypeObject SchemaType = "object"
	TypeString SchemaType = "string"
	TypeNumber SchemaType = "number"
)

// Schema is the subset of JSON schema used to describe tool parameters.
type Schema struct {
	Type        SchemaType         `json:"type"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Required    []string           `json:"required,omitempty"`
}

// ToolDescriptor is one entry of the catalog handed to the model.
type ToolDescriptor struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Parameters  *Schema `json:"parameters"`
}

// Catalog returns the tool declarations in a fixed order.
func Catalog() []ToolDescriptor {
	return []ToolDescriptor{
		{
			Name:        ToolSearchContacts,
			Description: "Search for a beneficiary by name in the contact list. Returns contact details or multiple matches requiring clarification.",
			Parameters: &Schema{
				Type: TypeObject,
				Properties: map[string]*Schema{
					"query": {Type: TypeString, Description: "The name or partial name of the beneficiary to search for"},
				},
				Required: []string{"query"},
			},
		},
		{
			Name:        ToolGetSupportedCountries,
			Description: "Get the list of countries where money transfers are supported.",
			Parameters: &Schema{
				Type:       TypeObject,
				Properties: map[string]*Schema{},
			},
		},
		{
			Name:        ToolCalculateFXRate,
			Description: "Calculate the foreign exchange rate and converted amount for a transfer to a specific country.",
			Parameters: &Schema{
				Type: TypeObject,
				Properties: map[string]*Schema{
					"amount":  {Type: TypeNumber, Description: "The amount in USD to convert"},
					"country": {Type: TypeString, Description: "The destination country for the transfer"},
				},
				Required: []string{"amount", "country"},
			},
		},
	}
}

// Result is the outcome of a tool invocation. Every variant renders to the
// payload shape the model expects.
type Result interface {
	Tool() string
	Payload() map[string]any
}

// SearchOutcome distinguishes the three contact search variants.
type SearchOutcome int

const (
	SearchNoMatch SearchOutcome = iota
	SearchSingle
	SearchMultiple
)

// SearchResult is returned by search_contacts.
type SearchResult struct {
	Query   string
	Outcome SearchOutcome
	Contact Contact
	Matches []Contact
}

func (SearchResult) Tool() string { return ToolSearchContacts }

// Message is the user-facing prompt attached to no-match and multiple results.
func (r SearchResult) Message() string {
	switch r.Outcome {
	case SearchNoMatch:
		return fmt.Sprintf("No beneficiary found with name '%s'. Please try another name or provide beneficiary details.", r.Query)
	case SearchMultiple:
		return fmt.Sprintf("Found %d beneficiaries named '%s'. Please select one.", len(r.Matches), r.Query)
	default:
		return ""
	}
}

// Options projects multiple matches into clarification options.
func (r SearchResult) Options() []ClarificationOption {
	options := make([]ClarificationOption, 0, len(r.Matches))
	for _, c := range r.Matches {
		options = append(options, ClarificationOption{
			ID:    c.ID,
			Label: fmt.Sprintf("%s - %s", c.Name, c.Country),
			Value: c.ID,
		})
	}
	return options
}

func (r SearchResult) Payload() map[string]any {
	switch r.Outcome {
	case SearchSingle:
		return map[string]any{
			"found":   true,
			"single":  true,
			"contact": contactPayload(r.Contact),
		}
	case SearchMultiple:
		matches := make([]any, 0, len(r.Matches))
		for _, c := range r.Matches {
			matches = append(matches, contactPayload(c))
		}
		return map[string]any{
			"found":    true,
			"single":   false,
			"multiple": true,
			"matches":  matches,
			"message":  r.Message(),
		}
	default:
		return map[string]any{
			"found":   false,
			"message": r.Message(),
		}
	}
}

// CountriesResult is returned by get_supported_countries.
type CountriesResult struct {
	Countries []string
}

func (CountriesResult) Tool() string { return ToolGetSupportedCountries }

func (r CountriesResult) Payload() map[string]any {
	countries := make([]any, 0, len(r.Countries))
	for _, c := range r.Countries {
		countries = append(countries, c)
	}
	return map[string]any{
		"countries": countries,
		"count":     len(r.Countries),
	}
}

// QuoteResult is a successful calculate_fx_rate result.
type QuoteResult struct {
	SourceAmount        float64
	SourceCurrency      string
	DestinationCurrency string
	ExchangeRate        float64
	DestinationAmount   float64
	Country             string
}

func (QuoteResult) Tool() string { return ToolCalculateFXRate }

func (r QuoteResult) Payload() map[string]any {
	return map[string]any{
		"success":              true,
		"source_amount":        r.SourceAmount,
		"source_currency":      r.SourceCurrency,
		"destination_currency": r.DestinationCurrency,
		"exchange_rate":        r.ExchangeRate,
		"destination_amount":   r.DestinationAmount,
		"country":              r.Country,
	}
}

// ToolError is an error-shaped result. It is data for the model to narrate,
// not a Go error.
type ToolError struct {
	Name    string
	Message string
	Unknown bool
}

func (e ToolError) Tool() string { return e.Name }

func (e ToolError) Payload() map[string]any {
	if e.Unknown {
		return map[string]any{"error": e.Message}
	}
	return map[string]any{
		"error":   true,
		"message": e.Message,
	}
}

// Executor dispatches tool calls against a Directory.
type Executor struct {
	dir *Directory
}

// NewExecutor builds an executor; a nil directory uses DefaultDirectory.
func NewExecutor(dir *Directory) *Executor {
	if dir == nil {
		dir = DefaultDirectory()
	}
	return &Executor{dir: dir}
}

// Directory exposes the reference data backing the executor.
func (e *Executor) Directory() *Directory {
	return e.dir
}

// Execute runs the named tool. It never returns an error and never panics;
// failures come back as ToolError results.
func (e *Executor) Execute(ctx context.Context, name string, args map[string]any) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			result = ToolError{Name: name, Message: fmt.Sprintf("tool %s failed: %v", name, r)}
		}
	}()
	if err := ctx.Err(); err != nil {
		return ToolError{Name: name, Message: fmt.Sprintf("tool %s cancelled: %v", name, err)}
	}

	switch name {
	case ToolSearchContacts:
		query, err := stringArg(args, "query")
		if err != nil {
			return ToolError{Name: name, Message: err.Error()}
		}
		return e.SearchContacts(query)
	case ToolGetSupportedCountries:
		return e.SupportedCountries()
	case ToolCalculateFXRate:
		amount, err := numberArg(args, "amount")
		if err != nil {
			return ToolError{Name: name, Message: err.Error()}
		}
		country, err := stringArg(args, "country")
		if err != nil {
			return ToolError{Name: name, Message: err.Error()}
		}
		return e.CalculateFXRate(amount, country)
	default:
		return ToolError{Name: name, Message: "Unknown tool: " + name, Unknown: true}
	}
}

// SearchContacts matches query against contact names.
func (e *Executor) SearchContacts(query string) SearchResult {
	matches := e.dir.SearchContacts(query)
	switch len(matches) {
	case 0:
		return SearchResult{Query: query, Outcome: SearchNoMatch}
	case 1:
		return SearchResult{Query: query, Outcome: SearchSingle, Contact: matches[0], Matches: matches}
	default:
		return SearchResult{Query: query, Outcome: SearchMultiple, Matches: matches}
	}
}

// SupportedCountries lists every destination.
func (e *Executor) SupportedCountries() CountriesResult {
	return CountriesResult{Countries: append([]string(nil), e.dir.Countries...)}
}

// CalculateFXRate converts a USD amount for country.
func (e *Executor) CalculateFXRate(amount float64, country string) Result {
	rate, ok := e.dir.Rates[country]
	if !ok {
		return ToolError{
			Name:    ToolCalculateFXRate,
			Message: fmt.Sprintf("Exchange rate not available for %s. Please check supported countries.", country),
		}
	}
	converted, err := RoundHalfUp2(amount, rate.Rate)
	if err != nil {
		return ToolError{Name: ToolCalculateFXRate, Message: err.Error()}
	}
	return QuoteResult{
		SourceAmount:        amount,
		SourceCurrency:      sourceCurrency,
		DestinationCurrency: rate.Currency,
		ExchangeRate:        rate.Rate,
		DestinationAmount:   converted,
		Country:             country,
	}
}

var errAmountOutOfRange = errors.New("amount out of range")

// RoundHalfUp2 multiplies amount by rate in exact decimal arithmetic and
// rounds half away from zero to two decimal places.
func RoundHalfUp2(amount, rate float64) (float64, error) {
	a, ok := new(big.Rat).SetString(strconv.FormatFloat(amount, 'f', -1, 64))
	if !ok {
		return 0, fmt.Errorf("invalid amount %v", amount)
	}
	r, ok := new(big.Rat).SetString(strconv.FormatFloat(rate, 'f', -1, 64))
	if !ok {
		return 0, fmt.Errorf("invalid rate %v", rate)
	}
	scaled := new(big.Rat).Mul(a, r)
	scaled.Mul(scaled, big.NewRat(destinationAmountPrecision, 1))

	abs := new(big.Rat).Abs(scaled)
	abs.Add(abs, big.NewRat(1, 2))
	cents := new(big.Int).Quo(abs.Num(), abs.Denom())
	if scaled.Sign() < 0 {
		cents.Neg(cents)
	}
	out, _ := new(big.Rat).SetFrac(cents, big.NewInt(destinationAmountPrecision)).Float64()
	if math.IsInf(out, 0) || math.IsNaN(out) {
		return 0, errAmountOutOfRange
	}
	return out, nil
}

func contactPayload(c Contact) map[string]any {
	return map[string]any{
		"id":      c.ID,
		"name":    c.Name,
		"country": c.Country,
	}
}

// stringArg reads an optional string argument; absent means "".
func stringArg(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("invalid argument %q: expected a string", key)
	}
	return s, nil
}

// numberArg reads an optional numeric argument; absent means 0.
func numberArg(args map[string]any, key string) (float64, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return 0, nil
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid argument %q: expected a number", key)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("invalid argument %q: expected a number", key)
	}
}
