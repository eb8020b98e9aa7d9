package transfer

import "strings"

const labelSeparator = " - "

// MatchOption returns the option the message selects. The first option whose
// value appears verbatim in the message, or whose label appears in it
// case-insensitively, wins. Failing that, a message equal to a whole
// " - "-separated segment of exactly one label (such as a bare country name)
// selects that option.
func MatchOption(message string, options []ClarificationOption) (ClarificationOption, bool) {
	lowered := strings.ToLower(message)
	for _, opt := range options {
		if strings.Contains(message, opt.Value) || strings.Contains(lowered, strings.ToLower(opt.Label)) {
			return opt, true
		}
	}

	fragment := strings.TrimSpace(lowered)
	if fragment == "" {
		return ClarificationOption{}, false
	}
	var (
		hit   ClarificationOption
		count int
	)
	for _, opt := range options {
		if hasLabelSegment(opt.Label, fragment) {
			hit = opt
			count++
		}
	}
	if count == 1 {
		return hit, true
	}
	return ClarificationOption{}, false
}

func hasLabelSegment(label, fragment string) bool {
	for _, seg := range strings.Split(strings.ToLower(label), labelSeparator) {
		if strings.TrimSpace(seg) == fragment {
			return true
		}
	}
	return false
}

// Resolver commits a user's answer to a pending clarification before the
// model sees the message.
type Resolver struct {
	dir *Directory
}

// NewResolver builds a resolver; a nil directory uses DefaultDirectory.
func NewResolver(dir *Directory) *Resolver {
	if dir == nil {
		dir = DefaultDirectory()
	}
	return &Resolver{dir: dir}
}

// Resolve applies message to state and reports whether an option matched.
// Without a match state is untouched.
func (r *Resolver) Resolve(state *State, message string) bool {
	if state == nil || !state.NeedsClarification {
		return false
	}
	opt, ok := MatchOption(message, state.ClarificationOptions)
	if !ok {
		return false
	}
	if state.AskedField() == FieldBeneficiary {
		if c, found := r.dir.ContactByID(opt.Value); found {
			state.BeneficiaryName = stringPtr(c.Name)
			state.BeneficiaryID = stringPtr(c.ID)
			state.DestinationCountry = stringPtr(c.Country)
		}
	}
	state.ClearClarification()
	return true
}
