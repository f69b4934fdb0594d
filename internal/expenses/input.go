package expenses

import (
	"encoding/json"
	"net/url"
	"strconv"
	"strings"

	"expense-api/internal/models"
)

// NonFieldErrors is the validation key for problems not tied to one field.
const NonFieldErrors = "non_field_errors"

// Input is a create or update payload. Nil fields were absent from the request.
type Input struct {
	Title    *string
	Amount   *models.Money
	Category *models.Category
	Date     *models.Date
	Notes    *string
	// NotesSet distinguishes an explicit null from an absent notes member.
	NotesSet bool
}

// DecodeInput parses a JSON object payload. Unknown members, including any
// attempt to set the owner, are ignored.
func DecodeInput(data []byte) (Input, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil || raw == nil {
		return Input{}, models.NewValidationError(NonFieldErrors, "request body must be a JSON object")
	}

	var (
		in   Input
		verr = &models.ValidationError{}
	)

	if v, ok := raw["title"]; ok {
		var s *string
		if err := json.Unmarshal(v, &s); err != nil {
			verr.Add("title", "not a valid string")
		} else if s == nil {
			verr.Add("title", "this field may not be null")
		} else {
			in.Title = s
		}
	}

	if v, ok := raw["amount"]; ok {
		if isNull(v) {
			verr.Add("amount", "this field may not be null")
		} else {
			var m models.Money
			if err := m.UnmarshalJSON(v); err != nil {
				verr.Add("amount", err.Error())
			} else {
				in.Amount = &m
			}
		}
	}

	if v, ok := raw["category"]; ok {
		var s *string
		switch err := json.Unmarshal(v, &s); {
		case err != nil:
			verr.Add("category", "not a valid string")
		case s == nil:
			verr.Add("category", "this field may not be null")
		default:
			c, err := models.ParseCategory(*s)
			if err != nil {
				verr.Add("category", err.Error())
			} else {
				in.Category = &c
			}
		}
	}

	if v, ok := raw["date"]; ok {
		if isNull(v) {
			verr.Add("date", "this field may not be null")
		} else {
			var d models.Date
			if err := d.UnmarshalJSON(v); err != nil {
				verr.Add("date", err.Error())
			} else {
				in.Date = &d
			}
		}
	}

	if v, ok := raw["notes"]; ok {
		var s *string
		if err := json.Unmarshal(v, &s); err != nil {
			verr.Add("notes", "not a valid string")
		} else {
			in.Notes = s
			in.NotesSet = true
		}
	}

	if err := verr.OrNil(); err != nil {
		return Input{}, err
	}
	return in, nil
}

func isNull(v json.RawMessage) bool {
	return strings.TrimSpace(string(v)) == "null"
}

// requireAll reports every required field missing from the input.
func (in Input) requireAll() error {
	verr := &models.ValidationError{}
	if in.Title == nil {
		verr.Add("title", "this field is required")
	}
	if in.Amount == nil {
		verr.Add("amount", "this field is required")
	}
	if in.Category == nil {
		verr.Add("category", "this field is required")
	}
	if in.Date == nil {
		verr.Add("date", "this field is required")
	}
	return verr.OrNil()
}

// apply copies the present fields onto e.
func (in Input) apply(e *models.Expense) {
	if in.Title != nil {
		e.Title = *in.Title
	}
	if in.Amount != nil {
		e.Amount = *in.Amount
	}
	if in.Category != nil {
		e.Category = *in.Category
	}
	if in.Date != nil {
		e.Date = *in.Date
	}
	if in.NotesSet {
		e.Notes = in.Notes
	}
}

// ParseFilter builds a listing filter from query parameters. Empty values
// are treated as absent.
func ParseFilter(q url.Values) (models.Filter, error) {
	var (
		f    models.Filter
		verr = &models.ValidationError{}
	)

	if v := strings.TrimSpace(q.Get("category")); v != "" {
		c, err := models.ParseCategory(v)
		if err != nil {
			verr.Add("category", "select a valid choice. "+err.Error())
		} else {
			f.Category = &c
		}
	}

	if v := strings.TrimSpace(q.Get("user")); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			verr.Add("user", "enter a whole number")
		} else {
			f.UserID = &id
		}
	}

	for _, p := range []struct {
		name string
		dst  **models.Date
	}{
		{"start_date", &f.StartDate},
		{"end_date", &f.EndDate},
	} {
		v := strings.TrimSpace(q.Get(p.name))
		if v == "" {
			continue
		}
		d, err := models.ParseDate(v)
		if err != nil {
			verr.Add(p.name, "enter a valid date")
			continue
		}
		*p.dst = &d
	}

	f.Ordering = models.ParseOrdering(q.Get("ordering"))

	if err := verr.OrNil(); err != nil {
		return models.Filter{}, err
	}
	return f, nil
}
