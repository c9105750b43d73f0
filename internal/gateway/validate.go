package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ActionName is the closed set of actions the model may request.
type ActionName string

const (
	ActionCreateBudget    ActionName = "create_budget"
	ActionDeleteBudget    ActionName = "delete_budget"
	ActionListBudgets     ActionName = "list_budgets"
	ActionAddCalendarItem ActionName = "add_calendar_item"
)

// ValidatedAction is implemented only by the action types in this file, so
// the executor's type switch covers every variant.
type ValidatedAction interface {
	Name() ActionName
	isValidated()
}

type CreateBudget struct {
	BudgetName  string
	LimitAmount float64
}

// DeleteBudget targets a budget by id, by name, or both. At least one is set.
type DeleteBudget struct {
	BudgetID   string
	BudgetName string
}

type ListBudgets struct{}

type AddCalendarItem struct {
	Title string
	Date  string // YYYY-MM-DD
	Time  string // HH:MM or empty
}

func (CreateBudget) Name() ActionName    { return ActionCreateBudget }
func (DeleteBudget) Name() ActionName    { return ActionDeleteBudget }
func (ListBudgets) Name() ActionName     { return ActionListBudgets }
func (AddCalendarItem) Name() ActionName { return ActionAddCalendarItem }

func (CreateBudget) isValidated()    {}
func (DeleteBudget) isValidated()    {}
func (ListBudgets) isValidated()     {}
func (AddCalendarItem) isValidated() {}

// ValidationTag names a specific validation failure. Each tag has its own
// clarifying reply.
type ValidationTag string

const (
	TagUnknownAction ValidationTag = "unknown_action"
	TagInvalidParams ValidationTag = "invalid_params"
	TagInvalidName   ValidationTag = "invalid_name"
	TagInvalidAmount ValidationTag = "invalid_amount"
	TagMissingTarget ValidationTag = "missing_target"
	TagInvalidTarget ValidationTag = "invalid_target"
	TagInvalidTitle  ValidationTag = "invalid_title"
	TagInvalidDate   ValidationTag = "invalid_date"
	TagInvalidTime   ValidationTag = "invalid_time"
)

type ValidationError struct {
	Tag    ValidationTag
	Action ActionName
	Field  string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("gateway: validate %s: %s", e.Action, e.Tag)
	}
	return fmt.Sprintf("gateway: validate %s: %s (%s)", e.Action, e.Tag, e.Field)
}

func invalid(action ActionName, tag ValidationTag, field string) *ValidationError {
	return &ValidationError{Tag: tag, Action: action, Field: field}
}

type actionSchema struct {
	feature  func(PromptOptions) bool
	validate func(params map[string]json.RawMessage) (ValidatedAction, *ValidationError)
}

var actionSchemas = map[ActionName]actionSchema{
	ActionCreateBudget: {
		feature:  func(o PromptOptions) bool { return o.EnableBudget },
		validate: validateCreateBudget,
	},
	ActionDeleteBudget: {
		feature:  func(o PromptOptions) bool { return o.EnableBudget },
		validate: validateDeleteBudget,
	},
	ActionListBudgets: {
		feature:  func(o PromptOptions) bool { return o.EnableBudget },
		validate: func(map[string]json.RawMessage) (ValidatedAction, *ValidationError) { return ListBudgets{}, nil },
	},
	ActionAddCalendarItem: {
		feature:  func(o PromptOptions) bool { return o.EnableCalendar },
		validate: validateAddCalendarItem,
	},
}

// Validator checks action envelopes against the schema of each enabled action.
type Validator struct {
	features PromptOptions
}

func NewValidator(features PromptOptions) *Validator {
	return &Validator{features: features}
}

// Validate returns a typed action or a *ValidationError. Actions whose
// feature is disabled are reported as unknown.
func (v *Validator) Validate(env ActionEnvelope) (ValidatedAction, error) {
	name := ActionName(env.Name)
	schema, ok := actionSchemas[name]
	if !ok || !schema.feature(v.features) {
		return nil, invalid(name, TagUnknownAction, "")
	}
	params, verr := decodeParams(env.Params)
	if verr != nil {
		verr.Action = name
		return nil, verr
	}
	action, verr := schema.validate(params)
	if verr != nil {
		return nil, verr
	}
	return action, nil
}

func decodeParams(raw json.RawMessage) (map[string]json.RawMessage, *ValidationError) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return map[string]json.RawMessage{}, nil
	}
	var params map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &params); err != nil {
		return nil, &ValidationError{Tag: TagInvalidParams}
	}
	return params, nil
}

func validateCreateBudget(p map[string]json.RawMessage) (ValidatedAction, *ValidationError) {
	name, ok := stringParam(p, "name")
	if !ok || name == "" {
		return nil, invalid(ActionCreateBudget, TagInvalidName, "name")
	}
	amount, ok := numberParam(p, "limitAmount")
	if !ok || amount <= 0 {
		return nil, invalid(ActionCreateBudget, TagInvalidAmount, "limitAmount")
	}
	return CreateBudget{BudgetName: name, LimitAmount: amount}, nil
}

func validateDeleteBudget(p map[string]json.RawMessage) (ValidatedAction, *ValidationError) {
	id, idOK, idPresent := optionalString(p, "budgetId")
	name, nameOK, namePresent := optionalString(p, "name")
	if (idPresent && !idOK) || (namePresent && !nameOK) {
		return nil, invalid(ActionDeleteBudget, TagInvalidTarget, "")
	}
	if id == "" && name == "" {
		return nil, invalid(ActionDeleteBudget, TagMissingTarget, "")
	}
	return DeleteBudget{BudgetID: id, BudgetName: name}, nil
}

func validateAddCalendarItem(p map[string]json.RawMessage) (ValidatedAction, *ValidationError) {
	title, ok := stringParam(p, "title")
	if !ok || title == "" {
		return nil, invalid(ActionAddCalendarItem, TagInvalidTitle, "title")
	}
	date, ok := stringParam(p, "date")
	if !ok {
		return nil, invalid(ActionAddCalendarItem, TagInvalidDate, "date")
	}
	if _, err := time.Parse(time.DateOnly, date); err != nil {
		return nil, invalid(ActionAddCalendarItem, TagInvalidDate, "date")
	}
	clock, ok, present := optionalString(p, "time")
	if present && !ok {
		return nil, invalid(ActionAddCalendarItem, TagInvalidTime, "time")
	}
	if clock != "" {
		if _, err := time.Parse("15:04", clock); err != nil {
			return nil, invalid(ActionAddCalendarItem, TagInvalidTime, "time")
		}
	}
	return AddCalendarItem{Title: title, Date: date, Time: clock}, nil
}

// stringParam returns the trimmed string value of key; ok is false when the
// key is absent or not a string.
func stringParam(p map[string]json.RawMessage, key string) (string, bool) {
	s, ok, _ := optionalString(p, key)
	return s, ok
}

// optionalString reports the trimmed value, whether it is a usable string,
// and whether the key was present with a non-null value.
func optionalString(p map[string]json.RawMessage, key string) (string, bool, bool) {
	raw, present := p[key]
	if !present || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return "", false, false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false, true
	}
	return strings.TrimSpace(s), true, true
}

func numberParam(p map[string]json.RawMessage, key string) (float64, bool) {
	raw, present := p[key]
	if !present {
		return 0, false
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return 0, false
	}
	n, ok := v.(json.Number)
	if !ok {
		return 0, false
	}
	f, err := n.Float64()
	if err != nil {
		return 0, false
	}
	return f, true
}
