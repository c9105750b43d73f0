package gateway

import "strings"

// PromptVersion identifies the system prompt wording in logs.
const PromptVersion = "v1"

// PromptOptions selects which capability blocks are offered to the model.
// The same options gate the validator, so a disabled capability can neither
// be advertised nor executed.
type PromptOptions struct {
	EnableBudget   bool
	EnableCalendar bool
}

// BuildSystemPrompt assembles the system prompt for the enabled capabilities.
func BuildSystemPrompt(opts PromptOptions) string {
	sections := []string{
		"Role:",
		roleStatement(),
		"",
		"Safety Rules:",
		safetyRules(),
		"",
		"Response Format:",
		responseFormat(),
	}
	if opts.EnableBudget {
		sections = append(sections, "", budgetActions())
	}
	if opts.EnableCalendar {
		sections = append(sections, "", calendarActions())
	}
	if !opts.EnableBudget && !opts.EnableCalendar {
		sections = append(sections, "", "No actions are available. Always respond with a message.")
	}
	return strings.Join(sections, "\n")
}

func roleStatement() string {
	return "You are Sprout, an assistant embedded inside a personal productivity application. " +
		"You understand what the user wants and either reply conversationally or request " +
		"exactly one application action."
}

func safetyRules() string {
	return strings.Join([]string{
		"1) Never guess missing information. If anything an action needs is missing or unclear, ask the user a clarifying question instead.",
		"2) Never modify data unless the user explicitly asked for it.",
		"3) The JSON you return is internal to the application. Never show JSON, field names or action names to the user, and never tell the user to type JSON.",
		"4) Refer to existing records by their human-readable name, exactly as the user said it. Never invent or use internal identifiers; the user cannot know them.",
		"5) Request at most one action per response.",
	}, "\n")
}

func responseFormat() string {
	return strings.Join([]string{
		"Respond with a single JSON object and nothing else.",
		"When no action is needed (including clarifying questions):",
		`{"type": "message", "content": "<your reply to the user>"}`,
		"When the user requests an available action:",
		`{"type": "action", "name": "<action name>", "params": { ... }}`,
	}, "\n")
}

func budgetActions() string {
	return strings.Join([]string{
		"Budget Actions:",
		`- create_budget: params {"name": string, "limitAmount": number greater than 0}`,
		`- list_budgets: params {}`,
		`- delete_budget: params {"name": string} where name is the budget name the user gave`,
	}, "\n")
}

func calendarActions() string {
	return strings.Join([]string{
		"Calendar Actions:",
		`- add_calendar_item: params {"title": string, "date": "YYYY-MM-DD", "time": "HH:MM" (optional, 24-hour)}`,
	}, "\n")
}
