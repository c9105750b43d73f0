package gateway

import (
	"fmt"
	"strconv"
	"strings"

	"sprout-agent/internal/domain"
)

const (
	genericFailureReply = "Sorry, something went wrong on my side. Please try again in a moment."
	unrecognizedReply   = "I'm not sure how to help with that. Could you rephrase what you'd like to do?"
	messageTooLongReply = "That message is too long for me to handle. Could you shorten it and try again?"
	moderationReply     = "I can't help with that request. Is there something else you'd like to do with your budgets?"
)

// clarifyingReply maps each validation tag to a user-facing question. No
// reply mentions JSON, field names or ids.
func clarifyingReply(verr *ValidationError) string {
	switch verr.Tag {
	case TagInvalidName:
		return "What would you like to call this budget?"
	case TagInvalidAmount:
		return "What spending limit should this budget have? Please give an amount greater than zero."
	case TagMissingTarget, TagInvalidTarget:
		return "Which budget would you like to delete? Please tell me its name."
	case TagInvalidTitle:
		return "What should the calendar entry be called?"
	case TagInvalidDate:
		return "Which date should I add it on? Please give a specific day."
	case TagInvalidTime:
		return "What time should it start? For example 09:30 or 14:00."
	case TagUnknownAction:
		return "I can't do that here yet. Is there something else I can help you with?"
	default:
		return "I didn't quite get the details. Could you say that again?"
	}
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func budgetCreatedReply(b domain.Budget) string {
	return fmt.Sprintf("Created the budget %q with a limit of %s.", b.Name, formatAmount(b.LimitAmount))
}

func budgetListReply(budgets []domain.Budget) string {
	if len(budgets) == 0 {
		return "You don't have any budgets yet."
	}
	lines := make([]string, 0, len(budgets)+1)
	lines = append(lines, "Here are your budgets:")
	for _, b := range budgets {
		lines = append(lines, fmt.Sprintf("- %s: %s of %s (remaining %s)",
			b.Name, formatAmount(b.TotalSpent), formatAmount(b.LimitAmount), formatAmount(b.Remaining())))
	}
	return strings.Join(lines, "\n")
}

func budgetNotFoundReply(name string) string {
	if name == "" {
		return "I couldn't find that budget. Could you tell me its exact name?"
	}
	return fmt.Sprintf("I couldn't find a budget called %q. Could you check the name?", name)
}

func budgetAmbiguousReply(candidates []domain.Budget) string {
	names := make([]string, 0, len(candidates))
	for _, b := range candidates {
		names = append(names, fmt.Sprintf("%q", b.Name))
	}
	return fmt.Sprintf("You have %d budgets with that name (%s), so I didn't delete anything. "+
		"Please rename one of them first so I know which one you mean.", len(candidates), strings.Join(names, ", "))
}

func budgetDeletedReply(b domain.Budget) string {
	return fmt.Sprintf("Deleted the budget %q.", b.Name)
}

func budgetAlreadyDeletedReply(name string) string {
	return fmt.Sprintf("The budget %q was already deleted.", name)
}

func calendarAddedReply(item domain.CalendarItem) string {
	if item.Time == "" {
		return fmt.Sprintf("Added %q to your calendar on %s.", item.Title, item.Date)
	}
	return fmt.Sprintf("Added %q to your calendar on %s at %s.", item.Title, item.Date, item.Time)
}
