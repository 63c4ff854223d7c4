package conversation

import (
	"github.com/khanflow/voice-assistant/internal/model"
)

// GenericQuestion is asked when nothing more specific is known.
const GenericQuestion = "Could you tell me a bit more about what you'd like to do?"

var clarificationQuestions = [...]string{
	model.FieldTitle:    "What would you like to add?",
	model.FieldDate:     "When would you like to schedule this?",
	model.FieldTime:     "What time works best for you?",
	model.FieldDuration: "How long do you think this will take?",
	model.FieldCategory: "Which life area should this go in?",
	model.FieldList:     "Which board should this go on?",
}

var _ = [1]struct{}{}[len(clarificationQuestions)-model.NumMissingFields]

// QuestionFor returns the fixed question asked for a missing field.
func QuestionFor(f model.MissingField) string {
	if f < 0 || int(f) >= len(clarificationQuestions) || clarificationQuestions[f] == "" {
		return GenericQuestion
	}
	return clarificationQuestions[f]
}

// MandatoryMissing lists the required fields a creation action lacks: a
// title for a task, and a title plus a category or list for a structured
// intent.
func MandatoryMissing(action model.ParsedAction) []model.MissingField {
	var missing []model.MissingField
	switch a := action.(type) {
	case model.CreateTask:
		if a.Title == "" {
			missing = append(missing, model.FieldTitle)
		}
	case model.CreateStructuredIntent:
		if a.Title == "" {
			missing = append(missing, model.FieldTitle)
		}
		if a.CategoryID == "" && len(a.ListIDs) == 0 {
			missing = append(missing, model.FieldCategory)
		}
	}
	return missing
}

// MissingFields merges the fields the parser reported missing with the
// mandatory ones still absent, parser order first, without duplicates.
func MissingFields(action model.ParsedAction) []model.MissingField {
	var out []model.MissingField
	seen := make(map[model.MissingField]bool)
	add := func(fields []model.MissingField) {
		for _, f := range fields {
			if !seen[f] {
				seen[f] = true
				out = append(out, f)
			}
		}
	}
	add(action.Meta().Missing)
	add(MandatoryMissing(action))
	return out
}

// RequiresClarification reports whether the action cannot be acted on yet:
// the parser asked for clarification, was not confident, or a mandatory
// field is missing.
func RequiresClarification(action model.ParsedAction) bool {
	if action.Kind() == model.ActionClarificationRequired {
		return true
	}
	if !action.Meta().Confident {
		return true
	}
	return len(MandatoryMissing(action)) > 0
}

// GenerateClarificationQuestion picks the question for an action: the
// parser's own question if it supplied one, otherwise the fixed question
// for the first missing field, otherwise a generic prompt. The state's
// pending fields are consulted when the action reports none.
func GenerateClarificationQuestion(action model.ParsedAction, state *model.ConversationState) string {
	meta := action.Meta()
	if meta.Question != "" {
		return meta.Question
	}
	missing := MissingFields(action)
	if len(missing) == 0 && state != nil {
		missing = state.PendingFields
	}
	if len(missing) > 0 {
		return QuestionFor(missing[0])
	}
	return GenericQuestion
}
