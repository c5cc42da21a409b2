package reservation

import (
	"fmt"
	"strings"

	contractx "github.com/neohoods/portal-assistant/agent/contract"
	promptx "github.com/neohoods/portal-assistant/agent/prompt"
)

const notSet = "NOT SET"

var stepRules = map[Step][]string{
	StepRequestInfo: {
		"Do not answer COMPLETED with a spaceId: the space is chosen at the next step.",
	},
	StepChooseTarget: {
		"COMPLETED requires spaceId, taken from a list_spaces or get_space result.",
		"If the user only talks about dates, keep them in period and ask for the space.",
	},
	StepChoosePeriod: {
		"COMPLETED requires period.startDate and period.endDate in YYYY-MM-DD.",
		"endDate is never before startDate.",
	},
	StepComplete: {
		"Only call create_reservation when the user clearly confirmed.",
		"Never call create_reservation twice.",
	},
}

// buildPrompt renders the system prompt of an LLM-driven step.
func buildPrompt(prompts promptx.ReservationPrompts, step Step, f Facts, auth contractx.AuthContext, locale, today string) (string, error) {
	tpl, err := prompts.Step(string(step))
	if err != nil {
		return "", err
	}
	vars := map[string]string{
		"DISPLAY_NAME":   firstNonEmpty(auth.DisplayName, auth.SenderID),
		"TODAY":          today,
		"LOCALE":         locale,
		"SPACE_ID":       f.SpaceID,
		"START_DATE":     f.StartDate,
		"END_DATE":       f.EndDate,
		"START_TIME":     f.StartTime,
		"END_TIME":       f.EndTime,
		"RESERVATION_ID": f.ReservationID,
	}

	var b strings.Builder
	b.WriteString(promptx.Fill(prompts.Base, vars))
	b.WriteString("\n\n")
	b.WriteString(promptx.Fill(tpl, vars))
	b.WriteString("\n\n")
	b.WriteString(validationBlock(step, f))
	return b.String(), nil
}

// validationBlock lists what is known so far so the model does not complete
// a step with missing data.
func validationBlock(step Step, f Facts) string {
	var b strings.Builder
	b.WriteString("Known reservation data:\n")
	writeFact(&b, KeySpaceID, f.SpaceID)
	writeFact(&b, KeyStartDate, f.StartDate)
	writeFact(&b, KeyEndDate, f.EndDate)
	writeFact(&b, KeyStartTime, f.StartTime)
	writeFact(&b, KeyEndTime, f.EndTime)
	if rules := stepRules[step]; len(rules) > 0 {
		b.WriteString("Rules:\n")
		for _, r := range rules {
			b.WriteString("- ")
			b.WriteString(r)
			b.WriteString("\n")
		}
	}
	return strings.TrimSpace(b.String())
}

func writeFact(b *strings.Builder, key, value string) {
	if value == "" {
		value = notSet
	}
	fmt.Fprintf(b, "- %s: %s\n", key, value)
}
