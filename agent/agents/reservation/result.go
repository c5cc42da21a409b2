package reservation

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/neohoods/portal-assistant/agent/toolloop"
)

type Period struct {
	StartDate string `json:"startDate,omitempty"`
	EndDate   string `json:"endDate,omitempty"`
	StartTime string `json:"startTime,omitempty"`
	EndTime   string `json:"endTime,omitempty"`
}

// StepResult is the structured answer of one step.
type StepResult struct {
	Status   Status  `json:"status"`
	Response string  `json:"response"`
	Locale   string  `json:"locale,omitempty"`
	SpaceID  string  `json:"spaceId,omitempty"`
	Period   *Period `json:"period,omitempty"`
	NextStep string  `json:"nextStep,omitempty"`
}

type rawStepResult struct {
	Status   string  `json:"status"`
	Response string  `json:"response"`
	Locale   string  `json:"locale"`
	SpaceID  string  `json:"spaceId"`
	Period   *Period `json:"period"`
	NextStep string  `json:"nextStep"`
}

// ParseStepResult interprets a loop response. It never fails: output that is
// not a step result becomes an ERROR result carrying the raw text.
func ParseStepResult(resp toolloop.Response) StepResult {
	text := strings.TrimSpace(resp.Text)
	if !resp.JSON {
		if obj, ok := toolloop.ExtractJSON(text); ok {
			text = obj
		} else {
			return StepResult{Status: StatusError, Response: text}
		}
	}

	var raw rawStepResult
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return StepResult{Status: StatusError, Response: text}
	}
	status, ok := ParseStatus(raw.Status)
	if !ok {
		return StepResult{Status: StatusError, Response: firstNonEmpty(raw.Response, text)}
	}

	out := StepResult{
		Status:   status,
		Response: strings.TrimSpace(raw.Response),
		Locale:   strings.TrimSpace(raw.Locale),
		SpaceID:  strings.TrimSpace(raw.SpaceID),
		NextStep: strings.TrimSpace(raw.NextStep),
	}
	if raw.Period != nil {
		p := Period{
			StartDate: strings.TrimSpace(raw.Period.StartDate),
			EndDate:   strings.TrimSpace(raw.Period.EndDate),
			StartTime: strings.TrimSpace(raw.Period.StartTime),
			EndTime:   strings.TrimSpace(raw.Period.EndTime),
		}
		if p != (Period{}) {
			out.Period = &p
		}
	}
	return out
}

// MissingFields lists the payload fields a COMPLETED result of step lacks,
// taking the already known facts into account.
func (r StepResult) MissingFields(step Step, f Facts) []string {
	var missing []string
	needTarget := func() {
		if r.SpaceID == "" && f.SpaceID == "" {
			missing = append(missing, KeySpaceID)
		}
	}
	needPeriod := func() {
		start, end := f.StartDate, f.EndDate
		if r.Period != nil {
			start = firstNonEmpty(r.Period.StartDate, start)
			end = firstNonEmpty(r.Period.EndDate, end)
		}
		if start == "" {
			missing = append(missing, "period."+KeyStartDate)
		}
		if end == "" {
			missing = append(missing, "period."+KeyEndDate)
		}
	}

	switch step {
	case StepChooseTarget:
		needTarget()
	case StepChoosePeriod:
		needPeriod()
	case StepComplete:
		needTarget()
		needPeriod()
	}
	sort.Strings(missing)
	return missing
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
