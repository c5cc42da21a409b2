package reservation

import (
	"github.com/cloudwego/eino/schema"

	"github.com/neohoods/portal-assistant/agent/tool"
)

// SubmitTool lets the model return its step result as a function call.
const SubmitTool = "submit_reservation_step"

var submitInfo = &schema.ToolInfo{
	Name: SubmitTool,
	Desc: "Submit the result of the current reservation step.",
	ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
		"status": {
			Type:     schema.String,
			Desc:     "Outcome of the step",
			Enum:     []string{string(StatusPending), string(StatusCompleted), string(StatusCanceled), string(StatusError), string(StatusSwitchStep)},
			Required: true,
		},
		"response": {Type: schema.String, Desc: "Message shown to the user", Required: true},
		"locale":   {Type: schema.String, Desc: "Language of the user, fr or en"},
		"spaceId":  {Type: schema.String, Desc: "Id of the chosen space"},
		"period": {
			Type: schema.Object,
			Desc: "Reservation period",
			SubParams: map[string]*schema.ParameterInfo{
				"startDate": {Type: schema.String, Desc: "First day, YYYY-MM-DD", Required: true},
				"endDate":   {Type: schema.String, Desc: "Last day, YYYY-MM-DD", Required: true},
				"startTime": {Type: schema.String, Desc: "Start time, HH:MM"},
				"endTime":   {Type: schema.String, Desc: "End time, HH:MM"},
			},
		},
		"nextStep": {
			Type: schema.String,
			Desc: "Step to switch to, with SWITCH_STEP only",
			Enum: []string{string(StepRequestInfo), string(StepChooseTarget), string(StepChoosePeriod), string(StepConfirmSummary), string(StepComplete)},
		},
	}),
}

var stepTools = map[Step][]string{
	StepRequestInfo:  {tool.ToolListSpaces},
	StepChooseTarget: {tool.ToolListSpaces, tool.ToolGetSpace, tool.ToolCheckAvailability},
	StepChoosePeriod: {tool.ToolGetSpace, tool.ToolCheckAvailability},
	StepComplete:     {tool.ToolCreateReservation},
}

// ToolNames returns the domain actions offered at step. Mutating actions are
// only offered from COMPLETE on.
func ToolNames(step Step) []string {
	return append([]string(nil), stepTools[step]...)
}

// ToolsFor returns the schemas offered to the model at step, submit tool
// last.
func ToolsFor(step Step) []*schema.ToolInfo {
	infos := tool.Infos(ToolNames(step)...)
	return append(infos, submitInfo)
}
