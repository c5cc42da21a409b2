package tool

import (
	"github.com/cloudwego/eino/schema"

	contractx "github.com/neohoods/portal-assistant/agent/contract"
)

const (
	ToolListSpaces          = "list_spaces"
	ToolGetSpace            = "get_space"
	ToolCheckAvailability   = "check_space_availability"
	ToolCreateReservation   = "create_reservation"
	ToolGeneratePaymentLink = "generate_payment_link"
)

// Mutating reports whether name has side effects that must not be offered
// before the user confirmed.
func Mutating(name string) bool {
	return name == ToolCreateReservation || name == ToolGeneratePaymentLink
}

type definition struct {
	name   string
	desc   string
	params map[string]*schema.ParameterInfo
}

var definitions = []definition{
	{
		name: ToolListSpaces,
		desc: "List the shared spaces of the condominium, optionally filtered by type.",
		params: map[string]*schema.ParameterInfo{
			"type": {
				Type: schema.String,
				Desc: "Space type filter",
				Enum: []string{"GUEST_ROOM", "GYM", "COMMON_ROOM", "PARKING"},
			},
		},
	},
	{
		name: ToolGetSpace,
		desc: "Get the details of one shared space: name, description, capacity and price.",
		params: map[string]*schema.ParameterInfo{
			"spaceId": {Type: schema.String, Desc: "Space id", Required: true},
		},
	},
	{
		name: ToolCheckAvailability,
		desc: "Check whether a space is free between two dates.",
		params: map[string]*schema.ParameterInfo{
			"spaceId":   {Type: schema.String, Desc: "Space id", Required: true},
			"startDate": {Type: schema.String, Desc: "First day, YYYY-MM-DD", Required: true},
			"endDate":   {Type: schema.String, Desc: "Last day, YYYY-MM-DD", Required: true},
		},
	},
	{
		name: ToolCreateReservation,
		desc: "Create the reservation the user confirmed. Returns reservationId and status (CONFIRMED or PENDING_PAYMENT).",
		params: map[string]*schema.ParameterInfo{
			"spaceId":   {Type: schema.String, Desc: "Space id", Required: true},
			"startDate": {Type: schema.String, Desc: "First day, YYYY-MM-DD", Required: true},
			"endDate":   {Type: schema.String, Desc: "Last day, YYYY-MM-DD", Required: true},
			"startTime": {Type: schema.String, Desc: "Start time, HH:MM"},
			"endTime":   {Type: schema.String, Desc: "End time, HH:MM"},
		},
	},
	{
		name: ToolGeneratePaymentLink,
		desc: "Generate the checkout link of a reservation waiting for payment.",
		params: map[string]*schema.ParameterInfo{
			"reservationId": {Type: schema.String, Desc: "Reservation id", Required: true},
		},
	},
}

var (
	catalog      = buildCatalog()
	paramCatalog = buildParamCatalog()
)

func buildCatalog() []*schema.ToolInfo {
	out := make([]*schema.ToolInfo, 0, len(definitions))
	for _, d := range definitions {
		out = append(out, &schema.ToolInfo{
			Name:        d.name,
			Desc:        d.desc,
			ParamsOneOf: schema.NewParamsOneOfByParams(d.params),
		})
	}
	return out
}

func buildParamCatalog() map[string]map[string]*schema.ParameterInfo {
	out := make(map[string]map[string]*schema.ParameterInfo, len(definitions))
	for _, d := range definitions {
		out[d.name] = d.params
	}
	return out
}

// Infos returns the schemas of names, in the given order. Unknown names are
// skipped.
func Infos(names ...string) []*schema.ToolInfo {
	out := make([]*schema.ToolInfo, 0, len(names))
	for _, name := range names {
		for _, info := range catalog {
			if info.Name == name {
				out = append(out, info)
				break
			}
		}
	}
	return out
}

// All returns every domain action schema.
func All() []*schema.ToolInfo {
	return append([]*schema.ToolInfo(nil), catalog...)
}

// ForWorkflow returns the read-only actions a one-shot workflow may use.
func ForWorkflow(w contractx.Workflow) []*schema.ToolInfo {
	switch w {
	case contractx.WorkflowResidentInfo, contractx.WorkflowGeneral:
		return Infos(ToolListSpaces, ToolGetSpace)
	default:
		return nil
	}
}
