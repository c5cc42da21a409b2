package prompt

import (
	"embed"
	"fmt"
	"path"
	"strings"

	contractx "github.com/neohoods/portal-assistant/agent/contract"
)

var (
	//go:embed template/router.txt
	routerRaw string

	//go:embed template/general.txt
	generalRaw string

	//go:embed template/resident_info.txt
	residentInfoRaw string

	//go:embed template/help.txt
	helpRaw string

	//go:embed template/reservation/base.txt
	reservationBaseRaw string

	//go:embed template/reservation/*.txt
	reservationFS embed.FS
)

// PromptSet holds loaded prompt content.
type PromptSet struct {
	Router       string
	General      string
	ResidentInfo string
	Help         string
	Reservation  ReservationPrompts
}

// ReservationPrompts holds the shared reservation instructions and one
// template per LLM-driven step, keyed by upper-case step name.
type ReservationPrompts struct {
	Base  string
	Steps map[string]string
}

// Step returns the template of step or ErrPromptMissing.
func (r ReservationPrompts) Step(step string) (string, error) {
	tpl, ok := r.Steps[strings.ToUpper(step)]
	if !ok || tpl == "" {
		return "", fmt.Errorf("%w: reservation step=%s", contractx.ErrPromptMissing, step)
	}
	return tpl, nil
}

// LoadPromptSet returns a PromptSet with trimmed prompt strings.
func LoadPromptSet() PromptSet {
	return PromptSet{
		Router:       strings.TrimSpace(routerRaw),
		General:      strings.TrimSpace(generalRaw),
		ResidentInfo: strings.TrimSpace(residentInfoRaw),
		Help:         strings.TrimSpace(helpRaw),
		Reservation: ReservationPrompts{
			Base:  strings.TrimSpace(reservationBaseRaw),
			Steps: loadReservationSteps(),
		},
	}
}

func loadReservationSteps() map[string]string {
	entries, err := reservationFS.ReadDir("template/reservation")
	if err != nil {
		panic(fmt.Sprintf("read embedded reservation templates: %v", err))
	}
	steps := make(map[string]string, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || name == "base.txt" {
			continue
		}
		raw, err := reservationFS.ReadFile(path.Join("template/reservation", name))
		if err != nil {
			panic(fmt.Sprintf("read embedded template %s: %v", name, err))
		}
		steps[strings.ToUpper(strings.TrimSuffix(name, ".txt"))] = strings.TrimSpace(string(raw))
	}
	return steps
}
