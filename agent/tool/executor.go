package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	contractx "github.com/neohoods/portal-assistant/agent/contract"
)

// DomainExecutor serves the catalog actions from a DomainService. Business
// failures are returned as error results so the model can explain them.
type DomainExecutor struct {
	svc DomainService
}

var _ contractx.Executor = (*DomainExecutor)(nil)

func NewExecutor(svc DomainService) (*DomainExecutor, error) {
	if svc == nil {
		return nil, errors.New("domain service is required")
	}
	return &DomainExecutor{svc: svc}, nil
}

func (e *DomainExecutor) Invoke(ctx context.Context, tool string, args map[string]any, auth contractx.AuthContext) (contractx.ToolResult, error) {
	if err := ctx.Err(); err != nil {
		return contractx.ToolResult{}, err
	}

	var (
		out any
		err error
	)
	switch tool {
	case ToolListSpaces:
		out, err = e.svc.ListSpaces(ctx, stringArg(args, "type"))
	case ToolGetSpace:
		out, err = e.getSpace(ctx, args)
	case ToolCheckAvailability:
		out, err = e.checkAvailability(ctx, args)
	case ToolCreateReservation:
		out, err = e.createReservation(ctx, args, auth)
	case ToolGeneratePaymentLink:
		out, err = e.generatePaymentLink(ctx, args, auth)
	default:
		return contractx.ErrorResult(fmt.Sprintf("tool=%s is unavailable", tool)), nil
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return contractx.ToolResult{}, ctxErr
		}
		return contractx.ErrorResult(err.Error()), nil
	}

	raw, err := json.Marshal(out)
	if err != nil {
		return contractx.ToolResult{}, fmt.Errorf("marshal %s result: %w", tool, err)
	}
	return contractx.TextResult(string(raw)), nil
}

func (e *DomainExecutor) getSpace(ctx context.Context, args map[string]any) (Space, error) {
	id, err := requiredArg(args, "spaceId")
	if err != nil {
		return Space{}, err
	}
	return e.svc.GetSpace(ctx, id)
}

func (e *DomainExecutor) checkAvailability(ctx context.Context, args map[string]any) (Availability, error) {
	id, err := requiredArg(args, "spaceId")
	if err != nil {
		return Availability{}, err
	}
	start, err := requiredArg(args, "startDate")
	if err != nil {
		return Availability{}, err
	}
	end, err := requiredArg(args, "endDate")
	if err != nil {
		return Availability{}, err
	}
	return e.svc.CheckAvailability(ctx, id, start, end)
}

func (e *DomainExecutor) createReservation(ctx context.Context, args map[string]any, auth contractx.AuthContext) (Reservation, error) {
	user, err := e.svc.ResolveUser(ctx, auth)
	if err != nil {
		return Reservation{}, err
	}
	in := ReservationInput{
		StartTime: stringArg(args, "startTime"),
		EndTime:   stringArg(args, "endTime"),
	}
	if in.SpaceID, err = requiredArg(args, "spaceId"); err != nil {
		return Reservation{}, err
	}
	if in.StartDate, err = requiredArg(args, "startDate"); err != nil {
		return Reservation{}, err
	}
	if in.EndDate, err = requiredArg(args, "endDate"); err != nil {
		return Reservation{}, err
	}
	return e.svc.CreateReservation(ctx, user, in)
}

func (e *DomainExecutor) generatePaymentLink(ctx context.Context, args map[string]any, auth contractx.AuthContext) (PaymentLink, error) {
	user, err := e.svc.ResolveUser(ctx, auth)
	if err != nil {
		return PaymentLink{}, err
	}
	id, err := requiredArg(args, "reservationId")
	if err != nil {
		return PaymentLink{}, err
	}
	return e.svc.GeneratePaymentLink(ctx, user, id)
}

func stringArg(args map[string]any, key string) string {
	v, ok := args[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

func requiredArg(args map[string]any, key string) (string, error) {
	v := stringArg(args, key)
	if v == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return v, nil
}
