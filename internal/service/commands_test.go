package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"fieldsync/internal/command"
	"fieldsync/internal/logger"
	"fieldsync/internal/models"
)

// stubDispatcher satisfies the dispatcher interface with canned answers.
type stubDispatcher struct {
	state    models.ActuatorState
	stateErr error
	res      models.CommandResult
	err      error
	issued   []bool
}

func (s *stubDispatcher) Issue(ctx context.Context, id string, desired bool) (models.CommandResult, error) {
	s.issued = append(s.issued, desired)
	return s.res, s.err
}

func (s *stubDispatcher) State(id string) (models.ActuatorState, error) {
	return s.state, s.stateErr
}

func (s *stubDispatcher) Bindings() []command.Binding {
	return []command.Binding{{ActuatorID: "pump", Topic: "Irrigation", Field: "pumpStatus"}}
}

func eventTypes(evs []models.AuditEvent) []string {
	out := make([]string, len(evs))
	for i, e := range evs {
		out[i] = e.Type
	}
	return out
}

func TestCommandService_Issue_Audit(t *testing.T) {
	t.Parallel()

	failed := &models.CommandError{ActuatorID: "pump", Value: true, Err: errors.New("denied")}

	tests := []struct {
		name      string
		res       models.CommandResult
		err       error
		wantTypes []string
		wantDesc  string
	}{
		{
			name:      "confirmed",
			res:       models.CommandResult{Written: true, State: models.ActuatorState{Desired: true, Confirmed: true}},
			wantTypes: []string{models.EventCommandIssued, models.EventCommandConfirmed},
			wantDesc:  "pump is ON",
		},
		{
			name:      "noop",
			res:       models.CommandResult{State: models.ActuatorState{Desired: true, Confirmed: true}},
			wantTypes: []string{models.EventCommandIssued, models.EventCommandConfirmed},
			wantDesc:  "pump is ON (no change)",
		},
		{
			name:      "failed and reverted",
			res:       models.CommandResult{State: models.ActuatorState{}},
			err:       failed,
			wantTypes: []string{models.EventCommandIssued, models.EventCommandFailed},
			wantDesc:  "pump -> ON failed, reverted to OFF",
		},
		{
			name:      "caller gave up",
			err:       context.Canceled,
			wantTypes: []string{models.EventCommandIssued},
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			repo := &fakeEventRepo{}
			d := &stubDispatcher{res: tc.res, err: tc.err}
			svc := NewCommandService(d, repo, logger.Nop())

			_, err := svc.Issue(context.Background(), "pump", true)
			if !errors.Is(err, tc.err) {
				t.Fatalf("err=%v; want %v", err, tc.err)
			}
			if len(d.issued) != 1 || !d.issued[0] {
				t.Fatalf("dispatcher issued %v; want [true]", d.issued)
			}

			evs := repo.Appended()
			if got := fmt.Sprint(eventTypes(evs)); got != fmt.Sprint(tc.wantTypes) {
				t.Fatalf("audit types=%s; want %v", got, tc.wantTypes)
			}
			if evs[0].Description != "pump -> ON" {
				t.Fatalf("issued description=%q", evs[0].Description)
			}
			if tc.wantDesc != "" && evs[len(evs)-1].Description != tc.wantDesc {
				t.Fatalf("last description=%q; want %q", evs[len(evs)-1].Description, tc.wantDesc)
			}
		})
	}
}

func TestCommandService_Issue_FailureMetadataCarriesCause(t *testing.T) {
	t.Parallel()

	repo := &fakeEventRepo{}
	d := &stubDispatcher{err: &models.CommandError{ActuatorID: "pump", Value: true, Err: errors.New("permission denied")}}
	svc := NewCommandService(d, repo, logger.Nop())

	_, _ = svc.Issue(context.Background(), "pump", true)

	evs := repo.Appended()
	meta, ok := evs[len(evs)-1].Metadata.(map[string]any)
	if !ok {
		t.Fatalf("metadata type %T", evs[len(evs)-1].Metadata)
	}
	if cause, _ := meta["error"].(string); !strings.Contains(cause, "permission denied") {
		t.Fatalf("metadata error=%v", meta["error"])
	}
	if meta["actuator_id"] != "pump" || meta["value"] != true {
		t.Fatalf("metadata=%v", meta)
	}
}

func TestCommandService_Issue_UnknownActuatorNotAudited(t *testing.T) {
	t.Parallel()

	repo := &fakeEventRepo{}
	d := &stubDispatcher{stateErr: models.ErrUnknownActuator}
	svc := NewCommandService(d, repo, logger.Nop())

	res, err := svc.Issue(context.Background(), "fan", false)
	if !errors.Is(err, models.ErrUnknownActuator) {
		t.Fatalf("err=%v; want ErrUnknownActuator", err)
	}
	if res.ActuatorID != "fan" || !errors.Is(res.Err, models.ErrUnknownActuator) {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(d.issued) != 0 {
		t.Fatalf("dispatcher should not be called")
	}
	if n := len(repo.Appended()); n != 0 {
		t.Fatalf("expected no audit events, got %d", n)
	}
}

func TestCommandService_Issue_AuditFailureDoesNotFailCommand(t *testing.T) {
	t.Parallel()

	repo := &fakeEventRepo{appendErr: errors.New("disk full")}
	d := &stubDispatcher{res: models.CommandResult{Written: true, State: models.ActuatorState{Confirmed: true}}}
	svc := NewCommandService(d, repo, logger.Nop())

	if _, err := svc.Issue(context.Background(), "pump", true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
