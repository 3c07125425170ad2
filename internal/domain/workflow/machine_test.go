package workflow

import (
	"errors"
	"strings"
	"testing"
)

func TestStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status   Status
		expected bool
	}{
		{StatusReceived, false},
		{StatusProcessing, false},
		{StatusAwaitingApproval, false},
		{StatusSent, false},
		{StatusEscalated, false},
		{StatusFailed, false},
		{StatusCompleted, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.IsTerminal(); got != tt.expected {
				t.Errorf("Status.IsTerminal() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestStatus_IsValid(t *testing.T) {
	tests := []struct {
		name     string
		status   Status
		expected bool
	}{
		{"received", StatusReceived, true},
		{"completed", StatusCompleted, true},
		{"upper case is not a status", Status("COMPLETED"), false},
		{"empty", Status(""), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.status.IsValid(); got != tt.expected {
				t.Errorf("Status.IsValid() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus("awaiting_approval")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s != StatusAwaitingApproval {
		t.Errorf("ParseStatus() = %v, want %v", s, StatusAwaitingApproval)
	}

	if _, err := ParseStatus("archived"); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("expected ErrInvalidStatus, got %v", err)
	}
}

func TestCanTransition_Table(t *testing.T) {
	allowed := map[Status][]Status{
		StatusReceived:         {StatusProcessing, StatusFailed},
		StatusProcessing:       {StatusAwaitingApproval, StatusSent, StatusEscalated, StatusFailed, StatusCompleted},
		StatusAwaitingApproval: {StatusSent, StatusEscalated, StatusFailed},
		StatusSent:             {StatusCompleted, StatusFailed},
		StatusEscalated:        {StatusCompleted, StatusFailed},
		StatusFailed:           {StatusProcessing, StatusEscalated},
		StatusCompleted:        {},
	}

	for _, from := range AllStatuses {
		permitted := make(map[Status]bool)
		for _, to := range allowed[from] {
			permitted[to] = true
		}

		for _, to := range AllStatuses {
			want := permitted[to] || from == to
			if got := CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestCanTransition_SelfTransitionAlwaysAllowed(t *testing.T) {
	for _, s := range AllStatuses {
		if !CanTransition(s, s) {
			t.Errorf("expected self transition for %s to be allowed", s)
		}
	}
}

func TestValidateTransition_NamesBothStatuses(t *testing.T) {
	err := ValidateTransition(StatusReceived, StatusCompleted)
	if err == nil {
		t.Fatal("expected error")
	}

	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}

	var transitionErr *InvalidTransitionError
	if !errors.As(err, &transitionErr) {
		t.Fatalf("expected *InvalidTransitionError, got %T", err)
	}
	if transitionErr.From != StatusReceived || transitionErr.To != StatusCompleted {
		t.Errorf("unexpected error fields: %+v", transitionErr)
	}
	if !strings.Contains(err.Error(), "received") || !strings.Contains(err.Error(), "completed") {
		t.Errorf("error message should name both statuses: %s", err.Error())
	}
}

func TestValidateTransition_UnknownTarget(t *testing.T) {
	err := ValidateTransition(StatusReceived, Status("archived"))
	if !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("expected ErrInvalidStatus, got %v", err)
	}
}

func TestStateMachine_Lifecycle(t *testing.T) {
	t.Run("received to completed directly fails", func(t *testing.T) {
		m, err := NewStateMachine(StatusReceived)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if err := m.TransitionTo(StatusCompleted); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("expected ErrInvalidTransition, got %v", err)
		}
		if m.Status() != StatusReceived {
			t.Errorf("status changed after failed transition: %s", m.Status())
		}
	})

	t.Run("received to processing to completed succeeds", func(t *testing.T) {
		m, _ := NewStateMachine(StatusReceived)

		if err := m.TransitionTo(StatusProcessing); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := m.TransitionTo(StatusCompleted); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if m.Status() != StatusCompleted {
			t.Errorf("Status() = %v, want %v", m.Status(), StatusCompleted)
		}
	})

	t.Run("completed rejects everything but itself", func(t *testing.T) {
		m, _ := NewStateMachine(StatusCompleted)

		for _, to := range AllStatuses {
			err := m.TransitionTo(to)
			if to == StatusCompleted {
				if err != nil {
					t.Errorf("self transition failed: %v", err)
				}
				continue
			}
			if err == nil {
				t.Errorf("expected transition completed -> %s to fail", to)
			}
		}
		if len(m.PermittedTargets()) != 0 {
			t.Errorf("expected no permitted targets, got %v", m.PermittedTargets())
		}
	})

	t.Run("invalid initial status", func(t *testing.T) {
		if _, err := NewStateMachine(Status("bogus")); !errors.Is(err, ErrInvalidStatus) {
			t.Errorf("expected ErrInvalidStatus, got %v", err)
		}
	})
}

func TestRecoveryTarget(t *testing.T) {
	tests := []struct {
		name     string
		current  Status
		strategy RecoveryStrategy
		want     Status
		wantErr  error
	}{
		{"retry from failed", StatusFailed, RecoveryRetry, StatusProcessing, nil},
		{"escalate from failed", StatusFailed, RecoveryEscalate, StatusEscalated, nil},
		{"unknown strategy", StatusFailed, RecoveryStrategy("rewind"), "", ErrUnknownRecoveryStrategy},
		{"not failed", StatusSent, RecoveryRetry, "", ErrNotRecoverable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RecoveryTarget(tt.current, tt.strategy)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("RecoveryTarget() = %v, want %v", got, tt.want)
			}
		})
	}
}
