package autotransfer

import (
	"context"
	"errors"
	"testing"
	"time"

	"ledger/pkg/ledger"
	"ledger/pkg/money"
	"ledger/pkg/schedule"
)

func TestRegistry_Create(t *testing.T) {
	e := newEnv(t)
	src, dst := e.open(t, 5000), e.open(t, 1000)

	sc := e.schedule(t, src, dst, 100, 31)
	if sc.ID == 0 || !sc.Active {
		t.Errorf("created schedule = %+v", sc)
	}
	if want := time.Date(2025, 1, 31, 9, 0, 0, 0, time.UTC); !sc.NextRunAt.Equal(want) {
		t.Errorf("NextRunAt = %v, want %v", sc.NextRunAt, want)
	}
}

func TestRegistry_CreateRejections(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	src, dst := e.open(t, 5000), e.open(t, 1000)
	closed := e.open(t, 1000)
	e.ledger.Close(ctx, closed.ID)

	base := func() CreateScheduleRequest {
		return CreateScheduleRequest{
			OwnerID:                  owner,
			SourceAccountNumber:      src.Number,
			DestinationAccountNumber: dst.Number,
			Amount:                   money.FromInt(100),
			DayOfMonth:               5,
			RunTime:                  schedule.RunTime{Hour: 9},
		}
	}

	tests := []struct {
		name   string
		mutate func(*CreateScheduleRequest)
		want   error
	}{
		{"other owner", func(r *CreateScheduleRequest) { r.OwnerID = 2 }, ErrNotOwner},
		{"unknown source", func(r *CreateScheduleRequest) { r.SourceAccountNumber = "999-9999-9999999" }, ledger.ErrAccountNotFound},
		{"closed source", func(r *CreateScheduleRequest) { r.SourceAccountNumber = closed.Number }, ledger.ErrAccountNotActive},
		{"bad destination", func(r *CreateScheduleRequest) { r.DestinationAccountNumber = "abc" }, ledger.ErrInvalidAccountNumberFormat},
		{"zero amount", func(r *CreateScheduleRequest) { r.Amount = money.Zero() }, ledger.ErrAmountMustBePositive},
		{"bad day", func(r *CreateScheduleRequest) { r.DayOfMonth = 40 }, schedule.ErrInvalidDayOfMonth},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := base()
			tt.mutate(&req)
			if _, err := e.registry.Create(ctx, req); !errors.Is(err, tt.want) {
				t.Errorf("Create = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestRegistry_Deactivate(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	src, dst := e.open(t, 5000), e.open(t, 1000)
	sc := e.schedule(t, src, dst, 100, 5)

	if _, err := e.registry.Deactivate(ctx, sc.ID, 2); !errors.Is(err, ErrNotOwner) {
		t.Errorf("Deactivate by stranger = %v", err)
	}
	got, err := e.registry.Deactivate(ctx, sc.ID, owner)
	if err != nil || got.Active {
		t.Fatalf("Deactivate = %+v, %v", got, err)
	}
	if _, err := e.registry.Deactivate(ctx, sc.ID, owner); err != nil {
		t.Errorf("second Deactivate = %v", err)
	}
	if _, err := e.registry.Get(ctx, 999); !errors.Is(err, ErrScheduleNotFound) {
		t.Errorf("Get(999) = %v", err)
	}
}
