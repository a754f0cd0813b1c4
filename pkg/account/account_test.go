package account

import (
	"errors"
	"testing"
	"time"

	"ledger/pkg/money"
)

var now = time.Date(2025, 3, 15, 9, 0, 0, 0, time.UTC)

func newSavings(t *testing.T, balance string) *Account {
	t.Helper()
	initial := money.MustParse(balance)
	p := DefaultPolicies()[TypeSavings]
	return New(1, "123-4567-1234567", &initial, TypeSavings, p.MinBalance, false, now)
}

func newDeposit(t *testing.T, balance string) *Account {
	t.Helper()
	initial := money.MustParse(balance)
	return New(1, "123-4567-7654321", &initial, TypeDeposit, nil, false, now)
}

func TestNew(t *testing.T) {
	initial := money.MustParse("10000.005")
	a := New(7, "123-4567-1234567", &initial, TypeSavings, nil, true, now)

	if a.Status != StatusActive {
		t.Errorf("Status = %s, want ACTIVE", a.Status)
	}
	if a.Balance.String() != "10000.01" {
		t.Errorf("Balance = %s, want 10000.01", a.Balance)
	}
	if !a.AutoTransfer || a.OwnerID != 7 {
		t.Error("owner or auto-transfer flag not carried over")
	}

	empty := New(7, "123-4567-1234567", nil, TypeDeposit, nil, false, now)
	if !empty.Balance.IsZero() {
		t.Errorf("Balance with no initial deposit = %s, want 0.00", empty.Balance)
	}
}

func TestJudgeDeposit(t *testing.T) {
	active := newDeposit(t, "1000")
	closed := newDeposit(t, "1000")
	closed.Close(now)

	tests := []struct {
		name    string
		account *Account
		amount  string
		want    Violation
	}{
		{"ok", active, "1", NoViolation},
		{"zero", active, "0", ViolationNotPositive},
		{"negative", active, "-5", ViolationNotPositive},
		{"closed beats amount", closed, "-5", ViolationNotActive},
		{"closed", closed, "10", ViolationNotActive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.account.JudgeDeposit(money.MustParse(tt.amount)); got != tt.want {
				t.Errorf("JudgeDeposit(%s) = %s, want %s", tt.amount, got, tt.want)
			}
		})
	}
}

func TestJudgeWithdraw(t *testing.T) {
	tests := []struct {
		name    string
		account func(t *testing.T) *Account
		amount  string
		want    Violation
	}{
		{"deposit ok", func(t *testing.T) *Account { return newDeposit(t, "1000") }, "1000", NoViolation},
		{"deposit overdraw", func(t *testing.T) *Account { return newDeposit(t, "1000") }, "1000.01", ViolationInsufficientBalance},
		{"savings down to floor", func(t *testing.T) *Account { return newSavings(t, "15000") }, "5000", NoViolation},
		{"savings below floor", func(t *testing.T) *Account { return newSavings(t, "10000") }, "0.01", ViolationMinBalance},
		{"floor checked before sign", func(t *testing.T) *Account { return newSavings(t, "10000") }, "20000", ViolationMinBalance},
		{"not positive", func(t *testing.T) *Account { return newSavings(t, "10000") }, "0", ViolationNotPositive},
		{"closed first", func(t *testing.T) *Account {
			a := newDeposit(t, "10")
			a.Close(now)
			return a
		}, "0", ViolationNotActive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := tt.account(t)
			if got := a.JudgeWithdraw(money.MustParse(tt.amount)); got != tt.want {
				t.Errorf("JudgeWithdraw(%s) = %s, want %s", tt.amount, got, tt.want)
			}
		})
	}
}

func TestJudgeDoesNotMutate(t *testing.T) {
	a := newSavings(t, "12000")
	before := a.Clone()

	a.JudgeWithdraw(money.FromInt(5000))
	a.JudgeDeposit(money.FromInt(5000))

	if !a.Balance.Equal(before.Balance) || a.Status != before.Status || a.UpdatedAt != before.UpdatedAt {
		t.Error("judge calls must not change the account")
	}
}

func TestApply(t *testing.T) {
	a := newDeposit(t, "1000")
	later := now.Add(time.Minute)

	a.ApplyDeposit(money.MustParse("0.125"), later)
	if a.Balance.String() != "1000.13" {
		t.Errorf("after deposit Balance = %s, want 1000.13", a.Balance)
	}
	a.ApplyWithdraw(money.MustParse("500.005"), later)
	if a.Balance.String() != "500.12" {
		t.Errorf("after withdraw Balance = %s, want 500.12", a.Balance)
	}
	if !a.UpdatedAt.Equal(later) {
		t.Errorf("UpdatedAt = %v, want %v", a.UpdatedAt, later)
	}
}

func TestClose(t *testing.T) {
	a := newDeposit(t, "1000")

	if !a.Close(now) {
		t.Fatal("first Close should report a transition")
	}
	if a.Close(now.Add(time.Hour)) {
		t.Error("second Close should be a no-op")
	}
	if a.Status != StatusClosed || a.ClosedAt == nil || !a.ClosedAt.Equal(now) {
		t.Errorf("closed state wrong: status=%s closedAt=%v", a.Status, a.ClosedAt)
	}
	if err := a.EnsureActive(); !errors.Is(err, ErrNotActive) {
		t.Errorf("EnsureActive() = %v, want ErrNotActive", err)
	}
}

func TestViolationErr(t *testing.T) {
	if NoViolation.Err() != nil {
		t.Error("NoViolation.Err() should be nil")
	}
	pairs := map[Violation]error{
		ViolationNotActive:           ErrNotActive,
		ViolationNotPositive:         ErrAmountNotPositive,
		ViolationMinBalance:          ErrMinBalanceViolation,
		ViolationInsufficientBalance: ErrInsufficientBalance,
	}
	for v, want := range pairs {
		if got := v.Err(); !errors.Is(got, want) {
			t.Errorf("%s.Err() = %v, want %v", v, got, want)
		}
	}
}

func TestValidNumber(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"123-4567-1234567", true},
		{"000-0000-0000000", true},
		{"12-4567-1234567", false},
		{"123-45678-1234567", false},
		{"123-4567-123456", false},
		{"1234567-1234567", false},
		{"abc-defg-hijklmn", false},
		{" 123-4567-1234567", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := ValidNumber(tt.in); got != tt.want {
			t.Errorf("ValidNumber(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
	if err := ValidateNumber("bad"); !errors.Is(err, ErrInvalidNumberFormat) {
		t.Errorf("ValidateNumber(bad) = %v", err)
	}
}

func TestPolicies(t *testing.T) {
	table := DefaultPolicies()

	dep, err := table.Lookup(TypeDeposit)
	if err != nil {
		t.Fatal(err)
	}
	if !dep.MinimumInitial.Equal(money.FromInt(1000)) || dep.MinBalance != nil {
		t.Errorf("deposit policy = %+v", dep)
	}

	sav, err := table.Lookup(TypeSavings)
	if err != nil {
		t.Fatal(err)
	}
	if !sav.MinimumInitial.Equal(money.FromInt(10000)) || sav.MinBalance == nil || !sav.MinBalance.Equal(money.FromInt(10000)) {
		t.Errorf("savings policy = %+v", sav)
	}

	if _, err := table.Lookup("CHECKING"); !errors.Is(err, ErrUnknownType) {
		t.Errorf("Lookup(CHECKING) = %v, want ErrUnknownType", err)
	}
	if _, err := ParseType("SAVINGS"); err != nil {
		t.Errorf("ParseType(SAVINGS) = %v", err)
	}
}
