package access

import (
	"errors"
	"testing"
	"time"

	"github.com/bigkaa/goartstore/share-module/internal/domain/model"
)

// plainChecker — сравнение без хэширования, для тестов автомата.
type plainChecker struct{}

func (plainChecker) Verify(verifier, password string) bool {
	return verifier == password
}

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func strPtr(s string) *string { return &s }
func timePtr(t time.Time) *time.Time { return &t }

func present(string) (bool, error) { return true, nil }
func missing(string) (bool, error) { return false, nil }

// TestAttempt_Transitions проверяет матрицу переходов.
func TestAttempt_Transitions(t *testing.T) {
	a := NewAttempt()
	if a.State() != StateRequested {
		t.Fatalf("начальное состояние %q, ожидалось requested", a.State())
	}

	err := a.TransitionTo(StateGranted)
	var te *TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("requested → granted: ожидалась TransitionError, получено %v", err)
	}

	if err := a.TransitionTo(StateResolving); err != nil {
		t.Fatalf("requested → resolving: %v", err)
	}
	if err := a.TransitionTo(StateDeniedExpired); err != nil {
		t.Fatalf("resolving → denied_expired: %v", err)
	}

	// Из терминального состояния переходов нет
	for _, target := range []State{StateRequested, StateResolving, StateGranted} {
		if err := a.TransitionTo(target); err == nil {
			t.Errorf("denied_expired → %s не должен быть допустим", target)
		}
	}

	want := []State{StateRequested, StateResolving, StateDeniedExpired}
	got := a.History()
	if len(got) != len(want) {
		t.Fatalf("History() = %v, ожидалось %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("History()[%d] = %q, ожидалось %q", i, got[i], want[i])
		}
	}
}

// TestState_Classification проверяет признаки состояний.
func TestState_Classification(t *testing.T) {
	if StateResolving.IsTerminal() || StateRequested.IsTerminal() {
		t.Error("промежуточные состояния не должны быть терминальными")
	}
	if !StateDeniedExpired.IsUnavailable() || !StateDeniedNotFound.IsUnavailable() {
		t.Error("not_found и expired должны быть «недоступен»")
	}
	if StateDeniedPasswordIncorrect.IsUnavailable() {
		t.Error("неверный пароль не должен раскрываться как «недоступен»")
	}
	if StateGranted.IsUnavailable() || StateDeniedPasswordRequired.IsUnavailable() {
		t.Error("granted и запрос пароля не должны быть «недоступен»")
	}
}

// TestResolve_Order проверяет порядок проверок: срабатывает первая подходящая.
func TestResolve_Order(t *testing.T) {
	active := func() *model.FileRecord {
		return &model.FileRecord{Identifier: "a", StorageName: "blob"}
	}

	tests := []struct {
		name        string
		rec         func() *model.FileRecord
		password    string
		blob        func(string) (bool, error)
		want        State
		blobMissing bool
	}{
		{
			name: "запись отсутствует",
			rec:  func() *model.FileRecord { return nil },
			blob: present,
			want: StateDeniedNotFound,
		},
		{
			name: "soft delete",
			rec: func() *model.FileRecord {
				r := active()
				r.Deleted = true
				return r
			},
			blob: present,
			want: StateDeniedNotFound,
		},
		{
			name: "истёкший файл с паролем и верным паролем",
			rec: func() *model.FileRecord {
				r := active()
				r.ExpiryTime = timePtr(now.Add(-time.Minute))
				r.PasswordVerifier = strPtr("secret")
				return r
			},
			password: "secret",
			blob:     present,
			want:     StateDeniedExpired,
		},
		{
			name: "истечение ровно сейчас",
			rec: func() *model.FileRecord {
				r := active()
				r.ExpiryTime = timePtr(now)
				return r
			},
			blob: present,
			want: StateDeniedExpired,
		},
		{
			name: "пароль не передан",
			rec: func() *model.FileRecord {
				r := active()
				r.PasswordVerifier = strPtr("secret")
				return r
			},
			blob: present,
			want: StateDeniedPasswordRequired,
		},
		{
			name: "неверный пароль",
			rec: func() *model.FileRecord {
				r := active()
				r.PasswordVerifier = strPtr("secret")
				return r
			},
			password: "wrong",
			blob:     present,
			want:     StateDeniedPasswordIncorrect,
		},
		{
			name: "неверный пароль раньше проверки blob-а",
			rec: func() *model.FileRecord {
				r := active()
				r.PasswordVerifier = strPtr("secret")
				return r
			},
			password: "wrong",
			blob:     missing,
			want:     StateDeniedPasswordIncorrect,
		},
		{
			name:        "blob отсутствует",
			rec:         active,
			blob:        missing,
			want:        StateDeniedNotFound,
			blobMissing: true,
		},
		{
			name: "верный пароль и действующий срок",
			rec: func() *model.FileRecord {
				r := active()
				r.PasswordVerifier = strPtr("secret")
				r.ExpiryTime = timePtr(now.Add(time.Hour))
				return r
			},
			password: "secret",
			blob:     present,
			want:     StateGranted,
		},
		{
			name:     "пароль передан для файла без пароля",
			rec:      active,
			password: "anything",
			blob:     present,
			want:     StateGranted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := Resolve(Request{
				Record:      tt.rec(),
				Password:    tt.password,
				Now:         now,
				BlobPresent: tt.blob,
			}, plainChecker{})
			if err != nil {
				t.Fatalf("Resolve() ошибка: %v", err)
			}

			if d.State != tt.want {
				t.Errorf("State = %q, ожидалось %q", d.State, tt.want)
			}
			if d.BlobMissing != tt.blobMissing {
				t.Errorf("BlobMissing = %v, ожидалось %v", d.BlobMissing, tt.blobMissing)
			}
			if d.Granted() != (tt.want == StateGranted) {
				t.Errorf("Granted() = %v", d.Granted())
			}
			wantHistory := []State{StateRequested, StateResolving, tt.want}
			if len(d.History) != len(wantHistory) || d.History[2] != tt.want {
				t.Errorf("History = %v, ожидалось %v", d.History, wantHistory)
			}
		})
	}
}

// TestResolve_BlobCheckSkippedOnDenial проверяет, что blob не проверяется
// для записей, отклонённых раньше.
func TestResolve_BlobCheckSkippedOnDenial(t *testing.T) {
	called := false
	rec := &model.FileRecord{StorageName: "blob", ExpiryTime: timePtr(now.Add(-time.Second))}

	if _, err := Resolve(Request{
		Record: rec,
		Now:    now,
		BlobPresent: func(string) (bool, error) {
			called = true
			return true, nil
		},
	}, plainChecker{}); err != nil {
		t.Fatalf("Resolve() ошибка: %v", err)
	}

	if called {
		t.Error("BlobPresent не должен вызываться для истёкшей записи")
	}
}

// TestResolve_BlobCheckError проверяет, что сбой проверки blob-а
// не превращается в отказ «не найден».
func TestResolve_BlobCheckError(t *testing.T) {
	ioErr := errors.New("input/output error")
	rec := &model.FileRecord{Identifier: "a", StorageName: "blob"}

	d, err := Resolve(Request{
		Record: rec,
		Now:    now,
		BlobPresent: func(string) (bool, error) {
			return false, ioErr
		},
	}, plainChecker{})
	if !errors.Is(err, ioErr) {
		t.Fatalf("ошибка = %v, ожидалась исходная ошибка проверки", err)
	}
	if d.State != StateResolving || d.BlobMissing || d.Granted() {
		t.Errorf("решение = %+v, попытка должна остаться в resolving", d)
	}
	if len(d.History) != 2 {
		t.Errorf("History = %v, ожидалось [requested resolving]", d.History)
	}
}
