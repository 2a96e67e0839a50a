// Пакет access — конечный автомат проверки доступа к файлу.
//
// Каждая попытка скачивания проходит состояния:
//
//	requested → resolving → {granted, denied_not_found, denied_expired,
//	                         denied_password_required, denied_password_incorrect}
//
// Все итоговые состояния терминальны для попытки. Порядок проверок
// фиксирован, срабатывает первая подходящая.
package access

import (
	"fmt"
	"time"

	"github.com/bigkaa/goartstore/share-module/internal/domain/model"
)

// State — состояние попытки доступа.
type State string

const (
	StateRequested               State = "requested"
	StateResolving               State = "resolving"
	StateGranted                 State = "granted"
	StateDeniedNotFound          State = "denied_not_found"
	StateDeniedExpired           State = "denied_expired"
	StateDeniedPasswordRequired  State = "denied_password_required"
	StateDeniedPasswordIncorrect State = "denied_password_incorrect"
)

// validTransitions — матрица допустимых переходов.
var validTransitions = map[State]map[State]bool{
	StateRequested: {StateResolving: true},
	StateResolving: {
		StateGranted:                 true,
		StateDeniedNotFound:          true,
		StateDeniedExpired:           true,
		StateDeniedPasswordRequired:  true,
		StateDeniedPasswordIncorrect: true,
	},
}

// IsTerminal сообщает, является ли состояние итоговым.
func (s State) IsTerminal() bool {
	switch s {
	case StateGranted, StateDeniedNotFound, StateDeniedExpired,
		StateDeniedPasswordRequired, StateDeniedPasswordIncorrect:
		return true
	}
	return false
}

// IsUnavailable — отказ, который клиент видит как «файл недоступен».
func (s State) IsUnavailable() bool {
	return s == StateDeniedNotFound || s == StateDeniedExpired
}

// TransitionError — недопустимый переход между состояниями.
type TransitionError struct {
	From State
	To   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("недопустимый переход %s → %s", e.From, e.To)
}

// Attempt — одна попытка доступа. Не потокобезопасна:
// живёт в пределах одного запроса.
type Attempt struct {
	state   State
	history []State
}

// NewAttempt создаёт попытку в состоянии requested.
func NewAttempt() *Attempt {
	return &Attempt{state: StateRequested, history: []State{StateRequested}}
}

// State возвращает текущее состояние.
func (a *Attempt) State() State {
	return a.state
}

// History возвращает пройденные состояния по порядку.
func (a *Attempt) History() []State {
	out := make([]State, len(a.history))
	copy(out, a.history)
	return out
}

// TransitionTo переводит попытку в состояние target.
func (a *Attempt) TransitionTo(target State) error {
	if !validTransitions[a.state][target] {
		return &TransitionError{From: a.state, To: target}
	}
	a.state = target
	a.history = append(a.history, target)
	return nil
}

// PasswordChecker проверяет пароль против сохранённого verifier.
type PasswordChecker interface {
	Verify(verifier, password string) bool
}

// Request — входные данные проверки доступа.
type Request struct {
	// Record — запись из хранилища метаданных; nil — не найдена
	Record *model.FileRecord
	// Password — пароль от клиента; пустая строка — не передан
	Password string
	// Now — момент проверки
	Now time.Time
	// BlobPresent проверяет физическое наличие blob-а.
	// Вызывается только после успешных проверок записи.
	// Ошибка означает, что наличие установить не удалось.
	BlobPresent func(storageName string) (bool, error)
}

// Decision — результат проверки доступа.
type Decision struct {
	State State
	// BlobMissing — отказ из-за отсутствия blob-а при валидной записи
	BlobMissing bool
	// History — пройденные попыткой состояния
	History []State
}

// Granted сообщает, разрешён ли доступ.
func (d Decision) Granted() bool {
	return d.State == StateGranted
}

// Resolve проводит попытку через автомат и возвращает решение.
// При ошибке проверки blob-а попытка остаётся в resolving
// и ошибка возвращается вызывающему.
func Resolve(req Request, checker PasswordChecker) (Decision, error) {
	a := NewAttempt()
	if err := a.TransitionTo(StateResolving); err != nil {
		return Decision{State: a.State(), History: a.History()}, err
	}

	decision, err := resolve(req, checker)
	if err != nil {
		return Decision{State: a.State(), History: a.History()}, err
	}
	if err := a.TransitionTo(decision.State); err != nil {
		return Decision{State: a.State(), History: a.History()}, err
	}
	decision.History = a.History()
	return decision, nil
}

func resolve(req Request, checker PasswordChecker) (Decision, error) {
	rec := req.Record

	// 1. Нет записи или soft delete
	if rec == nil || rec.State() != model.StateActive {
		return Decision{State: StateDeniedNotFound}, nil
	}

	// 2. Срок истёк, пароль не важен
	if rec.IsExpired(req.Now) {
		return Decision{State: StateDeniedExpired}, nil
	}

	// 3-4. Пароль
	if rec.HasPassword() {
		if req.Password == "" {
			return Decision{State: StateDeniedPasswordRequired}, nil
		}
		if checker == nil || !checker.Verify(*rec.PasswordVerifier, req.Password) {
			return Decision{State: StateDeniedPasswordIncorrect}, nil
		}
	}

	// 5. Физическое наличие blob-а
	if req.BlobPresent != nil {
		ok, err := req.BlobPresent(rec.StorageName)
		if err != nil {
			return Decision{}, fmt.Errorf("проверка blob %s: %w", rec.StorageName, err)
		}
		if !ok {
			return Decision{State: StateDeniedNotFound, BlobMissing: true}, nil
		}
	}

	return Decision{State: StateGranted}, nil
}
