package alarm

// State - состояние сирены пользователя (только в памяти процесса)
type State string

const (
	StateIdle      State = "idle"
	StateTriggered State = "triggered" // тревога поднята, звук ещё не идёт (или звук недоступен)
	StatePlaying   State = "playing"   // аудиосессия открыта, паттерн зациклен
)

// ValidTransitions определяет допустимые переходы между состояниями
var ValidTransitions = map[State][]State{
	StateIdle:      {StateTriggered},
	StateTriggered: {StatePlaying, StateIdle, StateTriggered}, // Triggered при вытеснении более важной тревогой
	StatePlaying:   {StateIdle, StateTriggered},               // Triggered при вытеснении, звук перезапускается
}

// CanTransition проверяет допустимость перехода
func CanTransition(from, to State) bool {
	allowed, ok := ValidTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// StateInfo возвращает описание состояния для UI
func StateInfo(s State) string {
	switch s {
	case StateIdle:
		return "Сирена выключена"
	case StateTriggered:
		return "Тревога! Запуск звука..."
	case StatePlaying:
		return "Тревога! Сирена звучит"
	default:
		return "Неизвестное состояние"
	}
}

// IsActive возвращает true пока тревога не подтверждена и не сброшена
func IsActive(s State) bool {
	return s == StateTriggered || s == StatePlaying
}
