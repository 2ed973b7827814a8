// Package alarm - звуковая сирена тревоги.
//
// Плеер никогда не возвращает ошибок вызывающему: недоступный звук,
// сбой записи и паника генератора только логируются, а тревога
// остаётся в состоянии triggered и видна в статусе.
package alarm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"riskwatch/internal/models"
	"riskwatch/pkg/utils"
)

// Status - снимок состояния плеера
type Status struct {
	UserID    string           `json:"user_id"`
	State     State            `json:"state"`
	AlertType models.AlertType `json:"alert_type,omitempty"`
	Siren     models.SirenType `json:"siren,omitempty"`
	Since     time.Time        `json:"since"`
	Audible   bool             `json:"audible"`
	Info      string           `json:"info"`
}

// Listener получает каждое изменение состояния.
// Вызывается вне блокировок данных, но не должен обращаться к тому же плееру синхронно.
type Listener func(Status)

// Config - параметры воспроизведения
type Config struct {
	SampleRate    int
	ChunkDuration time.Duration // размер блока записи в сессию
}

// DefaultConfig возвращает параметры по умолчанию
func DefaultConfig() Config {
	return Config{
		SampleRate:    DefaultSampleRate,
		ChunkDuration: 100 * time.Millisecond,
	}
}

// Player - сирена одного пользователя: idle -> triggered -> playing.
// Аудиосессией владеет горутина воспроизведения: она открывает и обязательно закрывает её.
type Player struct {
	userID   string
	factory  SessionFactory
	cfg      Config
	listener Listener
	log      *utils.Logger
	now      func() time.Time

	// opMu сериализует Trigger/Stop/Clear/Close целиком, включая ожидание горутины
	opMu sync.Mutex

	mu        sync.Mutex
	state     State
	alertType models.AlertType
	siren     models.SirenType
	since     time.Time
	gen       uint64
	cancel    context.CancelFunc
	done      chan struct{}
	closed    bool
}

// NewPlayer создаёт плеер в состоянии idle
func NewPlayer(userID string, factory SessionFactory, cfg Config, listener Listener) *Player {
	if factory == nil {
		factory = NullFactory()
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.ChunkDuration <= 0 {
		cfg.ChunkDuration = 100 * time.Millisecond
	}
	return &Player{
		userID:   userID,
		factory:  factory,
		cfg:      cfg,
		listener: listener,
		log:      utils.L().WithComponent("alarm").WithUser(userID),
		now:      time.Now,
		state:    StateIdle,
	}
}

// Trigger поднимает тревогу. Если уже звучит тревога того же или более
// высокого приоритета, вызов поглощается и возвращает false. Более важная
// тревога прерывает текущую: звук перезапускается с её сиреной.
func (p *Player) Trigger(alertType models.AlertType, siren models.SirenType) bool {
	p.opMu.Lock()
	defer p.opMu.Unlock()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return false
	}
	if IsActive(p.state) && alertType.Severity() <= p.alertType.Severity() {
		p.mu.Unlock()
		return false
	}
	preempt := IsActive(p.state)
	p.mu.Unlock()

	if preempt {
		p.log.Info("alarm preempted", utils.AlertType(string(alertType)))
	}
	p.stopPlayback()

	if !siren.Valid() {
		siren = models.SirenPolice
	}

	p.mu.Lock()
	if !p.setState(StateTriggered) {
		p.mu.Unlock()
		return false
	}
	p.alertType = alertType
	p.siren = siren
	p.gen++
	gen := p.gen
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	p.cancel = cancel
	p.done = done
	status := p.statusLocked()
	p.mu.Unlock()

	p.notify(status)
	go p.play(ctx, gen, siren, done)
	return true
}

// Stop выключает сирену по команде пользователя. Возвращает false, если она не звучала.
func (p *Player) Stop() bool {
	p.opMu.Lock()
	defer p.opMu.Unlock()
	return p.stopLocked()
}

// Clear выключает сирену, если текущая тревога одного из types
// (условие вернулось ниже порога)
func (p *Player) Clear(types ...models.AlertType) bool {
	p.opMu.Lock()
	defer p.opMu.Unlock()

	p.mu.Lock()
	current := p.alertType
	active := IsActive(p.state)
	p.mu.Unlock()

	if !active {
		return false
	}
	for _, t := range types {
		if t == current {
			return p.stopLocked()
		}
	}
	return false
}

// Close останавливает звук; после Close плеер игнорирует Trigger
func (p *Player) Close() {
	p.opMu.Lock()
	defer p.opMu.Unlock()

	p.stopLocked()
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

// Status возвращает текущее состояние
func (p *Player) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.statusLocked()
}

// stopLocked вызывается под opMu
func (p *Player) stopLocked() bool {
	p.stopPlayback()

	p.mu.Lock()
	if !p.setState(StateIdle) {
		p.mu.Unlock()
		return false
	}
	p.alertType = ""
	p.siren = ""
	status := p.statusLocked()
	p.mu.Unlock()

	p.notify(status)
	return true
}

// stopPlayback останавливает горутину воспроизведения и ждёт закрытия сессии
func (p *Player) stopPlayback() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// setState вызывается под mu
func (p *Player) setState(to State) bool {
	if !CanTransition(p.state, to) {
		return false
	}
	p.state = to
	p.since = p.now()
	return true
}

func (p *Player) statusLocked() Status {
	return Status{
		UserID:    p.userID,
		State:     p.state,
		AlertType: p.alertType,
		Siren:     p.siren,
		Since:     p.since,
		Audible:   p.state == StatePlaying,
		Info:      StateInfo(p.state),
	}
}

func (p *Player) notify(s Status) {
	if p.listener != nil {
		p.listener(s)
	}
}

// ============ Воспроизведение ============

func (p *Player) play(ctx context.Context, gen uint64, siren models.SirenType, done chan struct{}) {
	defer close(done)
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("alarm playback panic", utils.Err(fmt.Errorf("%v", r)))
			p.demote(gen)
		}
	}()

	sess, err := p.factory.Open(ctx, p.cfg.SampleRate)
	if err != nil {
		if ctx.Err() == nil {
			p.log.Warn("audio unavailable, alarm stays silent", utils.Err(err))
		}
		return
	}
	defer func() {
		if err := sess.Close(); err != nil {
			p.log.Warn("audio session close failed", utils.Err(err))
		}
	}()

	p.mu.Lock()
	if p.gen != gen || ctx.Err() != nil || !p.setState(StatePlaying) {
		p.mu.Unlock()
		return
	}
	status := p.statusLocked()
	p.mu.Unlock()
	p.notify(status)

	osc := NewOscillator(PatternFor(siren), p.cfg.SampleRate)
	buf := make([]float32, int(float64(p.cfg.SampleRate)*p.cfg.ChunkDuration.Seconds()))
	if len(buf) == 0 {
		buf = make([]float32, 1)
	}

	ticker := time.NewTicker(p.cfg.ChunkDuration)
	defer ticker.Stop()

	for {
		osc.Render(buf)
		if err := sess.Write(buf); err != nil {
			p.log.Warn("audio write failed, alarm stays silent", utils.Err(err))
			p.demote(gen)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// demote возвращает playing -> triggered, если горутина ещё актуальна
func (p *Player) demote(gen uint64) {
	p.mu.Lock()
	if p.gen != gen || p.state != StatePlaying || !p.setState(StateTriggered) {
		p.mu.Unlock()
		return
	}
	status := p.statusLocked()
	p.mu.Unlock()
	p.notify(status)
}
