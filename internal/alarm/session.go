package alarm

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"sync"
)

// DefaultSampleRate - частота дискретизации синтеза
const DefaultSampleRate = 44100

// ErrSessionClosed - запись в закрытую сессию
var ErrSessionClosed = errors.New("audio session closed")

// AudioSession - открытый аудиовыход. Владелец сессии обязан вызвать Close:
// без этого устройство продолжит звучать.
type AudioSession interface {
	// Write отдаёт очередной блок отсчётов в диапазоне [-1, 1]
	Write(samples []float32) error
	Close() error
}

// SessionFactory открывает аудиосессии для плеера
type SessionFactory interface {
	Open(ctx context.Context, sampleRate int) (AudioSession, error)
}

// SessionFactoryFunc - адаптер функции к SessionFactory
type SessionFactoryFunc func(ctx context.Context, sampleRate int) (AudioSession, error)

func (f SessionFactoryFunc) Open(ctx context.Context, sampleRate int) (AudioSession, error) {
	return f(ctx, sampleRate)
}

// ============ NullSession ============

// NullSession принимает отсчёты и никуда их не выводит (сервер без звука).
// Считает записанные отсчёты, что удобно для наблюдения за воспроизведением.
type NullSession struct {
	mu      sync.Mutex
	samples int64
	closed  bool
}

func (s *NullSession) Write(samples []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.samples += int64(len(samples))
	return nil
}

func (s *NullSession) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Samples возвращает количество принятых отсчётов
func (s *NullSession) Samples() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.samples
}

// Closed - была ли сессия закрыта
func (s *NullSession) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// NullFactory открывает NullSession
func NullFactory() SessionFactory {
	return SessionFactoryFunc(func(context.Context, int) (AudioSession, error) {
		return &NullSession{}, nil
	})
}

// ============ PCMSession ============

// PCMSession пишет 16-bit little-endian mono PCM в io.Writer
// (пайп в aplay/ffplay, файл, сокет). Close закрывает writer, если он io.Closer.
type PCMSession struct {
	mu     sync.Mutex
	w      io.Writer
	buf    []byte
	closed bool
}

// NewPCMSession создаёт сессию поверх w
func NewPCMSession(w io.Writer) *PCMSession {
	return &PCMSession{w: w}
}

func (s *PCMSession) Write(samples []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}

	need := len(samples) * 2
	if cap(s.buf) < need {
		s.buf = make([]byte, need)
	}
	s.buf = s.buf[:need]
	for i, v := range samples {
		binary.LittleEndian.PutUint16(s.buf[i*2:], uint16(toInt16(v)))
	}

	_, err := s.w.Write(s.buf)
	return err
}

func (s *PCMSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if c, ok := s.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// PCMFactory открывает PCMSession поверх writer, полученного от open
func PCMFactory(open func(ctx context.Context, sampleRate int) (io.WriteCloser, error)) SessionFactory {
	return SessionFactoryFunc(func(ctx context.Context, sampleRate int) (AudioSession, error) {
		w, err := open(ctx, sampleRate)
		if err != nil {
			return nil, err
		}
		return NewPCMSession(w), nil
	})
}

func toInt16(v float32) int16 {
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	return int16(math.Round(float64(v) * math.MaxInt16))
}
