package alarm

import (
	"math"
	"time"

	"riskwatch/internal/models"
)

// CycleDuration - длина одного цикла паттерна, после которого он повторяется
const CycleDuration = 3 * time.Second

var cycleSeconds = CycleDuration.Seconds()

// Waveform - форма волны генератора
type Waveform int

const (
	WaveSine Waveform = iota
	WaveSquare
	WaveSawtooth
)

// Pattern - параметрическое описание сирены.
// Tone возвращает частоту (Гц) и громкость [0, 1] в момент t секунд от начала цикла.
type Pattern struct {
	Name models.SirenType
	Wave Waveform
	Tone func(t float64) (freq, gain float64)
}

// ============ Паттерны ============

// police - два тона, смена каждые 0.5с
var police = Pattern{
	Name: models.SirenPolice,
	Wave: WaveSine,
	Tone: func(t float64) (float64, float64) {
		if int(t/0.5)%2 == 0 {
			return 960, 0.8
		}
		return 770, 0.8
	},
}

// ambulance - треугольный свип 650..1300 Гц, один подъём и спад за цикл
var ambulance = Pattern{
	Name: models.SirenAmbulance,
	Wave: WaveSine,
	Tone: func(t float64) (float64, float64) {
		half := cycleSeconds / 2
		pos := t / half
		if t >= half {
			pos = 2 - pos
		}
		return 650 + 650*pos, 0.8
	},
}

// fire - пила 500 -> 1500 Гц, три подъёма за цикл
var fire = Pattern{
	Name: models.SirenFire,
	Wave: WaveSawtooth,
	Tone: func(t float64) (float64, float64) {
		step := cycleSeconds / 3
		pos := math.Mod(t, step) / step
		return 500 + 1000*pos, 0.6
	},
}

// air_raid - экспоненциальный подъём 200 -> 800 Гц за 2с, затем спад за 1с
var airRaid = Pattern{
	Name: models.SirenAirRaid,
	Wave: WaveSine,
	Tone: func(t float64) (float64, float64) {
		const rise = 2.0
		if t < rise {
			return 200 * math.Pow(4, t/rise), 0.9
		}
		pos := (t - rise) / (cycleSeconds - rise)
		return 800 * math.Pow(0.25, pos), 0.9
	},
}

// alarm_clock - 880 Гц меандр, четыре коротких сигнала и тишина
var alarmClock = Pattern{
	Name: models.SirenAlarmClock,
	Wave: WaveSquare,
	Tone: func(t float64) (float64, float64) {
		const beep = 0.15
		const period = 0.3
		if t < 4*period && math.Mod(t, period) < beep {
			return 880, 0.5
		}
		return 880, 0
	},
}

var patterns = map[models.SirenType]Pattern{
	models.SirenPolice:     police,
	models.SirenAmbulance:  ambulance,
	models.SirenFire:       fire,
	models.SirenAirRaid:    airRaid,
	models.SirenAlarmClock: alarmClock,
}

// PatternFor возвращает паттерн сирены. Неизвестный тип даёт police.
func PatternFor(siren models.SirenType) Pattern {
	if p, ok := patterns[siren]; ok {
		return p
	}
	return police
}

// ============ Генератор ============

// Oscillator синтезирует паттерн блоками. Фаза накапливается между блоками,
// поэтому смена частоты не даёт щелчков.
type Oscillator struct {
	pattern    Pattern
	sampleRate int
	phase      float64 // [0, 1)
	sample     int64   // номер отсчёта от начала воспроизведения
}

// NewOscillator создаёт генератор паттерна
func NewOscillator(p Pattern, sampleRate int) *Oscillator {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	return &Oscillator{pattern: p, sampleRate: sampleRate}
}

// Render заполняет buf очередными отсчётами
func (o *Oscillator) Render(buf []float32) {
	rate := float64(o.sampleRate)
	cycleSamples := int64(cycleSeconds * rate)

	for i := range buf {
		t := float64(o.sample%cycleSamples) / rate
		freq, gain := o.pattern.Tone(t)

		buf[i] = float32(gain * wave(o.pattern.Wave, o.phase))

		o.phase += freq / rate
		o.phase -= math.Floor(o.phase)
		o.sample++
	}
}

// Elapsed - сколько звука уже сгенерировано
func (o *Oscillator) Elapsed() time.Duration {
	return time.Duration(float64(o.sample) / float64(o.sampleRate) * float64(time.Second))
}

func wave(w Waveform, phase float64) float64 {
	switch w {
	case WaveSquare:
		if phase < 0.5 {
			return 1
		}
		return -1
	case WaveSawtooth:
		return 2*phase - 1
	default:
		return math.Sin(2 * math.Pi * phase)
	}
}
