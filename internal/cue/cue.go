// Package cue turns race signals into short synthesized sounds: a beep per
// countdown label, a higher one on GO, a chime per ranked finisher, a fanfare
// when the rank list fills and a rumble while the course shakes.
package cue

import (
	"sync"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/speaker"

	"balldrop.ai/internal/protocol"
	"balldrop.ai/internal/sim/world"
)

type Sound int

const (
	SoundNone Sound = iota
	SoundCount
	SoundGo
	SoundChime
	SoundFanfare
	SoundRumble
)

const SampleRate = beep.SampleRate(44100)

// For picks the sound for one frame signal.
func For(sig protocol.SignalInfo) Sound {
	switch world.SignalKind(sig.Kind) {
	case world.SigCountdown:
		if sig.Text == "GO!" || sig.Text == "GO" {
			return SoundGo
		}
		return SoundCount
	case world.SigFinished:
		if sig.Rank > 0 {
			return SoundChime
		}
	case world.SigTopReached:
		return SoundFanfare
	case world.SigShake:
		return SoundRumble
	}
	return SoundNone
}

// Stream synthesizes s at rate, scaled by vol in [0,1]. SoundNone yields nil.
func Stream(s Sound, rate beep.SampleRate, vol float64) beep.Streamer {
	var st beep.Streamer
	switch s {
	case SoundCount:
		st = note(660, 120*time.Millisecond, waveSquare, rate)
		vol *= 0.5
	case SoundGo:
		st = note(1320, 300*time.Millisecond, waveSquare, rate)
		vol *= 0.5
	case SoundChime:
		st = beep.Mix(
			volume(note(880, 400*time.Millisecond, waveSine, rate), 0.7),
			volume(note(1760, 400*time.Millisecond, waveSine, rate), 0.3),
		)
	case SoundFanfare:
		st = beep.Seq(
			note(523.25, 140*time.Millisecond, waveSine, rate),
			note(659.25, 140*time.Millisecond, waveSine, rate),
			note(783.99, 140*time.Millisecond, waveSine, rate),
			note(1046.5, 420*time.Millisecond, waveSine, rate),
		)
	case SoundRumble:
		st = shape(newTone(0, 770*time.Millisecond, waveNoise, rate), 770*time.Millisecond, 40*time.Millisecond, 300*time.Millisecond, rate)
		vol *= 0.35
	default:
		return nil
	}
	return volume(st, vol)
}

// Player mixes cues onto the default audio device. A Player that was never
// opened, or failed to open, stays silent.
type Player struct {
	vol float64

	mu     sync.Mutex
	opened bool
	mixer  *beep.Mixer
	played int
}

func NewPlayer(vol float64) *Player {
	return &Player{vol: vol, mixer: &beep.Mixer{}}
}

func (p *Player) Open() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.opened {
		return nil
	}
	if err := speaker.Init(SampleRate, SampleRate.N(100*time.Millisecond)); err != nil {
		return err
	}
	speaker.Play(p.mixer)
	p.opened = true
	return nil
}

// Signal plays the cue for sig, if it has one.
func (p *Player) Signal(sig protocol.SignalInfo) {
	p.Play(For(sig))
}

func (p *Player) Play(s Sound) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.opened || s == SoundNone {
		return
	}
	st := Stream(s, SampleRate, p.vol)
	speaker.Lock()
	p.mixer.Add(st)
	speaker.Unlock()
	p.played++
}

// Played counts cues handed to the device.
func (p *Player) Played() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.played
}

func (p *Player) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.opened {
		return
	}
	speaker.Lock()
	p.mixer.Clear()
	speaker.Unlock()
	speaker.Close()
	p.opened = false
}
