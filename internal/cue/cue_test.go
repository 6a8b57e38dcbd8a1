package cue

import (
	"math"
	"testing"
	"time"

	"github.com/gopxl/beep"

	"balldrop.ai/internal/protocol"
	"balldrop.ai/internal/sim/world"
)

func drain(t *testing.T, s beep.Streamer) (n int, peak float64) {
	t.Helper()
	buf := make([][2]float64, 512)
	for i := 0; i < 1000; i++ {
		got, ok := s.Stream(buf)
		for _, smp := range buf[:got] {
			for _, v := range smp {
				if math.IsNaN(v) || math.IsInf(v, 0) {
					t.Fatalf("non-finite sample %v", v)
				}
				peak = math.Max(peak, math.Abs(v))
			}
		}
		n += got
		if !ok {
			return n, peak
		}
	}
	t.Fatalf("stream did not end")
	return n, peak
}

func TestFor(t *testing.T) {
	for _, tc := range []struct {
		sig  protocol.SignalInfo
		want Sound
	}{
		{protocol.SignalInfo{Kind: string(world.SigCountdown), Text: "3"}, SoundCount},
		{protocol.SignalInfo{Kind: string(world.SigCountdown), Text: "GO!"}, SoundGo},
		{protocol.SignalInfo{Kind: string(world.SigFinished), Rank: 2}, SoundChime},
		{protocol.SignalInfo{Kind: string(world.SigFinished), Rank: 0}, SoundNone},
		{protocol.SignalInfo{Kind: string(world.SigTopReached)}, SoundFanfare},
		{protocol.SignalInfo{Kind: string(world.SigShake)}, SoundRumble},
		{protocol.SignalInfo{Kind: string(world.SigReleased)}, SoundNone},
	} {
		if got := For(tc.sig); got != tc.want {
			t.Fatalf("For(%+v) = %d, want %d", tc.sig, got, tc.want)
		}
	}
}

func TestStream_LengthAndRange(t *testing.T) {
	rate := beep.SampleRate(8000)
	for _, tc := range []struct {
		s Sound
		d time.Duration
	}{
		{SoundCount, 120 * time.Millisecond},
		{SoundGo, 300 * time.Millisecond},
		{SoundChime, 400 * time.Millisecond},
		{SoundFanfare, 840 * time.Millisecond},
		{SoundRumble, 770 * time.Millisecond},
	} {
		n, peak := drain(t, Stream(tc.s, rate, 1))
		if want := rate.N(tc.d); n < want-4 || n > want+4 {
			t.Fatalf("sound %d: %d samples, want about %d", tc.s, n, want)
		}
		if peak <= 0 || peak > 1+1e-9 {
			t.Fatalf("sound %d: peak %v outside (0,1]", tc.s, peak)
		}
	}
	if Stream(SoundNone, rate, 1) != nil {
		t.Fatalf("SoundNone should have no stream")
	}
}

func TestStream_ZeroVolumeIsSilent(t *testing.T) {
	_, peak := drain(t, Stream(SoundChime, beep.SampleRate(8000), 0))
	if peak != 0 {
		t.Fatalf("peak %v at volume 0", peak)
	}
}

func TestPlayer_UnopenedIsSilent(t *testing.T) {
	p := NewPlayer(1)
	p.Signal(protocol.SignalInfo{Kind: string(world.SigTopReached)})
	p.Play(SoundChime)
	if p.Played() != 0 {
		t.Fatalf("unopened player played %d cues", p.Played())
	}
	p.Close()
}
