package audio

import (
	"bytes"
	"context"
	"errors"
	"math"
	"testing"
	"time"
)

func sine(n, bin, fftSize int, amplitude float64) []int16 {
	out := make([]int16, n)
	for i := range out {
		v := amplitude * math.Sin(2*math.Pi*float64(bin)*float64(i)/float64(fftSize))
		out[i] = int16(math.Round(v * 32767))
	}
	return out
}

func openFake(t *testing.T) *FakeStream {
	t.Helper()
	p := NewFakeProvider()
	s, err := p.Open(context.Background(), Constraints{SampleRate: 44100})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s.(*FakeStream)
}

func TestMeanMagnitudeAndLevel(t *testing.T) {
	buf := bytes.Repeat([]byte{200}, 128)
	mean := MeanMagnitude(buf)
	if mean != 200 {
		t.Fatalf("MeanMagnitude = %v, want 200", mean)
	}
	if got := LevelPercent(mean); got != 78 {
		t.Errorf("LevelPercent(200) = %d, want 78", got)
	}

	tests := []struct {
		mean float64
		want int
	}{
		{0, 0},
		{255, 100},
		{127.5, 50},
		{-10, 0},
		{300, 100},
	}
	for _, tt := range tests {
		if got := LevelPercent(tt.mean); got != tt.want {
			t.Errorf("LevelPercent(%v) = %d, want %d", tt.mean, got, tt.want)
		}
	}

	if MeanMagnitude(nil) != 0 {
		t.Error("MeanMagnitude(nil) should be 0")
	}
}

func TestDecodeS16LE(t *testing.T) {
	got := DecodeS16LE([]byte{0x01, 0x00, 0xff, 0xff, 0x00, 0x80, 0x7f}, nil)
	want := []int16{1, -1, -32768}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestValidFFTSize(t *testing.T) {
	for _, n := range []int{32, 256, 2048, 32768} {
		if !ValidFFTSize(n) {
			t.Errorf("ValidFFTSize(%d) = false", n)
		}
	}
	for _, n := range []int{0, 16, 100, 65536} {
		if ValidFFTSize(n) {
			t.Errorf("ValidFFTSize(%d) = true", n)
		}
	}
}

func TestAnalyserSilence(t *testing.T) {
	stream := openFake(t)
	ctx := NewContext(stream)
	a, err := ctx.CreateAnalyser(256)
	if err != nil {
		t.Fatalf("CreateAnalyser: %v", err)
	}
	if a.FrequencyBinCount() != 128 {
		t.Fatalf("FrequencyBinCount = %d, want 128", a.FrequencyBinCount())
	}

	stream.Feed(make([]int16, 512))
	buf := make([]byte, a.FrequencyBinCount())
	n, err := a.ByteFrequencyData(buf)
	if err != nil {
		t.Fatalf("ByteFrequencyData: %v", err)
	}
	if n != 128 {
		t.Fatalf("n = %d, want 128", n)
	}
	if MeanMagnitude(buf) != 0 {
		t.Errorf("silence mean = %v, want 0", MeanMagnitude(buf))
	}
}

func TestAnalyserTonePeak(t *testing.T) {
	stream := openFake(t)
	ctx := NewContext(stream)
	a, err := ctx.CreateAnalyser(256)
	if err != nil {
		t.Fatalf("CreateAnalyser: %v", err)
	}

	stream.Feed(sine(256, 16, 256, 1.0))
	buf := make([]byte, 128)
	if _, err := a.ByteFrequencyData(buf); err != nil {
		t.Fatalf("ByteFrequencyData: %v", err)
	}
	if buf[16] != 255 {
		t.Errorf("bin 16 = %d, want 255", buf[16])
	}
	if buf[100] != 0 {
		t.Errorf("bin 100 = %d, want 0", buf[100])
	}
}

func TestAnalyserSmoothing(t *testing.T) {
	stream := openFake(t)
	ctx := NewContext(stream)
	a, _ := ctx.CreateAnalyser(256)

	stream.Feed(sine(256, 8, 256, 0.01))
	first := make([]byte, 128)
	if _, err := a.ByteFrequencyData(first); err != nil {
		t.Fatal(err)
	}

	// No new audio: repeated reads must not smooth again.
	again := make([]byte, 128)
	if _, err := a.ByteFrequencyData(again); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first, again) {
		t.Error("repeated read without new samples changed the output")
	}

	// The same tone again rises towards its steady state.
	stream.Feed(sine(256, 8, 256, 0.01))
	second := make([]byte, 128)
	if _, err := a.ByteFrequencyData(second); err != nil {
		t.Fatal(err)
	}
	if second[8] <= first[8] {
		t.Errorf("smoothed bin did not rise: %d -> %d", first[8], second[8])
	}

	// Silence decays but does not drop to zero immediately.
	stream.Feed(make([]int16, 256))
	third := make([]byte, 128)
	if _, err := a.ByteFrequencyData(third); err != nil {
		t.Fatal(err)
	}
	if third[8] == 0 || third[8] >= second[8] {
		t.Errorf("smoothed bin after silence = %d, want in (0, %d)", third[8], second[8])
	}
}

func TestContextClose(t *testing.T) {
	stream := openFake(t)
	ctx := NewContext(stream)
	if ctx.State() != ContextRunning {
		t.Fatalf("State = %q, want running", ctx.State())
	}
	if _, err := ctx.CreateAnalyser(100); !errors.Is(err, ErrInvalidFFTSize) {
		t.Errorf("CreateAnalyser(100) error = %v, want ErrInvalidFFTSize", err)
	}

	a, err := ctx.CreateAnalyser(256)
	if err != nil {
		t.Fatalf("CreateAnalyser: %v", err)
	}
	if stream.Sinks() != 1 {
		t.Fatalf("Sinks = %d, want 1", stream.Sinks())
	}

	if err := ctx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if ctx.State() != ContextClosed {
		t.Errorf("State = %q, want closed", ctx.State())
	}
	if stream.Sinks() != 0 {
		t.Errorf("Sinks = %d after close, want 0", stream.Sinks())
	}
	if _, err := a.ByteFrequencyData(make([]byte, 128)); !errors.Is(err, ErrAnalyserClosed) {
		t.Errorf("read after close error = %v, want ErrAnalyserClosed", err)
	}
	if err := ctx.Close(); !errors.Is(err, ErrContextClosed) {
		t.Errorf("second Close error = %v, want ErrContextClosed", err)
	}
	if _, err := ctx.CreateAnalyser(256); !errors.Is(err, ErrContextClosed) {
		t.Errorf("CreateAnalyser after close error = %v, want ErrContextClosed", err)
	}
}

func TestAnalyserCloseIdempotent(t *testing.T) {
	stream := openFake(t)
	a, _ := NewContext(stream).CreateAnalyser(256)
	a.Close()
	a.Close()
	if !a.Closed() {
		t.Error("Closed = false after Close")
	}
	if stream.Sinks() != 0 {
		t.Errorf("Sinks = %d, want 0", stream.Sinks())
	}
}

func TestThresholdGate(t *testing.T) {
	g := NewThresholdGate()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	if ev := g.Update(150, ThresholdMean, base); ev.Above || ev.JustCrossed {
		t.Fatalf("mean equal to threshold should not cross: %+v", ev)
	}

	ev := g.Update(151, ThresholdMean, base.Add(100*time.Millisecond))
	if !ev.Above || !ev.JustCrossed {
		t.Fatalf("expected crossing: %+v", ev)
	}

	ev = g.Update(200, ThresholdMean, base.Add(600*time.Millisecond))
	if !ev.Above || ev.JustCrossed || ev.DurationMs != 500 {
		t.Fatalf("expected sustained above for 500ms: %+v", ev)
	}

	ev = g.Update(20, ThresholdMean, base.Add(1100*time.Millisecond))
	if ev.Above || !ev.JustCleared || ev.TotalDurationMs != 1000 {
		t.Fatalf("expected clear after 1000ms: %+v", ev)
	}

	g.Update(255, ThresholdMean, base.Add(2*time.Second))
	g.Reset()
	if ev := g.Update(10, ThresholdMean, base.Add(3*time.Second)); ev.JustCleared {
		t.Error("Reset should not report a later clear")
	}
}

func TestPeakHolder(t *testing.T) {
	p := NewPeakHolder(time.Second)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	if got := p.Update(40, base); got != 40 {
		t.Fatalf("Update = %d, want 40", got)
	}
	if got := p.Update(10, base.Add(500*time.Millisecond)); got != 40 {
		t.Errorf("held peak = %d, want 40", got)
	}
	if got := p.Update(10, base.Add(1600*time.Millisecond)); got != 10 {
		t.Errorf("peak after hold expired = %d, want 10", got)
	}
	p.Reset()
	if got := p.Update(5, base.Add(1700*time.Millisecond)); got != 5 {
		t.Errorf("peak after Reset = %d, want 5", got)
	}

	if d := NewPeakHolder(0); d.holdDuration != DefaultPeakHoldDuration {
		t.Errorf("default hold = %v, want %v", d.holdDuration, DefaultPeakHoldDuration)
	}
}

func TestFakeProviderScriptedFailure(t *testing.T) {
	p := NewFakeProvider()
	p.FailNext(ErrPermissionDenied)

	if _, err := p.Open(context.Background(), Constraints{}); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("first Open error = %v, want ErrPermissionDenied", err)
	}
	s, err := p.Open(context.Background(), Constraints{SampleRate: 44100, EchoCancellation: true})
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	if !s.Settings().EchoCancellation {
		t.Error("settings should echo constraints")
	}
	if p.Opens() != 2 || p.Live() != 1 {
		t.Errorf("Opens = %d, Live = %d, want 2 and 1", p.Opens(), p.Live())
	}
	if err := StopTracks(s); err != nil {
		t.Fatalf("StopTracks: %v", err)
	}
	if p.Live() != 0 {
		t.Errorf("Live = %d after stop, want 0", p.Live())
	}
}

func TestFakeProviderBlockHonoursContext(t *testing.T) {
	p := NewFakeProvider()
	release := p.Block()
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := p.Open(ctx, Constraints{})
		errCh <- err
	}()

	<-p.OpenStarted()
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Open error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Open did not return after cancel")
	}
	if p.Live() != 0 {
		t.Errorf("Live = %d, want 0", p.Live())
	}
}

func TestStopTracksJoinsErrors(t *testing.T) {
	s := openFake(t)
	boom := errors.New("device busy")
	s.Track().FailStop(boom)

	if err := StopTracks(s); !errors.Is(err, boom) {
		t.Fatalf("StopTracks error = %v, want %v", err, boom)
	}
	if s.Track().Live() {
		t.Error("track should be released even when Stop reports an error")
	}
	if err := StopTracks(s); err != nil {
		t.Errorf("second StopTracks error = %v, want nil", err)
	}
}
