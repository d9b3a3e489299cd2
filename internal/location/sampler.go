// Package location samples the device position and exposes it as a
// latest-value stream.
package location

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/phuslu/log"

	"nuha.dev/ridertrack/internal/latest"
)

const (
	SAMPLER_STARTED string = "sampler_started"
	SAMPLER_STOPPED string = "sampler_stopped"
	SAMPLER_FAILED  string = "sampler_failed"
)

var (
	ErrPermissionDenied    = errors.New("location permission denied")
	ErrProviderUnavailable = errors.New("location provider unavailable")
	ErrRunning             = errors.New("sampler already running")
	ErrStopped             = errors.New("sampler stopped")
)

// SamplerError wraps a provider failure. It ends the stream.
type SamplerError struct {
	Err error
}

func (e *SamplerError) Error() string {
	return "location: " + e.Err.Error()
}

func (e *SamplerError) Unwrap() error {
	return e.Err
}

// Fix is one captured position.
type Fix struct {
	Latitude  float64
	Longitude float64
	Time      time.Time
}

func (f Fix) MarshalObject(e *log.Entry) {
	e.Float64("lat", f.Latitude).Float64("lng", f.Longitude)
}

// Provider is the device position source.
type Provider interface {
	Current(ctx context.Context) (Fix, error)
}

type SamplerConfig struct {
	Interval time.Duration
}

type Sampler struct {
	provider Provider
	config   SamplerConfig
	log      log.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSampler(provider Provider, config *SamplerConfig) *Sampler {
	s := &Sampler{}
	s.provider = provider
	s.config = *config
	if s.config.Interval <= 0 {
		s.config.Interval = 2 * time.Second
	}
	s.log = log.DefaultLogger
	s.log.Context = log.NewContext(nil).Str("module", "location").Value()
	return s
}

// Sample takes a single fix outside of any stream.
func (s *Sampler) Sample(ctx context.Context) (Fix, error) {
	f, err := s.provider.Current(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return Fix{}, ctx.Err()
		}
		return Fix{}, &SamplerError{Err: err}
	}
	if f.Time.IsZero() {
		f.Time = time.Now()
	}
	return f, nil
}

// Start begins periodic capture. The first fix is taken immediately. Only one
// capture task runs at a time; Start while running returns ErrRunning.
func (s *Sampler) Start(ctx context.Context) (*Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		select {
		case <-s.done:
		default:
			return nil, ErrRunning
		}
	}
	runCtx, cancel := context.WithCancel(ctx)
	st := &Stream{v: latest.New(Fix{})}
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(runCtx, st, s.done)
	s.log.Info().Str("event", SAMPLER_STARTED).Dur("interval", s.config.Interval).Msg("")
	return st, nil
}

func (s *Sampler) run(ctx context.Context, st *Stream, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()
	for {
		f, err := s.Sample(ctx)
		if err != nil {
			if ctx.Err() != nil {
				st.v.Close(ErrStopped)
				return
			}
			st.v.Close(err)
			s.log.Error().Err(err).Str("event", SAMPLER_FAILED).Msg("")
			return
		}
		st.v.Set(f)
		select {
		case <-ctx.Done():
			st.v.Close(ErrStopped)
			return
		case <-ticker.C:
		}
	}
}

// Stop cancels capture and waits for the task to exit. It is safe to call
// more than once or before Start.
func (s *Sampler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.log.Info().Str("event", SAMPLER_STOPPED).Msg("")
}

func (s *Sampler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done == nil {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Stream is a latest-value view of a running sampler. A consumer slower than
// the capture interval only sees the most recent fix.
type Stream struct {
	v   *latest.Value[Fix]
	seq uint64
}

// Next returns the next fix not yet seen by this stream. Once the sampler
// stops or fails it returns ErrStopped or a *SamplerError.
func (st *Stream) Next(ctx context.Context) (Fix, error) {
	f, seq, err := st.v.Next(ctx, st.seq)
	if err != nil {
		return Fix{}, err
	}
	st.seq = seq
	return f, nil
}

// Err is the terminal error, nil while the sampler runs.
func (st *Stream) Err() error {
	return st.v.Err()
}

func (f Fix) String() string {
	return fmt.Sprintf("%.6f,%.6f", f.Latitude, f.Longitude)
}
