package display

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// Spinner is the busy indicator shown while borg runs. On a non-terminal
// writer it prints the message once and does not animate.
type Spinner struct {
	message  string
	style    SpinnerStyle
	writer   io.Writer
	animate  bool
	colorSys ColorSystem

	mu     sync.Mutex
	active bool
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewSpinner creates a stopped spinner. animate is normally whether writer
// is a terminal.
func NewSpinner(w io.Writer, message string, style SpinnerStyle, animate bool, cs ColorSystem) *Spinner {
	if len(style.Frames) == 0 || style.Delay <= 0 {
		style = LineSpinner
	}
	return &Spinner{
		message:  message,
		style:    style,
		writer:   w,
		animate:  animate,
		colorSys: cs,
	}
}

// IsActive reports whether the spinner is running.
func (s *Spinner) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Start begins the animation.
func (s *Spinner) Start() *Spinner {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return s
	}
	s.active = true

	if !s.animate {
		fmt.Fprintln(s.writer, s.message+"...")
		return s
	}
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.loop(s.stopCh, s.doneCh)
	return s
}

// Update replaces the message.
func (s *Spinner) Update(message string) {
	s.mu.Lock()
	s.message = message
	s.mu.Unlock()
}

// Stop ends the animation, clears the line and prints final if non-empty.
func (s *Spinner) Stop(final string) {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.active = false
	stopCh, doneCh := s.stopCh, s.doneCh
	s.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
		<-doneCh
		fmt.Fprint(s.writer, "\r\033[K")
	}
	if final != "" {
		fmt.Fprintln(s.writer, final)
	}
}

func (s *Spinner) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(time.Duration(s.style.Delay) * time.Millisecond)
	defer ticker.Stop()

	for i := 0; ; i++ {
		s.mu.Lock()
		frame := s.style.Frames[i%len(s.style.Frames)]
		msg := s.message
		s.mu.Unlock()

		if s.colorSys != nil {
			frame = s.colorSys.Colorize(frame, s.colorSys.Theme().Primary)
		}
		fmt.Fprintf(s.writer, "\r\033[K%s %s", frame, msg)

		select {
		case <-stop:
			return
		case <-ticker.C:
		}
	}
}
