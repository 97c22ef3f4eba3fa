// Package pwa implements the installability collaborator: the deferred
// install prompt and the manifest, service worker and offline assets.
package pwa

import (
	"embed"
	"errors"
	"log/slog"
	"regexp"
	"slices"
	"sync"
	"time"
)

//go:embed static/sw.js
var staticFS embed.FS

// OfflineMessage is served when the network is unavailable.
const OfflineMessage = "Você está offline. Verifique sua conexão."

// Outcome is the user's answer to an install prompt.
type Outcome string

const (
	OutcomeAccepted  Outcome = "accepted"
	OutcomeDismissed Outcome = "dismissed"
)

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool {
	return o == OutcomeAccepted || o == OutcomeDismissed
}

var (
	// ErrNoPrompt is returned by Trigger when no prompt has been deferred.
	ErrNoPrompt = errors.New("no install prompt available")
	// ErrNotPending is returned by Resolve when no prompt was triggered.
	ErrNotPending = errors.New("no install prompt awaiting an answer")
	// ErrInvalidOutcome is returned by Resolve for an unknown outcome.
	ErrInvalidOutcome = errors.New("outcome must be accepted or dismissed")
)

// Prompt is a platform install event captured for later replay.
type Prompt struct {
	Platforms  []string  `json:"platforms,omitempty"`
	CapturedAt time.Time `json:"capturedAt"`
}

// Status is the affordance exposed to the presentation layer.
type Status struct {
	Available bool     `json:"available"`
	Pending   bool     `json:"pending"`
	Installed bool     `json:"installed"`
	Outcome   *Outcome `json:"outcome,omitempty"`
}

// Installer owns the deferred install prompt. The zero value is not usable;
// call NewInstaller.
type Installer struct {
	mu        sync.Mutex
	deferred  *Prompt
	pending   bool
	installed bool
	outcome   *Outcome
	now       func() time.Time
	listeners []func(Outcome)
	logger    *slog.Logger
}

// NewInstaller returns an Installer with no deferred prompt.
func NewInstaller(logger *slog.Logger) *Installer {
	return &Installer{now: time.Now, logger: logger}
}

// OnOutcome registers fn to be called when an outcome is resolved.
func (in *Installer) OnOutcome(fn func(Outcome)) {
	in.mu.Lock()
	in.listeners = append(in.listeners, fn)
	in.mu.Unlock()
}

// Capture stores a platform install event, replacing any earlier one.
// It is ignored once the app is installed.
func (in *Installer) Capture(platforms []string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.installed {
		return
	}
	in.deferred = &Prompt{Platforms: append([]string(nil), platforms...), CapturedAt: in.now().UTC()}
	in.logger.Debug("install prompt deferred", "platforms", platforms)
}

// Available reports whether an install affordance can be shown.
func (in *Installer) Available() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.deferred != nil
}

// Trigger replays the deferred prompt. The prompt is consumed: it can be
// shown once, and its answer arrives later through Resolve.
func (in *Installer) Trigger() (Prompt, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.deferred == nil {
		return Prompt{}, ErrNoPrompt
	}
	p := *in.deferred
	in.deferred = nil
	in.pending = true
	return p, nil
}

// Resolve records the answer to a triggered prompt and notifies listeners.
func (in *Installer) Resolve(o Outcome) error {
	if !o.Valid() {
		return ErrInvalidOutcome
	}

	in.mu.Lock()
	if !in.pending {
		in.mu.Unlock()
		return ErrNotPending
	}
	in.pending = false
	in.outcome = &o
	if o == OutcomeAccepted {
		in.installed = true
	}
	listeners := slices.Clone(in.listeners)
	in.mu.Unlock()

	in.logger.Info("install prompt answered", "outcome", o)
	for _, fn := range listeners {
		fn(o)
	}
	return nil
}

// Status returns the current affordance.
func (in *Installer) Status() Status {
	in.mu.Lock()
	defer in.mu.Unlock()
	st := Status{Available: in.deferred != nil, Pending: in.pending, Installed: in.installed}
	if in.outcome != nil {
		o := *in.outcome
		st.Outcome = &o
	}
	return st
}

var iosDevice = regexp.MustCompile(`iPad|iPhone|iPod`)

// NeedsManualHint reports whether the client cannot receive an install
// prompt and must be told to use "Add to Home Screen" instead.
func NeedsManualHint(userAgent string, standalone bool) bool {
	return !standalone && iosDevice.MatchString(userAgent)
}
