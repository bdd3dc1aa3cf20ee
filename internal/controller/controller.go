package controller

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"sos-service/internal/model"

	"github.com/google/uuid"
)

type State string

const (
	StateIdle       State = "idle"
	StateDrafting   State = "drafting"
	StateArmed      State = "armed_countdown"
	StateSubmitting State = "submitting"
	StateSubmitted  State = "submitted"
	StateFailed     State = "failed"
)

const (
	defaultCountdownTicks  = 5
	defaultTickInterval    = 1 * time.Second
	defaultSubmitTimeout   = 15 * time.Second
	defaultLocationTimeout = 5 * time.Second
	defaultSOSActiveWindow = 30 * time.Second
)

type Options struct {
	CountdownTicks  int
	TickInterval    time.Duration
	SubmitTimeout   time.Duration
	LocationTimeout time.Duration
	// SOSActiveWindow is how long the SOS-active display flag stays set after a panic
	// report is accepted. It never affects a submission.
	SOSActiveWindow time.Duration

	NewTicker TickerFunc
	Now       func() time.Time
	NewID     func() uuid.UUID
}

func (o Options) withDefaults() Options {
	if o.CountdownTicks <= 0 {
		o.CountdownTicks = defaultCountdownTicks
	}
	if o.TickInterval <= 0 {
		o.TickInterval = defaultTickInterval
	}
	if o.SubmitTimeout <= 0 {
		o.SubmitTimeout = defaultSubmitTimeout
	}
	if o.LocationTimeout <= 0 {
		o.LocationTimeout = defaultLocationTimeout
	}
	if o.SOSActiveWindow <= 0 {
		o.SOSActiveWindow = defaultSOSActiveWindow
	}
	if o.NewTicker == nil {
		o.NewTicker = systemTicker
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.NewID == nil {
		o.NewID = uuid.New
	}
	return o
}

// Snapshot is a point-in-time copy of the controller state for display.
type Snapshot struct {
	State         State                  `json:"state"`
	Draft         *model.Draft           `json:"draft,omitempty"`
	Countdown     int                    `json:"countdown,omitempty"`
	Report        *model.EmergencyReport `json:"report,omitempty"`
	LastSubmitted *model.EmergencyReport `json:"last_submitted,omitempty"`
	LastError     string                 `json:"last_error,omitempty"`
	SOSActive     bool                   `json:"sos_active"`
}

// Controller drives a single in-progress emergency report for one reporter.
// All transitions are serialized by mu; collaborator calls run without it and
// their results are discarded when gen has moved on.
type Controller struct {
	userID    uuid.UUID
	location  LocationProvider
	haptics   HapticFeedback
	submitter AlertSubmitter
	notifier  Notifier
	opts      Options

	ctx    context.Context
	cancel context.CancelFunc

	mu             sync.Mutex
	profile        model.Profile
	state          State
	draft          model.Draft
	report         *model.EmergencyReport
	lastSubmitted  *model.EmergencyReport
	lastErr        error
	countdown      int
	gen            uint64
	stopCountdown  chan struct{}
	sosActiveUntil time.Time
}

func New(profile model.Profile, deps Collaborators, opts Options) *Controller {
	if deps.Submitter == nil {
		panic("controller: nil AlertSubmitter")
	}
	if deps.Location == nil {
		deps.Location = noLocation{}
	}
	if deps.Haptics == nil {
		deps.Haptics = noopHaptics{}
	}
	if deps.Notifier == nil {
		deps.Notifier = noopNotifier{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		userID:    profile.UserID,
		profile:   profile,
		location:  deps.Location,
		haptics:   deps.Haptics,
		submitter: deps.Submitter,
		notifier:  deps.Notifier,
		opts:      opts.withDefaults(),
		ctx:       ctx,
		cancel:    cancel,
		state:     StateIdle,
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		State:         c.state,
		Countdown:     c.countdown,
		Report:        c.report,
		LastSubmitted: c.lastSubmitted,
		SOSActive:     c.opts.Now().Before(c.sosActiveUntil),
	}
	if c.state == StateDrafting {
		draft := c.draft
		snap.Draft = &draft
	}
	if c.lastErr != nil {
		snap.LastError = c.lastErr.Error()
	}
	return snap
}

// SetProfile refreshes the reporter details copied into future reports. Empty
// fields keep their previous value; reports already assembled are not touched.
func (c *Controller) SetProfile(p model.Profile) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p.Name != "" {
		c.profile.Name = p.Name
	}
	if p.Role != "" {
		c.profile.Role = p.Role
	}
	if p.Department != "" {
		c.profile.Department = p.Department
	}
	if p.PhoneNumber != "" {
		c.profile.PhoneNumber = p.PhoneNumber
	}
	if p.BusNumber != "" {
		c.profile.BusNumber = p.BusNumber
	}
}

// SOSActive reports whether a panic alert was accepted within the active window.
func (c *Controller) SOSActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opts.Now().Before(c.sosActiveUntil)
}

// StartDraft opens the guided report form. From Failed it starts over with the
// fields of the report that failed.
func (c *Controller) StartDraft() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateDrafting:
		return nil
	case StateIdle:
		c.draft = model.Draft{}
	case StateFailed:
		c.draft = draftFrom(c.report)
		c.report = nil
		c.lastErr = nil
		c.gen++
	default:
		return c.invalid("start draft")
	}
	c.setState(StateDrafting)
	return nil
}

// SetAlertType selects the emergency type and resets the priority to its default.
func (c *Controller) SetAlertType(t model.AlertType) error {
	return c.editDraft(func(d *model.Draft) error {
		if !t.Reportable() {
			return fmt.Errorf("%w: %q", ErrInvalidAlertType, t)
		}
		d.AlertType = t
		d.Priority = t.DefaultPriority()
		return nil
	})
}

func (c *Controller) SetPriority(p model.Priority) error {
	return c.editDraft(func(d *model.Draft) error {
		if !p.Valid() {
			return fmt.Errorf("%w: %q", ErrInvalidPriority, p)
		}
		d.Priority = p
		return nil
	})
}

func (c *Controller) SetLocationText(s string) error {
	return c.editDraft(func(d *model.Draft) error {
		d.LocationText = s
		return nil
	})
}

func (c *Controller) SetAdditionalMessage(s string) error {
	return c.editDraft(func(d *model.Draft) error {
		d.AdditionalMessage = s
		return nil
	})
}

func (c *Controller) AttachImage(ref string) error {
	return c.editDraft(func(d *model.Draft) error {
		d.AttachedImageRef = ref
		return nil
	})
}

func (c *Controller) editDraft(fn func(d *model.Draft) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateDrafting {
		return ErrNotDrafting
	}
	return fn(&c.draft)
}

// SubmitDraft validates the draft, enriches it with the current location and hands it
// to the submitter. It blocks until the submission settles. A *ValidationError leaves
// the controller in Drafting.
func (c *Controller) SubmitDraft(ctx context.Context) (*model.EmergencyReport, error) {
	c.mu.Lock()
	if c.state != StateDrafting {
		err := c.invalid("submit draft")
		c.mu.Unlock()
		return nil, err
	}
	if err := validateDraft(c.draft); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	draft := c.draft
	profile := c.profile
	c.gen++
	gen := c.gen
	c.setState(StateSubmitting)
	c.mu.Unlock()

	coords := c.lookupLocation(ctx)
	report := c.assemble(profile, draft, coords)
	report.LocationText = draft.LocationText

	if err := c.attach(gen, report); err != nil {
		return nil, err
	}
	return report, c.send(ctx, gen, report)
}

// ArmPanic starts the SOS countdown. When it reaches zero a panic report is submitted
// without further input. Arming twice is a no-op.
func (c *Controller) ArmPanic() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateArmed:
		return nil
	case StateIdle, StateDrafting:
	default:
		return c.invalid("arm panic")
	}

	c.gen++
	gen := c.gen
	stop := make(chan struct{})
	c.stopCountdown = stop
	c.countdown = c.opts.CountdownTicks
	ticks, stopTicker := c.opts.NewTicker(c.opts.TickInterval)

	c.setState(StateArmed)
	c.emit(model.SessionEvent{Type: model.EventCountdown, Countdown: c.countdown})
	c.haptics.StartContinuous()

	go c.runCountdown(gen, ticks, stopTicker, stop)
	return nil
}

// CancelPanic disarms a running countdown. It reports whether anything was cancelled;
// calling it after the countdown already fired is not an error.
func (c *Controller) CancelPanic() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateArmed {
		return false
	}
	c.disarm()
	c.draft = model.Draft{}
	c.setState(StateIdle)
	return true
}

// Retry resubmits the exact report instance that failed.
func (c *Controller) Retry(ctx context.Context) (*model.EmergencyReport, error) {
	c.mu.Lock()
	if c.state != StateFailed || c.report == nil {
		err := c.invalid("retry")
		c.mu.Unlock()
		return nil, err
	}
	report := c.report
	c.gen++
	gen := c.gen
	c.lastErr = nil
	c.setState(StateSubmitting)
	c.mu.Unlock()

	return report, c.send(ctx, gen, report)
}

// Abandon drops a failed report.
func (c *Controller) Abandon() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateFailed {
		return c.invalid("abandon")
	}
	c.gen++
	c.clear()
	c.setState(StateIdle)
	return nil
}

// Reset returns to Idle from any state. An outstanding submission is not cancelled,
// but its result is ignored.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateArmed {
		c.disarm()
	} else {
		c.gen++
	}
	c.clear()
	c.setState(StateIdle)
}

// Close stops the countdown and releases the controller. Outstanding submissions
// are cancelled.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.state == StateArmed {
		c.disarm()
		c.setState(StateIdle)
	}
	c.mu.Unlock()
	c.cancel()
}

type tickResult int

const (
	tickContinue tickResult = iota
	tickStop
	tickFire
)

func (c *Controller) runCountdown(gen uint64, ticks <-chan time.Time, stopTicker func(), stop <-chan struct{}) {
	defer stopTicker()

	for {
		select {
		case <-stop:
			return
		case <-c.ctx.Done():
			return
		case <-ticks:
			switch c.tick(gen) {
			case tickStop:
				return
			case tickFire:
				c.firePanic(gen)
				return
			}
		}
	}
}

func (c *Controller) tick(gen uint64) tickResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen || c.state != StateArmed {
		return tickStop
	}

	c.countdown--
	c.emit(model.SessionEvent{Type: model.EventCountdown, Countdown: c.countdown})
	if c.countdown > 0 {
		return tickContinue
	}

	c.haptics.StopAll()
	c.stopCountdown = nil
	c.draft = model.Draft{}
	c.setState(StateSubmitting)
	return tickFire
}

func (c *Controller) firePanic(gen uint64) {
	c.mu.Lock()
	profile := c.profile
	c.mu.Unlock()

	coords := c.lookupLocation(c.ctx)
	report := c.assemble(profile, model.Draft{
		AlertType:         model.AlertSOSPanic,
		Priority:          model.PriorityCritical,
		AdditionalMessage: model.PanicMessage,
	}, coords)
	report.LocationText = describeLocation(coords)

	if err := c.attach(gen, report); err != nil {
		return
	}
	if err := c.send(c.ctx, gen, report); err != nil && !errors.Is(err, ErrSuperseded) {
		log.Printf("controller: panic alert %s for %s failed: %v", report.ID, c.userID, err)
	}
}

func (c *Controller) lookupLocation(ctx context.Context) *model.Coordinates {
	lctx, cancel := context.WithTimeout(ctx, c.opts.LocationTimeout)
	defer cancel()

	coords, err := c.location.CurrentLocation(lctx)
	if err == nil && coords == nil {
		err = ErrLocationUnavailable
	}
	if err != nil {
		log.Printf("controller: location unavailable for %s: %v", c.userID, err)
		return nil
	}
	return coords
}

func (c *Controller) assemble(profile model.Profile, d model.Draft, coords *model.Coordinates) *model.EmergencyReport {
	return &model.EmergencyReport{
		ID:                c.opts.NewID(),
		ReporterID:        c.userID,
		ReporterName:      profile.Name,
		BusNumber:         profile.BusNumber,
		Department:        profile.Department,
		PhoneNumber:       profile.PhoneNumber,
		AlertType:         d.AlertType,
		Priority:          d.Priority,
		Coordinates:       coords,
		AdditionalMessage: d.AdditionalMessage,
		AttachedImageRef:  d.AttachedImageRef,
		Status:            model.StatusActive,
		CreatedAt:         c.opts.Now(),
	}
}

// attach records report as the one in flight unless a reset happened meanwhile.
func (c *Controller) attach(gen uint64, report *model.EmergencyReport) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen {
		return ErrSuperseded
	}
	c.report = report
	return nil
}

func (c *Controller) send(ctx context.Context, gen uint64, report *model.EmergencyReport) error {
	sctx, cancel := context.WithTimeout(ctx, c.opts.SubmitTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- c.submitter.Submit(sctx, report)
	}()

	var err error
	select {
	case err = <-done:
	case <-sctx.Done():
		err = sctx.Err()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen || c.state != StateSubmitting {
		log.Printf("controller: ignoring stale result for alert %s", report.ID)
		return ErrSuperseded
	}

	reportID := report.ID
	if err != nil {
		serr := &SubmissionError{ReportID: report.ID, Err: err}
		c.lastErr = serr
		c.setState(StateFailed)
		c.emit(model.SessionEvent{Type: model.EventFailed, ReportID: &reportID, Message: FailureAdvice})
		log.Printf("controller: alert %s failed: %v", report.ID, err)
		return serr
	}

	c.setState(StateSubmitted)
	c.emit(model.SessionEvent{Type: model.EventSubmitted, ReportID: &reportID, Message: SuccessMessage})
	if report.AlertType == model.AlertSOSPanic {
		c.sosActiveUntil = c.opts.Now().Add(c.opts.SOSActiveWindow)
	}
	c.lastSubmitted = report
	c.clear()
	c.setState(StateIdle)
	return nil
}

// disarm stops the countdown goroutine and haptics. Caller holds mu.
func (c *Controller) disarm() {
	if c.stopCountdown != nil {
		close(c.stopCountdown)
		c.stopCountdown = nil
	}
	c.gen++
	c.countdown = 0
	c.haptics.StopAll()
}

func (c *Controller) clear() {
	c.draft = model.Draft{}
	c.report = nil
	c.lastErr = nil
	c.countdown = 0
}

func (c *Controller) setState(s State) {
	c.state = s
	c.emit(model.SessionEvent{Type: model.EventStateChanged, State: string(s)})
}

func (c *Controller) emit(event model.SessionEvent) {
	event.UserID = c.userID
	event.Timestamp = c.opts.Now()
	c.notifier.Notify(event)
}

func (c *Controller) invalid(op string) error {
	return fmt.Errorf("%w: cannot %s while %s", ErrInvalidTransition, op, c.state)
}

func validateDraft(d model.Draft) error {
	var missing []string
	if d.AlertType == "" {
		missing = append(missing, "alert_type")
	}
	if strings.TrimSpace(d.LocationText) == "" {
		missing = append(missing, "location_text")
	}
	if len(missing) > 0 {
		return &ValidationError{Fields: missing}
	}
	return nil
}

func draftFrom(r *model.EmergencyReport) model.Draft {
	if r == nil {
		return model.Draft{}
	}
	d := model.Draft{
		Priority:          r.Priority,
		AdditionalMessage: r.AdditionalMessage,
		AttachedImageRef:  r.AttachedImageRef,
	}
	if r.AlertType.Reportable() {
		d.AlertType = r.AlertType
		d.LocationText = r.LocationText
	} else {
		d.Priority = ""
		d.AdditionalMessage = ""
		if r.LocationText != model.LocationUnknown {
			d.LocationText = r.LocationText
		}
	}
	return d
}

func describeLocation(coords *model.Coordinates) string {
	if coords == nil {
		return model.LocationUnknown
	}
	return fmt.Sprintf("Lat: %.6f, Lng: %.6f", coords.Latitude, coords.Longitude)
}
