package controller

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"sos-service/internal/model"

	"github.com/google/uuid"
)

type fakeSubmitter struct {
	mu        sync.Mutex
	calls     []*model.EmergencyReport
	err       error
	results   chan error
	submitted chan *model.EmergencyReport
}

func newFakeSubmitter() *fakeSubmitter {
	return &fakeSubmitter{submitted: make(chan *model.EmergencyReport, 16)}
}

func (f *fakeSubmitter) Submit(ctx context.Context, r *model.EmergencyReport) error {
	f.mu.Lock()
	f.calls = append(f.calls, r)
	err := f.err
	results := f.results
	f.mu.Unlock()

	f.submitted <- r
	if results != nil {
		select {
		case err := <-results:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (f *fakeSubmitter) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeSubmitter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeSubmitter) waitSubmitted(t *testing.T) *model.EmergencyReport {
	t.Helper()
	select {
	case r := <-f.submitted:
		return r
	case <-time.After(2 * time.Second):
		t.Fatalf("no report reached the submitter")
		return nil
	}
}

type fakeLocation struct {
	coords *model.Coordinates
	err    error
}

func (f fakeLocation) CurrentLocation(ctx context.Context) (*model.Coordinates, error) {
	return f.coords, f.err
}

type fakeHaptics struct {
	mu      sync.Mutex
	started int
	stopped int
}

func (h *fakeHaptics) StartContinuous() {
	h.mu.Lock()
	h.started++
	h.mu.Unlock()
}

func (h *fakeHaptics) StopAll() {
	h.mu.Lock()
	h.stopped++
	h.mu.Unlock()
}

func (h *fakeHaptics) counts() (int, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.started, h.stopped
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []model.SessionEvent
}

func (n *recordingNotifier) Notify(e model.SessionEvent) {
	n.mu.Lock()
	n.events = append(n.events, e)
	n.mu.Unlock()
}

func (n *recordingNotifier) ofType(typ model.EventType) []model.SessionEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []model.SessionEvent
	for _, e := range n.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

// blockingLocation holds every lookup until release is closed.
type blockingLocation struct {
	entered chan struct{}
	release chan struct{}
}

func newBlockingLocation() *blockingLocation {
	return &blockingLocation{entered: make(chan struct{}, 1), release: make(chan struct{})}
}

func (b *blockingLocation) CurrentLocation(ctx context.Context) (*model.Coordinates, error) {
	select {
	case b.entered <- struct{}{}:
	default:
	}
	select {
	case <-b.release:
		return &model.Coordinates{Latitude: 1, Longitude: 2}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *blockingLocation) waitEntered(t *testing.T) {
	t.Helper()
	select {
	case <-b.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("location lookup never started")
	}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// manualTicker hands out an unbuffered channel so each tick is delivered only when
// the countdown goroutine is ready for it.
type manualTicker struct {
	ch chan time.Time
}

func newManualTicker() *manualTicker {
	return &manualTicker{ch: make(chan time.Time)}
}

func (m *manualTicker) start(time.Duration) (<-chan time.Time, func()) {
	return m.ch, func() {}
}

func (m *manualTicker) tick() bool {
	select {
	case m.ch <- time.Now():
		return true
	case <-time.After(50 * time.Millisecond):
		return false
	}
}

type fixture struct {
	ctrl      *Controller
	submitter *fakeSubmitter
	haptics   *fakeHaptics
	notifier  *recordingNotifier
	ticker    *manualTicker
	profile   model.Profile
}

func newFixture(t *testing.T, loc LocationProvider, opts Options) *fixture {
	t.Helper()
	f := &fixture{
		submitter: newFakeSubmitter(),
		haptics:   &fakeHaptics{},
		notifier:  &recordingNotifier{},
		ticker:    newManualTicker(),
		profile: model.Profile{
			UserID:      uuid.New(),
			Name:        "Alex Rider",
			Department:  "Computer Science",
			PhoneNumber: "+1 555 0100",
			BusNumber:   "BUS-12",
		},
	}
	if opts.NewTicker == nil {
		opts.NewTicker = f.ticker.start
	}
	f.ctrl = New(f.profile, Collaborators{
		Location:  loc,
		Haptics:   f.haptics,
		Submitter: f.submitter,
		Notifier:  f.notifier,
	}, opts)
	t.Cleanup(f.ctrl.Close)
	return f
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func mustDraft(t *testing.T, c *Controller, typ model.AlertType, location string) {
	t.Helper()
	if err := c.StartDraft(); err != nil {
		t.Fatalf("StartDraft: %v", err)
	}
	if typ != "" {
		if err := c.SetAlertType(typ); err != nil {
			t.Fatalf("SetAlertType: %v", err)
		}
	}
	if err := c.SetLocationText(location); err != nil {
		t.Fatalf("SetLocationText: %v", err)
	}
}

func TestSubmitDraftValidation(t *testing.T) {
	tests := []struct {
		name     string
		typ      model.AlertType
		location string
		missing  []string
	}{
		{"nothing set", "", "", []string{"alert_type", "location_text"}},
		{"missing location", model.AlertHarassment, "", []string{"location_text"}},
		{"blank location", model.AlertHarassment, "   ", []string{"location_text"}},
		{"missing type", "", "Library stop", []string{"alert_type"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil, Options{})
			mustDraft(t, f.ctrl, tt.typ, tt.location)

			report, err := f.ctrl.SubmitDraft(context.Background())
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if !reflect.DeepEqual(verr.Fields, tt.missing) {
				t.Fatalf("missing = %v, want %v", verr.Fields, tt.missing)
			}
			if report != nil {
				t.Fatalf("expected no report")
			}
			if got := f.ctrl.State(); got != StateDrafting {
				t.Fatalf("state = %s, want drafting", got)
			}
			if f.submitter.callCount() != 0 {
				t.Fatalf("submitter must not be called")
			}
		})
	}
}

func TestSetAlertTypeAppliesDefaultPriority(t *testing.T) {
	for _, typ := range model.ReportableTypes {
		t.Run(string(typ), func(t *testing.T) {
			f := newFixture(t, nil, Options{})
			mustDraft(t, f.ctrl, typ, "Stop 4")

			if got := f.ctrl.Snapshot().Draft.Priority; got != typ.DefaultPriority() {
				t.Fatalf("priority = %s, want %s", got, typ.DefaultPriority())
			}

			override := model.PriorityLow
			if typ.DefaultPriority() == model.PriorityLow {
				override = model.PriorityCritical
			}
			if err := f.ctrl.SetPriority(override); err != nil {
				t.Fatalf("SetPriority: %v", err)
			}
			if err := f.ctrl.SetAdditionalMessage("driver notified"); err != nil {
				t.Fatalf("SetAdditionalMessage: %v", err)
			}

			report, err := f.ctrl.SubmitDraft(context.Background())
			if err != nil {
				t.Fatalf("SubmitDraft: %v", err)
			}
			if report.Priority != override {
				t.Fatalf("submitted priority = %s, want override %s", report.Priority, override)
			}
		})
	}
}

func TestSetAlertTypeRejectsInvalidTypes(t *testing.T) {
	f := newFixture(t, nil, Options{})
	mustDraft(t, f.ctrl, "", "")

	for _, typ := range []model.AlertType{model.AlertSOSPanic, "earthquake"} {
		if err := f.ctrl.SetAlertType(typ); !errors.Is(err, ErrInvalidAlertType) {
			t.Errorf("%s: expected ErrInvalidAlertType, got %v", typ, err)
		}
	}
	if err := f.ctrl.SetPriority("urgent"); !errors.Is(err, ErrInvalidPriority) {
		t.Fatalf("expected ErrInvalidPriority, got %v", err)
	}
}

func TestSettersOutsideDrafting(t *testing.T) {
	f := newFixture(t, nil, Options{})

	setters := map[string]func() error{
		"alert type": func() error { return f.ctrl.SetAlertType(model.AlertOther) },
		"priority":   func() error { return f.ctrl.SetPriority(model.PriorityHigh) },
		"location":   func() error { return f.ctrl.SetLocationText("x") },
		"message":    func() error { return f.ctrl.SetAdditionalMessage("x") },
		"image":      func() error { return f.ctrl.AttachImage("file://x.jpg") },
	}
	for name, set := range setters {
		if err := set(); !errors.Is(err, ErrNotDrafting) {
			t.Errorf("%s: expected ErrNotDrafting, got %v", name, err)
		}
	}
}

func TestSubmitDraftSuccess(t *testing.T) {
	coords := &model.Coordinates{Latitude: 13.7563, Longitude: 100.5018}
	f := newFixture(t, fakeLocation{coords: coords}, Options{})
	mustDraft(t, f.ctrl, model.AlertMedicalEmergency, "Engineering building stop")
	if err := f.ctrl.AttachImage("local://photo-1"); err != nil {
		t.Fatalf("AttachImage: %v", err)
	}

	report, err := f.ctrl.SubmitDraft(context.Background())
	if err != nil {
		t.Fatalf("SubmitDraft: %v", err)
	}

	if report.LocationText != "Engineering building stop" {
		t.Errorf("location text = %q", report.LocationText)
	}
	if report.Coordinates == nil || *report.Coordinates != *coords {
		t.Errorf("coordinates = %+v", report.Coordinates)
	}
	if report.ReporterID != f.profile.UserID || report.BusNumber != "BUS-12" || report.PhoneNumber != f.profile.PhoneNumber {
		t.Errorf("profile not copied: %+v", report)
	}
	if report.Priority != model.PriorityCritical || report.Status != model.StatusActive {
		t.Errorf("priority/status = %s/%s", report.Priority, report.Status)
	}
	if report.AttachedImageRef != "local://photo-1" {
		t.Errorf("image ref = %q", report.AttachedImageRef)
	}

	snap := f.ctrl.Snapshot()
	if snap.State != StateIdle || snap.Report != nil || snap.Draft != nil {
		t.Fatalf("expected clean idle state, got %+v", snap)
	}
	if snap.LastSubmitted != report {
		t.Fatalf("last submitted report not recorded")
	}
	if got := f.notifier.ofType(model.EventSubmitted); len(got) != 1 || got[0].Message != SuccessMessage {
		t.Fatalf("expected one success acknowledgment, got %+v", got)
	}
	if f.ctrl.SOSActive() {
		t.Fatalf("guided reports must not set the SOS flag")
	}
}

func TestCountdownSubmitsPanicReport(t *testing.T) {
	coords := &model.Coordinates{Latitude: 1.25, Longitude: 103.75}
	f := newFixture(t, fakeLocation{coords: coords}, Options{})
	f.submitter.results = make(chan error)

	if err := f.ctrl.ArmPanic(); err != nil {
		t.Fatalf("ArmPanic: %v", err)
	}
	if got := f.ctrl.Snapshot().Countdown; got != 5 {
		t.Fatalf("countdown = %d, want 5", got)
	}
	for i := 0; i < 5; i++ {
		if !f.ticker.tick() {
			t.Fatalf("tick %d not consumed", i+1)
		}
	}

	report := f.submitter.waitSubmitted(t)
	if got := f.ctrl.State(); got != StateSubmitting {
		t.Fatalf("state = %s, want submitting", got)
	}
	if report.AlertType != model.AlertSOSPanic || report.Priority != model.PriorityCritical {
		t.Fatalf("type/priority = %s/%s", report.AlertType, report.Priority)
	}
	if report.AdditionalMessage != model.PanicMessage {
		t.Fatalf("message = %q", report.AdditionalMessage)
	}
	if report.LocationText != "Lat: 1.250000, Lng: 103.750000" {
		t.Fatalf("location text = %q", report.LocationText)
	}

	f.submitter.results <- nil
	waitFor(t, "idle after success", func() bool { return f.ctrl.State() == StateIdle })

	if !f.ctrl.SOSActive() {
		t.Fatalf("SOS flag should be set after a panic alert")
	}
	if started, stopped := f.haptics.counts(); started != 1 || stopped != 1 {
		t.Fatalf("haptics started/stopped = %d/%d", started, stopped)
	}
	var ticks []int
	for _, e := range f.notifier.ofType(model.EventCountdown) {
		ticks = append(ticks, e.Countdown)
	}
	if !reflect.DeepEqual(ticks, []int{5, 4, 3, 2, 1, 0}) {
		t.Fatalf("countdown events = %v", ticks)
	}
}

func TestCancelPanicBeforeDeadline(t *testing.T) {
	for ticks := 0; ticks < 5; ticks++ {
		f := newFixture(t, nil, Options{})
		if err := f.ctrl.ArmPanic(); err != nil {
			t.Fatalf("ArmPanic: %v", err)
		}
		for i := 0; i < ticks; i++ {
			if !f.ticker.tick() {
				t.Fatalf("tick %d not consumed", i+1)
			}
		}

		if !f.ctrl.CancelPanic() {
			t.Fatalf("after %d ticks: CancelPanic reported nothing to cancel", ticks)
		}
		for i := 0; i < 6; i++ {
			f.ticker.tick()
		}

		if got := f.ctrl.State(); got != StateIdle {
			t.Fatalf("after %d ticks: state = %s, want idle", ticks, got)
		}
		if f.submitter.callCount() != 0 {
			t.Fatalf("after %d ticks: cancelled countdown submitted a report", ticks)
		}
		if _, stopped := f.haptics.counts(); stopped != 1 {
			t.Fatalf("haptics not stopped on cancel")
		}
	}
}

func TestCancelledTimerNeverFires(t *testing.T) {
	f := newFixture(t, nil, Options{
		TickInterval: 10 * time.Millisecond,
		NewTicker:    systemTicker,
	})

	if err := f.ctrl.ArmPanic(); err != nil {
		t.Fatalf("ArmPanic: %v", err)
	}
	f.ctrl.CancelPanic()

	time.Sleep(150 * time.Millisecond)
	if got := f.ctrl.State(); got != StateIdle {
		t.Fatalf("state = %s, want idle", got)
	}
	if f.submitter.callCount() != 0 {
		t.Fatalf("submitter called after cancel")
	}
}

func TestRealTimerCountdownCompletes(t *testing.T) {
	f := newFixture(t, nil, Options{
		TickInterval: 5 * time.Millisecond,
		NewTicker:    systemTicker,
	})

	if err := f.ctrl.ArmPanic(); err != nil {
		t.Fatalf("ArmPanic: %v", err)
	}
	report := f.submitter.waitSubmitted(t)
	if report.AlertType != model.AlertSOSPanic {
		t.Fatalf("alert type = %s", report.AlertType)
	}
	waitFor(t, "idle after panic submission", func() bool { return f.ctrl.State() == StateIdle })
}

func TestCancelPanicWhenNotArmed(t *testing.T) {
	f := newFixture(t, nil, Options{})
	if f.ctrl.CancelPanic() {
		t.Fatalf("nothing should be cancelled in idle")
	}
	mustDraft(t, f.ctrl, model.AlertOther, "Depot")
	if f.ctrl.CancelPanic() {
		t.Fatalf("nothing should be cancelled while drafting")
	}
	if got := f.ctrl.State(); got != StateDrafting {
		t.Fatalf("state = %s, want drafting", got)
	}
}

func TestArmPanicIsIdempotent(t *testing.T) {
	f := newFixture(t, nil, Options{})
	mustDraft(t, f.ctrl, model.AlertOther, "Depot")

	for i := 0; i < 3; i++ {
		if err := f.ctrl.ArmPanic(); err != nil {
			t.Fatalf("ArmPanic #%d: %v", i+1, err)
		}
	}
	if started, _ := f.haptics.counts(); started != 1 {
		t.Fatalf("haptics started %d times", started)
	}
	if got := f.ctrl.State(); got != StateArmed {
		t.Fatalf("state = %s", got)
	}
}

func TestArmPanicRejectedWhileSubmitting(t *testing.T) {
	f := newFixture(t, nil, Options{})
	f.submitter.results = make(chan error)
	mustDraft(t, f.ctrl, model.AlertOther, "Depot")

	done := make(chan error, 1)
	go func() {
		_, err := f.ctrl.SubmitDraft(context.Background())
		done <- err
	}()
	f.submitter.waitSubmitted(t)

	if err := f.ctrl.ArmPanic(); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	f.submitter.results <- nil
	if err := <-done; err != nil {
		t.Fatalf("SubmitDraft: %v", err)
	}
}

func TestResetIgnoresStaleResult(t *testing.T) {
	for _, result := range []error{nil, errors.New("gateway unreachable")} {
		f := newFixture(t, nil, Options{})
		f.submitter.results = make(chan error)
		mustDraft(t, f.ctrl, model.AlertBrakeFailure, "Highway 7")

		done := make(chan error, 1)
		go func() {
			_, err := f.ctrl.SubmitDraft(context.Background())
			done <- err
		}()
		f.submitter.waitSubmitted(t)

		f.ctrl.Reset()
		if got := f.ctrl.State(); got != StateIdle {
			t.Fatalf("state after reset = %s", got)
		}

		f.submitter.results <- result
		if err := <-done; !errors.Is(err, ErrSuperseded) {
			t.Fatalf("expected ErrSuperseded, got %v", err)
		}
		if got := f.ctrl.State(); got != StateIdle {
			t.Fatalf("stale result moved state to %s", got)
		}
		if n := len(f.notifier.ofType(model.EventSubmitted)) + len(f.notifier.ofType(model.EventFailed)); n != 0 {
			t.Fatalf("stale result produced %d acknowledgments", n)
		}
	}
}

func TestResetDuringGuidedLocationLookup(t *testing.T) {
	loc := newBlockingLocation()
	f := newFixture(t, loc, Options{LocationTimeout: 5 * time.Second})
	mustDraft(t, f.ctrl, model.AlertBusAccident, "Gate 2")

	type result struct {
		report *model.EmergencyReport
		err    error
	}
	done := make(chan result, 1)
	go func() {
		report, err := f.ctrl.SubmitDraft(context.Background())
		done <- result{report, err}
	}()

	loc.waitEntered(t)
	f.ctrl.Reset()
	close(loc.release)

	var res result
	select {
	case res = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("SubmitDraft did not return")
	}
	if !errors.Is(res.err, ErrSuperseded) {
		t.Fatalf("err = %v, want ErrSuperseded", res.err)
	}
	if res.report != nil {
		t.Fatalf("superseded submit returned report %s", res.report.ID)
	}
	if got := f.ctrl.State(); got != StateIdle {
		t.Fatalf("state = %s, want idle", got)
	}
	if n := f.submitter.callCount(); n != 0 {
		t.Fatalf("submitter called %d times", n)
	}
	if f.ctrl.Snapshot().Report != nil {
		t.Fatal("superseded report attached to the session")
	}
}

func TestResetDuringPanicLocationLookup(t *testing.T) {
	loc := newBlockingLocation()
	f := newFixture(t, loc, Options{LocationTimeout: 5 * time.Second})

	if err := f.ctrl.ArmPanic(); err != nil {
		t.Fatalf("ArmPanic: %v", err)
	}
	for i := 0; i < 5; i++ {
		if !f.ticker.tick() {
			t.Fatalf("tick %d not consumed", i+1)
		}
	}

	loc.waitEntered(t)
	f.ctrl.Reset()
	close(loc.release)

	select {
	case r := <-f.submitter.submitted:
		t.Fatalf("panic report %s submitted after reset", r.ID)
	case <-time.After(100 * time.Millisecond):
	}
	if got := f.ctrl.State(); got != StateIdle {
		t.Fatalf("state = %s, want idle", got)
	}
	if len(f.notifier.ofType(model.EventSubmitted)) != 0 || len(f.notifier.ofType(model.EventFailed)) != 0 {
		t.Fatal("superseded panic emitted an outcome")
	}
	if f.ctrl.SOSActive() {
		t.Fatal("SOS flag set by a superseded panic")
	}
}

func TestSOSActiveClearsAfterWindow(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 5, 2, 7, 30, 0, 0, time.UTC)}
	f := newFixture(t, fakeLocation{}, Options{Now: clock.Now, SOSActiveWindow: 30 * time.Second})

	if err := f.ctrl.ArmPanic(); err != nil {
		t.Fatalf("ArmPanic: %v", err)
	}
	for i := 0; i < 5; i++ {
		if !f.ticker.tick() {
			t.Fatalf("tick %d not consumed", i+1)
		}
	}
	waitFor(t, "panic submitted", func() bool { return len(f.notifier.ofType(model.EventSubmitted)) == 1 })

	if !f.ctrl.SOSActive() || !f.ctrl.Snapshot().SOSActive {
		t.Fatal("SOS flag not set after panic alert")
	}

	clock.Advance(29 * time.Second)
	if !f.ctrl.SOSActive() {
		t.Fatal("SOS flag cleared before the window ended")
	}

	clock.Advance(2 * time.Second)
	if f.ctrl.SOSActive() {
		t.Fatal("SOS flag still set after the window")
	}
	if f.ctrl.Snapshot().SOSActive {
		t.Fatal("snapshot still reports SOS active")
	}
}

func TestSetProfileKeepsOmittedFields(t *testing.T) {
	f := newFixture(t, nil, Options{})
	f.ctrl.SetProfile(model.Profile{UserID: uuid.New(), BusNumber: "BUS-40"})
	mustDraft(t, f.ctrl, model.AlertOther, "Depot")

	report, err := f.ctrl.SubmitDraft(context.Background())
	if err != nil {
		t.Fatalf("SubmitDraft: %v", err)
	}
	if report.BusNumber != "BUS-40" {
		t.Fatalf("bus = %q, want BUS-40", report.BusNumber)
	}
	if report.ReporterName != f.profile.Name || report.PhoneNumber != f.profile.PhoneNumber {
		t.Fatalf("name/phone = %q/%q, want previous values", report.ReporterName, report.PhoneNumber)
	}
	if report.ReporterID != f.profile.UserID {
		t.Fatalf("reporter id changed to %s", report.ReporterID)
	}
}

func TestResetDuringCountdown(t *testing.T) {
	f := newFixture(t, nil, Options{})
	if err := f.ctrl.ArmPanic(); err != nil {
		t.Fatalf("ArmPanic: %v", err)
	}
	f.ticker.tick()
	f.ctrl.Reset()

	for i := 0; i < 6; i++ {
		f.ticker.tick()
	}
	if f.submitter.callCount() != 0 || f.ctrl.State() != StateIdle {
		t.Fatalf("countdown survived reset")
	}
}

func TestPanicLocationUnavailable(t *testing.T) {
	f := newFixture(t, fakeLocation{err: ErrLocationUnavailable}, Options{})
	if err := f.ctrl.ArmPanic(); err != nil {
		t.Fatalf("ArmPanic: %v", err)
	}
	for i := 0; i < 5; i++ {
		f.ticker.tick()
	}

	report := f.submitter.waitSubmitted(t)
	if report.LocationText != model.LocationUnknown {
		t.Fatalf("location text = %q, want sentinel", report.LocationText)
	}
	if report.Coordinates != nil {
		t.Fatalf("coordinates should be empty")
	}
}

func TestGuidedSubmitWithoutLocationFix(t *testing.T) {
	f := newFixture(t, fakeLocation{}, Options{})
	mustDraft(t, f.ctrl, model.AlertSafetyConcern, "Back row")

	report, err := f.ctrl.SubmitDraft(context.Background())
	if err != nil {
		t.Fatalf("SubmitDraft: %v", err)
	}
	if report.Coordinates != nil || report.LocationText != "Back row" {
		t.Fatalf("unexpected location: %+v", report)
	}
}

func TestFailureIsNotRetriedAutomatically(t *testing.T) {
	f := newFixture(t, nil, Options{})
	f.submitter.setErr(errors.New("503 from dispatch"))
	mustDraft(t, f.ctrl, model.AlertFireInBus, "Bus bay 2")

	failed, err := f.ctrl.SubmitDraft(context.Background())
	var serr *SubmissionError
	if !errors.As(err, &serr) || serr.ReportID != failed.ID {
		t.Fatalf("expected SubmissionError for %v, got %v", failed, err)
	}
	if got := f.ctrl.State(); got != StateFailed {
		t.Fatalf("state = %s, want failed", got)
	}
	acks := f.notifier.ofType(model.EventFailed)
	if len(acks) != 1 || acks[0].Message != FailureAdvice {
		t.Fatalf("failure acknowledgment = %+v", acks)
	}

	time.Sleep(50 * time.Millisecond)
	if n := f.submitter.callCount(); n != 1 {
		t.Fatalf("submitter called %d times, want exactly 1", n)
	}
	if f.ctrl.Snapshot().LastError == "" {
		t.Fatalf("snapshot should carry the failure")
	}
}

func TestRetryReusesReport(t *testing.T) {
	f := newFixture(t, fakeLocation{coords: &model.Coordinates{Latitude: 5, Longitude: 6}}, Options{})
	f.submitter.setErr(errors.New("connection reset"))
	mustDraft(t, f.ctrl, model.AlertBusAccident, "North gate")
	if err := f.ctrl.SetAdditionalMessage("two injured"); err != nil {
		t.Fatalf("SetAdditionalMessage: %v", err)
	}

	failed, err := f.ctrl.SubmitDraft(context.Background())
	if err == nil {
		t.Fatalf("expected failure")
	}
	snapshot := *failed

	f.submitter.setErr(nil)
	retried, err := f.ctrl.Retry(context.Background())
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if retried != failed {
		t.Fatalf("retry built a new report instance")
	}
	if !reflect.DeepEqual(*retried, snapshot) {
		t.Fatalf("retried report changed: %+v vs %+v", *retried, snapshot)
	}
	if f.submitter.calls[0] != f.submitter.calls[1] {
		t.Fatalf("submitter saw different reports")
	}
	if got := f.ctrl.State(); got != StateIdle {
		t.Fatalf("state = %s, want idle", got)
	}
}

func TestRetryOutsideFailed(t *testing.T) {
	f := newFixture(t, nil, Options{})
	if _, err := f.ctrl.Retry(context.Background()); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestSubmitTimeout(t *testing.T) {
	f := newFixture(t, nil, Options{SubmitTimeout: 20 * time.Millisecond})
	f.submitter.results = make(chan error)
	mustDraft(t, f.ctrl, model.AlertHarassment, "Seat 14")

	_, err := f.ctrl.SubmitDraft(context.Background())
	var serr *SubmissionError
	if !errors.As(err, &serr) || !serr.Timeout() {
		t.Fatalf("expected timeout SubmissionError, got %v", err)
	}
	if got := f.ctrl.State(); got != StateFailed {
		t.Fatalf("state = %s, want failed", got)
	}
}

func TestAbandonFailedReport(t *testing.T) {
	f := newFixture(t, nil, Options{})
	if err := f.ctrl.Abandon(); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition in idle, got %v", err)
	}

	f.submitter.setErr(errors.New("down"))
	mustDraft(t, f.ctrl, model.AlertOther, "Depot")
	f.ctrl.SubmitDraft(context.Background())

	if err := f.ctrl.Abandon(); err != nil {
		t.Fatalf("Abandon: %v", err)
	}
	snap := f.ctrl.Snapshot()
	if snap.State != StateIdle || snap.Report != nil || snap.LastError != "" {
		t.Fatalf("abandon left state behind: %+v", snap)
	}
}

func TestStartDraftFromFailedPrefills(t *testing.T) {
	f := newFixture(t, nil, Options{})
	f.submitter.setErr(errors.New("down"))
	mustDraft(t, f.ctrl, model.AlertBusBreakdown, "Route 3, km 12")
	if err := f.ctrl.SetPriority(model.PriorityMedium); err != nil {
		t.Fatalf("SetPriority: %v", err)
	}
	f.ctrl.SubmitDraft(context.Background())

	if err := f.ctrl.StartDraft(); err != nil {
		t.Fatalf("StartDraft: %v", err)
	}
	draft := f.ctrl.Snapshot().Draft
	if draft == nil || draft.AlertType != model.AlertBusBreakdown || draft.LocationText != "Route 3, km 12" || draft.Priority != model.PriorityMedium {
		t.Fatalf("draft not prefilled: %+v", draft)
	}
}

func TestStartDraftRejectedWhileArmed(t *testing.T) {
	f := newFixture(t, nil, Options{})
	if err := f.ctrl.ArmPanic(); err != nil {
		t.Fatalf("ArmPanic: %v", err)
	}
	if err := f.ctrl.StartDraft(); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}
