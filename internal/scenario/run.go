package scenario

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/alexjbarnes/social-sync/internal/models"
	"github.com/alexjbarnes/social-sync/internal/mutation"
	"github.com/alexjbarnes/social-sync/internal/social"
	"github.com/alexjbarnes/social-sync/internal/transport"
	"github.com/samber/lo"
	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/tidwall/gjson"
)

const (
	// settleTimeout bounds how long an expectation waits for background
	// reloads and queued events to land.
	settleTimeout = 2 * time.Second
	settlePoll    = 10 * time.Millisecond

	// actionTimeout bounds one action that is not held.
	actionTimeout = 5 * time.Second
)

// Report is the outcome of one replay.
type Report struct {
	Name  string       `json:"name"`
	Steps []StepReport `json:"steps"`
}

// StepReport lists what went wrong in one step, if anything.
type StepReport struct {
	Index    int      `json:"index"`
	Step     string   `json:"step"`
	Failures []string `json:"failures,omitempty"`
}

// Passed reports whether every step passed.
func (r *Report) Passed() bool {
	return !lo.ContainsBy(r.Steps, func(s StepReport) bool { return len(s.Failures) > 0 })
}

// Failed returns the steps that did not pass.
func (r *Report) Failed() []StepReport {
	return lo.Filter(r.Steps, func(s StepReport, _ int) bool { return len(s.Failures) > 0 })
}

type runner struct {
	sc     *Scenario
	api    *scriptedAPI
	svc    *social.Service
	logger *slog.Logger

	last *mutation.Handle
	held []*mutation.Handle
}

// Run replays sc against a fresh service. The returned error covers
// setup failures only; step failures are in the report.
func Run(ctx context.Context, sc *Scenario, logger *slog.Logger) (*Report, error) {
	r := &runner{
		sc:     sc,
		api:    newScriptedAPI(sc),
		logger: logger,
	}

	r.svc = social.New(social.Config{Self: sc.Self}, r.api, logger)
	r.svc.Start(ctx)

	defer func() {
		r.api.release()

		if err := r.svc.Stop(); err != nil {
			logger.Debug("replay service stopped", slog.String("error", err.Error()))
		}
	}()

	if err := r.svc.Engine().LoadAll(ctx); err != nil {
		return nil, fmt.Errorf("loading initial state: %w", err)
	}

	report := &Report{Name: sc.Name}

	for i, st := range sc.Steps {
		sr := StepReport{Index: i + 1, Step: st.Describe()}

		var err error

		switch {
		case st.Push != "":
			err = r.push(ctx, st)
		case st.Do != "":
			err = r.do(ctx, st)
		case st.Expect != nil:
			sr.Failures = r.expect(ctx, st.Expect)
		}

		if err != nil {
			sr.Failures = append(sr.Failures, err.Error())
		}

		logger.Debug("replay step",
			slog.Int("index", sr.Index),
			slog.String("step", sr.Step),
			slog.Int("failures", len(sr.Failures)),
		)

		report.Steps = append(report.Steps, sr)
	}

	return report, nil
}

// push encodes the step as a wire frame and feeds it through the same
// decoder the push channel uses.
func (r *runner) push(ctx context.Context, st Step) error {
	frame, err := json.Marshal(map[string]any{"event": st.Push, "data": st.Data})
	if err != nil {
		return fmt.Errorf("encoding frame: %w", err)
	}

	ev, err := transport.DecodeEvent(frame)
	if err != nil {
		return err
	}

	return r.svc.Engine().HandleEvent(ctx, ev)
}

func (r *runner) do(ctx context.Context, st Step) error {
	var (
		h   *mutation.Handle
		err error
	)

	switch st.Do {
	case ActionAccept:
		r.api.script(ActionAccept, st.ID, st.Reply, st.Hold)
		h = r.svc.AcceptRequest(ctx, st.ID)
	case ActionDecline:
		r.api.script(ActionDecline, st.ID, st.Reply, st.Hold)
		h = r.svc.DeclineRequest(ctx, st.ID)
	case ActionSend:
		r.api.script(ActionSend, st.User.ID, st.Reply, st.Hold)
		h = r.svc.SendFriendRequest(ctx, *st.User)
	case ActionStartChat:
		r.api.script(ActionStartChat, st.User.ID, st.Reply, st.Hold)
		_, h = r.svc.StartChat(ctx, *st.User)
	case ActionMarkRead:
		r.api.script(ActionMarkRead, "", st.Reply, st.Hold)
		h = r.svc.MarkAllRead(ctx)
	case ActionFindMatch:
		r.api.script(ActionFindMatch, "", st.Reply, false)
		_, err = r.svc.FindMatch(ctx)
	case ActionOpenChat:
		err = r.svc.OpenChat(ctx, st.ID)
	case ActionCloseChat:
		err = r.svc.CloseChat(ctx, st.ID)
	case ActionResync:
		err = r.svc.Engine().LoadAll(ctx)
	case ActionRelease:
		return r.release(ctx)
	}

	if h == nil {
		return err
	}

	if st.Hold {
		r.held = append(r.held, h)
		return nil
	}

	r.last = h

	return wait(ctx, h)
}

func (r *runner) release(ctx context.Context) error {
	r.api.release()

	held := r.held
	r.held = nil

	for _, h := range held {
		if err := wait(ctx, h); err != nil {
			return err
		}
	}

	if len(held) > 0 {
		r.last = held[len(held)-1]
	}

	return nil
}

func wait(ctx context.Context, h *mutation.Handle) error {
	ctx, cancel := context.WithTimeout(ctx, actionTimeout)
	defer cancel()

	select {
	case <-h.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%s did not complete: %w", h.Key, ctx.Err())
	}
}

// expect polls until every condition holds or settleTimeout passes, and
// returns the failures from the last attempt.
func (r *runner) expect(ctx context.Context, e *Expect) []string {
	deadline := time.Now().Add(settleTimeout)

	for {
		failures := r.check(e)
		if len(failures) == 0 || time.Now().After(deadline) {
			return failures
		}

		select {
		case <-ctx.Done():
			return append(failures, ctx.Err().Error())
		case <-time.After(settlePoll):
		}
	}
}

func (r *runner) check(e *Expect) []string {
	var failures []string

	fail := func(format string, args ...any) {
		failures = append(failures, fmt.Sprintf(format, args...))
	}

	if len(e.Badges) > 0 {
		raw, err := json.Marshal(r.svc.Badges())
		if err != nil {
			fail("encoding badges: %v", err)
		}

		for _, name := range sortedKeys(e.Badges) {
			got := gjson.GetBytes(raw, name)
			if !got.Exists() {
				fail("badges: unknown counter %q", name)
				continue
			}

			if int(got.Int()) != e.Badges[name] {
				fail("badges.%s = %d, want %d", name, got.Int(), e.Badges[name])
			}
		}
	}

	requestIDs := func(rs []models.FriendRequest) []string {
		return lo.Map(rs, func(r models.FriendRequest, _ int) string { return r.ID })
	}

	compareSet(fail, "pending", e.Pending, requestIDs(r.svc.PendingRequests()))
	compareSet(fail, "outgoing", e.Outgoing, requestIDs(r.svc.OutgoingRequests()))
	compareSet(fail, "friends", e.Friends, lo.Map(r.svc.Friends(), func(f social.Friend, _ int) string { return f.ID }))
	compareSet(fail, "chats", e.Chats, lo.Map(r.svc.Chats(), func(c models.Chat, _ int) string { return c.ID }))

	if len(e.Unread) > 0 {
		chats := lo.SliceToMap(r.svc.Chats(), func(c models.Chat) (string, int) { return c.ID, c.UnreadCount })

		for _, id := range sortedKeys(e.Unread) {
			got, ok := chats[id]
			if !ok {
				fail("unread: no chat %s", id)
				continue
			}

			if got != e.Unread[id] {
				fail("unread[%s] = %d, want %d", id, got, e.Unread[id])
			}
		}
	}

	for _, id := range sortedKeys(e.Phase) {
		v, ok := r.svc.Request(id)
		if !ok {
			fail("phase: no request %s", id)
			continue
		}

		if string(v.Phase) != e.Phase[id] {
			fail("phase[%s] = %s, want %s", id, v.Phase, e.Phase[id])
		}
	}

	if e.Status != "" || e.Conflict != nil {
		switch {
		case r.last == nil:
			fail("no action to check")
		default:
			if e.Status != "" && r.last.Status().String() != e.Status {
				fail("status = %s, want %s (err: %v)", r.last.Status(), e.Status, r.last.Err())
			}

			if e.Conflict != nil && r.last.Conflict() != *e.Conflict {
				fail("conflict = %t, want %t", r.last.Conflict(), *e.Conflict)
			}
		}
	}

	return failures
}

func compareSet(fail func(string, ...any), name string, want *[]string, got []string) {
	if want == nil {
		return
	}

	w := slices.Clone(*want)
	g := slices.Clone(got)

	sort.Strings(w)
	sort.Strings(g)

	if !slices.Equal(w, g) {
		fail("%s differs (-want +got): %s", name, lineDiff(w, g))
	}
}

// lineDiff renders the difference between two sorted id lists, one id
// per line, keeping only the changed ids.
func lineDiff(want, got []string) string {
	dmp := diffmatchpatch.New()

	a, b, lines := dmp.DiffLinesToChars(joinLines(want), joinLines(got))
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	var out []string

	for _, d := range diffs {
		var sign string

		switch d.Type {
		case diffmatchpatch.DiffDelete:
			sign = "-"
		case diffmatchpatch.DiffInsert:
			sign = "+"
		default:
			continue
		}

		for _, id := range strings.Split(strings.TrimSuffix(d.Text, "\n"), "\n") {
			out = append(out, sign+id)
		}
	}

	return strings.Join(out, " ")
}

func joinLines(ids []string) string {
	if len(ids) == 0 {
		return ""
	}

	return strings.Join(ids, "\n") + "\n"
}

func sortedKeys[V any](m map[string]V) []string {
	keys := lo.Keys(m)
	sort.Strings(keys)

	return keys
}
