// Package scenario replays scripted sessions against a social service.
// A scenario describes what the server holds, then a list of steps:
// push events, user actions with the server's reply, and expectations
// about the derived state.
package scenario

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/alexjbarnes/social-sync/internal/models"
	"gopkg.in/yaml.v3"
)

// Replies a scripted server can give to a mutation.
const (
	ReplyOK         = "ok"
	ReplyConflict   = "conflict"
	ReplyValidation = "validation"
	ReplyNetwork    = "network"
	ReplyAuth       = "auth"
)

// Actions a step can perform.
const (
	ActionAccept    = "accept"
	ActionDecline   = "decline"
	ActionSend      = "send"
	ActionStartChat = "start_chat"
	ActionFindMatch = "find_match"
	ActionMarkRead  = "mark_read"
	ActionOpenChat  = "open_chat"
	ActionCloseChat = "close_chat"
	ActionResync    = "resync"
	ActionRelease   = "release"
)

// defaultNow is the server clock when a scenario does not set one.
var defaultNow = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

// Scenario is one scripted session.
type Scenario struct {
	Name   string      `yaml:"name"`
	Self   models.User `yaml:"self"`
	Now    time.Time   `yaml:"now"`
	Server Server      `yaml:"server"`
	Steps  []Step      `yaml:"steps"`
}

// Server is the state the scripted server starts with.
type Server struct {
	Users         []models.User          `yaml:"users"`
	Chats         []models.Chat          `yaml:"chats"`
	Friends       []string               `yaml:"friends"`
	Online        []string               `yaml:"online"`
	Requests      []models.FriendRequest `yaml:"requests"`
	Notifications []models.Notification  `yaml:"notifications"`
}

// Step is exactly one of a push, an action or an expectation.
type Step struct {
	// Push names a push event; Data is its payload in wire format.
	Push string         `yaml:"push,omitempty"`
	Data map[string]any `yaml:"data,omitempty"`

	// Do names an action. ID is the request or chat it targets, User the
	// other user for send and start_chat.
	Do    string       `yaml:"do,omitempty"`
	ID    string       `yaml:"id,omitempty"`
	User  *models.User `yaml:"user,omitempty"`
	Reply string       `yaml:"reply,omitempty"`

	// Hold keeps the server's reply back until a release step.
	Hold bool `yaml:"hold,omitempty"`

	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect lists conditions on the service state. Unset fields are not
// checked. Badges uses the JSON names of aggregate.Badges.
type Expect struct {
	Badges   map[string]int    `yaml:"badges,omitempty"`
	Pending  *[]string         `yaml:"pending,omitempty"`
	Outgoing *[]string         `yaml:"outgoing,omitempty"`
	Friends  *[]string         `yaml:"friends,omitempty"`
	Chats    *[]string         `yaml:"chats,omitempty"`
	Unread   map[string]int    `yaml:"unread,omitempty"`
	Phase    map[string]string `yaml:"phase,omitempty"`

	// Status and Conflict check the most recent action's handle.
	Status   string `yaml:"status,omitempty"`
	Conflict *bool  `yaml:"conflict,omitempty"`
}

// Load reads a scenario file.
func Load(path string) (*Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening scenario: %w", err)
	}
	defer f.Close()

	sc, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	if sc.Name == "" {
		sc.Name = filepath.Base(path)
	}

	return sc, nil
}

// Parse decodes and checks a scenario. Unknown fields are rejected.
func Parse(r io.Reader) (*Scenario, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading scenario: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var sc Scenario
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("decoding scenario: %w", err)
	}

	if sc.Now.IsZero() {
		sc.Now = defaultNow
	}

	if err := sc.check(); err != nil {
		return nil, err
	}

	return &sc, nil
}

func (sc *Scenario) check() error {
	if sc.Self.ID == "" {
		return fmt.Errorf("self.id is required")
	}

	for i, st := range sc.Steps {
		kinds := 0

		if st.Push != "" {
			kinds++
		}

		if st.Do != "" {
			kinds++
		}

		if st.Expect != nil {
			kinds++
		}

		if kinds != 1 {
			return fmt.Errorf("step %d: exactly one of push, do or expect is required", i+1)
		}

		if st.Do != "" {
			if err := checkAction(st); err != nil {
				return fmt.Errorf("step %d: %w", i+1, err)
			}
		}
	}

	return nil
}

func checkAction(st Step) error {
	switch st.Reply {
	case "", ReplyOK, ReplyConflict, ReplyValidation, ReplyNetwork, ReplyAuth:
	default:
		return fmt.Errorf("unknown reply %q", st.Reply)
	}

	switch st.Do {
	case ActionAccept, ActionDecline, ActionOpenChat, ActionCloseChat:
		if st.ID == "" {
			return fmt.Errorf("%s needs an id", st.Do)
		}
	case ActionSend, ActionStartChat:
		if st.User == nil || st.User.ID == "" {
			return fmt.Errorf("%s needs a user", st.Do)
		}
	case ActionFindMatch, ActionMarkRead, ActionResync, ActionRelease:
	default:
		return fmt.Errorf("unknown action %q", st.Do)
	}

	return nil
}

// Describe returns a one-line summary of the step for reports.
func (st Step) Describe() string {
	switch {
	case st.Push != "":
		return "push " + st.Push
	case st.Do != "":
		s := st.Do
		if st.ID != "" {
			s += " " + st.ID
		}

		if st.User != nil {
			s += " " + st.User.ID
		}

		if st.Reply != "" && st.Reply != ReplyOK {
			s += " (" + st.Reply + ")"
		}

		if st.Hold {
			s += " [held]"
		}

		return s
	default:
		return "expect"
	}
}
