// Package session turns the stream of server frames into the chat state the
// view renders: the roster and the message history.
package session

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/aeolun/ripplechat/pkg/bus"
	"github.com/aeolun/ripplechat/pkg/protocol"
)

// ErrUnknownSender matches a LookupError.
var ErrUnknownSender = errors.New("unknown sender")

// LookupError reports a chat message whose sender is not in the roster.
type LookupError struct {
	Sender string
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("%s: %q is not in the roster", ErrUnknownSender, e.Sender)
}

func (e *LookupError) Is(target error) bool {
	return target == ErrUnknownSender
}

// maxErrorHistory bounds the errors kept for Errors().
const maxErrorHistory = 64

// UserProfile is a roster entry with its derived avatar.
type UserProfile struct {
	Name      string
	AvatarURL string
}

// Sender is the outbound half of the connection.
type Sender interface {
	Send(text string) error
}

// ErrorReporter receives every error the reducer swallows.
type ErrorReporter func(err error)

// Config configures a Reducer.
type Config struct {
	// Username identifies the local user in outgoing messages.
	Username string
	Sender   Sender
	Avatars  Avatars
	Reporter ErrorReporter
	Logger   *log.Logger
}

// Reducer owns the session state. It is the only writer of the roster and
// the message history; every mutation happens under one mutex.
type Reducer struct {
	username string
	sender   Sender
	avatars  Avatars
	reporter ErrorReporter
	logger   *log.Logger

	mu       sync.Mutex
	users    []UserProfile
	messages []protocol.ChatPayload
	errs     []error

	changes chan struct{}
}

// NewReducer creates a reducer with an empty roster and history.
func NewReducer(cfg Config) *Reducer {
	if cfg.Avatars.Template == "" {
		cfg.Avatars.Template = DefaultAvatarTemplate
	}
	if cfg.Avatars.Placeholder == "" {
		cfg.Avatars.Placeholder = DefaultPlaceholderAvatar
	}
	return &Reducer{
		username: cfg.Username,
		sender:   cfg.Sender,
		avatars:  cfg.Avatars,
		reporter: cfg.Reporter,
		logger:   cfg.Logger,
		changes:  make(chan struct{}, 1),
	}
}

// Attach subscribes the reducer to b.
func (r *Reducer) Attach(b *bus.Bus) *bus.Subscription {
	return b.Subscribe(func(frame string) {
		r.Handle(frame)
	})
}

// Handle applies one raw frame and reports whether the state changed.
// Undecodable frames are reported and otherwise ignored.
func (r *Reducer) Handle(frame string) bool {
	env, err := protocol.Decode(frame)
	if err != nil {
		r.report(fmt.Errorf("decode frame: %w", err))
		return false
	}

	switch env.MessageType {
	case protocol.TypeUsers:
		r.replaceRoster(env.DataArray)
		r.notify()
		return true

	case protocol.TypeMessage:
		payload, err := protocol.DecodeChatPayload(env.DataString())
		if err != nil {
			r.report(fmt.Errorf("decode chat payload: %w", err))
			return false
		}
		if known := r.appendMessage(payload); !known {
			r.report(&LookupError{Sender: payload.From})
		}
		r.notify()
		return true

	default:
		// register is never sent by the server
		return false
	}
}

func (r *Reducer) replaceRoster(names []string) {
	users := make([]UserProfile, 0, len(names))
	for _, name := range names {
		users = append(users, UserProfile{Name: name, AvatarURL: r.avatars.URL(name)})
	}

	r.mu.Lock()
	r.users = users
	r.mu.Unlock()
}

// appendMessage adds p to the history and reports whether its sender is in
// the current roster.
func (r *Reducer) appendMessage(p protocol.ChatPayload) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.messages = append(r.messages, p)
	return indexOf(r.users, p.From) >= 0
}

// Submit sends text as a chat message from the local user. Blank input is
// ignored. The message is not added to the history; it appears when the
// server echoes it back. Errors are reported and returned.
func (r *Reducer) Submit(text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	env, err := protocol.NewMessage(protocol.ChatPayload{From: r.username, Message: text})
	if err != nil {
		r.report(err)
		return err
	}
	frame, err := protocol.Encode(env)
	if err != nil {
		r.report(err)
		return err
	}

	if r.sender == nil {
		err := errors.New("send message: no connection")
		r.report(err)
		return err
	}
	if err := r.sender.Send(frame); err != nil {
		err = fmt.Errorf("send message: %w", err)
		r.report(err)
		return err
	}
	return nil
}

// Username returns the local username.
func (r *Reducer) Username() string {
	return r.username
}

// Changes delivers a signal after every state change. Signals coalesce: a
// slow reader sees one pending signal, not one per change.
func (r *Reducer) Changes() <-chan struct{} {
	return r.changes
}

func (r *Reducer) notify() {
	select {
	case r.changes <- struct{}{}:
	default:
	}
}

func (r *Reducer) report(err error) {
	if r.logger != nil {
		r.logger.Printf("session: %v", err)
	}

	r.mu.Lock()
	r.errs = append(r.errs, err)
	if len(r.errs) > maxErrorHistory {
		r.errs = r.errs[len(r.errs)-maxErrorHistory:]
	}
	r.mu.Unlock()

	if r.reporter != nil {
		r.reporter(err)
	}
}

// Errors returns the most recent errors the reducer reported, oldest first.
func (r *Reducer) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

// Snapshot is a copy of the session state for rendering.
type Snapshot struct {
	Users    []UserProfile
	Messages []protocol.ChatPayload

	placeholder string
}

// Snapshot returns a copy of the current state.
func (r *Reducer) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{
		Users:       append([]UserProfile(nil), r.users...),
		Messages:    append([]protocol.ChatPayload(nil), r.messages...),
		placeholder: r.avatars.PlaceholderURL(),
	}
}

// Users returns a copy of the roster.
func (r *Reducer) Users() []UserProfile {
	return r.Snapshot().Users
}

// Messages returns a copy of the message history.
func (r *Reducer) Messages() []protocol.ChatPayload {
	return r.Snapshot().Messages
}

// Avatar resolves the avatar for a message sender against the roster. When
// the sender is missing it returns the placeholder and a *LookupError.
func (s Snapshot) Avatar(from string) (string, error) {
	if i := indexOf(s.Users, from); i >= 0 {
		return s.Users[i].AvatarURL, nil
	}
	placeholder := s.placeholder
	if placeholder == "" {
		placeholder = DefaultPlaceholderAvatar
	}
	return placeholder, &LookupError{Sender: from}
}

func indexOf(users []UserProfile, name string) int {
	for i, u := range users {
		if u.Name == name {
			return i
		}
	}
	return -1
}
