// Package session holds the single source of truth for one chat conversation:
// the ordered message list, the connection state, and a typed publish/subscribe
// channel notifying observers of every mutation.
package session

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/docchat-ai/rag-chat/internal/model"
	"github.com/docchat-ai/rag-chat/pkg/logger"
)

var (
	// ErrNoActiveSession is returned by mutators that require a session.
	ErrNoActiveSession = errors.New("session: no active session")

	// ErrInvalidImport is returned when an import payload fails validation.
	ErrInvalidImport = errors.New("session: invalid import payload")
)

// Store is the in-memory holder of the active conversation. It is constructed
// explicitly and passed to its consumers; all components observing the same
// conversation must share one instance. Safe for concurrent use.
type Store struct {
	mu sync.RWMutex

	session   *model.Session
	connState model.ConnState

	nextSubID uint64
	subs      map[EventType]map[uint64]Handler

	log *logger.Logger
}

// New creates an empty store with no active session and a disconnected
// connection state.
func New(log *logger.Logger) *Store {
	if log == nil {
		log = logger.NewNop()
	}
	return &Store{
		connState: model.ConnDisconnected,
		subs:      make(map[EventType]map[uint64]Handler),
		log:       log,
	}
}

// CreateSession replaces the current session with a fresh empty one and
// returns a copy of it.
func (s *Store) CreateSession() model.Session {
	now := time.Now()
	sess := &model.Session{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Messages:  []model.Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.session = sess
	snapshot := copySession(sess)
	handlers := s.handlersFor(EventSessionCreated)
	s.mu.Unlock()

	s.dispatch(handlers, Event{Type: EventSessionCreated, SessionID: snapshot.ID})
	return snapshot
}

// SessionID returns the id of the active session, or "" if there is none.
func (s *Store) SessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return ""
	}
	return s.session.ID
}

// AddMessage assigns an id and timestamp to the partial message, appends it
// to the active session, and returns a copy of the stored message. Callers
// must create a session first; there is no silent auto-create.
func (s *Store) AddMessage(partial model.Message) (*model.Message, error) {
	s.mu.Lock()
	if s.session == nil {
		s.mu.Unlock()
		return nil, ErrNoActiveSession
	}

	msg := partial
	if msg.ID == "" {
		msg.ID = uuid.Must(uuid.NewV7()).String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	if msg.Status == "" {
		msg.Status = model.StatusSent
	}

	s.session.Messages = append(s.session.Messages, msg)
	s.session.UpdatedAt = time.Now()

	stored := copyMessage(&msg)
	sessionID := s.session.ID
	handlers := s.handlersFor(EventMessageAdded)
	s.mu.Unlock()

	result := stored
	s.dispatch(handlers, Event{Type: EventMessageAdded, SessionID: sessionID, Message: &stored})
	return &result, nil
}

// Update describes a partial message update. Nil fields are left unchanged.
type Update struct {
	Content       *string
	AppendContent *string
	Status        *model.Status
	Citations     []model.Citation
	Metadata      map[string]any
}

// UpdateMessage applies a partial update to the message with the given id and
// returns a copy of the updated message. The second return value is false when
// no message matched; no event is emitted in that case.
func (s *Store) UpdateMessage(id string, upd Update) (*model.Message, bool) {
	s.mu.Lock()
	msg := s.findLocked(id)
	if msg == nil {
		s.mu.Unlock()
		return nil, false
	}

	if upd.Content != nil {
		msg.Content = *upd.Content
	}
	if upd.AppendContent != nil {
		msg.Content += *upd.AppendContent
	}
	if upd.Status != nil {
		msg.Status = *upd.Status
	}
	if upd.Citations != nil {
		msg.Citations = append([]model.Citation(nil), upd.Citations...)
	}
	if upd.Metadata != nil {
		msg.Metadata = upd.Metadata
	}
	s.session.UpdatedAt = time.Now()

	updated := copyMessage(msg)
	sessionID := s.session.ID
	handlers := s.handlersFor(EventMessageUpdated)
	s.mu.Unlock()

	result := updated
	s.dispatch(handlers, Event{Type: EventMessageUpdated, SessionID: sessionID, Message: &updated})
	return &result, true
}

// AppendContent appends a delta chunk to the message's content.
func (s *Store) AppendContent(id, chunk string) (*model.Message, bool) {
	return s.UpdateMessage(id, Update{AppendContent: &chunk})
}

// GetMessages returns a defensive copy of the message list, in insertion
// order. Returns nil when no session is active.
func (s *Store) GetMessages() []model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return nil
	}
	out := make([]model.Message, len(s.session.Messages))
	for i := range s.session.Messages {
		out[i] = copyMessage(&s.session.Messages[i])
	}
	return out
}

// GetMessage returns a copy of the message with the given id.
func (s *Store) GetMessage(id string) (*model.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg := s.findLocked(id)
	if msg == nil {
		return nil, false
	}
	out := copyMessage(msg)
	return &out, true
}

// GetLastMessage returns a copy of the most recently added message.
func (s *Store) GetLastMessage() *model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil || len(s.session.Messages) == 0 {
		return nil
	}
	out := copyMessage(&s.session.Messages[len(s.session.Messages)-1])
	return &out
}

// StreamTarget resolves the single message currently receiving delta appends:
// the most recent message with role assistant and status streaming. The
// session invariant guarantees at most one such message exists.
func (s *Store) StreamTarget() *model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return nil
	}
	for i := len(s.session.Messages) - 1; i >= 0; i-- {
		if s.session.Messages[i].IsStreamTarget() {
			out := copyMessage(&s.session.Messages[i])
			return &out
		}
	}
	return nil
}

// AddCitationsToMessage attaches a citation batch to the message with the
// given id. EventCitationsAdded fires only when the target message existed.
func (s *Store) AddCitationsToMessage(id string, citations []model.Citation) bool {
	msg, ok := s.UpdateMessage(id, Update{Citations: citations})
	if !ok {
		return false
	}

	s.mu.RLock()
	sessionID := ""
	if s.session != nil {
		sessionID = s.session.ID
	}
	handlers := s.handlersFor(EventCitationsAdded)
	s.mu.RUnlock()

	s.dispatch(handlers, Event{
		Type:      EventCitationsAdded,
		SessionID: sessionID,
		Message:   msg,
		Citations: append([]model.Citation(nil), citations...),
	})
	return true
}

// GetAllCitations flattens citations across all messages, de-duplicated by
// citation id, preserving original discovery order.
func (s *Store) GetAllCitations() []model.Citation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return nil
	}

	seen := make(map[string]struct{})
	var out []model.Citation
	for i := range s.session.Messages {
		for _, c := range s.session.Messages[i].Citations {
			if _, dup := seen[c.ID]; dup {
				continue
			}
			seen[c.ID] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}

// SetConnectionState updates the connection state. Setting the current state
// again is a no-op and emits nothing.
func (s *Store) SetConnectionState(state model.ConnState) {
	s.mu.Lock()
	if s.connState == state {
		s.mu.Unlock()
		return
	}
	s.connState = state
	sessionID := ""
	if s.session != nil {
		sessionID = s.session.ID
	}
	handlers := s.handlersFor(EventConnectionStateChanged)
	s.mu.Unlock()

	s.dispatch(handlers, Event{
		Type:      EventConnectionStateChanged,
		SessionID: sessionID,
		ConnState: state,
	})
}

// ConnectionState returns the current connection state.
func (s *Store) ConnectionState() model.ConnState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connState
}

// Export serializes the full active session.
func (s *Store) Export() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return nil, ErrNoActiveSession
	}
	snapshot := copySession(s.session)
	return json.Marshal(snapshot)
}

// Import restores a previously exported session, replacing the current one.
// The payload must carry an id and an ordered message list; on validation
// failure the existing state is left untouched.
func (s *Store) Import(data []byte) error {
	var sess model.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return errors.Join(ErrInvalidImport, err)
	}
	if sess.ID == "" {
		return ErrInvalidImport
	}
	if sess.Messages == nil {
		return ErrInvalidImport
	}

	s.mu.Lock()
	s.session = &sess
	snapshot := copySession(&sess)
	handlers := s.handlersFor(EventSessionCreated)
	s.mu.Unlock()

	s.dispatch(handlers, Event{Type: EventSessionCreated, SessionID: snapshot.ID})
	return nil
}

// findLocked returns a pointer into the live message slice. Callers must hold
// the store lock. Linear scan; conversations stay small.
func (s *Store) findLocked(id string) *model.Message {
	if s.session == nil {
		return nil
	}
	for i := range s.session.Messages {
		if s.session.Messages[i].ID == id {
			return &s.session.Messages[i]
		}
	}
	return nil
}

func copyMessage(m *model.Message) model.Message {
	out := *m
	if m.Citations != nil {
		out.Citations = append([]model.Citation(nil), m.Citations...)
	}
	return out
}

func copySession(sess *model.Session) model.Session {
	out := *sess
	out.Messages = make([]model.Message, len(sess.Messages))
	for i := range sess.Messages {
		out.Messages[i] = copyMessage(&sess.Messages[i])
	}
	return out
}
