package session

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docchat-ai/rag-chat/internal/model"
)

func newStoreWithSession(t *testing.T) *Store {
	t.Helper()
	s := New(nil)
	s.CreateSession()
	return s
}

func TestStore_AddMessage(t *testing.T) {
	t.Run("requires an active session", func(t *testing.T) {
		s := New(nil)
		_, err := s.AddMessage(model.Message{Role: model.RoleUser, Content: "hi"})
		assert.ErrorIs(t, err, ErrNoActiveSession)
		assert.Nil(t, s.GetMessages())
	})

	t.Run("assigns id, timestamp, and default status", func(t *testing.T) {
		s := newStoreWithSession(t)
		msg, err := s.AddMessage(model.Message{Role: model.RoleUser, Content: "hello"})
		require.NoError(t, err)
		assert.NotEmpty(t, msg.ID)
		assert.False(t, msg.Timestamp.IsZero())
		assert.Equal(t, model.StatusSent, msg.Status)
	})

	t.Run("preserves insertion order", func(t *testing.T) {
		s := newStoreWithSession(t)
		for i := 0; i < 10; i++ {
			_, err := s.AddMessage(model.Message{
				Role:    model.RoleUser,
				Content: fmt.Sprintf("message %d", i),
			})
			require.NoError(t, err)
		}

		msgs := s.GetMessages()
		require.Len(t, msgs, 10)
		for i, m := range msgs {
			assert.Equal(t, fmt.Sprintf("message %d", i), m.Content)
		}
	})

	t.Run("generates unique ids", func(t *testing.T) {
		s := newStoreWithSession(t)
		seen := make(map[string]bool)
		for i := 0; i < 100; i++ {
			msg, err := s.AddMessage(model.Message{Role: model.RoleUser, Content: "x"})
			require.NoError(t, err)
			assert.False(t, seen[msg.ID], "duplicate id %s", msg.ID)
			seen[msg.ID] = true
		}
	})

	t.Run("is safe under concurrent writers", func(t *testing.T) {
		s := newStoreWithSession(t)
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 50; j++ {
					_, err := s.AddMessage(model.Message{Role: model.RoleUser, Content: "c"})
					assert.NoError(t, err)
				}
			}()
		}
		wg.Wait()
		assert.Len(t, s.GetMessages(), 500)
	})
}

func TestStore_UpdateMessage(t *testing.T) {
	t.Run("applies partial updates", func(t *testing.T) {
		s := newStoreWithSession(t)
		msg, err := s.AddMessage(model.Message{Role: model.RoleAssistant, Status: model.StatusStreaming})
		require.NoError(t, err)

		_, ok := s.AppendContent(msg.ID, "Hel")
		require.True(t, ok)
		_, ok = s.AppendContent(msg.ID, "lo")
		require.True(t, ok)

		done := model.StatusCompleted
		updated, ok := s.UpdateMessage(msg.ID, Update{Status: &done})
		require.True(t, ok)
		assert.Equal(t, "Hello", updated.Content)
		assert.Equal(t, model.StatusCompleted, updated.Status)
	})

	t.Run("unknown id returns false and emits nothing", func(t *testing.T) {
		s := newStoreWithSession(t)
		fired := false
		s.Subscribe(EventMessageUpdated, func(Event) { fired = true })

		_, ok := s.AppendContent("no-such-id", "chunk")
		assert.False(t, ok)
		assert.False(t, fired)
	})

	t.Run("content overwrite replaces accumulated deltas", func(t *testing.T) {
		s := newStoreWithSession(t)
		msg, err := s.AddMessage(model.Message{Role: model.RoleAssistant, Status: model.StatusStreaming})
		require.NoError(t, err)
		s.AppendContent(msg.ID, "partial junk")

		full := "the canonical answer"
		updated, ok := s.UpdateMessage(msg.ID, Update{Content: &full})
		require.True(t, ok)
		assert.Equal(t, full, updated.Content)
	})
}

func TestStore_StreamTarget(t *testing.T) {
	t.Run("none when no message is streaming", func(t *testing.T) {
		s := newStoreWithSession(t)
		s.AddMessage(model.Message{Role: model.RoleUser, Content: "q"})
		assert.Nil(t, s.StreamTarget())
	})

	t.Run("finds the streaming assistant message", func(t *testing.T) {
		s := newStoreWithSession(t)
		s.AddMessage(model.Message{Role: model.RoleUser, Content: "q"})
		msg, err := s.AddMessage(model.Message{Role: model.RoleAssistant, Status: model.StatusStreaming})
		require.NoError(t, err)

		target := s.StreamTarget()
		require.NotNil(t, target)
		assert.Equal(t, msg.ID, target.ID)
	})

	t.Run("completed messages are not targets", func(t *testing.T) {
		s := newStoreWithSession(t)
		msg, _ := s.AddMessage(model.Message{Role: model.RoleAssistant, Status: model.StatusStreaming})
		done := model.StatusCompleted
		s.UpdateMessage(msg.ID, Update{Status: &done})
		assert.Nil(t, s.StreamTarget())
	})

	t.Run("streaming user messages are not targets", func(t *testing.T) {
		s := newStoreWithSession(t)
		s.AddMessage(model.Message{Role: model.RoleUser, Status: model.StatusStreaming})
		assert.Nil(t, s.StreamTarget())
	})
}

func TestStore_Citations(t *testing.T) {
	c := func(id string) model.Citation {
		return model.Citation{ID: id, SourceFileName: id + ".pdf", ContentSnippet: "snippet " + id}
	}

	t.Run("attach to message and read back", func(t *testing.T) {
		s := newStoreWithSession(t)
		msg, _ := s.AddMessage(model.Message{Role: model.RoleAssistant})

		ok := s.AddCitationsToMessage(msg.ID, []model.Citation{c("a"), c("b")})
		require.True(t, ok)

		got, found := s.GetMessage(msg.ID)
		require.True(t, found)
		assert.Len(t, got.Citations, 2)
	})

	t.Run("event fires only for existing messages", func(t *testing.T) {
		s := newStoreWithSession(t)
		var events int
		s.Subscribe(EventCitationsAdded, func(Event) { events++ })

		assert.False(t, s.AddCitationsToMessage("missing", []model.Citation{c("a")}))
		assert.Equal(t, 0, events)

		msg, _ := s.AddMessage(model.Message{Role: model.RoleAssistant})
		assert.True(t, s.AddCitationsToMessage(msg.ID, []model.Citation{c("a")}))
		assert.Equal(t, 1, events)
	})

	t.Run("GetAllCitations de-duplicates by id in discovery order", func(t *testing.T) {
		s := newStoreWithSession(t)
		m1, _ := s.AddMessage(model.Message{Role: model.RoleAssistant})
		m2, _ := s.AddMessage(model.Message{Role: model.RoleAssistant})
		s.AddCitationsToMessage(m1.ID, []model.Citation{c("a"), c("b")})
		s.AddCitationsToMessage(m2.ID, []model.Citation{c("b"), c("c")})

		all := s.GetAllCitations()
		require.Len(t, all, 3)
		assert.Equal(t, "a", all[0].ID)
		assert.Equal(t, "b", all[1].ID)
		assert.Equal(t, "c", all[2].ID)
	})
}

func TestStore_Events(t *testing.T) {
	t.Run("unsubscribe stops delivery", func(t *testing.T) {
		s := newStoreWithSession(t)
		var calls int
		sub := s.Subscribe(EventMessageAdded, func(Event) { calls++ })

		s.AddMessage(model.Message{Role: model.RoleUser, Content: "1"})
		sub.Unsubscribe()
		s.AddMessage(model.Message{Role: model.RoleUser, Content: "2"})

		assert.Equal(t, 1, calls)
	})

	t.Run("unsubscribe is idempotent", func(t *testing.T) {
		s := newStoreWithSession(t)
		sub := s.Subscribe(EventMessageAdded, func(Event) {})
		sub.Unsubscribe()
		assert.NotPanics(t, sub.Unsubscribe)
	})

	t.Run("panicking handler does not break other handlers", func(t *testing.T) {
		s := newStoreWithSession(t)
		var survived bool
		s.Subscribe(EventMessageAdded, func(Event) { panic("boom") })
		s.Subscribe(EventMessageAdded, func(Event) { survived = true })

		assert.NotPanics(t, func() {
			s.AddMessage(model.Message{Role: model.RoleUser, Content: "x"})
		})
		assert.True(t, survived)
	})

	t.Run("handlers receive copies", func(t *testing.T) {
		s := newStoreWithSession(t)
		s.Subscribe(EventMessageAdded, func(ev Event) {
			ev.Message.Content = "mutated"
		})
		msg, err := s.AddMessage(model.Message{Role: model.RoleUser, Content: "original"})
		require.NoError(t, err)

		stored, _ := s.GetMessage(msg.ID)
		assert.Equal(t, "original", stored.Content)
	})
}

func TestStore_ConnectionState(t *testing.T) {
	t.Run("starts disconnected", func(t *testing.T) {
		s := New(nil)
		assert.Equal(t, model.ConnDisconnected, s.ConnectionState())
	})

	t.Run("same state twice emits one event", func(t *testing.T) {
		s := newStoreWithSession(t)
		var events int
		s.Subscribe(EventConnectionStateChanged, func(Event) { events++ })

		s.SetConnectionState(model.ConnConnected)
		s.SetConnectionState(model.ConnConnected)

		assert.Equal(t, 1, events)
		assert.Equal(t, model.ConnConnected, s.ConnectionState())
	})
}

func TestStore_ExportImport(t *testing.T) {
	t.Run("round trip preserves messages and citations", func(t *testing.T) {
		src := newStoreWithSession(t)
		msg, _ := src.AddMessage(model.Message{Role: model.RoleAssistant, Content: "answer"})
		src.AddCitationsToMessage(msg.ID, []model.Citation{{ID: "c1", SourceFileName: "doc.pdf"}})

		data, err := src.Export()
		require.NoError(t, err)

		dst := New(nil)
		require.NoError(t, dst.Import(data))

		assert.Equal(t, src.SessionID(), dst.SessionID())
		msgs := dst.GetMessages()
		require.Len(t, msgs, 1)
		assert.Equal(t, "answer", msgs[0].Content)
		require.Len(t, msgs[0].Citations, 1)
		assert.Equal(t, "c1", msgs[0].Citations[0].ID)
	})

	t.Run("export without session fails", func(t *testing.T) {
		s := New(nil)
		_, err := s.Export()
		assert.ErrorIs(t, err, ErrNoActiveSession)
	})

	t.Run("invalid payloads leave state untouched", func(t *testing.T) {
		s := newStoreWithSession(t)
		s.AddMessage(model.Message{Role: model.RoleUser, Content: "keep me"})
		before := s.SessionID()

		for _, payload := range []string{
			"not json",
			`{"messages":[]}`,
			`{"id":"abc"}`,
		} {
			err := s.Import([]byte(payload))
			assert.ErrorIs(t, err, ErrInvalidImport, "payload %q", payload)
		}

		assert.Equal(t, before, s.SessionID())
		assert.Len(t, s.GetMessages(), 1)
	})
}

func TestStore_DefensiveCopies(t *testing.T) {
	s := newStoreWithSession(t)
	msg, _ := s.AddMessage(model.Message{Role: model.RoleUser, Content: "immutable"})

	msgs := s.GetMessages()
	msgs[0].Content = "scribbled"

	stored, _ := s.GetMessage(msg.ID)
	assert.Equal(t, "immutable", stored.Content)
}
