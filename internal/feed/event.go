package feed

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"

	"chatsync/internal/domain"
)

// Envelope is a row change as it travels over the wire.
type Envelope struct {
	Table string          `json:"table" validate:"required"`
	Kind  Kind            `json:"kind" validate:"required,oneof=INSERT UPDATE DELETE"`
	Old   json.RawMessage `json:"old,omitempty"`
	New   json.RawMessage `json:"new,omitempty"`
}

// Event is a decoded change. The set of implementations is closed.
type Event interface {
	Topic() Topic
	isEvent()
}

type MessageInserted struct{ Message domain.Message }

type MessageUpdated struct{ Message domain.Message }

type MessageDeleted struct {
	ID     string `json:"id" validate:"required"`
	ChatID string `json:"chat_id"`
}

type ProfileUpdated struct{ Profile domain.Profile }

type ParticipantInserted struct{ Participant domain.Participant }

type ParticipantDeleted struct {
	ChatID string `json:"chat_id" validate:"required"`
	UserID string `json:"user_id" validate:"required"`
}

type ChatInserted struct{ Chat domain.Chat }

type ChatUpdated struct{ Chat domain.Chat }

func (MessageInserted) Topic() Topic     { return MessageInserts }
func (MessageUpdated) Topic() Topic      { return MessageUpdates }
func (MessageDeleted) Topic() Topic      { return Topic{Table: TableMessages, Kind: KindDelete} }
func (ProfileUpdated) Topic() Topic      { return ProfileUpdates }
func (ParticipantInserted) Topic() Topic { return Topic{Table: TableParticipants, Kind: KindInsert} }
func (ParticipantDeleted) Topic() Topic  { return Topic{Table: TableParticipants, Kind: KindDelete} }
func (ChatInserted) Topic() Topic        { return Topic{Table: TableChats, Kind: KindInsert} }
func (ChatUpdated) Topic() Topic         { return ChatUpdates }

func (MessageInserted) isEvent()     {}
func (MessageUpdated) isEvent()      {}
func (MessageDeleted) isEvent()      {}
func (ProfileUpdated) isEvent()      {}
func (ParticipantInserted) isEvent() {}
func (ParticipantDeleted) isEvent()  {}
func (ChatInserted) isEvent()        {}
func (ChatUpdated) isEvent()         {}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Decode validates an envelope and converts it into a typed event.
// Anything malformed yields an error wrapping domain.ErrInvalidEvent.
func Decode(env Envelope) (Event, error) {
	if err := validate.Struct(env); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidEvent, err)
	}

	switch env.Table {
	case TableMessages:
		if env.Kind == KindDelete {
			var ev MessageDeleted
			if err := decodeRow(env.Old, &ev); err != nil {
				return nil, err
			}
			return ev, nil
		}
		var m domain.Message
		if err := decodeRow(env.New, &m); err != nil {
			return nil, err
		}
		if env.Kind == KindInsert {
			return MessageInserted{Message: m}, nil
		}
		return MessageUpdated{Message: m}, nil

	case TableProfiles:
		if env.Kind != KindUpdate {
			return nil, fmt.Errorf("%w: profiles %s not published", domain.ErrInvalidEvent, env.Kind)
		}
		var p domain.Profile
		if err := decodeRow(env.New, &p); err != nil {
			return nil, err
		}
		return ProfileUpdated{Profile: p}, nil

	case TableParticipants:
		switch env.Kind {
		case KindInsert:
			var p domain.Participant
			if err := decodeRow(env.New, &p); err != nil {
				return nil, err
			}
			return ParticipantInserted{Participant: p}, nil
		case KindDelete:
			var ev ParticipantDeleted
			if err := decodeRow(env.Old, &ev); err != nil {
				return nil, err
			}
			return ev, nil
		}
		return nil, fmt.Errorf("%w: chat_participants %s not published", domain.ErrInvalidEvent, env.Kind)

	case TableChats:
		var c domain.Chat
		switch env.Kind {
		case KindInsert:
			if err := decodeRow(env.New, &c); err != nil {
				return nil, err
			}
			return ChatInserted{Chat: c}, nil
		case KindUpdate:
			if err := decodeRow(env.New, &c); err != nil {
				return nil, err
			}
			return ChatUpdated{Chat: c}, nil
		}
		return nil, fmt.Errorf("%w: chats %s not published", domain.ErrInvalidEvent, env.Kind)
	}

	return nil, fmt.Errorf("%w: unknown table %q", domain.ErrInvalidEvent, env.Table)
}

func decodeRow(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: missing row", domain.ErrInvalidEvent)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidEvent, err)
	}
	if err := validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidEvent, err)
	}
	return nil
}

// Encode builds the wire envelope for ev.
func Encode(ev Event) (Envelope, error) {
	topic := ev.Topic()
	env := Envelope{Table: topic.Table, Kind: topic.Kind}

	var row any
	switch e := ev.(type) {
	case MessageInserted:
		row = e.Message
	case MessageUpdated:
		row = e.Message
	case MessageDeleted:
		row = e
	case ProfileUpdated:
		row = e.Profile
	case ParticipantInserted:
		row = e.Participant
	case ParticipantDeleted:
		row = e
	case ChatInserted:
		row = e.Chat
	case ChatUpdated:
		row = e.Chat
	default:
		return Envelope{}, fmt.Errorf("%w: unsupported event %T", domain.ErrInvalidEvent, ev)
	}

	raw, err := json.Marshal(row)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s: %w", topic, err)
	}
	if topic.Kind == KindDelete {
		env.Old = raw
	} else {
		env.New = raw
	}
	return env, nil
}
