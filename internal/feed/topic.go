package feed

import (
	"fmt"
	"strings"
)

// Kind is the type of row change carried by an envelope.
type Kind string

const (
	KindInsert Kind = "INSERT"
	KindUpdate Kind = "UPDATE"
	KindDelete Kind = "DELETE"
	// KindAll subscribes to every change kind of a table.
	KindAll Kind = "*"
)

// Tables published on the change feed.
const (
	TableMessages     = "messages"
	TableProfiles     = "profiles"
	TableParticipants = "chat_participants"
	TableChats        = "chats"
)

// Topic names a stream of changes, written as "table:KIND".
type Topic struct {
	Table string
	Kind  Kind
}

func (t Topic) String() string {
	return t.Table + ":" + string(t.Kind)
}

// Matches reports whether a change of kind k on table belongs to t.
func (t Topic) Matches(table string, k Kind) bool {
	return t.Table == table && (t.Kind == KindAll || t.Kind == k)
}

// ParseTopic parses the "table:KIND" form.
func ParseTopic(s string) (Topic, error) {
	table, kind, ok := strings.Cut(s, ":")
	if !ok || table == "" {
		return Topic{}, fmt.Errorf("topic %q: expected table:KIND", s)
	}
	switch Kind(strings.ToUpper(kind)) {
	case KindInsert, KindUpdate, KindDelete, KindAll:
	default:
		return Topic{}, fmt.Errorf("topic %q: unknown kind %q", s, kind)
	}
	switch table {
	case TableMessages, TableProfiles, TableParticipants, TableChats:
	default:
		return Topic{}, fmt.Errorf("topic %q: unknown table %q", s, table)
	}
	return Topic{Table: table, Kind: Kind(strings.ToUpper(kind))}, nil
}

// Common topics.
var (
	MessageInserts = Topic{Table: TableMessages, Kind: KindInsert}
	MessageUpdates = Topic{Table: TableMessages, Kind: KindUpdate}
	ProfileUpdates = Topic{Table: TableProfiles, Kind: KindUpdate}
	MembershipAll  = Topic{Table: TableParticipants, Kind: KindAll}
	ChatUpdates    = Topic{Table: TableChats, Kind: KindUpdate}
)
