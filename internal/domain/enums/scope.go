package enums

type ItemScope string

const (
	ScopeDirect    ItemScope = "DIRECT"
	ScopeBroadcast ItemScope = "BROADCAST"
)

func (s ItemScope) Valid() bool {
	return s == ScopeDirect || s == ScopeBroadcast
}
