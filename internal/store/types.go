package store

// Message is a cached message record.
//
// LocalKey is assigned by the store on first insert and never changes or gets
// reused; it is what ties a provisional record to its confirmed replacement.
// ServerID is negative (see InsertProvisional) until the remote service
// confirms the message, after which it carries the authoritative positive ID.
// IsMe is computed against the local identity at write time and persisted, so
// a later identity change cannot reclassify history.
type Message struct {
	LocalKey  int64
	ServerID  int64
	ChatID    int64
	SenderID  int64
	Content   string
	Type      string // TypeText or TypeImage
	Status    string // see status.go
	CreatedAt int64  // epoch seconds; display and ordering
	IsMe      bool
}

// Message content types.
const (
	TypeText  = "text"
	TypeImage = "image"
)

// Chat mirrors the externally-owned chat domain: just enough to render a
// chat list against the cache.
type Chat struct {
	ID                 int64
	Title              string
	UnreadCount        int
	LastMessageAt      int64
	LastMessagePreview string
}

// User mirrors the externally-owned user domain.
type User struct {
	ID       int64
	Username string
	Avatar   string
}
