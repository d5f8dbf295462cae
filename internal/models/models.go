package models

import (
	"time"

	"github.com/google/uuid"
)

// Location is where a match is played. Address is always present; the
// coordinates are only set when the address came from the geocoding
// autocomplete. A manually typed address has no coordinates and is still
// valid.
type Location struct {
	Address   string   `json:"address"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

// Match is a scheduled sports event with a capacity and a creator.
//
// Date is a single absolute instant: the date and time-of-day the creator
// picked, combined. CurrentPlayers is derived from the participant rows;
// the store computes it, nobody writes it.
type Match struct {
	ID             uuid.UUID `json:"id"`
	Title          string    `json:"title"`
	Description    *string   `json:"description,omitempty"`
	Location       Location  `json:"location"`
	Date           time.Time `json:"date"`
	Sport          Sport     `json:"sport_type"`
	MaxPlayers     int       `json:"max_players"`
	CurrentPlayers int       `json:"current_players"`
	Price          float64   `json:"price"`
	CreatorID      uuid.UUID `json:"creator_id"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// IsFull reports whether every slot is taken.
func (m Match) IsFull() bool {
	return m.CurrentPlayers >= m.MaxPlayers
}

// NewMatch is what the store needs to insert a match row.
type NewMatch struct {
	Title       string
	Description *string
	Location    Location
	Date        time.Time
	Sport       Sport
	MaxPlayers  int
	Price       float64
	CreatorID   uuid.UUID
}

// Participant is a user registered as attending a match. DisplayName is
// copied from the user's profile at join time.
type Participant struct {
	MatchID     uuid.UUID `json:"match_id"`
	UserID      uuid.UUID `json:"user_id"`
	DisplayName string    `json:"display_name"`
	JoinedAt    time.Time `json:"joined_at"`
}

// CreatorSummary is the slice of the creator's profile shown with a match.
type CreatorSummary struct {
	ID       uuid.UUID `json:"id"`
	FullName string    `json:"full_name"`
}

// EnrichedMatch is a Match plus the current user's relationship to it.
type EnrichedMatch struct {
	Match
	IsCreator     bool            `json:"is_creator"`
	IsParticipant bool            `json:"is_participant"`
	CanJoin       bool            `json:"can_join"`
	Creator       *CreatorSummary `json:"creator,omitempty"`
	Participants  []Participant   `json:"participants"`
}

// ChatMessage is one message in a match chat. Messages are immutable.
//
// AuthorName is not a column: it is resolved from the match participant
// list when the message enters a chat feed.
type ChatMessage struct {
	ID         int64     `json:"id"`
	MatchID    uuid.UUID `json:"match_id"`
	UserID     uuid.UUID `json:"user_id"`
	Body       string    `json:"message"`
	CreatedAt  time.Time `json:"created_at"`
	AuthorName string    `json:"author_name,omitempty"`
}

// Profile is 1:1 with a user. A brand new user may not have one yet.
type Profile struct {
	ID             uuid.UUID  `json:"id"`
	FullName       string     `json:"full_name"`
	Email          string     `json:"email"`
	FavoriteSports []Sport    `json:"favorite_sports"`
	SkillLevel     SkillLevel `json:"skill_level"`
	AvatarURL      *string    `json:"avatar_url,omitempty"`
	Phone          *string    `json:"phone,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// ProfileUpdate is a partial update. Nil fields are left untouched.
type ProfileUpdate struct {
	FullName       *string     `json:"full_name,omitempty"`
	FavoriteSports *[]Sport    `json:"favorite_sports,omitempty"`
	SkillLevel     *SkillLevel `json:"skill_level,omitempty"`
	AvatarURL      *string     `json:"avatar_url,omitempty"`
	Phone          *string     `json:"phone,omitempty"`
}

// Empty reports whether the update carries no field.
func (u ProfileUpdate) Empty() bool {
	return u.FullName == nil && u.FavoriteSports == nil && u.SkillLevel == nil &&
		u.AvatarURL == nil && u.Phone == nil
}

// ApplyTo merges the supplied fields into p.
func (u ProfileUpdate) ApplyTo(p *Profile) {
	if u.FullName != nil {
		p.FullName = *u.FullName
	}
	if u.FavoriteSports != nil {
		p.FavoriteSports = append([]Sport(nil), (*u.FavoriteSports)...)
	}
	if u.SkillLevel != nil {
		p.SkillLevel = *u.SkillLevel
	}
	if u.AvatarURL != nil {
		p.AvatarURL = u.AvatarURL
	}
	if u.Phone != nil {
		p.Phone = u.Phone
	}
}

// User is the credential row behind login. It never leaves the server.
type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}
