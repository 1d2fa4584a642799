package catalog

import (
	"strings"
	"time"
)

// MovieStatus enumerates the production states of a movie.
type MovieStatus string

const (
	MovieStatusRumored        MovieStatus = "RUMORED"
	MovieStatusPlanned        MovieStatus = "PLANNED"
	MovieStatusProduction     MovieStatus = "PRODUCTION"
	MovieStatusPostProduction MovieStatus = "POSTPRODUCTION"
	MovieStatusReleased       MovieStatus = "RELEASED"
	MovieStatusCancelled      MovieStatus = "CANCELLED"
)

// FriendStatus enumerates the states of one directed half of a friendship.
type FriendStatus string

const (
	FriendStatusPending  FriendStatus = "PENDING"
	FriendStatusAccepted FriendStatus = "ACCEPTED"
	FriendStatusDeclined FriendStatus = "DECLINED"
)

// DefaultUserRole is granted to every newly created user.
const DefaultUserRole = "ROLE_USER"

// Date is a calendar date without a time zone.
type Date struct {
	Day   int `json:"day" oncreate:"min=1,max=31" onupdate:"min=1,max=31"`
	Month int `json:"month" oncreate:"min=1,max=12" onupdate:"min=1,max=12"`
	Year  int `json:"year" oncreate:"min=1800,max=2200" onupdate:"min=1800,max=2200"`
}

// Time returns the date at midnight UTC.
func (d Date) Time() time.Time {
	return time.Date(d.Year, time.Month(d.Month), d.Day, 0, 0, 0, 0, time.UTC)
}

// After reports whether the date lies after the calendar day of now.
func (d Date) After(now time.Time) bool {
	today := now.UTC()
	return d.Time().After(time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC))
}

type Resource struct {
	URL  string `json:"url" oncreate:"required,http_url" onupdate:"required,http_url"`
	Type string `json:"type" oncreate:"required,oneof=POSTER BACKDROP TRAILER NETFLIX AMAZON_PRIME DISNEY_PLUS ITUNES HBO YOUTUBE GOOGLE_PLAY TORRENT" onupdate:"required,oneof=POSTER BACKDROP TRAILER NETFLIX AMAZON_PRIME DISNEY_PLUS ITUNES HBO YOUTUBE GOOGLE_PLAY TORRENT"`
}

type Collection struct {
	Name      string     `json:"name" oncreate:"required,min=2,max=256" onupdate:"required,min=2,max=256"`
	Resources []Resource `json:"resources,omitempty" oncreate:"omitempty,dive" onupdate:"omitempty,dive"`
}

type Producer struct {
	Name    string `json:"name" oncreate:"required,min=2,max=256" onupdate:"required,min=2,max=256"`
	Logo    string `json:"logo" oncreate:"omitempty,http_url" onupdate:"omitempty,http_url"`
	Country string `json:"country" oncreate:"omitempty,min=2,max=256" onupdate:"omitempty,min=2,max=256"`
}

// Movie is the canonical movie document. Crew and Cast are owned by the relation endpoints.
type Movie struct {
	ID          string      `json:"id" oncreate:"isdefault" onupdate:"required"`
	Title       string      `json:"title" oncreate:"required,min=2,max=256" onupdate:"required,min=2,max=256"`
	Overview    string      `json:"overview" oncreate:"omitempty,min=2,max=512" onupdate:"omitempty,min=2,max=512"`
	Tagline     string      `json:"tagline" oncreate:"omitempty,min=2,max=256" onupdate:"omitempty,min=2,max=256"`
	Collection  *Collection `json:"collection,omitempty"`
	Genres      []string    `json:"genres,omitempty" oncreate:"omitempty,dive,required" onupdate:"omitempty,dive,required"`
	ReleaseDate *Date       `json:"releaseDate,omitempty"`
	Keywords    []string    `json:"keywords,omitempty" oncreate:"omitempty,dive,required" onupdate:"omitempty,dive,required"`
	Producers   []Producer  `json:"producers,omitempty" oncreate:"omitempty,dive" onupdate:"omitempty,dive"`
	Crew        []Crew      `json:"crew,omitempty" oncreate:"isdefault" onupdate:"isdefault"`
	Cast        []Cast      `json:"cast,omitempty" oncreate:"isdefault" onupdate:"isdefault"`
	Resources   []Resource  `json:"resources,omitempty" oncreate:"omitempty,dive" onupdate:"omitempty,dive"`
	Budget      int64       `json:"budget" oncreate:"gte=0" onupdate:"gte=0"`
	Status      MovieStatus `json:"status" oncreate:"omitempty,oneof=RUMORED PLANNED PRODUCTION POSTPRODUCTION RELEASED CANCELLED" onupdate:"omitempty,oneof=RUMORED PLANNED PRODUCTION POSTPRODUCTION RELEASED CANCELLED"`
	Runtime     int         `json:"runtime" oncreate:"gte=0" onupdate:"gte=0"`
	Revenue     int64       `json:"revenue" oncreate:"gte=0" onupdate:"gte=0"`
}

func (m Movie) DocumentID() string {
	return m.ID
}

// Ref returns the denormalized reference embedded in assessments.
func (m Movie) Ref() MovieRef {
	return MovieRef{ID: m.ID, Title: m.Title}
}

// Person is the canonical person document cast and crew entries point at.
type Person struct {
	ID        string `json:"id" oncreate:"isdefault" onupdate:"required" onrelation:"required"`
	Name      string `json:"name" oncreate:"required,min=2,max=256" onupdate:"required,min=2,max=256" onrelation:"required,min=2,max=256"`
	Country   string `json:"country,omitempty" oncreate:"omitempty,min=2,max=256" onupdate:"omitempty,min=2,max=256" onrelation:"isdefault"`
	Picture   string `json:"picture,omitempty" oncreate:"omitempty,http_url" onupdate:"omitempty,http_url" onrelation:"isdefault"`
	Biography string `json:"biography,omitempty" oncreate:"omitempty,min=2,max=2048" onupdate:"omitempty,min=2,max=2048" onrelation:"isdefault"`
	Birthday  *Date  `json:"birthday,omitempty" onrelation:"isdefault"`
	Deathday  *Date  `json:"deathday,omitempty" onrelation:"isdefault"`
}

func (p Person) DocumentID() string {
	return p.ID
}

// Cast is a person's acting participation in a movie.
type Cast struct {
	Person
	Character  string `json:"character" onrelation:"required,min=2,max=256"`
	RelationID int64  `json:"relationId" onrelation:"required"`
}

// Crew is a person's non-acting participation in a movie.
type Crew struct {
	Person
	Job        string `json:"job" onrelation:"required,min=2,max=256"`
	RelationID int64  `json:"relationId" onrelation:"required"`
}

// FriendRelation is one directed half of a friendship, held by its owner.
type FriendRelation struct {
	FriendEmail string       `json:"friendEmail" oncreate:"required,email" onupdate:"required,email"`
	FriendName  string       `json:"friendName" oncreate:"required" onupdate:"required"`
	Status      FriendStatus `json:"status" oncreate:"required,eq=PENDING" onupdate:"required,oneof=PENDING ACCEPTED DECLINED"`
	Requested   *time.Time   `json:"requested,omitempty" oncreate:"required" onupdate:"required"`
	Accepted    *time.Time   `json:"accepted,omitempty"`
}

// Names reports whether the relation points at the counterpart email.
func (r FriendRelation) Names(email string) bool {
	return strings.EqualFold(strings.TrimSpace(r.FriendEmail), strings.TrimSpace(email))
}

// User is the canonical user document, keyed by email.
type User struct {
	Email    string           `json:"email" oncreate:"required,email" onupdate:"required,email"`
	Name     string           `json:"name" oncreate:"required,min=2,max=256" onupdate:"required,min=2,max=256"`
	Country  string           `json:"country,omitempty" oncreate:"omitempty,min=2,max=256" onupdate:"omitempty,min=2,max=256"`
	Picture  string           `json:"picture,omitempty" oncreate:"omitempty,http_url" onupdate:"omitempty,http_url"`
	Birthday *Date            `json:"birthday,omitempty" oncreate:"required" onupdate:"required"`
	Password string           `json:"password,omitempty" oncreate:"required,min=8,max=72" onupdate:"required"`
	Roles    []string         `json:"roles,omitempty" oncreate:"isdefault"`
	Friends  []FriendRelation `json:"friends,omitempty" oncreate:"isdefault" onupdate:"isdefault"`
}

func (u User) DocumentID() string {
	return u.Email
}

// Ref returns the denormalized reference embedded in assessments.
func (u User) Ref() UserRef {
	return UserRef{Email: u.Email, Name: u.Name}
}

// Public strips the password hash before the user leaves the service boundary.
func (u User) Public() User {
	u.Password = ""
	return u
}

// FriendIndex returns the position of the relation naming email, or -1.
func (u User) FriendIndex(email string) int {
	for index, relation := range u.Friends {
		if relation.Names(email) {
			return index
		}
	}
	return -1
}

// MovieRef is the denormalized movie copy embedded in an assessment.
type MovieRef struct {
	ID    string `json:"id" onupdate:"required"`
	Title string `json:"title" onupdate:"required"`
}

// UserRef is the denormalized user copy embedded in an assessment.
type UserRef struct {
	Email string `json:"email" onupdate:"required,email"`
	Name  string `json:"name" onupdate:"required"`
}

// Assessment is a user's rating of a movie.
type Assessment struct {
	ID      string   `json:"id" oncreate:"isdefault" onupdate:"required"`
	Rating  int      `json:"rating" oncreate:"min=1,max=10" onupdate:"min=1,max=10"`
	Comment string   `json:"comment,omitempty" oncreate:"omitempty,min=1,max=500" onupdate:"omitempty,min=1,max=500"`
	Movie   MovieRef `json:"movie" onupdate:"required"`
	User    UserRef  `json:"user" onupdate:"required"`
}

func (a Assessment) DocumentID() string {
	return a.ID
}
