package models

import "time"

// User is a chat visitor, identified by client IP. Created lazily on
// first contact; the nickname is derived once from a reverse
// geolocation lookup and then kept.
type User struct {
	ID        int64     `json:"id"`
	IP        string    `json:"ip"`
	Nickname  string    `json:"nickname"`
	Avatar    string    `json:"avatar"`
	CreatedAt time.Time `json:"createdAt"`
}
