package domain

import "time"

type UserRole string

const (
	RoleUser  UserRole = "user"
	RoleAdmin UserRole = "admin"
)

// Collection names one of the three record groups held by a store.
type Collection string

const (
	CollectionUsers  Collection = "users"
	CollectionAlbums Collection = "albums"
	CollectionPhotos Collection = "photos"
)

// Collections lists every collection in reset order.
var Collections = []Collection{CollectionUsers, CollectionAlbums, CollectionPhotos}

// Valid reports whether c is a known collection name.
func (c Collection) Valid() bool {
	switch c {
	case CollectionUsers, CollectionAlbums, CollectionPhotos:
		return true
	}
	return false
}

// Record is anything stored in a collection under a string id.
type Record interface {
	RecordID() string
}

type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      UserRole  `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}

func (u User) RecordID() string { return u.ID }

type Album struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	UserID    string    `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
}

func (a Album) RecordID() string { return a.ID }

// Photo is the canonical photo record. The AI fields are written only by the
// annotation pipeline. A nil AITags means never tagged; an empty slice means
// tagged with nothing found, and is kept through copies and encoding.
type Photo struct {
	ID          string     `json:"id"`
	AlbumID     *string    `json:"albumId,omitempty"`
	UserID      string     `json:"userId"`
	Name        string     `json:"name"`
	URL         string     `json:"url"`
	UploadedAt  time.Time  `json:"uploadedAt"`
	EnhancedURL *string    `json:"enhancedUrl,omitempty"`
	EnhancedAt  *time.Time `json:"enhancedAt,omitempty"`
	AITags      []string   `json:"aiTags,omitzero"`
	Faces       *int       `json:"faces,omitempty"`
}

func (p Photo) RecordID() string { return p.ID }

// Snapshot is a self-contained copy of all three collections.
type Snapshot struct {
	Users  []User  `json:"users"`
	Albums []Album `json:"albums"`
	Photos []Photo `json:"photos"`
}

// Counts returns the number of records per collection.
func (s Snapshot) Counts() map[Collection]int {
	return map[Collection]int{
		CollectionUsers:  len(s.Users),
		CollectionAlbums: len(s.Albums),
		CollectionPhotos: len(s.Photos),
	}
}

// Clone returns a copy that shares no pointers or slices with p.
func (p Photo) Clone() Photo {
	out := p
	if p.AlbumID != nil {
		v := *p.AlbumID
		out.AlbumID = &v
	}
	if p.EnhancedURL != nil {
		v := *p.EnhancedURL
		out.EnhancedURL = &v
	}
	if p.EnhancedAt != nil {
		v := *p.EnhancedAt
		out.EnhancedAt = &v
	}
	if p.AITags != nil {
		out.AITags = make([]string, len(p.AITags))
		copy(out.AITags, p.AITags)
	}
	if p.Faces != nil {
		v := *p.Faces
		out.Faces = &v
	}
	return out
}
