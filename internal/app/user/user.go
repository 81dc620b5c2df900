/*
Package user defines the forum account identity shared by the store, the hub,
and the HTTP handlers.
*/
package user

// User is a forum account as seen by the messaging subsystem.
type User struct {
	ID          int64  `json:"id"`
	DisplayName string `json:"displayName"`

	// AvatarKey is the object key of the avatar image, resolved to a URL by storage.AvatarResolver.
	AvatarKey string `json:"avatarKey,omitempty"`
}
