// Package protocol defines the five event kinds of the blob storage
// wire protocol, their tag layouts, content schemas, and error codes.
package protocol

import "time"

// Event kinds.
const (
	KindAnnouncement = 31999 // parameterized-replaceable server announcement
	KindRequest      = 24210 // client -> server request
	KindResponse     = 24211 // server -> client response
	KindChunk        = 24212 // ephemeral file chunk carrier
	KindStatus       = 21999 // status / error notice
)

// ServiceIdentifier is the announcement d-tag. The a-tag of a request
// addresses "31999:<pubkey>:blob-storage-v1".
const ServiceIdentifier = "blob-storage-v1"

// Request actions.
const (
	ActionStore    = "store"
	ActionRetrieve = "retrieve"
	ActionDelete   = "delete"
)

// Response statuses.
const (
	StatusStored    = "stored"
	StatusAvailable = "available"
	StatusDeleted   = "deleted"
)

// Status event keywords.
const (
	StatusProcessing = "processing"
	StatusError      = "error"
)

// DefaultRetention is how long a stored file remains retrievable.
const DefaultRetention = 24 * time.Hour
