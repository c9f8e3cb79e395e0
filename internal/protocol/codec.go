package protocol

import (
	"encoding/base64"
	"encoding/json"
	"strconv"

	"github.com/nbd-wtf/go-nostr"

	"github.com/blobdvm/blobdvm/internal/chunker"
	"github.com/blobdvm/blobdvm/internal/validation"
)

// AddressTag renders the a-tag value addressing a server announcement.
func AddressTag(serverPubKey string) string {
	return strconv.Itoa(KindAnnouncement) + ":" + serverPubKey + ":" + ServiceIdentifier
}

// tagValue returns the first value of the named tag, or "".
func tagValue(ev *nostr.Event, name string) string {
	if t := ev.Tags.GetFirst([]string{name}); t != nil {
		return t.Value()
	}
	return ""
}

// Announcement

// Announcement holds the advertised server parameters.
type Announcement struct {
	Name           string
	About          string
	MaxFileSize    int64
	ChunkSize      int
	RetentionHours int
}

// ServerDescriptor is a parsed announcement, the discovery result.
type ServerDescriptor struct {
	PubKey         string
	Identifier     string
	Name           string
	About          string
	MaxFileSize    int64
	ChunkSize      int
	RetentionHours int
	CreatedAt      nostr.Timestamp
}

// announcementContent documents the request shapes. Informational only;
// clients drive off the tags.
var announcementContent = map[string]any{
	"input_schema": map[string]any{
		"type": "object",
		"oneOf": []any{
			map[string]any{
				"required": []string{"action", "data"},
				"properties": map[string]any{
					"action":   map[string]any{"const": ActionStore},
					"data":     map[string]any{"type": "string", "description": "base64 encoded file"},
					"filename": map[string]any{"type": "string", "optional": true},
				},
			},
			map[string]any{
				"required": []string{"action", "hash"},
				"properties": map[string]any{
					"action": map[string]any{"const": ActionRetrieve},
					"hash":   map[string]any{"type": "string", "pattern": "^[a-f0-9]{64}$"},
				},
			},
		},
	},
}

// BuildAnnouncement returns the unsigned parameterized-replaceable
// announcement event.
func BuildAnnouncement(a Announcement) *nostr.Event {
	content, _ := json.Marshal(announcementContent)

	return &nostr.Event{
		Kind:      KindAnnouncement,
		CreatedAt: nostr.Now(),
		Content:   string(content),
		Tags: nostr.Tags{
			{"d", ServiceIdentifier},
			{"k", strconv.Itoa(KindRequest)},
			{"response_kind", strconv.Itoa(KindResponse)},
			{"name", a.Name},
			{"about", a.About},
			{"max_file_size", strconv.FormatInt(a.MaxFileSize, 10)},
			{"chunk_size", strconv.Itoa(a.ChunkSize)},
			{"retention_hours", strconv.Itoa(a.RetentionHours)},
		},
	}
}

// ParseAnnouncement extracts a server descriptor from an announcement
// event. Unknown tags are ignored; malformed numeric tags are treated
// as absent.
func ParseAnnouncement(ev *nostr.Event) (ServerDescriptor, error) {
	if ev.Kind != KindAnnouncement {
		return ServerDescriptor{}, Errf(CodeMalformedRequest, "kind %d is not an announcement", ev.Kind)
	}
	if tagValue(ev, "d") != ServiceIdentifier {
		return ServerDescriptor{}, Errf(CodeMalformedRequest, "announcement d-tag %q", tagValue(ev, "d"))
	}

	desc := ServerDescriptor{
		PubKey:     ev.PubKey,
		Identifier: ServiceIdentifier,
		Name:       tagValue(ev, "name"),
		About:      tagValue(ev, "about"),
		CreatedAt:  ev.CreatedAt,
	}
	if v, err := strconv.ParseInt(tagValue(ev, "max_file_size"), 10, 64); err == nil {
		desc.MaxFileSize = v
	}
	if v, err := strconv.Atoi(tagValue(ev, "chunk_size")); err == nil {
		desc.ChunkSize = v
	}
	if v, err := strconv.Atoi(tagValue(ev, "retention_hours")); err == nil {
		desc.RetentionHours = v
	}
	return desc, nil
}

// Request

// Request is the JSON content of a 24210 event.
type Request struct {
	Action   string `json:"action"`
	Data     string `json:"data,omitempty"`
	Filename string `json:"filename,omitempty"`
	Hash     string `json:"hash,omitempty"`

	// Payload is the decoded store data, filled by ParseRequest.
	Payload []byte `json:"-"`
}

// BuildStoreRequest returns an unsigned store request addressed to a
// server.
func BuildStoreRequest(data []byte, filename, serverPubKey string, relayHints []string) *nostr.Event {
	req := Request{
		Action:   ActionStore,
		Data:     base64.StdEncoding.EncodeToString(data),
		Filename: filename,
	}
	return buildRequest(req, serverPubKey, relayHints)
}

// BuildHashRequest returns an unsigned retrieve or delete request.
func BuildHashRequest(action, hash, serverPubKey string, relayHints []string) *nostr.Event {
	return buildRequest(Request{Action: action, Hash: hash}, serverPubKey, relayHints)
}

func buildRequest(req Request, serverPubKey string, relayHints []string) *nostr.Event {
	content, _ := json.Marshal(req)

	tags := nostr.Tags{{"a", AddressTag(serverPubKey)}}
	if len(relayHints) > 0 {
		tags = append(tags, append(nostr.Tag{"relays"}, relayHints...))
	}

	return &nostr.Event{
		Kind:      KindRequest,
		CreatedAt: nostr.Now(),
		Content:   string(content),
		Tags:      tags,
	}
}

// AddressedTo reports whether a request event carries an a-tag for the
// given server pubkey.
func AddressedTo(ev *nostr.Event, serverPubKey string) bool {
	want := AddressTag(serverPubKey)
	for _, t := range ev.Tags {
		if len(t) >= 2 && t[0] == "a" && t[1] == want {
			return true
		}
	}
	return false
}

// ParseRequest validates and decodes a request event. Malformed JSON,
// unknown actions, or a bad base64 payload yield MALFORMED_REQUEST;
// a hash that is not 64 lowercase hex yields INVALID_HASH.
func ParseRequest(ev *nostr.Event) (Request, error) {
	if ev.Kind != KindRequest {
		return Request{}, Errf(CodeMalformedRequest, "kind %d is not a request", ev.Kind)
	}

	var req Request
	if err := json.Unmarshal([]byte(ev.Content), &req); err != nil {
		return Request{}, Errf(CodeMalformedRequest, "invalid JSON: %v", err)
	}

	switch req.Action {
	case ActionStore:
		if req.Data == "" {
			return Request{}, Errf(CodeMalformedRequest, "store request without data")
		}
		payload, err := base64.StdEncoding.DecodeString(req.Data)
		if err != nil {
			return Request{}, Errf(CodeMalformedRequest, "invalid base64 data: %v", err)
		}
		if len(payload) == 0 {
			return Request{}, Errf(CodeMalformedRequest, "refusing to store empty file")
		}
		req.Payload = payload
	case ActionRetrieve, ActionDelete:
		if err := validation.ValidateFileHash(req.Hash); err != nil {
			return Request{}, Errf(CodeInvalidHash, "%v", err)
		}
	default:
		return Request{}, Errf(CodeMalformedRequest, "unknown action %q", req.Action)
	}

	return req, nil
}

// Response

// Response is the JSON content of a 24211 event.
type Response struct {
	Hash    string `json:"hash"`
	Size    int64  `json:"size"`
	Chunks  int    `json:"chunks"`
	Expires int64  `json:"expires"`
	Status  string `json:"status"`
}

// BuildResponse returns an unsigned response event correlated to a
// request.
func BuildResponse(resp Response, requestID, requesterPubKey string) *nostr.Event {
	content, _ := json.Marshal(resp)

	tags := nostr.Tags{
		{"e", requestID},
		{"p", requesterPubKey},
		{"file_hash", resp.Hash},
		{"expires", strconv.FormatInt(resp.Expires, 10)},
	}

	return &nostr.Event{
		Kind:      KindResponse,
		CreatedAt: nostr.Now(),
		Content:   string(content),
		Tags:      tags,
	}
}

// ParseResponse decodes a response event and its request correlation id.
func ParseResponse(ev *nostr.Event) (Response, string, error) {
	if ev.Kind != KindResponse {
		return Response{}, "", Errf(CodeMalformedRequest, "kind %d is not a response", ev.Kind)
	}

	var resp Response
	if err := json.Unmarshal([]byte(ev.Content), &resp); err != nil {
		return Response{}, "", Errf(CodeMalformedRequest, "invalid JSON: %v", err)
	}

	requestID := tagValue(ev, "e")
	if requestID == "" {
		return Response{}, "", Errf(CodeMalformedRequest, "response without e-tag")
	}
	return resp, requestID, nil
}

// Chunk events

// ChunkEnvelope is a parsed 24212 event.
type ChunkEnvelope struct {
	FileHash   string
	Chunk      chunker.Chunk
	Total      int
	Expiration int64
}

// BuildChunkEvent returns an unsigned ephemeral chunk carrier. The
// expiration tag is always set from the owning record so relays can
// drop the event.
func BuildChunkEvent(fileHash string, c chunker.Chunk, total int, expiration int64) *nostr.Event {
	return &nostr.Event{
		Kind:      KindChunk,
		CreatedAt: nostr.Now(),
		Content:   base64.StdEncoding.EncodeToString(c.Data),
		Tags: nostr.Tags{
			{"file_hash", fileHash},
			{"chunk_index", strconv.Itoa(c.Index)},
			{"chunk_total", strconv.Itoa(total)},
			{"chunk_hash", c.Hash},
			{"expiration", strconv.FormatInt(expiration, 10)},
		},
	}
}

// ParseChunkEvent decodes a chunk carrier. The advertised chunk_hash is
// carried through unverified; receivers recompute it before accepting
// the chunk.
func ParseChunkEvent(ev *nostr.Event) (ChunkEnvelope, error) {
	if ev.Kind != KindChunk {
		return ChunkEnvelope{}, Errf(CodeMalformedRequest, "kind %d is not a chunk", ev.Kind)
	}

	fileHash := tagValue(ev, "file_hash")
	if err := validation.ValidateFileHash(fileHash); err != nil {
		return ChunkEnvelope{}, Errf(CodeInvalidHash, "chunk file_hash: %v", err)
	}

	index, err := strconv.Atoi(tagValue(ev, "chunk_index"))
	if err != nil || index < 0 {
		return ChunkEnvelope{}, Errf(CodeMalformedRequest, "chunk_index %q", tagValue(ev, "chunk_index"))
	}
	total, err := strconv.Atoi(tagValue(ev, "chunk_total"))
	if err != nil || total <= 0 || index >= total {
		return ChunkEnvelope{}, Errf(CodeMalformedRequest, "chunk_total %q for index %d", tagValue(ev, "chunk_total"), index)
	}

	data, err := base64.StdEncoding.DecodeString(ev.Content)
	if err != nil {
		return ChunkEnvelope{}, Errf(CodeMalformedRequest, "chunk base64: %v", err)
	}

	env := ChunkEnvelope{
		FileHash: fileHash,
		Chunk:    chunker.Chunk{Index: index, Data: data, Hash: tagValue(ev, "chunk_hash")},
		Total:    total,
	}
	if exp, err := strconv.ParseInt(tagValue(ev, "expiration"), 10, 64); err == nil {
		env.Expiration = exp
	}
	return env, nil
}

// Status events

// Status is a parsed 21999 event.
type Status struct {
	RequestID string
	Requester string
	Keyword   string
	Code      Code
	Message   string
}

// BuildStatus returns an unsigned status notice. A non-empty code marks
// a terminal error and adds the error_code tag.
func BuildStatus(requestID, requesterPubKey, keyword, message string, code Code) *nostr.Event {
	tags := nostr.Tags{
		{"e", requestID},
		{"p", requesterPubKey},
		{"status", keyword},
	}
	if code != "" {
		tags = append(tags, nostr.Tag{"error_code", string(code)})
	}

	return &nostr.Event{
		Kind:      KindStatus,
		CreatedAt: nostr.Now(),
		Content:   message,
		Tags:      tags,
	}
}

// ParseStatus decodes a status notice.
func ParseStatus(ev *nostr.Event) (Status, error) {
	if ev.Kind != KindStatus {
		return Status{}, Errf(CodeMalformedRequest, "kind %d is not a status", ev.Kind)
	}

	st := Status{
		RequestID: tagValue(ev, "e"),
		Requester: tagValue(ev, "p"),
		Keyword:   tagValue(ev, "status"),
		Code:      Code(tagValue(ev, "error_code")),
		Message:   ev.Content,
	}
	if st.RequestID == "" {
		return Status{}, Errf(CodeMalformedRequest, "status without e-tag")
	}
	return st, nil
}
