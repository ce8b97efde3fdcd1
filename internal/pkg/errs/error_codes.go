/*
Package errs provides custom error types and application-level error code constants.

The codes identify business and system errors both inside the server and on the wire:
REST responses carry them in the envelope and the real-time channel carries them in
"error" events.
*/
package errs

// 1xxx: General Request Handling Errors
const (
	// ErrInvalidParams indicates that request parameter validation failed.
	ErrInvalidParams = 1001

	// ErrUnsupportedMediaType indicates that the request header Content-Type is not supported.
	ErrUnsupportedMediaType = 1002

	// ErrInvalidJSONFormat indicates that the request body JSON format is incorrect.
	ErrInvalidJSONFormat = 1003

	// ErrExtraContentInBody indicates that the request body contained extra content after valid JSON data.
	ErrExtraContentInBody = 1004

	// ErrRequestEntityTooLarge indicates that the request body size exceeded the server limit.
	ErrRequestEntityTooLarge = 1006

	// ErrRateLimitExceeded indicates that the request rate has exceeded the set limit.
	ErrRateLimitExceeded = 1007

	// ErrUnsupportedEvent indicates a real-time event name the server does not handle.
	ErrUnsupportedEvent = 1008
)

// 2xxx: Room and Message Business Logic Errors
const (
	// ErrRoomKeyInvalid indicates a missing or malformed room key.
	ErrRoomKeyInvalid = 2101

	// ErrRoomKeyExists indicates that the room key used for creation already exists.
	ErrRoomKeyExists = 2102

	// ErrRoomNotFound indicates that the addressed room does not exist.
	ErrRoomNotFound = 2103

	// ErrRoomNameInvalid indicates a missing or oversized room display name.
	ErrRoomNameInvalid = 2104

	// ErrMessageContentTooLong indicates that the message content exceeded the maximum length.
	ErrMessageContentTooLong = 2201

	// ErrMessageEmpty indicates that the message text is empty after trimming.
	ErrMessageEmpty = 2202

	// ErrMessageNotFound indicates that the addressed message does not exist in the room.
	ErrMessageNotFound = 2203

	// ErrReplyTargetInvalid indicates a reply-to reference outside the message's room.
	ErrReplyTargetInvalid = 2204

	// ErrEmojiInvalid indicates an empty or oversized reaction emoji.
	ErrEmojiInvalid = 2301
)

// 3xxx: User, Session, and Security Errors
const (
	// ErrUnauthorized indicates a missing, invalid or expired bearer token.
	ErrUnauthorized = 3001
)

// 5xxx: Internal System Errors
const (
	// ErrUnknown represents an unclassified, general server internal error.
	ErrUnknown = 5000

	// ErrStorageFailed indicates that the persistence layer rejected or failed an operation.
	ErrStorageFailed = 5001
)
