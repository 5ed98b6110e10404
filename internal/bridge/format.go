package bridge

import "net/http"

// EmbeddedFormat is the encoding of record keys and values inside the JSON
// envelope: base64 strings for binary, structured JSON for json. It is fixed
// at consumer creation time and never changes afterwards.
type EmbeddedFormat string

const (
	FormatBinary EmbeddedFormat = "binary"
	FormatJSON   EmbeddedFormat = "json"
)

// Content types of the v2 REST contract.
const (
	ContentTypeKafkaJSON       = "application/vnd.kafka.v2+json"
	ContentTypeKafkaJSONBinary = "application/vnd.kafka.binary.v2+json"
	ContentTypeKafkaJSONJSON   = "application/vnd.kafka.json.v2+json"
)

// ParseFormat maps the "format" property of a consumer creation request to an
// EmbeddedFormat. An absent value defaults to binary.
func ParseFormat(s string) (EmbeddedFormat, error) {
	switch s {
	case "", string(FormatBinary):
		return FormatBinary, nil
	case string(FormatJSON):
		return FormatJSON, nil
	}
	return "", NewError(http.StatusUnprocessableEntity, "Invalid format type.")
}

// ContentType returns the content type carrying records of this format.
func (f EmbeddedFormat) ContentType() string {
	if f == FormatJSON {
		return ContentTypeKafkaJSONJSON
	}
	return ContentTypeKafkaJSONBinary
}

// CheckAccept verifies that the Accept header names exactly the embedded
// format the instance was created with.
func CheckAccept(format EmbeddedFormat, accept string) error {
	ok := false
	switch accept {
	case ContentTypeKafkaJSONJSON:
		ok = format == FormatJSON
	case ContentTypeKafkaJSONBinary:
		ok = format == FormatBinary
	}
	if !ok {
		return NewError(http.StatusNotAcceptable,
			"Consumer format does not match the embedded format requested by the Accept header.")
	}
	return nil
}

// FormatFromContentType resolves the embedded format a produce request
// declares through its Content-Type header.
func FormatFromContentType(contentType string) (EmbeddedFormat, error) {
	switch contentType {
	case ContentTypeKafkaJSONBinary:
		return FormatBinary, nil
	case ContentTypeKafkaJSONJSON:
		return FormatJSON, nil
	}
	return "", NewError(http.StatusUnprocessableEntity,
		"Content-Type must be %s or %s.", ContentTypeKafkaJSONBinary, ContentTypeKafkaJSONJSON)
}
