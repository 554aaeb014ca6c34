package events

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"
)

// ErrMalformed is returned when a line message body cannot be decoded into a LineMessage
var ErrMalformed = errors.New("malformed line message")

// Content types understood by CodecFor
const (
	ContentTypeJSON = "application/json"
	ContentTypeCBOR = "application/cbor"
)

// LineMessage is one line of an object on its way from the splitter to the reassembler.
// IsLastLine is true on, and only on, the final message of a sequence.
type LineMessage struct {
	FileName    string `json:"file_name" cbor:"file_name"`
	LineContent string `json:"line_content" cbor:"line_content"`
	IsLastLine  bool   `json:"is_last_line" cbor:"is_last_line"`
}

// wireLineMessage detects missing fields, which a plain struct decode would silently zero
type wireLineMessage struct {
	FileName    *string `json:"file_name" cbor:"file_name"`
	LineContent *string `json:"line_content" cbor:"line_content"`
	IsLastLine  *bool   `json:"is_last_line" cbor:"is_last_line"`
}

func (w wireLineMessage) toLineMessage() (LineMessage, error) {
	switch {
	case w.FileName == nil:
		return LineMessage{}, fmt.Errorf("%w: missing file_name", ErrMalformed)
	case strings.TrimSpace(*w.FileName) == "":
		return LineMessage{}, fmt.Errorf("%w: empty file_name", ErrMalformed)
	case w.LineContent == nil:
		return LineMessage{}, fmt.Errorf("%w: missing line_content", ErrMalformed)
	case w.IsLastLine == nil:
		return LineMessage{}, fmt.Errorf("%w: missing is_last_line", ErrMalformed)
	}
	return LineMessage{
		FileName:    *w.FileName,
		LineContent: *w.LineContent,
		IsLastLine:  *w.IsLastLine,
	}, nil
}

// Codec encodes and decodes line message bodies
type Codec interface {
	ContentType() string
	Encode(msg LineMessage) ([]byte, error)
	Decode(data []byte) (LineMessage, error)
}

// JSONCodec is the default codec. Its output is the bare JSON object every consumer understands.
type JSONCodec struct{}

func (JSONCodec) ContentType() string { return ContentTypeJSON }

func (JSONCodec) Encode(msg LineMessage) ([]byte, error) {
	return json.Marshal(msg)
}

func (JSONCodec) Decode(data []byte) (LineMessage, error) {
	var w wireLineMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return LineMessage{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return w.toLineMessage()
}

// CBORCodec produces smaller bodies for large fan-outs
type CBORCodec struct{}

func (CBORCodec) ContentType() string { return ContentTypeCBOR }

func (CBORCodec) Encode(msg LineMessage) ([]byte, error) {
	return cbor.Marshal(msg)
}

func (CBORCodec) Decode(data []byte) (LineMessage, error) {
	var w wireLineMessage
	if err := cbor.Unmarshal(data, &w); err != nil {
		return LineMessage{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return w.toLineMessage()
}

// CodecFor returns the codec for a content-type header value.
// Messages without the header are JSON.
func CodecFor(contentType string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(contentType)) {
	case "", ContentTypeJSON:
		return JSONCodec{}, nil
	case ContentTypeCBOR:
		return CBORCodec{}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported content type %q", ErrMalformed, contentType)
	}
}

// CodecByName maps the config codec names to codecs
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSONCodec{}, nil
	case "cbor":
		return CBORCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

// Dead-letter reasons
const (
	ReasonMalformed     = "malformed"
	ReasonUploadFailed  = "upload_failed"
	ReasonSplitFailed   = "split_failed"
	ReasonEmptyTrigger  = "empty_trigger"
	ReasonHandlerPanic  = "handler_panic"
	DeadLetterEventType = "dead_letter"
)

// DeadLetter records a unit of work that was acknowledged without being completed
type DeadLetter struct {
	FileName  string    `json:"file_name,omitempty"`
	Reason    string    `json:"reason"`
	Error     string    `json:"error"`
	Payload   []byte    `json:"payload,omitempty"`
	Source    string    `json:"source"` // "splitter" or "reassembler"
	Timestamp time.Time `json:"timestamp"`
}

// DigestPrefix names the hash in content-digest header values
const DigestPrefix = "blake3:"

// Digest returns the content-digest header value for content
func Digest(content []byte) string {
	sum := blake3.Sum256(content)
	return DigestPrefix + hex.EncodeToString(sum[:])
}
