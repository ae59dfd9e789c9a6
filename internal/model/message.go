package model

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

// MessageType tags the variant carried by a Message.
type MessageType string

const (
	TypeText    MessageType = "text"
	TypeEmoji   MessageType = "emoji"
	TypeSticker MessageType = "sticker"
	TypeImage   MessageType = "image"
	TypeFile    MessageType = "file"
)

const (
	// MaxTextRunes bounds a text message body.
	MaxTextRunes = 4000
	// MaxEmojiRunes allows multi-codepoint glyphs (skin tones, ZWJ sequences, flags).
	MaxEmojiRunes = 16
)

// ErrInvalidPayload is returned when a payload breaks the rules of its type.
var ErrInvalidPayload = errors.New("invalid payload")

var (
	stickerRe   = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)
	shortcodeRe = regexp.MustCompile(`^:[a-z0-9_+-]{1,32}:$`)
)

// Payload is the type-specific part of a message.  The set of
// implementations is closed: Text, Emoji, Sticker, Image and File.
type Payload interface {
	Type() MessageType
	Validate() error
	payload()
}

// Text is a plain text message.
type Text struct{ Body string }

// Emoji is a single emoji glyph.
type Emoji struct{ Emoji string }

// Sticker references a sticker by identifier.
type Sticker struct{ Sticker string }

// Attachment describes a stored upload referenced by an image or file message.
type Attachment struct {
	FileName    string // original file name as sent by the client
	Path        string // generated storage name
	Size        int64
	ContentType string
	Checksum    string // hex BLAKE3 digest of the content
}

// Image is an uploaded image.
type Image struct{ Attachment }

// File is any other uploaded file.
type File struct{ Attachment }

func (Text) Type() MessageType    { return TypeText }
func (Emoji) Type() MessageType   { return TypeEmoji }
func (Sticker) Type() MessageType { return TypeSticker }
func (Image) Type() MessageType   { return TypeImage }
func (File) Type() MessageType    { return TypeFile }

func (Text) payload()    {}
func (Emoji) payload()   {}
func (Sticker) payload() {}
func (Image) payload()   {}
func (File) payload()    {}

func invalid(field, reason string) error {
	return fmt.Errorf("%w: %s %s", ErrInvalidPayload, field, reason)
}

// Validate requires a non-empty body after trimming.
func (p Text) Validate() error {
	body := strings.TrimSpace(p.Body)
	if body == "" {
		return invalid("text", "is required")
	}
	if utf8.RuneCountInString(body) > MaxTextRunes {
		return invalid("text", "is too long")
	}
	return nil
}

func (p Emoji) Validate() error {
	e := strings.TrimSpace(p.Emoji)
	if e == "" {
		return invalid("emoji", "is required")
	}
	if shortcodeRe.MatchString(e) {
		return nil
	}
	if utf8.RuneCountInString(e) > MaxEmojiRunes || !isEmojiSequence(e) {
		return invalid("emoji", "must be a single emoji")
	}
	return nil
}

// isEmojiSequence reports whether s is made of emoji code points plus the
// joiners and modifiers used to compose them.  Digits, '#' and '*' only
// count as part of a keycap sequence.
func isEmojiSequence(s string) bool {
	var pictographs, keycaps, plain int
	for _, r := range s {
		switch {
		case isPictograph(r):
			pictographs++
		case r == 0x20E3:
			keycaps++
		case r == 0x200D, r >= 0xFE00 && r <= 0xFE0F, r >= 0x1F3FB && r <= 0x1F3FF, r >= 0xE0020 && r <= 0xE007F:
		case r == '#' || r == '*' || (r >= '0' && r <= '9'):
			plain++
		default:
			return false
		}
	}
	if plain > 0 {
		return keycaps == plain && pictographs == 0
	}
	return pictographs > 0 && keycaps == 0
}

func isPictograph(r rune) bool {
	switch {
	case r >= 0x1F000 && r <= 0x1FAFF: // mahjong through symbols and pictographs extended-A
		return !(r >= 0x1F3FB && r <= 0x1F3FF)
	case r >= 0x2600 && r <= 0x27BF: // misc symbols, dingbats
		return true
	case r >= 0x2190 && r <= 0x21FF, r >= 0x2300 && r <= 0x23FF, r >= 0x2B00 && r <= 0x2BFF:
		return true
	case r == 0x00A9, r == 0x00AE, r == 0x203C, r == 0x2049, r == 0x2122, r == 0x2139, r == 0x24C2,
		r == 0x25AA, r == 0x25AB, r == 0x25B6, r == 0x25C0, r >= 0x25FB && r <= 0x25FE,
		r == 0x2934, r == 0x2935, r == 0x3030, r == 0x303D, r == 0x3297, r == 0x3299:
		return true
	}
	return false
}

func (p Sticker) Validate() error {
	if strings.TrimSpace(p.Sticker) == "" {
		return invalid("sticker", "is required")
	}
	if !stickerRe.MatchString(p.Sticker) {
		return invalid("sticker", "is not a valid sticker id")
	}
	return nil
}

func (a Attachment) Validate() error {
	switch {
	case strings.TrimSpace(a.FileName) == "":
		return invalid("fileName", "is required")
	case strings.TrimSpace(a.Path) == "":
		return invalid("filePath", "is required")
	case a.Size <= 0:
		return invalid("fileSize", "must be positive")
	}
	return nil
}

// Normalize returns p with surrounding whitespace removed where the type
// allows it.  Validate should be called on the result.
func Normalize(p Payload) Payload {
	switch v := p.(type) {
	case Text:
		return Text{Body: strings.TrimSpace(v.Body)}
	case Emoji:
		return Emoji{Emoji: strings.TrimSpace(v.Emoji)}
	case Sticker:
		return Sticker{Sticker: strings.TrimSpace(v.Sticker)}
	}
	return p
}

// Message is one entry of the shared channel.  SenderUsername is joined
// from users at read time and is not stored with the message.
type Message struct {
	ID             uint64
	SenderID       uint64
	SenderUsername string
	CreatedAt      time.Time
	Payload        Payload

	// FileURL is filled by the handler layer for image and file messages.
	FileURL string
}

// Type reports the tag of the message payload.
func (m Message) Type() MessageType {
	if m.Payload == nil {
		return ""
	}
	return m.Payload.Type()
}

type messageJSON struct {
	ID        uint64      `json:"id"`
	Type      MessageType `json:"type"`
	Text      string      `json:"text,omitempty"`
	Emoji     string      `json:"emoji,omitempty"`
	Sticker   string      `json:"sticker,omitempty"`
	FileName  string      `json:"fileName,omitempty"`
	FileURL   string      `json:"fileUrl,omitempty"`
	FileSize  int64       `json:"fileSize,omitempty"`
	MimeType  string      `json:"mimeType,omitempty"`
	Sender    UserSummary `json:"sender"`
	CreatedAt time.Time   `json:"createdAt"`
}

// MarshalJSON flattens the payload next to the common fields so clients
// see a single object keyed by "type".
func (m Message) MarshalJSON() ([]byte, error) {
	out := messageJSON{
		ID:        m.ID,
		Type:      m.Type(),
		Sender:    UserSummary{ID: m.SenderID, Username: m.SenderUsername},
		CreatedAt: m.CreatedAt.UTC(),
	}
	switch p := m.Payload.(type) {
	case Text:
		out.Text = p.Body
	case Emoji:
		out.Emoji = p.Emoji
	case Sticker:
		out.Sticker = p.Sticker
	case Image:
		out.FileName, out.FileSize, out.MimeType, out.FileURL = p.FileName, p.Size, p.ContentType, m.FileURL
	case File:
		out.FileName, out.FileSize, out.MimeType, out.FileURL = p.FileName, p.Size, p.ContentType, m.FileURL
	default:
		return nil, fmt.Errorf("message %d: unknown payload %T", m.ID, m.Payload)
	}
	return json.Marshal(out)
}

// Row mirrors the nullable type-specific columns of the `messages` table.
type Row struct {
	Type        string
	Text        sql.NullString
	Emoji       sql.NullString
	Sticker     sql.NullString
	FileName    sql.NullString
	FilePath    sql.NullString
	FileSize    sql.NullInt64
	ContentType sql.NullString
	Checksum    sql.NullString
}

// ToRow spreads p over the columns; only the ones of its variant are set.
func ToRow(p Payload) Row {
	r := Row{Type: string(p.Type())}
	setAttachment := func(a Attachment) {
		r.FileName = sql.NullString{String: a.FileName, Valid: true}
		r.FilePath = sql.NullString{String: a.Path, Valid: true}
		r.FileSize = sql.NullInt64{Int64: a.Size, Valid: true}
		r.ContentType = sql.NullString{String: a.ContentType, Valid: a.ContentType != ""}
		r.Checksum = sql.NullString{String: a.Checksum, Valid: a.Checksum != ""}
	}
	switch v := p.(type) {
	case Text:
		r.Text = sql.NullString{String: v.Body, Valid: true}
	case Emoji:
		r.Emoji = sql.NullString{String: v.Emoji, Valid: true}
	case Sticker:
		r.Sticker = sql.NullString{String: v.Sticker, Valid: true}
	case Image:
		setAttachment(v.Attachment)
	case File:
		setAttachment(v.Attachment)
	}
	return r
}

// PayloadFromRow rebuilds the variant named by r.Type and checks that the
// columns it needs are present.
func PayloadFromRow(r Row) (Payload, error) {
	att := Attachment{
		FileName:    r.FileName.String,
		Path:        r.FilePath.String,
		Size:        r.FileSize.Int64,
		ContentType: r.ContentType.String,
		Checksum:    r.Checksum.String,
	}
	var p Payload
	switch MessageType(r.Type) {
	case TypeText:
		p = Text{Body: r.Text.String}
	case TypeEmoji:
		p = Emoji{Emoji: r.Emoji.String}
	case TypeSticker:
		p = Sticker{Sticker: r.Sticker.String}
	case TypeImage:
		p = Image{Attachment: att}
	case TypeFile:
		p = File{Attachment: att}
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidPayload, r.Type)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if !sameColumns(ToRow(p), r) {
		return nil, invalid("row", "has columns of another message type")
	}
	return p, nil
}

// sameColumns compares which variant columns are non-NULL.
func sameColumns(a, b Row) bool {
	return a.Text.Valid == b.Text.Valid &&
		a.Emoji.Valid == b.Emoji.Valid &&
		a.Sticker.Valid == b.Sticker.Valid &&
		a.FileName.Valid == b.FileName.Valid &&
		a.FilePath.Valid == b.FilePath.Valid &&
		a.FileSize.Valid == b.FileSize.Valid
}
