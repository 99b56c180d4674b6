package pinboard

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

var ErrJsonCouldNotBeUnmarshalled = errors.New("json contents could not be unmarshalled, probably is invalid")
var ErrJsonPathInvalid = errors.New("json path is invalid")

const (
	idField        = "id"
	timestampField = "timestamp"
	commentsField  = "comments"
)

// M is a convenience payload type.
type M map[string]interface{}

// Comment is one entry of a record's comment thread.
type Comment struct {
	Author string `json:"author"`
	Text   string `json:"text"`
	Time   string `json:"time"`
}

// Document is one record of a list. The value is kept as raw JSON so that
// caller payload survives untouched; only id, timestamp and comments
// are interpreted.
type Document struct {
	value []byte
}

func newDocument(v []byte) *Document {
	return &Document{value: v}
}

func (d *Document) ID() string {
	return gjson.GetBytes(d.value, idField).String()
}

// Timestamp returns the creation time in unix milliseconds, 0 when unknown.
func (d *Document) Timestamp() int64 {
	ts := gjson.GetBytes(d.value, timestampField)
	if ts.Type != gjson.Number {
		return 0
	}
	return ts.Int()
}

func (d *Document) CreatedAt() time.Time {
	ts := d.Timestamp()
	if ts == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ts)
}

func (d *Document) Comments() []Comment {
	raw := gjson.GetBytes(d.value, commentsField)
	if !raw.IsArray() {
		return nil
	}

	comments := make([]Comment, 0, len(raw.Array()))
	raw.ForEach(func(_, c gjson.Result) bool {
		comments = append(comments, Comment{
			Author: c.Get("author").String(),
			Text:   c.Get("text").String(),
			Time:   c.Get("time").String(),
		})
		return true
	})

	return comments
}

func (d *Document) Value() []byte {
	cp := make([]byte, len(d.value))
	copy(cp, d.value)
	return cp
}

func (d *Document) RawString() string {
	return string(d.value)
}

func (d *Document) Json() *JsonValue {
	return &JsonValue{b: d.value}
}

func (d *Document) Unmarshal(dest interface{}) error {
	return d.Json().Unmarshal(dest)
}

func (d *Document) String(path string) (string, error) {
	return d.Json().String(path)
}

func (d *Document) StringOrDefault(path, def string) string {
	return d.Json().StringOrDefault(path, def)
}

func (d *Document) Int(path string) (int, error) {
	return d.Json().Int(path)
}

func (d *Document) IntOrDefault(path string, def int) int {
	return d.Json().IntOrDefault(path, def)
}

func (d *Document) Bool(path string) (bool, error) {
	return d.Json().Bool(path)
}

func (d *Document) Exists(path string) bool {
	return gjson.GetBytes(d.value, path).Exists()
}

type JsonValue struct {
	b []byte
}

func (js *JsonValue) Unmarshal(dest interface{}) error {
	err := json.Unmarshal(js.b, dest)
	if err != nil {
		return errors.Wrap(ErrJsonCouldNotBeUnmarshalled, err.Error())
	}

	return nil
}

func (js *JsonValue) String(path string) (string, error) {
	raw := gjson.GetBytes(js.b, path)
	if !raw.Exists() {
		return "", errors.Wrapf(ErrJsonPathInvalid, "%s", path)
	}
	return raw.String(), nil
}

func (js *JsonValue) StringOrDefault(path, def string) string {
	if v, err := js.String(path); err != nil {
		return def
	} else {
		return v
	}
}

func (js *JsonValue) Int(path string) (int, error) {
	get := gjson.GetBytes(js.b, path)
	if !get.Exists() {
		return 0, errors.Wrapf(ErrJsonPathInvalid, "%s", path)
	}

	return int(get.Int()), nil
}

func (js *JsonValue) IntOrDefault(path string, def int) int {
	if v, err := js.Int(path); err != nil {
		return def
	} else {
		return v
	}
}

func (js *JsonValue) Bool(path string) (bool, error) {
	get := gjson.GetBytes(js.b, path)
	if !get.Exists() {
		return false, errors.Wrapf(ErrJsonPathInvalid, "%s", path)
	}

	return get.Bool(), nil
}
