package pinboard

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

var ErrListMalformed = errors.New("persisted list is malformed")
var ErrPayloadNotObject = errors.New("payload must be a json object")

func decodeList(raw []byte) ([]*Document, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}

	if !gjson.ValidBytes(raw) {
		return nil, errors.Wrap(ErrListMalformed, "invalid json")
	}

	r := gjson.ParseBytes(raw)
	if r.Type == gjson.Null {
		return nil, nil
	}

	if !r.IsArray() {
		return nil, errors.Wrapf(ErrListMalformed, "expected an array, got %s", r.Type.String())
	}

	var docs []*Document
	r.ForEach(func(_, v gjson.Result) bool {
		docs = append(docs, newDocument([]byte(v.Raw)))
		return true
	})

	return docs, nil
}

func encodeList(docs []*Document) []byte {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, d := range docs {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(d.value)
	}
	buf.WriteByte(']')
	return buf.Bytes()
}

// marshalObject turns a caller payload into a json object.
func marshalObject(payload interface{}) ([]byte, error) {
	var b []byte
	switch typed := payload.(type) {
	case nil:
		return []byte(`{}`), nil
	case []byte:
		b = typed
	case json.RawMessage:
		b = typed
	case string:
		b = []byte(typed)
	default:
		var err error
		b, err = json.Marshal(payload)
		if err != nil {
			return nil, errors.Wrapf(err, "could not marshal payload %+v", payload)
		}
	}

	if !gjson.ValidBytes(b) || !gjson.ParseBytes(b).IsObject() {
		return nil, errors.Wrapf(ErrPayloadNotObject, "%T", payload)
	}

	cp := make([]byte, len(b))
	copy(cp, b)
	return cp, nil
}

// mergeShallow sets every top level key of patch on doc.
func mergeShallow(doc, patch []byte) ([]byte, error) {
	var err error
	gjson.ParseBytes(patch).ForEach(func(k, v gjson.Result) bool {
		doc, err = sjson.SetRawBytes(doc, escapeKey(k.String()), []byte(v.Raw))
		return err == nil
	})

	if err != nil {
		return nil, errors.Wrap(err, "could not merge patch")
	}

	return doc, nil
}

var pathEscaper = strings.NewReplacer(
	`\`, `\\`,
	`.`, `\.`,
	`*`, `\*`,
	`?`, `\?`,
	`|`, `\|`,
	`#`, `\#`,
	`@`, `\@`,
	`:`, `\:`,
)

func escapeKey(k string) string {
	return pathEscaper.Replace(k)
}
