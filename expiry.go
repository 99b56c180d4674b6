package pinboard

import "github.com/tidwall/gjson"

// evictExpired drops records older than days. Records without a usable
// timestamp never expire, and a record exactly days old is kept.
func evictExpired(docs []*Document, nowMillis int64, days int) ([]*Document, int) {
	if days <= 0 {
		return docs, 0
	}

	maxAge := int64(days) * dayInMillis
	valid := make([]*Document, 0, len(docs))
	for _, d := range docs {
		ts := gjson.GetBytes(d.value, timestampField)
		if ts.Type != gjson.Number || ts.Float() == 0 {
			valid = append(valid, d)
			continue
		}

		if float64(nowMillis)-ts.Float() > float64(maxAge) {
			continue
		}

		valid = append(valid, d)
	}

	return valid, len(docs) - len(valid)
}
