package pinboard

import "github.com/tidwall/btree"

type indexItem struct {
	id  string
	doc *Document
}

func byID(a, b interface{}) bool {
	return a.(*indexItem).id < b.(*indexItem).id
}

// idIndex maps record ids to documents. With duplicate ids the one closest
// to the head of the list wins.
type idIndex struct {
	tr *btree.BTree
}

func buildIndex(docs []*Document) *idIndex {
	idx := &idIndex{tr: btree.New(byID)}
	for i := len(docs) - 1; i >= 0; i-- {
		id := docs[i].ID()
		if id == "" {
			continue
		}
		idx.tr.Set(&indexItem{id: id, doc: docs[i]})
	}
	return idx
}

func (idx *idIndex) get(id string) (*Document, bool) {
	found := idx.tr.Get(&indexItem{id: id})
	if found == nil {
		return nil, false
	}
	return found.(*indexItem).doc, true
}

func (idx *idIndex) has(id string) bool {
	_, ok := idx.get(id)
	return ok
}

func (idx *idIndex) len() int {
	return idx.tr.Len()
}
