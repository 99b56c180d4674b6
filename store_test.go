package pinboard_test

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/denismitr/pinboard"
	"github.com/denismitr/pinboard/internal/storage"
	"github.com/denismitr/pinboard/internal/storage/memdriver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/tidwall/gjson"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func sequentialIDs() func() string {
	var n int
	return func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

func openArea(t *testing.T) *storage.Area {
	t.Helper()
	area := storage.NewArea(memdriver.New())
	t.Cleanup(func() { _ = area.Close() })
	return area
}

func persisted(t *testing.T, st storage.Storage, key string) string {
	t.Helper()
	v, ok, err := st.Get(key)
	require.NoError(t, err)
	require.True(t, ok, "key %s should be persisted", key)
	return string(v)
}

type storeTestSuite struct {
	suite.Suite
	area  *storage.Area
	ctx   *storage.Context
	store *pinboard.Store
}

func (s *storeTestSuite) SetupTest() {
	s.area = storage.NewArea(memdriver.New())
	s.ctx = s.area.Open()

	store, err := pinboard.Open(
		s.ctx, "market",
		pinboard.WithExpireDays(60),
		pinboard.WithClock(fixedClock(baseTime)),
		pinboard.WithIDGenerator(sequentialIDs()),
	)
	s.Require().NoError(err)
	s.store = store
}

func (s *storeTestSuite) TearDownTest() {
	s.Require().NoError(s.store.Close())
	s.Require().NoError(s.area.Close())
}

func (s *storeTestSuite) TestAddPrependsAndGeneratesFields() {
	desk, err := s.store.Add(pinboard.M{"title": "Desk", "price": "20"})
	s.Require().NoError(err)
	chair, err := s.store.Add(pinboard.M{"title": "Chair"})
	s.Require().NoError(err)

	list := s.store.List()
	s.Require().Len(list, 2)
	s.Equal("Chair", list[0].StringOrDefault("title", ""))
	s.Equal("Desk", list[1].StringOrDefault("title", ""))
	s.Equal(chair.ID(), list[0].ID())
	s.Equal(desk.ID(), list[1].ID())

	s.Equal("id-1", desk.ID())
	s.Equal(baseTime.UnixMilli(), desk.Timestamp())
	s.True(baseTime.Equal(desk.CreatedAt()))
	s.Empty(desk.Comments())
	s.True(desk.Exists("comments"))
	s.Equal("20", desk.StringOrDefault("price", ""))

	s.JSONEq(
		`[{"title":"Chair","id":"id-2","timestamp":1772366400000,"comments":[]},
		  {"title":"Desk","price":"20","id":"id-1","timestamp":1772366400000,"comments":[]}]`,
		persisted(s.T(), s.ctx, "market"),
	)
}

func (s *storeTestSuite) TestGeneratedFieldsOverridePayload() {
	doc, err := s.store.Add(pinboard.M{"id": "mine", "timestamp": 1, "comments": []string{"x"}, "title": "Lamp"})
	s.Require().NoError(err)

	s.Equal("id-1", doc.ID())
	s.Equal(baseTime.UnixMilli(), doc.Timestamp())
	s.Empty(doc.Comments())
	s.Equal("Lamp", doc.StringOrDefault("title", ""))
}

func (s *storeTestSuite) TestAddRejectsNonObjects() {
	_, err := s.store.Add([]string{"a"})
	s.ErrorIs(err, pinboard.ErrPayloadNotObject)

	_, err = s.store.Add(`"just a string"`)
	s.ErrorIs(err, pinboard.ErrPayloadNotObject)

	s.Equal(0, s.store.Len())
}

func (s *storeTestSuite) TestAddAcceptsStructsAndRawJSON() {
	type listing struct {
		Title  string   `json:"title"`
		Images []string `json:"images"`
	}

	_, err := s.store.Add(listing{Title: "Bike", Images: []string{"data:image/png;base64,AAAA"}})
	s.Require().NoError(err)
	_, err = s.store.Add([]byte(`{"title":"Kettle"}`))
	s.Require().NoError(err)
	_, err = s.store.Add(nil)
	s.Require().NoError(err)

	list := s.store.List()
	s.Require().Len(list, 3)

	var bike listing
	s.Require().NoError(list[2].Unmarshal(&bike))
	s.Equal("Bike", bike.Title)
	s.Equal([]string{"data:image/png;base64,AAAA"}, bike.Images)
	s.Equal("Kettle", list[1].StringOrDefault("title", ""))
}

func (s *storeTestSuite) TestDelete() {
	_, err := s.store.Add(pinboard.M{"title": "Desk"})
	s.Require().NoError(err)
	chair, err := s.store.Add(pinboard.M{"title": "Chair"})
	s.Require().NoError(err)

	before := s.store.List()
	s.Require().NoError(s.store.Delete("does-not-exist"))
	s.Equal(before, s.store.List())

	s.Require().NoError(s.store.Delete(chair.ID()))
	list := s.store.List()
	s.Require().Len(list, 1)
	s.Equal("Desk", list[0].StringOrDefault("title", ""))

	_, ok := s.store.Get(chair.ID())
	s.False(ok)
	s.JSONEq(`[{"title":"Desk","id":"id-1","timestamp":1772366400000,"comments":[]}]`, persisted(s.T(), s.ctx, "market"))
}

func (s *storeTestSuite) TestUpdateMergesShallow() {
	desk, err := s.store.Add(pinboard.M{"title": "Desk", "price": "20", "meta": pinboard.M{"a": 1, "b": 2}})
	s.Require().NoError(err)
	chair, err := s.store.Add(pinboard.M{"title": "Chair"})
	s.Require().NoError(err)

	s.Require().NoError(s.store.Update(desk.ID(), pinboard.M{"price": "15", "meta": pinboard.M{"a": 3}, "sold.out": true}))

	updated, ok := s.store.Get(desk.ID())
	s.Require().True(ok)
	s.Equal("15", updated.StringOrDefault("price", ""))
	s.Equal("Desk", updated.StringOrDefault("title", ""))
	s.Equal(3, updated.IntOrDefault("meta.a", 0))
	s.False(updated.Exists("meta.b"), "nested objects are replaced, not merged")
	sold, err := updated.Bool(`sold\.out`)
	s.Require().NoError(err)
	s.True(sold)
	s.Equal(desk.Timestamp(), updated.Timestamp())

	untouched, ok := s.store.Get(chair.ID())
	s.Require().True(ok)
	s.Equal(chair.RawString(), untouched.RawString())
}

func (s *storeTestSuite) TestUpdateUnknownIDIsNoop() {
	_, err := s.store.Add(pinboard.M{"title": "Desk"})
	s.Require().NoError(err)

	before := persisted(s.T(), s.ctx, "market")
	s.Require().NoError(s.store.Update("missing", pinboard.M{"title": "Nope"}))
	s.Equal(before, persisted(s.T(), s.ctx, "market"))

	s.ErrorIs(s.store.Update("missing", 42), pinboard.ErrPayloadNotObject)
}

func (s *storeTestSuite) TestAppendComment() {
	desk, err := s.store.Add(pinboard.M{"title": "Desk"})
	s.Require().NoError(err)

	s.Require().NoError(s.store.AppendComment(desk.ID(), pinboard.Comment{Author: "Student", Text: "still available?", Time: "2026-03-01 12:00:00"}))
	s.Require().NoError(s.store.AppendComment(desk.ID(), pinboard.Comment{Author: "Official", Text: "yes", Time: "2026-03-01 12:05:00"}))
	s.Require().NoError(s.store.AppendComment("missing", pinboard.Comment{Text: "lost"}))

	doc, ok := s.store.Get(desk.ID())
	s.Require().True(ok)
	s.Equal([]pinboard.Comment{
		{Author: "Student", Text: "still available?", Time: "2026-03-01 12:00:00"},
		{Author: "Official", Text: "yes", Time: "2026-03-01 12:05:00"},
	}, doc.Comments())
}

func (s *storeTestSuite) TestClosedStoreRejectsWrites() {
	s.Require().NoError(s.store.Close())
	_, err := s.store.Add(pinboard.M{"title": "late"})
	s.ErrorIs(err, pinboard.ErrStoreClosed)
	s.ErrorIs(s.store.Delete("x"), pinboard.ErrStoreClosed)
}

func TestStore(t *testing.T) {
	suite.Run(t, &storeTestSuite{})
}

func TestOpen_EmptyKey(t *testing.T) {
	area := openArea(t)
	_, err := pinboard.Open(area.Open(), "")
	assert.ErrorIs(t, err, pinboard.ErrEmptyKey)
}

func TestOpen_MalformedDataDegradesToEmpty(t *testing.T) {
	for name, raw := range map[string]string{
		"not json":     `{"broken":`,
		"not an array": `{"id":"1"}`,
		"a number":     `42`,
	} {
		t.Run(name, func(t *testing.T) {
			area := openArea(t)
			ctx := area.Open()
			require.NoError(t, ctx.Set("lost", []byte(raw)))

			store, err := pinboard.Open(ctx, "lost", pinboard.WithExpireDays(30))
			require.NoError(t, err)
			defer store.Close()

			assert.Empty(t, store.List())
			assert.Equal(t, raw, persisted(t, ctx, "lost"), "unreadable data is not rewritten")
		})
	}
}

func TestOpen_LegacyNumericIDs(t *testing.T) {
	area := openArea(t)
	ctx := area.Open()
	require.NoError(t, ctx.Set("notices", []byte(`[{"id":1700000000001,"timestamp":1700000000001,"title":"Exam"},{"id":1700000000000,"title":"Welcome"}]`)))

	store, err := pinboard.Open(ctx, "notices")
	require.NoError(t, err)
	defer store.Close()

	doc, ok := store.Get("1700000000000")
	require.True(t, ok)
	assert.Equal(t, "Welcome", doc.StringOrDefault("title", ""))
	assert.Nil(t, doc.Comments())

	require.NoError(t, store.AppendComment("1700000000000", pinboard.Comment{Author: "Student", Text: "hi"}))
	doc, _ = store.Get("1700000000000")
	assert.Len(t, doc.Comments(), 1)

	require.NoError(t, store.Delete("1700000000001"))
	assert.Equal(t, 1, store.Len())
}

func TestStore_CrossContextSync(t *testing.T) {
	area := openArea(t)
	tabA, tabB := area.Open(), area.Open()

	a, err := pinboard.Open(tabA, "chats", pinboard.WithExpireDays(7))
	require.NoError(t, err)
	defer a.Close()

	b, err := pinboard.Open(tabB, "chats", pinboard.WithExpireDays(7))
	require.NoError(t, err)
	defer b.Close()

	other, err := pinboard.Open(tabB, "market")
	require.NoError(t, err)
	defer other.Close()

	_, err = a.Add(pinboard.M{"content": "hello from A"})
	require.NoError(t, err)

	require.Len(t, b.List(), 1)
	assert.Equal(t, "hello from A", b.List()[0].StringOrDefault("content", ""))
	assert.Empty(t, other.List(), "other keys are not affected")

	t.Run("external raw write replaces the list", func(t *testing.T) {
		require.NoError(t, tabB.Set("chats", []byte(`[{"id":"x","content":"rewritten"}]`)))
		list := a.List()
		require.Len(t, list, 1)
		assert.Equal(t, "rewritten", list[0].StringOrDefault("content", ""))
	})

	t.Run("external removal empties the list", func(t *testing.T) {
		require.NoError(t, tabB.Remove("chats"))
		assert.Empty(t, a.List())
	})

	t.Run("unreadable external write empties the list", func(t *testing.T) {
		_, err := a.Add(pinboard.M{"content": "again"})
		require.NoError(t, err)
		require.Len(t, b.List(), 1)

		require.NoError(t, tabA.Set("chats", []byte(`not json`)))
		assert.Empty(t, b.List())
	})

	t.Run("closed stores stop syncing", func(t *testing.T) {
		require.NoError(t, b.Close())
		_, err := a.Add(pinboard.M{"content": "after close"})
		require.NoError(t, err)
		assert.Empty(t, b.List())
	})
}

func TestStore_ConcurrentContextsDoNotDeadlock(t *testing.T) {
	area := openArea(t)
	a, err := pinboard.Open(area.Open(), "chats")
	require.NoError(t, err)
	defer a.Close()
	b, err := pinboard.Open(area.Open(), "chats")
	require.NoError(t, err)
	defer b.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			_, _ = a.Add(pinboard.M{"n": i})
		}
	}()

	for i := 0; i < 50; i++ {
		_, _ = b.Add(pinboard.M{"n": i})
	}

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("concurrent writers deadlocked")
	}
}

func TestStore_ContextsConvergeOnLastWrite(t *testing.T) {
	area := openArea(t)

	stores := make([]*pinboard.Store, 4)
	tabs := make([]*storage.Context, 4)
	for i := range stores {
		tabs[i] = area.Open()
		s, err := pinboard.Open(tabs[i], "chats")
		require.NoError(t, err)
		defer s.Close()
		stores[i] = s
	}

	var wg sync.WaitGroup
	for w := 0; w < 2; w++ {
		wg.Add(1)
		go func(s *pinboard.Store) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				_, _ = s.Add(pinboard.M{"n": i})
			}
		}(stores[w])
	}
	wg.Wait()

	stored := gjson.Get(persisted(t, tabs[0], "chats"), "#.id").String()
	for i, s := range stores {
		ids := make([]string, 0, s.Len())
		for _, d := range s.List() {
			ids = append(ids, `"`+d.ID()+`"`)
		}
		assert.Equal(t, stored, "["+strings.Join(ids, ",")+"]", "store %d", i)
	}
}

func TestStore_UpdateFuncIsAtomic(t *testing.T) {
	area := openArea(t)
	s, err := pinboard.Open(area.Open(), "chats")
	require.NoError(t, err)
	defer s.Close()

	doc, err := s.Add(pinboard.M{"content": "counter", "likes": 0})
	require.NoError(t, err)

	bump := func(d *pinboard.Document) (interface{}, error) {
		return pinboard.M{"likes": d.IntOrDefault("likes", 0) + 1}, nil
	}

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				found, err := s.UpdateFunc(doc.ID(), bump)
				assert.NoError(t, err)
				assert.True(t, found)
			}
		}()
	}
	wg.Wait()

	got, ok := s.Get(doc.ID())
	require.True(t, ok)
	assert.Equal(t, 200, got.IntOrDefault("likes", 0))
	assert.Equal(t, "counter", got.StringOrDefault("content", ""))

	found, err := s.UpdateFunc("missing", bump)
	require.NoError(t, err)
	assert.False(t, found)

	_, err = s.UpdateFunc(doc.ID(), func(*pinboard.Document) (interface{}, error) {
		return "not an object", nil
	})
	assert.ErrorIs(t, err, pinboard.ErrPayloadNotObject)
	got, _ = s.Get(doc.ID())
	assert.Equal(t, 200, got.IntOrDefault("likes", 0))
}
