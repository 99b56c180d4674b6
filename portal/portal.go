// Package portal ties the four community boards together: it owns their
// stores and applies the publishing rules and role affordances on top.
package portal

import (
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/denismitr/pinboard"
	"github.com/denismitr/pinboard/internal/storage"
	"github.com/jinzhu/copier"
	"github.com/pkg/errors"
)

var ErrUnknownBoard = errors.New("unknown board")
var ErrTitleRequired = errors.New("title is required")
var ErrContentRequired = errors.New("content is required")
var ErrCommentRequired = errors.New("comment text is required")
var ErrNotPermitted = errors.New("action not offered to the current role")
var ErrRecordNotFound = errors.New("record not found")

const (
	anonymousAuthor   = "Anonymous"
	commentTimeLayout = "2006-01-02 15:04:05"
)

type Board string

const (
	Notices Board = "notices"
	Market  Board = "market"
	Lost    Board = "lost"
	Chat    Board = "chat"
)

// Boards in lookup order.
var Boards = []Board{Notices, Market, Lost, Chat}

func ParseBoard(s string) (Board, error) {
	for _, b := range Boards {
		if string(b) == s {
			return b, nil
		}
	}
	return "", errors.Wrapf(ErrUnknownBoard, "%q", s)
}

// Binding ties a board to its storage key and expiry policy.
type Binding struct {
	Key        string `yaml:"key"`
	ExpireDays int    `yaml:"expire_days"`
}

func DefaultBindings() map[Board]Binding {
	return map[Board]Binding{
		Notices: {Key: "notices"},
		Market:  {Key: "market", ExpireDays: 60},
		Lost:    {Key: "lost", ExpireDays: 30},
		Chat:    {Key: "chats", ExpireDays: 7},
	}
}

var DefaultPalette = []string{"pink", "blue", "green"}

// Listing is what a user fills in when publishing. Boards keep only the
// fields that make sense for them.
type Listing struct {
	Title   string
	Price   string
	Desc    string
	Contact string
	Images  []string
	Reward  bool
	Content string
}

type noticePost struct {
	Title   string   `json:"title"`
	Desc    string   `json:"desc,omitempty"`
	Content string   `json:"content,omitempty"`
	Images  []string `json:"images"`
}

type marketPost struct {
	Title   string   `json:"title"`
	Price   string   `json:"price"`
	Desc    string   `json:"desc"`
	Contact string   `json:"contact"`
	Images  []string `json:"images"`
}

type lostPost struct {
	Title   string   `json:"title"`
	Desc    string   `json:"desc"`
	Contact string   `json:"contact"`
	Images  []string `json:"images"`
	Reward  bool     `json:"reward"`
}

type chatPost struct {
	Content string   `json:"content"`
	Images  []string `json:"images"`
	Color   string   `json:"color"`
	Likes   int      `json:"likes"`
	Author  string   `json:"author"`
}

type Config struct {
	Bindings     map[Board]Binding
	StoreOptions []pinboard.Option
	Palette      []string
	Now          func() time.Time
	Rand         *rand.Rand
	Logger       *slog.Logger
}

type Option func(cfg *Config)

func WithBindings(b map[Board]Binding) Option {
	return func(cfg *Config) {
		cfg.Bindings = b
	}
}

func WithStoreOptions(opts ...pinboard.Option) Option {
	return func(cfg *Config) {
		cfg.StoreOptions = append(cfg.StoreOptions, opts...)
	}
}

func WithPalette(colors ...string) Option {
	return func(cfg *Config) {
		cfg.Palette = colors
	}
}

func WithClock(now func() time.Time) Option {
	return func(cfg *Config) {
		cfg.Now = now
	}
}

func WithRand(r *rand.Rand) Option {
	return func(cfg *Config) {
		cfg.Rand = r
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(cfg *Config) {
		cfg.Logger = l
	}
}

type Portal struct {
	cfg    Config
	gate   *Gate
	log    *slog.Logger
	stores map[Board]*pinboard.Store

	rmu sync.Mutex
}

// New opens one store per board on st. A nil gate leaves everyone a visitor.
func New(st storage.Storage, gate *Gate, opts ...Option) (*Portal, error) {
	cfg := Config{}
	for _, o := range opts {
		o(&cfg)
	}

	if cfg.Bindings == nil {
		cfg.Bindings = DefaultBindings()
	}
	if len(cfg.Palette) == 0 {
		cfg.Palette = DefaultPalette
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	if gate == nil {
		var err error
		if gate, err = NewGate(nil); err != nil {
			return nil, err
		}
	}

	p := &Portal{
		cfg:    cfg,
		gate:   gate,
		log:    cfg.Logger,
		stores: make(map[Board]*pinboard.Store, len(Boards)),
	}

	for _, b := range Boards {
		binding, ok := cfg.Bindings[b]
		if !ok {
			_ = p.Close()
			return nil, errors.Wrapf(ErrUnknownBoard, "no binding for board %s", b)
		}

		storeOpts := append([]pinboard.Option{
			pinboard.WithExpireDays(binding.ExpireDays),
			pinboard.WithClock(cfg.Now),
			pinboard.WithLogger(cfg.Logger.With(slog.String("board", string(b)))),
		}, cfg.StoreOptions...)

		s, err := pinboard.Open(st, binding.Key, storeOpts...)
		if err != nil {
			_ = p.Close()
			return nil, errors.Wrapf(err, "could not open board %s", b)
		}
		p.stores[b] = s
	}

	return p, nil
}

func (p *Portal) Gate() *Gate {
	return p.gate
}

func (p *Portal) Role() Role {
	return p.gate.Role()
}

func (p *Portal) Store(b Board) (*pinboard.Store, error) {
	s, ok := p.stores[b]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownBoard, "%q", b)
	}
	return s, nil
}

func (p *Portal) List(b Board) ([]*pinboard.Document, error) {
	s, err := p.Store(b)
	if err != nil {
		return nil, err
	}
	return s.List(), nil
}

// Publish validates l and adds it to board b.
func (p *Portal) Publish(b Board, l Listing) (*pinboard.Document, error) {
	s, err := p.Store(b)
	if err != nil {
		return nil, err
	}

	var payload interface{}
	switch b {
	case Chat:
		if strings.TrimSpace(l.Content) == "" {
			return nil, ErrContentRequired
		}

		var post chatPost
		if err := copier.Copy(&post, &l); err != nil {
			return nil, errors.Wrap(err, "could not build chat post")
		}
		post.Color = p.pickColor()
		post.Likes = 0
		post.Author = anonymousAuthor
		payload = post
	case Notices:
		if strings.TrimSpace(l.Title) == "" {
			return nil, ErrTitleRequired
		}
		if !p.Role().CanPostNotice() {
			return nil, errors.Wrapf(ErrNotPermitted, "role %s cannot post notices", p.Role())
		}

		var post noticePost
		if err := copier.Copy(&post, &l); err != nil {
			return nil, errors.Wrap(err, "could not build notice")
		}
		payload = post
	case Market:
		if strings.TrimSpace(l.Title) == "" {
			return nil, ErrTitleRequired
		}

		var post marketPost
		if err := copier.Copy(&post, &l); err != nil {
			return nil, errors.Wrap(err, "could not build market listing")
		}
		payload = post
	case Lost:
		if strings.TrimSpace(l.Title) == "" {
			return nil, ErrTitleRequired
		}

		var post lostPost
		if err := copier.Copy(&post, &l); err != nil {
			return nil, errors.Wrap(err, "could not build lost item report")
		}
		payload = post
	}

	doc, err := s.Add(payload)
	if err != nil {
		return nil, err
	}

	p.log.Debug("published", slog.String("board", string(b)), slog.String("id", doc.ID()))
	return doc, nil
}

// Delete removes a record when the current role is offered deletion on b.
func (p *Portal) Delete(b Board, id string) error {
	s, err := p.Store(b)
	if err != nil {
		return err
	}

	role := p.Role()
	allowed := role.CanDeleteAny()
	if b == Chat {
		allowed = role.CanDeleteChat()
	}

	if !allowed {
		return errors.Wrapf(ErrNotPermitted, "role %s cannot delete from %s", role, b)
	}

	return s.Delete(id)
}

// Find looks the id up on every board in order.
func (p *Portal) Find(id string) (Board, *pinboard.Document, bool) {
	for _, b := range Boards {
		if doc, ok := p.stores[b].Get(id); ok {
			return b, doc, true
		}
	}
	return "", nil, false
}

// Comment appends text to the thread of whichever record has the id,
// signed with the current role's label.
func (p *Portal) Comment(id, text string) (*pinboard.Document, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrCommentRequired
	}

	b, _, ok := p.Find(id)
	if !ok {
		return nil, errors.Wrapf(ErrRecordNotFound, "%s", id)
	}

	c := pinboard.Comment{
		Author: p.Role().AuthorLabel(),
		Text:   text,
		Time:   p.cfg.Now().Format(commentTimeLayout),
	}

	s := p.stores[b]
	if err := s.AppendComment(id, c); err != nil {
		return nil, err
	}

	doc, ok := s.Get(id)
	if !ok {
		return nil, errors.Wrapf(ErrRecordNotFound, "%s", id)
	}

	return doc, nil
}

// Like bumps the like counter of a chat post.
func (p *Portal) Like(id string) (int, error) {
	var likes int
	found, err := p.stores[Chat].UpdateFunc(id, func(d *pinboard.Document) (interface{}, error) {
		likes = d.IntOrDefault("likes", 0) + 1
		return pinboard.M{"likes": likes}, nil
	})
	if err != nil {
		return 0, err
	}

	if !found {
		return 0, errors.Wrapf(ErrRecordNotFound, "%s", id)
	}

	return likes, nil
}

func (p *Portal) Close() error {
	var firstErr error
	for _, s := range p.stores {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (p *Portal) pickColor() string {
	p.rmu.Lock()
	defer p.rmu.Unlock()
	return p.cfg.Palette[p.cfg.Rand.Intn(len(p.cfg.Palette))]
}
