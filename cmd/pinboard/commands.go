package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/denismitr/pinboard"
	"github.com/denismitr/pinboard/portal"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
	"github.com/tidwall/sjson"
	"golang.org/x/crypto/bcrypt"
)

var ErrUsage = errors.New("invalid usage")

func dispatch(p *portal.Portal, w io.Writer, args []string) error {
	board, err := portal.ParseBoard(args[0])
	if err != nil {
		return err
	}

	if len(args) < 2 {
		return errors.Wrap(ErrUsage, "missing command")
	}

	cmd, rest := args[1], args[2:]
	switch cmd {
	case "list":
		docs, err := p.List(board)
		if err != nil {
			return err
		}
		return printDocs(w, docs)
	case "post":
		l, err := parseListing(rest)
		if err != nil {
			return err
		}
		doc, err := p.Publish(board, l)
		if err != nil {
			return err
		}
		return printDocs(w, []*pinboard.Document{doc})
	case "update":
		if len(rest) < 2 {
			return errors.Wrap(ErrUsage, "update needs an id and at least one name=value")
		}
		patch, err := parsePatch(rest[1:])
		if err != nil {
			return err
		}
		s, err := p.Store(board)
		if err != nil {
			return err
		}
		return s.Update(rest[0], patch)
	case "delete":
		if len(rest) != 1 {
			return errors.Wrap(ErrUsage, "delete needs an id")
		}
		return p.Delete(board, rest[0])
	case "comment":
		if len(rest) < 2 {
			return errors.Wrap(ErrUsage, "comment needs an id and text")
		}
		doc, err := p.Comment(rest[0], strings.Join(rest[1:], " "))
		if err != nil {
			return err
		}
		return printDocs(w, []*pinboard.Document{doc})
	case "like":
		if board != portal.Chat {
			return errors.Wrap(ErrUsage, "only chat posts can be liked")
		}
		if len(rest) != 1 {
			return errors.Wrap(ErrUsage, "like needs an id")
		}
		likes, err := p.Like(rest[0])
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, likes)
		return err
	}

	return errors.Wrapf(ErrUsage, "unknown command %q", cmd)
}

func hashCommand(w io.Writer, args []string) error {
	if len(args) != 1 {
		return errors.Wrap(ErrUsage, "hash needs exactly one secret")
	}
	h, err := portal.HashSecret(args[0], bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, h)
	return err
}

func printDocs(w io.Writer, docs []*pinboard.Document) error {
	out := []byte("[]")
	for _, d := range docs {
		var err error
		if out, err = sjson.SetRawBytes(out, "-1", d.Value()); err != nil {
			return errors.Wrap(err, "could not render records")
		}
	}
	_, err := w.Write(pretty.Pretty(out))
	return err
}

func splitField(arg string) (string, string, error) {
	name, value, ok := strings.Cut(arg, "=")
	if !ok || name == "" {
		return "", "", errors.Wrapf(ErrUsage, "expected name=value, got %q", arg)
	}
	return name, value, nil
}

func parseListing(args []string) (portal.Listing, error) {
	var l portal.Listing
	for _, arg := range args {
		name, value, err := splitField(arg)
		if err != nil {
			return l, err
		}

		switch name {
		case "title":
			l.Title = value
		case "price":
			l.Price = value
		case "desc":
			l.Desc = value
		case "contact":
			l.Contact = value
		case "content":
			l.Content = value
		case "image":
			l.Images = append(l.Images, value)
		case "reward":
			b, err := strconv.ParseBool(value)
			if err != nil {
				return l, errors.Wrapf(ErrUsage, "reward: %s", err.Error())
			}
			l.Reward = b
		default:
			return l, errors.Wrapf(ErrUsage, "unknown field %q", name)
		}
	}
	return l, nil
}

// parsePatch keeps values that are JSON literals as such and treats
// everything else as a string.
func parsePatch(args []string) (pinboard.M, error) {
	patch := pinboard.M{}
	for _, arg := range args {
		name, value, err := splitField(arg)
		if err != nil {
			return nil, err
		}

		if gjson.Valid(value) {
			patch[name] = gjson.Parse(value).Value()
		} else {
			patch[name] = value
		}
	}
	return patch, nil
}
