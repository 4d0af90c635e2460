package rtc

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// parseLaunch builds elements from the gst-launch style grammar the
// session descriptions use: whitespace-separated tokens, `!` links,
// `name=value` element properties, `pad::prop=value` request-pad
// property templates, and `name.` references linking to a named
// element. Links are resolved after all elements are known, so forward
// references are fine.
type parsed struct {
	byName map[string]ielement
	order  []ielement
}

type pendingLink struct {
	from   ielement
	toName string   // named reference, or
	toElem ielement // the element that followed the `!`
}

func parseLaunch(desc string) (*parsed, error) {
	p := &parsed{byName: make(map[string]ielement)}
	var (
		cur     ielement
		linkSrc ielement // non-nil while a `!` is waiting for its right side
		links   []pendingLink
		autoSeq int
	)

	for _, tok := range strings.Fields(desc) {
		switch {
		case tok == "!":
			if cur == nil {
				return nil, errors.New("dangling ! at start of description")
			}
			if linkSrc != nil {
				return nil, errors.New("two ! in a row")
			}
			linkSrc = cur

		case strings.Contains(tok, "="):
			key, val, _ := strings.Cut(tok, "=")
			if cur == nil {
				return nil, errors.Errorf("property %q before any element", tok)
			}
			switch {
			case key == "name":
				if _, exists := p.byName[val]; exists {
					return nil, errors.Errorf("duplicate element name %q", val)
				}
				delete(p.byName, cur.Name())
				cur.setName(val)
				p.byName[val] = cur
			case strings.Contains(key, "::"):
				padName, prop, _ := strings.Cut(key, "::")
				pad, err := cur.requestNamed(padName)
				if err != nil {
					return nil, errors.Wrapf(err, "pad property %q", tok)
				}
				if err := pad.Set(prop, val); err != nil {
					return nil, errors.Wrapf(err, "pad property %q", tok)
				}
			default:
				if err := cur.Set(key, val); err != nil {
					return nil, errors.Wrapf(err, "property %q", tok)
				}
			}

		case strings.HasSuffix(tok, "."):
			if linkSrc == nil {
				return nil, errors.Errorf("element reference %q without preceding !", tok)
			}
			links = append(links, pendingLink{from: linkSrc, toName: strings.TrimSuffix(tok, ".")})
			linkSrc = nil

		default:
			el, err := newElement(tok, fmt.Sprintf("%s%d", tok, autoSeq))
			if err != nil {
				return nil, err
			}
			autoSeq++
			p.byName[el.Name()] = el
			p.order = append(p.order, el)
			if linkSrc != nil {
				links = append(links, pendingLink{from: linkSrc, toElem: el})
				linkSrc = nil
			}
			cur = el
		}
	}
	if linkSrc != nil {
		return nil, errors.New("dangling ! at end of description")
	}

	for _, l := range links {
		to := l.toElem
		if to == nil {
			var ok bool
			to, ok = p.byName[l.toName]
			if !ok {
				return nil, errors.Errorf("link references unknown element %q", l.toName)
			}
		}
		src, err := l.from.outputPad()
		if err != nil {
			return nil, err
		}
		sink, err := to.inputPad()
		if err != nil {
			return nil, err
		}
		if err := src.Link(sink); err != nil {
			return nil, errors.Wrapf(err, "link %s to %s", l.from.Name(), to.Name())
		}
	}
	return p, nil
}
