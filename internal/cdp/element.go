package cdp

import (
	"context"

	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/protocol/dom"

	"cdpwatch/pkg/browser"
)

type elementSet struct {
	client   *cdp.Client
	selector string
	nodes    []dom.NodeID
}

func (s *elementSet) Selector() string { return s.selector }
func (s *elementSet) Count() int       { return len(s.nodes) }

func (s *elementSet) Nth(i int) browser.Element {
	if i < 0 || i >= len(s.nodes) {
		return nil
	}
	return &element{client: s.client, id: s.nodes[i]}
}

type element struct {
	client *cdp.Client
	id     dom.NodeID
}

func (e *element) OuterHTML(ctx context.Context) (string, error) {
	reply, err := e.client.DOM.GetOuterHTML(ctx, dom.NewGetOuterHTMLArgs().SetNodeID(e.id))
	if err != nil {
		return "", err
	}
	return reply.OuterHTML, nil
}
