package site

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/go-scripts/crmcrawl/internal/types"
)

// CardParser turns the outer HTML of a result card into a Record. A card
// renders its name in a heading and every other field as a bold label
// followed by its value inside the same parent:
//
//	<div><b>CRM:</b> 123456</div>
type CardParser struct {
	NameField     string
	NameSelector  string
	LabelSelector string
}

// Parse parses every card in order.
func (p CardParser) Parse(cards []string) ([]types.Record, error) {
	records := make([]types.Record, 0, len(cards))
	for i, card := range cards {
		rec, err := p.ParseCard(card)
		if err != nil {
			return nil, fmt.Errorf("card %d: %w", i, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// ParseCard parses one card. Labels without a value are left out; a label
// repeated within the card keeps its first position and its last value.
func (p CardParser) ParseCard(card string) (types.Record, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(card))
	if err != nil {
		return types.Record{}, fmt.Errorf("failed to parse card: %w", err)
	}

	var rec types.Record
	if name := doc.Find(p.NameSelector).First(); name.Length() > 0 {
		rec.Set(p.NameField, strings.TrimSpace(name.Text()))
	}

	doc.Find(p.LabelSelector).Each(func(_ int, label *goquery.Selection) {
		texts := nonEmptyTexts(label.Parent().Contents())
		if len(texts) < 2 {
			return
		}
		rec.Set(strings.TrimSuffix(texts[0], ":"), texts[1])
	})
	return rec, nil
}

func nonEmptyTexts(nodes *goquery.Selection) []string {
	var out []string
	nodes.Each(func(_ int, n *goquery.Selection) {
		if t := strings.TrimSpace(n.Text()); t != "" {
			out = append(out, t)
		}
	})
	return out
}
