package search

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"strings"
)

// Category is one label and the keyword phrases that identify it.
type Category struct {
	Label   string
	Phrases []string
}

// Catalog is an ordered list of categories; earlier entries win ties.
type Catalog []Category

// LoadCatalog reads a Markdown catalog from path. See ParseCatalog for the
// accepted format.
func LoadCatalog(path string) (Catalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseCatalog(bytes.NewReader(b))
}

// ParseCatalog reads a Markdown catalog. Two layouts are accepted and may be
// mixed:
//
//	## housekeeping
//	- towels, sheets, pillows
//	clean the room
//
//	| category | keywords |
//	|---|---|
//	| room service | breakfast, dinner, menu |
//
// Only second-level (or deeper) headings name categories. Under such a
// heading, every line (bullet markers stripped) is split on commas
// into phrases. A table row's first cell is the label and the remaining cells
// are phrases. Header and separator rows are skipped.
func ParseCatalog(r io.Reader) (Catalog, error) {
	var (
		out Catalog
		pos = make(map[string]int)
		cur = ""
	)
	add := func(label string, phrases ...string) {
		label = normalizeLabel(label)
		if label == "" {
			return
		}
		i, ok := pos[label]
		if !ok {
			i = len(out)
			pos[label] = i
			out = append(out, Category{Label: label})
		}
		for _, p := range phrases {
			for _, part := range strings.Split(p, ",") {
				if part = strings.TrimSpace(part); part != "" {
					out[i].Phrases = append(out[i].Phrases, part)
				}
			}
		}
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "##"):
			cur = strings.TrimSpace(strings.TrimLeft(line, "#"))
			add(cur)
		case strings.HasPrefix(line, "#"):
			// A top-level title starts a new document section, not a category.
			cur = ""
		case strings.HasPrefix(line, "|") && strings.HasSuffix(line, "|"):
			cells := tableCells(line)
			if len(cells) < 2 || strings.EqualFold(cells[0], "category") {
				continue
			}
			add(cells[0], cells[1:]...)
		case cur != "":
			line = strings.TrimLeft(line, "-*+ ")
			add(cur, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func tableCells(line string) []string {
	raw := strings.Split(strings.Trim(line, "|"), "|")
	cells := make([]string, 0, len(raw))
	sep := true
	for _, c := range raw {
		cell := strings.TrimSpace(c)
		if strings.Trim(cell, ":- ") != "" {
			sep = false
		}
		cells = append(cells, cell)
	}
	if sep {
		return nil
	}
	return cells
}

// DefaultCatalog is the built-in hotel service catalog used when no
// CATEGORIES_PATH file is configured.
func DefaultCatalog() Catalog {
	return Catalog{
		{Label: "housekeeping", Phrases: []string{
			"towel", "bath towel", "sheets", "bed linen", "pillow", "blanket", "toilet paper",
			"toiletries", "shampoo", "soap", "clean room", "make up room", "turndown", "trash", "hangers",
		}},
		{Label: "room service", Phrases: []string{
			"breakfast", "lunch", "dinner", "menu", "order food", "sandwich", "coffee", "tea",
			"wine", "bottle of water", "dessert", "room service", "ice bucket", "cutlery",
		}},
		{Label: "maintenance", Phrases: []string{
			"broken", "not working", "leak", "leaking", "air conditioning", "heating", "heater",
			"light bulb", "toilet clogged", "shower", "television", "tv remote", "wifi", "door lock", "plumbing",
		}},
		{Label: "front desk", Phrases: []string{
			"check out", "late checkout", "check in", "bill", "invoice", "key card", "room key",
			"change room", "extend stay", "reservation", "deposit",
		}},
		{Label: "concierge", Phrases: []string{
			"restaurant reservation", "recommendation", "tickets", "tour", "directions",
			"museum", "theater", "booking", "flowers",
		}},
		{Label: "transport", Phrases: []string{
			"taxi", "cab", "airport shuttle", "shuttle", "car rental", "parking", "valet", "airport transfer",
		}},
		{Label: "wake-up", Phrases: []string{"wake up call", "wake-up call", "alarm", "morning call"}},
		{Label: "laundry", Phrases: []string{"laundry", "dry cleaning", "ironing", "iron", "pressing", "wash clothes"}},
		{Label: "spa", Phrases: []string{"spa", "massage", "sauna", "pool", "gym", "fitness", "treatment"}},
		{Label: "amenities", Phrases: []string{"crib", "baby cot", "extra bed", "rollaway bed", "adapter", "charger", "umbrella", "hair dryer"}},
	}
}
